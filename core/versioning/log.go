package versioning

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	coreerrors "github.com/adalundhe/envolve/core/errors"
)

const maxLogLine = 8 * 1024 * 1024

// Entries stored without an id are addressed by their position: legacy-<n>
// for the n-th element of the legacy array, line-<n> for a journal line.
const (
	legacyIDPrefix  = "legacy-"
	journalIDPrefix = "line-"
)

// readLegacyLog reads a whole-file JSON array log. A missing file is an empty
// log; anything that is not a JSON array of entries is unreadable.
func readLegacyLog(path string) ([]VersionEntry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, coreerrors.IO("read history", path, err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] != '[' {
		return nil, coreerrors.Unreadable("read history", path, fmt.Errorf("expected a JSON array"))
	}

	var entries []VersionEntry
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, coreerrors.Unreadable("read history", path, err)
	}
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = fmt.Sprintf("%s%d", legacyIDPrefix, i+1)
		}
	}
	return entries, nil
}

// readJournal reads a JSON Lines log, one entry per line. Blank lines are
// skipped; any other line that does not decode makes the log unreadable.
func readJournal(path string) ([]VersionEntry, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, coreerrors.IO("read history", path, err)
	}
	defer func() { _ = file.Close() }()

	return decodeJournal(file, path)
}

func decodeJournal(r io.Reader, path string) ([]VersionEntry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLogLine)

	var entries []VersionEntry
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var entry VersionEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, coreerrors.Unreadable("read history", path, fmt.Errorf("line %d: %w", lineNo, err))
		}
		if entry.ID == "" {
			entry.ID = fmt.Sprintf("%s%d", journalIDPrefix, lineNo)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, coreerrors.Unreadable("read history", path, err)
	}
	return entries, nil
}

// appendJournal writes entry as one line with a single O_APPEND write and
// syncs it before returning.
func appendJournal(path string, entry VersionEntry) error {
	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal version entry: %w", err)
	}
	encoded = append(encoded, '\n')

	prefix, err := needsLeadingNewline(path)
	if err != nil {
		return err
	}
	if prefix {
		encoded = append([]byte{'\n'}, encoded...)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return coreerrors.IO("append history", path, err)
	}
	if _, err := file.Write(encoded); err != nil {
		_ = file.Close()
		return coreerrors.IO("append history", path, err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return coreerrors.IO("sync history", path, err)
	}
	return coreerrors.IO("close history", path, file.Close())
}

// needsLeadingNewline reports whether a non-empty journal lacks a trailing
// newline, as happens after a hand edit.
func needsLeadingNewline(path string) (bool, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, coreerrors.IO("append history", path, err)
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return false, coreerrors.IO("append history", path, err)
	}
	if info.Size() == 0 {
		return false, nil
	}

	last := make([]byte, 1)
	if _, err := file.ReadAt(last, info.Size()-1); err != nil {
		return false, coreerrors.IO("append history", path, err)
	}
	return last[0] != '\n', nil
}
