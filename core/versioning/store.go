// Package versioning records field-level history for env files.
//
// Each managed directory carries a version log next to its env file. The log
// is append-only: an operation appends one VersionEntry holding one or more
// ChangeRecords and nothing is ever rewritten or removed. The current format
// is JSON Lines (.version.jsonl), appended under an advisory lock so separate
// processes cannot lose each other's entries. A legacy whole-file JSON array
// (.version.json), when present, is read as the start of the log and left as
// is.
package versioning

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/adalundhe/envolve/core/envfile"
	coreerrors "github.com/adalundhe/envolve/core/errors"
	"github.com/google/uuid"
)

const (
	// DefaultHistoryFile is the JSON Lines log written by the store.
	DefaultHistoryFile = ".version.jsonl"

	// DefaultLegacyHistoryFile is the JSON array log read as a prefix.
	DefaultLegacyHistoryFile = ".version.json"

	// DefaultLockTimeout bounds how long an operation waits for the log lock.
	DefaultLockTimeout = 5 * time.Second
)

// Store reads and appends version logs. It holds no per-directory state, so a
// single Store serves every managed directory.
type Store struct {
	historyFile string
	legacyFile  string
	lockTimeout time.Duration
	now         func() time.Time
	newID       func() string
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithHistoryFile sets the JSON Lines log file name.
func WithHistoryFile(name string) StoreOption {
	return func(s *Store) {
		if name != "" {
			s.historyFile = name
		}
	}
}

// WithLegacyHistoryFile sets the legacy array log file name. An empty name
// disables legacy reads.
func WithLegacyHistoryFile(name string) StoreOption {
	return func(s *Store) {
		s.legacyFile = name
	}
}

// WithLockTimeout sets how long appends and reads wait for the log lock.
func WithLockTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		s.lockTimeout = d
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator overrides the entry id source.
func WithIDGenerator(newID func() string) StoreOption {
	return func(s *Store) {
		s.newID = newID
	}
}

// NewStore creates a Store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		historyFile: DefaultHistoryFile,
		legacyFile:  DefaultLegacyHistoryFile,
		lockTimeout: DefaultLockTimeout,
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LogPath returns the JSON Lines log path for dir.
func (s *Store) LogPath(dir string) string {
	return filepath.Join(dir, s.historyFile)
}

// LegacyLogPath returns the legacy array log path for dir, or "" when legacy
// reads are disabled.
func (s *Store) LegacyLogPath(dir string) string {
	if s.legacyFile == "" {
		return ""
	}
	return filepath.Join(dir, s.legacyFile)
}

func (s *Store) lockPath(dir string) string {
	return s.LogPath(dir) + ".lock"
}

// AppendChange records a single field transition as its own entry.
func (s *Store) AppendChange(ctx context.Context, dir, field string, old OldValue, value string) (VersionEntry, error) {
	return s.AppendBatch(ctx, dir, []ChangeRecord{{FieldName: field, OldValue: old, Value: value}})
}

// AppendBatch records several transitions under one entry and timestamp. The
// existing log must parse; an unreadable log is reported and left untouched
// rather than replaced.
func (s *Store) AppendBatch(ctx context.Context, dir string, changes []ChangeRecord) (VersionEntry, error) {
	if len(changes) == 0 {
		return VersionEntry{}, coreerrors.Invalid("append history", "", fmt.Errorf("entry has no changes"))
	}
	for _, c := range changes {
		if !envfile.ValidName(c.FieldName) {
			return VersionEntry{}, coreerrors.Invalid("append history", c.FieldName, fmt.Errorf("invalid field name"))
		}
		if !envfile.ValidValue(c.Value) {
			return VersionEntry{}, coreerrors.Invalid("append history", c.FieldName, fmt.Errorf("value contains a newline"))
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return VersionEntry{}, coreerrors.IO("append history", dir, err)
	}

	lock := newLogLock(s.lockPath(dir))
	if err := lock.acquire(ctx, s.lockTimeout, true); err != nil {
		return VersionEntry{}, err
	}
	defer func() { _ = lock.release() }()

	if _, err := s.readUnlocked(dir); err != nil {
		return VersionEntry{}, err
	}

	entry := VersionEntry{
		ID:        s.newID(),
		Timestamp: s.now().UTC(),
		Changes:   append([]ChangeRecord(nil), changes...),
	}
	if err := appendJournal(s.LogPath(dir), entry); err != nil {
		return VersionEntry{}, err
	}
	return entry, nil
}

// Entries returns the whole log for dir in append order. A directory with no
// log has no entries.
func (s *Store) Entries(ctx context.Context, dir string) ([]VersionEntry, error) {
	if !s.hasLog(dir) {
		return nil, nil
	}

	lock := newLogLock(s.lockPath(dir))
	if err := lock.acquire(ctx, s.lockTimeout, false); err != nil {
		return nil, err
	}
	defer func() { _ = lock.release() }()

	return s.readUnlocked(dir)
}

// QueryHistory returns every entry that changes field, most recent first.
// Entries keep all of their records. Entries with equal timestamps are
// ordered by reverse append order.
func (s *Store) QueryHistory(ctx context.Context, dir, field string) ([]VersionEntry, error) {
	entries, err := s.Entries(ctx, dir)
	if err != nil {
		return nil, err
	}

	matched := make([]VersionEntry, 0)
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Touches(field) {
			matched = append(matched, entries[i])
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	return matched, nil
}

// ReconstructLatest replays the log in append order and returns the last
// value written to every field. Physical order wins over timestamps.
func (s *Store) ReconstructLatest(ctx context.Context, dir string) (*Snapshot, error) {
	entries, err := s.Entries(ctx, dir)
	if err != nil {
		return nil, err
	}
	return Replay(entries), nil
}

// FindEntry returns the entry whose id is id or, failing that, the single
// entry whose id starts with id. A prefix matching more than one entry is
// rejected.
func (s *Store) FindEntry(ctx context.Context, dir, id string) (VersionEntry, error) {
	entries, err := s.Entries(ctx, dir)
	if err != nil {
		return VersionEntry{}, err
	}

	var (
		found VersionEntry
		count int
	)
	for _, e := range entries {
		if id == "" {
			break
		}
		if e.ID == id {
			return e, nil
		}
		if strings.HasPrefix(e.ID, id) {
			found = e
			count++
		}
	}
	switch count {
	case 0:
		return VersionEntry{}, coreerrors.New(coreerrors.KindNotFound, "find entry", fmt.Errorf("no entry with id %q", id)).WithPath(s.LogPath(dir))
	case 1:
		return found, nil
	default:
		return VersionEntry{}, coreerrors.Invalid("find entry", "", fmt.Errorf("id prefix %q is ambiguous", id))
	}
}

// Replay folds entries into a Snapshot in slice order.
func Replay(entries []VersionEntry) *Snapshot {
	snap := NewSnapshot()
	for _, e := range entries {
		for _, c := range e.Changes {
			snap.Set(c.FieldName, c.Value)
		}
	}
	return snap
}

func (s *Store) hasLog(dir string) bool {
	if _, err := os.Stat(s.LogPath(dir)); err == nil {
		return true
	}
	if legacy := s.LegacyLogPath(dir); legacy != "" {
		if _, err := os.Stat(legacy); err == nil {
			return true
		}
	}
	return false
}

func (s *Store) readUnlocked(dir string) ([]VersionEntry, error) {
	var entries []VersionEntry
	if legacy := s.LegacyLogPath(dir); legacy != "" {
		prefix, err := readLegacyLog(legacy)
		if err != nil {
			return nil, err
		}
		entries = append(entries, prefix...)
	}

	journal, err := readJournal(s.LogPath(dir))
	if err != nil {
		return nil, err
	}
	return append(entries, journal...), nil
}
