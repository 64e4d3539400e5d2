// Package filesystem provides the file primitives envolve builds on: optional
// reads, atomic writes that keep managed symlinks intact, copies, symlinks and
// discovery of env files under a directory tree. Every operation is reported
// to an AuditLogger.
package filesystem

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	coreerrors "github.com/adalundhe/envolve/core/errors"
)

var (
	ErrOutsideBoundary = errors.New("path outside allowed boundary")
	ErrFileTooLarge    = errors.New("file size exceeds limit")
	ErrNotSymlink      = errors.New("refusing to replace a regular file with a symlink")
)

type OperationType string

const (
	OpRead    OperationType = "read"
	OpWrite   OperationType = "write"
	OpCopy    OperationType = "copy"
	OpSymlink OperationType = "symlink"
	OpList    OperationType = "list"
)

type AuditEntry struct {
	Timestamp    time.Time
	Operation    OperationType
	Path         string
	ResolvedPath string
	Success      bool
	Error        string
}

type AuditLogger interface {
	Log(entry AuditEntry)
}

type NoOpAuditLogger struct{}

func (n *NoOpAuditLogger) Log(_ AuditEntry) {}

type Config struct {
	// Roots limits every operation to paths inside these directories. Empty
	// means unrestricted.
	Roots       []string
	MaxFileSize int64
	FileMode    os.FileMode
	AuditLogger AuditLogger
}

func DefaultConfig(roots ...string) Config {
	return Config{
		Roots:       roots,
		MaxFileSize: 10 * 1024 * 1024,
		FileMode:    0o600,
		AuditLogger: &NoOpAuditLogger{},
	}
}

type Manager struct {
	mu            sync.RWMutex
	config        Config
	resolvedRoots []string
}

func NewManager(config Config) (*Manager, error) {
	resolved, err := resolveRoots(config.Roots)
	if err != nil {
		return nil, err
	}
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = DefaultConfig().MaxFileSize
	}
	if config.FileMode == 0 {
		config.FileMode = 0o600
	}
	if config.AuditLogger == nil {
		config.AuditLogger = &NoOpAuditLogger{}
	}

	return &Manager{
		config:        config,
		resolvedRoots: resolved,
	}, nil
}

func resolveRoots(roots []string) ([]string, error) {
	resolved := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, filepath.Clean(abs))
	}
	return resolved, nil
}

// ResolvePath returns the absolute, cleaned form of path after checking it
// against the configured roots.
func (m *Manager) ResolvePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", coreerrors.IO("resolve", path, err)
	}
	resolved := filepath.Clean(abs)

	if err := m.checkBoundary(resolved); err != nil {
		return "", coreerrors.Invalid("resolve", "", err).WithPath(resolved)
	}
	return resolved, nil
}

func (m *Manager) checkBoundary(resolved string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.resolvedRoots) == 0 {
		return nil
	}
	for _, root := range m.resolvedRoots {
		if isWithinRoot(resolved, root) {
			return nil
		}
	}
	return ErrOutsideBoundary
}

func isWithinRoot(path, root string) bool {
	return strings.HasPrefix(path, root+string(filepath.Separator)) || path == root
}

// ReadOptional returns the contents of path and whether it exists. A missing
// file is not an error.
func (m *Manager) ReadOptional(path string) ([]byte, bool, error) {
	resolved, err := m.ResolvePath(path)
	if err != nil {
		m.audit(OpRead, path, "", err)
		return nil, false, err
	}

	data, err := os.ReadFile(resolved)
	if errors.Is(err, fs.ErrNotExist) {
		m.audit(OpRead, path, resolved, nil)
		return nil, false, nil
	}
	if err != nil {
		m.audit(OpRead, path, resolved, err)
		return nil, false, coreerrors.IO("read", resolved, err)
	}

	m.audit(OpRead, path, resolved, nil)
	return data, true, nil
}

// Read returns the contents of path. A missing file is NotFound.
func (m *Manager) Read(path string) ([]byte, error) {
	data, ok, err := m.ReadOptional(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coreerrors.New(coreerrors.KindNotFound, "read", fs.ErrNotExist).WithPath(path)
	}
	return data, nil
}

// Write replaces the contents of path atomically: data goes to a temporary
// file in the same directory which is then renamed over the target. When path
// is a symlink the link target is written, so the link survives.
func (m *Manager) Write(path string, data []byte) error {
	if int64(len(data)) > m.config.MaxFileSize {
		m.audit(OpWrite, path, "", ErrFileTooLarge)
		return coreerrors.Invalid("write", "", ErrFileTooLarge).WithPath(path)
	}

	resolved, err := m.ResolvePath(path)
	if err != nil {
		m.audit(OpWrite, path, "", err)
		return err
	}

	target, err := followLink(resolved)
	if err != nil {
		m.audit(OpWrite, path, resolved, err)
		return coreerrors.IO("write", resolved, err)
	}

	if err := writeAtomic(target, data, m.config.FileMode); err != nil {
		m.audit(OpWrite, path, target, err)
		return coreerrors.IO("write", target, err)
	}

	m.audit(OpWrite, path, target, nil)
	return nil
}

// followLink resolves path when it is a symlink whose target exists.
func followLink(path string) (string, error) {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return path, nil
	}
	if err != nil {
		return "", err
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return path, nil
	}
	return filepath.EvalSymlinks(path)
}

func writeAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

// Copy replaces the contents of dst with those of src. The write is atomic
// and follows a symlink at dst like Write does.
func (m *Manager) Copy(src, dst string) error {
	srcResolved, err := m.ResolvePath(src)
	if err != nil {
		m.audit(OpCopy, src, "", err)
		return err
	}
	dstResolved, err := m.ResolvePath(dst)
	if err != nil {
		m.audit(OpCopy, dst, "", err)
		return err
	}

	data, err := readLimited(srcResolved, m.config.MaxFileSize)
	if err != nil {
		m.audit(OpCopy, dst, dstResolved, err)
		if errors.Is(err, ErrFileTooLarge) {
			return coreerrors.Invalid("copy", "", err).WithPath(srcResolved)
		}
		if errors.Is(err, fs.ErrNotExist) {
			return coreerrors.New(coreerrors.KindNotFound, "copy", err).WithPath(srcResolved)
		}
		return coreerrors.IO("copy", srcResolved, err)
	}

	target, err := followLink(dstResolved)
	if err == nil {
		err = writeAtomic(target, data, m.config.FileMode)
	}
	if err != nil {
		m.audit(OpCopy, dst, dstResolved, err)
		return coreerrors.IO("copy", dstResolved, err)
	}

	m.audit(OpCopy, dst, target, nil)
	return nil
}

func readLimited(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrFileTooLarge
	}
	return data, nil
}

// Symlink makes link point at target. An existing symlink at link is
// replaced; an existing regular file is left alone and reported.
func (m *Manager) Symlink(target, link string) error {
	targetResolved, err := m.ResolvePath(target)
	if err != nil {
		m.audit(OpSymlink, link, "", err)
		return err
	}
	linkResolved, err := m.ResolvePath(link)
	if err != nil {
		m.audit(OpSymlink, link, "", err)
		return err
	}

	info, err := os.Lstat(linkResolved)
	switch {
	case err == nil && info.Mode()&os.ModeSymlink == 0:
		m.audit(OpSymlink, link, linkResolved, ErrNotSymlink)
		return coreerrors.Invalid("symlink", "", ErrNotSymlink).WithPath(linkResolved)
	case err == nil:
		if err := os.Remove(linkResolved); err != nil {
			m.audit(OpSymlink, link, linkResolved, err)
			return coreerrors.IO("symlink", linkResolved, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		m.audit(OpSymlink, link, linkResolved, err)
		return coreerrors.IO("symlink", linkResolved, err)
	}

	if err := os.Symlink(targetResolved, linkResolved); err != nil {
		m.audit(OpSymlink, link, linkResolved, err)
		return coreerrors.IO("symlink", linkResolved, err)
	}

	m.audit(OpSymlink, link, linkResolved, nil)
	return nil
}

// LinkOver replaces whatever is at path with a symlink to target. The link is
// created under a temporary name and renamed into place, so path is never
// missing and is left as it was when linking fails.
func (m *Manager) LinkOver(target, path string) error {
	targetResolved, err := m.ResolvePath(target)
	if err != nil {
		m.audit(OpSymlink, path, "", err)
		return err
	}
	resolved, err := m.ResolvePath(path)
	if err != nil {
		m.audit(OpSymlink, path, "", err)
		return err
	}

	tmp := filepath.Join(filepath.Dir(resolved), fmt.Sprintf(".%s.link-%d-%d", filepath.Base(resolved), os.Getpid(), time.Now().UnixNano()))
	if err := os.Symlink(targetResolved, tmp); err != nil {
		m.audit(OpSymlink, path, resolved, err)
		return coreerrors.IO("symlink", resolved, err)
	}
	if err := os.Rename(tmp, resolved); err != nil {
		_ = os.Remove(tmp)
		m.audit(OpSymlink, path, resolved, err)
		return coreerrors.IO("symlink", resolved, err)
	}

	m.audit(OpSymlink, path, resolved, nil)
	return nil
}

// Exists reports whether path exists. A dangling symlink does not.
func (m *Manager) Exists(path string) (bool, error) {
	resolved, err := m.ResolvePath(path)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(resolved)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, coreerrors.IO("stat", resolved, err)
	}
	return true, nil
}

// IsSymlink reports whether path is a symlink and, if so, where it points.
func (m *Manager) IsSymlink(path string) (string, bool, error) {
	resolved, err := m.ResolvePath(path)
	if err != nil {
		return "", false, err
	}

	info, err := os.Lstat(resolved)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, coreerrors.IO("stat", resolved, err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return "", false, nil
	}

	target, err := os.Readlink(resolved)
	if err != nil {
		return "", false, coreerrors.IO("readlink", resolved, err)
	}
	return target, true, nil
}

func (m *Manager) audit(op OperationType, path, resolved string, err error) {
	m.mu.RLock()
	logger := m.config.AuditLogger
	m.mu.RUnlock()

	if logger == nil {
		return
	}

	entry := AuditEntry{
		Timestamp:    time.Now(),
		Operation:    op,
		Path:         path,
		ResolvedPath: resolved,
		Success:      err == nil,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	logger.Log(entry)
}

// AddRoot widens a restricted manager to also allow paths under root. A
// manager without roots is unrestricted and stays that way.
func (m *Manager) AddRoot(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return coreerrors.IO("add root", root, err)
	}
	abs = filepath.Clean(abs)

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.resolvedRoots) == 0 {
		return nil
	}
	for _, r := range m.resolvedRoots {
		if isWithinRoot(abs, r) {
			return nil
		}
	}
	m.resolvedRoots = append(m.resolvedRoots, abs)
	m.config.Roots = append(m.config.Roots, root)
	return nil
}

// Roots returns the directories the manager is restricted to, or nil when it
// is unrestricted.
func (m *Manager) Roots() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.resolvedRoots) == 0 {
		return nil
	}
	roots := make([]string, len(m.resolvedRoots))
	copy(roots, m.resolvedRoots)
	return roots
}
