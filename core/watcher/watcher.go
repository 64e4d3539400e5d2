// Package watcher reports changes to env files under the envolve home. It
// wraps fsnotify with recursive directory watching, per-path debouncing and
// glob filtering.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	coreerrors "github.com/adalundhe/envolve/core/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
)

// =============================================================================
// Constants
// =============================================================================

// DefaultDebounce is the quiet period before a change to a path is reported.
const DefaultDebounce = 200 * time.Millisecond

const eventBuffer = 64

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrPathNotExist indicates the watch root does not exist.
	ErrPathNotExist = errors.New("watch path does not exist")

	// ErrPathNotDirectory indicates the watch root is not a directory.
	ErrPathNotDirectory = errors.New("watch path is not a directory")
)

// =============================================================================
// Event
// =============================================================================

// Operation is the kind of change observed on an env file.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	OpRename
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Event is a debounced change to one env file.
type Event struct {
	Path string
	Op   Operation
	Time time.Time
}

// =============================================================================
// Config
// =============================================================================

// Config configures a Watcher.
type Config struct {
	// Root is watched recursively.
	Root string

	// FileName is the env file name; changes to other files are ignored.
	FileName string

	// Include limits events to service directories matching these globs,
	// relative to Root. Empty means every directory.
	Include []string

	// Exclude skips paths matching these globs, tested against the full path,
	// the base name and every path suffix.
	Exclude []string

	Debounce time.Duration
}

// DefaultConfig watches every ".env" under root.
func DefaultConfig(root string) Config {
	return Config{
		Root:     root,
		FileName: ".env",
		Debounce: DefaultDebounce,
	}
}

// =============================================================================
// Watcher
// =============================================================================

type pendingEvent struct {
	event Event
	timer *time.Timer
}

// Watcher monitors env files using fsnotify.
type Watcher struct {
	config   Config
	fsw      *fsnotify.Watcher
	includes []glob.Glob
	excludes []glob.Glob

	mu       sync.Mutex
	pending  map[string]*pendingEvent
	events   chan Event
	errs     chan error
	stopOnce sync.Once
	stopped  bool
}

// New validates cfg and creates a Watcher. Nothing is watched until Start.
func New(cfg Config) (*Watcher, error) {
	if err := validateRoot(cfg.Root); err != nil {
		return nil, err
	}
	if cfg.FileName == "" {
		cfg.FileName = ".env"
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	includes, err := compilePatterns(cfg.Include)
	if err != nil {
		return nil, err
	}
	excludes, err := compilePatterns(cfg.Exclude)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, coreerrors.IO("watch", cfg.Root, err)
	}

	return &Watcher{
		config:   cfg,
		fsw:      fsw,
		includes: includes,
		excludes: excludes,
		pending:  make(map[string]*pendingEvent),
	}, nil
}

func validateRoot(root string) error {
	info, err := os.Stat(root)
	if os.IsNotExist(err) {
		return coreerrors.Invalid("watch", "", ErrPathNotExist).WithPath(root)
	}
	if err != nil {
		return coreerrors.IO("watch", root, err)
	}
	if !info.IsDir() {
		return coreerrors.Invalid("watch", "", ErrPathNotDirectory).WithPath(root)
	}
	return nil
}

func compilePatterns(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, coreerrors.Invalid("watch", "", fmt.Errorf("pattern %q: %w", pattern, err))
		}
		out = append(out, g)
	}
	return out, nil
}

// =============================================================================
// Start
// =============================================================================

// Start begins watching. The returned event channel is closed when ctx is
// cancelled or Stop is called. Watch errors that do not end the loop are sent
// on the error channel, which is closed along with the event channel.
func (w *Watcher) Start(ctx context.Context) (<-chan Event, <-chan error, error) {
	w.events = make(chan Event, eventBuffer)
	w.errs = make(chan error, eventBuffer)

	if err := w.addRecursive(w.config.Root); err != nil {
		close(w.events)
		close(w.errs)
		return nil, nil, coreerrors.IO("watch", w.config.Root, err)
	}

	go w.loop(ctx)
	return w.events, w.errs, nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.config.Root && w.isExcluded(path) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// =============================================================================
// Event Processing
// =============================================================================

func (w *Watcher) loop(ctx context.Context) {
	defer w.cleanup()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.report(err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if w.isExcluded(ev.Name) {
		return
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				w.report(err)
			}
			return
		}
	}

	if !w.wants(ev.Name) {
		return
	}
	w.schedule(ev.Name, mapOp(ev.Op))
}

// wants reports whether path is an env file inside an included directory.
func (w *Watcher) wants(path string) bool {
	if filepath.Base(path) != w.config.FileName {
		return false
	}
	if len(w.includes) == 0 {
		return true
	}

	rel, err := filepath.Rel(w.config.Root, filepath.Dir(path))
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, g := range w.includes {
		if g.Match(rel) || g.Match(filepath.Base(rel)) {
			return true
		}
	}
	return false
}

var opMappings = []struct {
	fsOp fsnotify.Op
	op   Operation
}{
	{fsnotify.Create, OpCreate},
	{fsnotify.Write, OpModify},
	{fsnotify.Remove, OpDelete},
	{fsnotify.Rename, OpRename},
	{fsnotify.Chmod, OpModify},
}

func mapOp(op fsnotify.Op) Operation {
	for _, m := range opMappings {
		if op.Has(m.fsOp) {
			return m.op
		}
	}
	return OpModify
}

func (w *Watcher) report(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	select {
	case w.errs <- err:
	default:
	}
}

// =============================================================================
// Debouncing
// =============================================================================

func (w *Watcher) schedule(path string, op Operation) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}

	event := Event{Path: path, Op: op, Time: time.Now()}
	if existing, ok := w.pending[path]; ok {
		existing.timer.Stop()
	}
	w.pending[path] = &pendingEvent{
		event: event,
		timer: time.AfterFunc(w.config.Debounce, func() { w.emit(path, event) }),
	}
}

func (w *Watcher) emit(path string, event Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if p, ok := w.pending[path]; ok && p.event == event {
		delete(w.pending, path)
	}

	select {
	case w.events <- event:
	default:
		// Consumer is behind; a later change to the path will be reported.
	}
}

// =============================================================================
// Exclusion
// =============================================================================

func (w *Watcher) isExcluded(path string) bool {
	for _, g := range w.excludes {
		if matchesPattern(path, g) {
			return true
		}
	}
	return false
}

func matchesPattern(path string, g glob.Glob) bool {
	slashed := filepath.ToSlash(path)
	if g.Match(slashed) || g.Match(filepath.Base(path)) {
		return true
	}
	parts := strings.Split(strings.Trim(slashed, "/"), "/")
	for i := range parts {
		if g.Match(strings.Join(parts[i:], "/")) {
			return true
		}
	}
	return false
}

// =============================================================================
// Stop
// =============================================================================

// Stop stops the watcher. Safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		for _, p := range w.pending {
			p.timer.Stop()
		}
		w.pending = make(map[string]*pendingEvent)
		w.mu.Unlock()

		err = w.fsw.Close()
	})
	return err
}

// cleanup runs when the loop exits and closes both channels.
func (w *Watcher) cleanup() {
	_ = w.Stop()

	w.mu.Lock()
	defer w.mu.Unlock()
	close(w.events)
	close(w.errs)
}
