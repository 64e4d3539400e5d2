// Package envmutation changes env files and records every change in their
// version logs.
//
// Every mutation appends to the version log before the env file is written.
// If the append fails nothing is written; if the write fails after a
// successful append the log is ahead of the file, which Drift reports.
package envmutation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adalundhe/envolve/core/envfile"
	coreerrors "github.com/adalundhe/envolve/core/errors"
	"github.com/adalundhe/envolve/core/filesystem"
	"github.com/adalundhe/envolve/core/versioning"
)

// DefaultExampleSuffix is appended to the env file name by GenerateExample.
const DefaultExampleSuffix = ".example"

// Engine performs env file mutations for one envolve home.
type Engine struct {
	home    string
	store   *versioning.Store
	fs      *filesystem.Manager
	envFile string
	exclude []string
}

// Option configures an Engine.
type Option func(*Engine)

// WithEnvFileName sets the env file name looked for in service directories.
func WithEnvFileName(name string) Option {
	return func(e *Engine) {
		if name != "" {
			e.envFile = name
		}
	}
}

// WithDiscoverExclude skips directories matching these glob patterns when
// bulk operations walk the home.
func WithDiscoverExclude(patterns ...string) Option {
	return func(e *Engine) {
		e.exclude = append(e.exclude, patterns...)
	}
}

// New creates an Engine over the services stored in home.
func New(home string, store *versioning.Store, fs *filesystem.Manager, opts ...Option) *Engine {
	e := &Engine{
		home:    home,
		store:   store,
		fs:      fs,
		envFile: filesystem.DefaultEnvFileName,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Home returns the directory holding the managed services.
func (e *Engine) Home() string {
	return e.home
}

// EnvFileName returns the env file name used in service directories.
func (e *Engine) EnvFileName() string {
	return e.envFile
}

// ServiceDir returns the managed directory of service.
func (e *Engine) ServiceDir(service string) (string, error) {
	if service == "" || service == "." || service == ".." || strings.ContainsAny(service, `/\`) {
		return "", coreerrors.Invalid("service", service, fmt.Errorf("invalid service name"))
	}
	return filepath.Join(e.home, service), nil
}

// EnvPath resolves a command-line target to an env file path. A bare name is a
// service under the home; anything that looks like a path is used as given,
// and a directory means the env file inside it. The directory of a path
// target is allowed for file operations from then on.
func (e *Engine) EnvPath(target string) (string, error) {
	if target == "" {
		return "", coreerrors.Invalid("resolve target", "", fmt.Errorf("empty target"))
	}

	if filepath.IsAbs(target) || strings.ContainsAny(target, `/\`) || strings.HasPrefix(target, ".") {
		path := target
		if info, err := os.Stat(target); err == nil && info.IsDir() {
			path = filepath.Join(target, e.envFile)
		}
		if err := e.fs.AddRoot(filepath.Dir(path)); err != nil {
			return "", err
		}
		return path, nil
	}

	dir, err := e.ServiceDir(target)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, e.envFile), nil
}

// LogDir returns the directory whose version log records changes to path. A
// symlinked env file is tracked next to its target.
func (e *Engine) LogDir(path string) string {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return filepath.Dir(real)
	}
	if abs, err := filepath.Abs(path); err == nil {
		return filepath.Dir(abs)
	}
	return filepath.Dir(path)
}

func (e *Engine) readDocument(op, path string) (*envfile.Document, error) {
	data, ok, err := e.fs.ReadOptional(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coreerrors.New(coreerrors.KindNotFound, op, fmt.Errorf("env file does not exist")).WithPath(path)
	}
	return envfile.Parse(string(data)), nil
}

func validateAssignment(op, field, value string) error {
	if !envfile.ValidName(field) {
		return coreerrors.Invalid(op, field, fmt.Errorf("invalid variable name"))
	}
	if !envfile.ValidValue(value) {
		return coreerrors.Invalid(op, field, fmt.Errorf("value contains a newline"))
	}
	return nil
}

// UpdateVariable sets field in the env file at path to value. A field that is
// not in the file is NotFound and nothing is written.
func (e *Engine) UpdateVariable(ctx context.Context, path, field, value string) (versioning.ChangeRecord, error) {
	return e.assign(ctx, "update", path, field, value)
}

// RevertVariable sets field back to a value it held before. The revert is a
// new forward change: its old value is whatever the field holds now.
func (e *Engine) RevertVariable(ctx context.Context, path, field, value string) (versioning.ChangeRecord, error) {
	return e.assign(ctx, "revert", path, field, value)
}

func (e *Engine) assign(ctx context.Context, op, path, field, value string) (versioning.ChangeRecord, error) {
	if err := validateAssignment(op, field, value); err != nil {
		return versioning.ChangeRecord{}, err
	}

	doc, err := e.readDocument(op, path)
	if err != nil {
		return versioning.ChangeRecord{}, err
	}

	old, ok := doc.Lookup(field)
	if !ok {
		return versioning.ChangeRecord{}, coreerrors.NotFound(op, path, field)
	}

	record := versioning.ChangeRecord{
		FieldName: field,
		OldValue:  versioning.Present(old),
		Value:     value,
	}
	doc.Set(field, value)
	if err := e.commit(ctx, path, doc, []versioning.ChangeRecord{record}); err != nil {
		return versioning.ChangeRecord{}, err
	}
	return record, nil
}

// RevertToEntry reverts field to the value recorded by the entry whose id
// starts with entryID. With before set, the value the field held before that
// entry is used instead.
func (e *Engine) RevertToEntry(ctx context.Context, path, field, entryID string, before bool) (versioning.ChangeRecord, error) {
	entry, err := e.store.FindEntry(ctx, e.LogDir(path), entryID)
	if err != nil {
		return versioning.ChangeRecord{}, err
	}

	change, ok := entry.Change(field)
	if !ok {
		return versioning.ChangeRecord{}, coreerrors.New(coreerrors.KindNotFound, "revert",
			fmt.Errorf("entry %s does not change this variable", entryID)).WithField(field)
	}

	value := change.Value
	if before {
		old, present := change.OldValue.Get()
		if !present {
			return versioning.ChangeRecord{}, coreerrors.Invalid("revert", field,
				fmt.Errorf("variable did not exist before entry %s", entryID))
		}
		value = old
	}
	return e.RevertVariable(ctx, path, field, value)
}

// History returns the entries that change field in the log for path, most
// recent first.
func (e *Engine) History(ctx context.Context, path, field string) ([]versioning.VersionEntry, error) {
	return e.store.QueryHistory(ctx, e.LogDir(path), field)
}

// Log returns every entry recorded for path in append order.
func (e *Engine) Log(ctx context.Context, path string) ([]versioning.VersionEntry, error) {
	return e.store.Entries(ctx, e.LogDir(path))
}

// ReconstructFileFromHistory rebuilds env file contents from the log in dir
// alone, one line per field in first-recorded order.
func (e *Engine) ReconstructFileFromHistory(ctx context.Context, dir string) (string, error) {
	snap, err := e.store.ReconstructLatest(ctx, dir)
	if err != nil {
		return "", err
	}
	return envfile.Serialize(snap.Pairs()), nil
}

// Restore writes the contents reconstructed from the log in dir to the env
// file in dir and returns its path. A directory without history is NotFound.
func (e *Engine) Restore(ctx context.Context, dir string) (string, error) {
	snap, err := e.store.ReconstructLatest(ctx, dir)
	if err != nil {
		return "", err
	}
	if snap.Len() == 0 {
		return "", coreerrors.New(coreerrors.KindNotFound, "restore", fmt.Errorf("no history recorded")).WithPath(dir)
	}

	path := filepath.Join(dir, e.envFile)
	if err := e.fs.Write(path, []byte(envfile.Serialize(snap.Pairs()))); err != nil {
		return "", err
	}
	return path, nil
}

// Link points the env file in projectDir at managed and returns the link path.
// An existing regular file in projectDir is never replaced.
func (e *Engine) Link(managed, projectDir string) (string, error) {
	if err := e.fs.AddRoot(projectDir); err != nil {
		return "", err
	}
	link := filepath.Join(projectDir, e.envFile)
	if err := e.fs.Symlink(managed, link); err != nil {
		return "", err
	}
	return link, nil
}

// Variables returns the pairs in the env file at path in line order.
func (e *Engine) Variables(path string) ([]envfile.Pair, error) {
	doc, err := e.readDocument("list", path)
	if err != nil {
		return nil, err
	}
	return doc.Pairs(), nil
}

// Names returns the distinct variable names in the env file at path, sorted.
func (e *Engine) Names(path string) ([]string, error) {
	doc, err := e.readDocument("list", path)
	if err != nil {
		return nil, err
	}
	return doc.Names(), nil
}

// Services returns the managed services, sorted.
func (e *Engine) Services() ([]string, error) {
	return e.fs.Services(e.home, e.envFile)
}

// ExamplePath returns where GenerateExample writes the example for path and
// whether a file is already there.
func (e *Engine) ExamplePath(path string) (string, bool, error) {
	target := examplePath(path)
	exists, err := e.fs.Exists(target)
	if err != nil {
		return "", false, err
	}
	return target, exists, nil
}

// GenerateExample writes a copy of the env file at path with every value
// blanked next to it and returns the new file's path. Comments and blank
// lines are kept.
func (e *Engine) GenerateExample(path string) (string, error) {
	doc, err := e.readDocument("generate", path)
	if err != nil {
		return "", err
	}
	for _, line := range doc.Lines() {
		doc.SetLine(line.Index, "")
	}

	target := examplePath(path)
	if err := e.fs.Write(target, []byte(doc.String())); err != nil {
		return "", err
	}
	return target, nil
}

func examplePath(path string) string {
	return filepath.Join(filepath.Dir(path), filepath.Base(path)+DefaultExampleSuffix)
}
