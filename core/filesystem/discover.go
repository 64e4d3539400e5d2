package filesystem

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	coreerrors "github.com/adalundhe/envolve/core/errors"
	"github.com/gobwas/glob"
)

// DefaultEnvFileName is the env file name looked for during discovery.
const DefaultEnvFileName = ".env"

// DiscoverOptions filters env file discovery. Patterns are matched against the
// slash-separated directory of each file relative to the walk base, so "api"
// selects <base>/api/.env and "team/*" every service one level under team.
type DiscoverOptions struct {
	FileName string
	Include  []string
	Exclude  []string
}

type discoverFilter struct {
	includes []glob.Glob
	excludes []glob.Glob
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	matchers := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, coreerrors.Invalid("compile pattern", pattern, err)
		}
		matchers = append(matchers, g)
	}
	return matchers, nil
}

func newDiscoverFilter(opts DiscoverOptions) (*discoverFilter, error) {
	includes, err := compileGlobs(opts.Include)
	if err != nil {
		return nil, err
	}
	excludes, err := compileGlobs(opts.Exclude)
	if err != nil {
		return nil, err
	}
	return &discoverFilter{includes: includes, excludes: excludes}, nil
}

func matchAny(matchers []glob.Glob, rel string) bool {
	for _, g := range matchers {
		if g.Match(rel) || g.Match(filepath.Base(rel)) {
			return true
		}
	}
	return false
}

func (f *discoverFilter) skipDir(rel string) bool {
	return rel != "." && matchAny(f.excludes, rel)
}

func (f *discoverFilter) accept(rel string) bool {
	if len(f.includes) == 0 {
		return true
	}
	return matchAny(f.includes, rel)
}

// EnvFiles walks base recursively and returns every env file in lexical walk
// order. Symlinked env files are skipped; the managed copy is the one found.
// A missing base yields no files.
func (m *Manager) EnvFiles(base string, opts DiscoverOptions) ([]string, error) {
	if opts.FileName == "" {
		opts.FileName = DefaultEnvFileName
	}
	filter, err := newDiscoverFilter(opts)
	if err != nil {
		return nil, err
	}

	root, err := m.ResolvePath(base)
	if err != nil {
		m.audit(OpList, base, "", err)
		return nil, err
	}
	if real, err := filepath.EvalSymlinks(root); err == nil {
		root = real
	}

	var files []string
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipAll
			}
			return err
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if filter.skipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != opts.FileName || !d.Type().IsRegular() {
			return nil
		}
		if filter.accept(filepath.ToSlash(filepath.Dir(rel))) {
			files = append(files, path)
		}
		return nil
	})
	if walkErr != nil {
		m.audit(OpList, base, root, walkErr)
		return nil, coreerrors.IO("discover", root, walkErr)
	}

	m.audit(OpList, base, root, nil)
	return files, nil
}

// Services returns the names of the immediate subdirectories of base that hold
// an env file, sorted.
func (m *Manager) Services(base, fileName string) ([]string, error) {
	if fileName == "" {
		fileName = DefaultEnvFileName
	}

	root, err := m.ResolvePath(base)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		m.audit(OpList, base, root, nil)
		return nil, nil
	}
	if err != nil {
		m.audit(OpList, base, root, err)
		return nil, coreerrors.IO("list services", root, err)
	}

	var services []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, entry.Name(), fileName)); err == nil {
			services = append(services, entry.Name())
		}
	}
	sort.Strings(services)

	m.audit(OpList, base, root, nil)
	return services, nil
}
