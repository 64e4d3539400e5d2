package envmutation

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/adalundhe/envolve/core/envfile"
	coreerrors "github.com/adalundhe/envolve/core/errors"
	"github.com/adalundhe/envolve/core/versioning"
)

// SyncResult describes what Sync did.
type SyncResult struct {
	Service     string                   `json:"service"`
	ManagedPath string                   `json:"managedPath"`
	LinkPath    string                   `json:"linkPath"`
	Entry       *versioning.VersionEntry `json:"entry,omitempty"`
	Added       int                      `json:"added"`
	Changed     int                      `json:"changed"`

	// AlreadyLinked is set when the project env file already pointed at the
	// managed file and nothing was done.
	AlreadyLinked bool `json:"alreadyLinked"`
}

// Sync copies the env file in projectDir under the home as service and swaps
// it for a symlink to the managed copy. An empty service defaults to
// the project directory name. Fields that are new or changed relative to the
// managed copy are recorded in one log entry; a field new to the service has
// an absent old value.
func (e *Engine) Sync(ctx context.Context, projectDir, service string) (SyncResult, error) {
	absProject, err := filepath.Abs(projectDir)
	if err != nil {
		return SyncResult{}, coreerrors.IO("sync", projectDir, err)
	}
	if service == "" {
		service = filepath.Base(absProject)
	}
	if err := e.fs.AddRoot(absProject); err != nil {
		return SyncResult{}, err
	}

	serviceDir, err := e.ServiceDir(service)
	if err != nil {
		return SyncResult{}, err
	}
	managed := filepath.Join(serviceDir, e.envFile)
	projectEnv := filepath.Join(absProject, e.envFile)

	result := SyncResult{Service: service, ManagedPath: managed, LinkPath: projectEnv}

	if target, linked, err := e.fs.IsSymlink(projectEnv); err != nil {
		return SyncResult{}, err
	} else if linked {
		if sameFile(target, managed) {
			result.AlreadyLinked = true
			return result, nil
		}
		return SyncResult{}, coreerrors.Invalid("sync", "", fmt.Errorf("%s is already a link to %s", projectEnv, target)).WithPath(projectEnv)
	}

	data, err := e.fs.Read(projectEnv)
	if err != nil {
		return SyncResult{}, err
	}

	current := envfile.Parse("")
	if existing, ok, err := e.fs.ReadOptional(managed); err != nil {
		return SyncResult{}, err
	} else if ok {
		current = envfile.Parse(string(existing))
	}

	records := syncRecords(envfile.ParseFile(string(data)), current.Lookup)
	for _, r := range records {
		if r.OldValue.IsAbsent() {
			result.Added++
		} else {
			result.Changed++
		}
	}

	if len(records) > 0 {
		entry, err := e.store.AppendBatch(ctx, serviceDir, records)
		if err != nil {
			return SyncResult{}, err
		}
		result.Entry = &entry
	}

	if err := e.fs.Copy(projectEnv, managed); err != nil {
		return SyncResult{}, err
	}
	if err := e.fs.LinkOver(managed, projectEnv); err != nil {
		return SyncResult{}, err
	}
	return result, nil
}

// syncRecords lists the first assignment of every name in incoming that is
// missing from, or different in, the state behind lookup.
func syncRecords(incoming []envfile.Pair, lookup func(string) (string, bool)) []versioning.ChangeRecord {
	seen := make(map[string]struct{}, len(incoming))
	var records []versioning.ChangeRecord
	for _, p := range incoming {
		if _, dup := seen[p.Name]; dup || !envfile.ValidName(p.Name) {
			continue
		}
		seen[p.Name] = struct{}{}

		old, ok := lookup(p.Name)
		switch {
		case !ok:
			records = append(records, versioning.ChangeRecord{FieldName: p.Name, OldValue: versioning.Absent(), Value: p.Value})
		case old != p.Value:
			records = append(records, versioning.ChangeRecord{FieldName: p.Name, OldValue: versioning.Present(old), Value: p.Value})
		}
	}
	return records
}

func sameFile(a, b string) bool {
	ra, errA := filepath.EvalSymlinks(a)
	rb, errB := filepath.EvalSymlinks(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return ra == rb
}
