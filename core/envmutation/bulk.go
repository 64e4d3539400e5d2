package envmutation

import (
	"context"
	"fmt"

	"github.com/adalundhe/envolve/core/envfile"
	coreerrors "github.com/adalundhe/envolve/core/errors"
	"github.com/adalundhe/envolve/core/filesystem"
	"github.com/adalundhe/envolve/core/fuzzy"
	"github.com/adalundhe/envolve/core/versioning"
)

// Scope narrows a bulk operation to the services matching Only, as glob
// patterns over the service directory relative to the base. An empty scope
// covers every env file.
type Scope struct {
	Only []string
}

func (e *Engine) envFiles(base string, scope Scope) ([]string, error) {
	return e.fs.EnvFiles(base, filesystem.DiscoverOptions{
		FileName: e.envFile,
		Include:  scope.Only,
		Exclude:  e.exclude,
	})
}

// UpdateValueEverywhere replaces, in every env file under base, each variable
// whose current value matches pattern under matcher. Variables already equal
// to value are left alone. Each touched file gets one log entry with a record
// per replaced variable. The returned paths are distinct, in walk order.
//
// On failure the paths already updated are returned with the error.
func (e *Engine) UpdateValueEverywhere(ctx context.Context, base, pattern, value string, matcher fuzzy.Matcher, scope Scope) ([]string, error) {
	if !envfile.ValidValue(value) {
		return nil, coreerrors.Invalid("update all", "", fmt.Errorf("value contains a newline"))
	}
	if matcher == nil {
		matcher = fuzzy.Exact
	}

	files, err := e.envFiles(base, scope)
	if err != nil {
		return nil, err
	}

	affected := make([]string, 0)
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return affected, err
		}

		doc, err := e.readDocument("update all", path)
		if err != nil {
			return affected, err
		}

		var records []versioning.ChangeRecord
		for _, line := range doc.Lines() {
			if line.Value == value || !matcher.Match(line.Value, pattern) {
				continue
			}
			records = append(records, versioning.ChangeRecord{
				FieldName: line.Name,
				OldValue:  versioning.Present(line.Value),
				Value:     value,
			})
			doc.SetLine(line.Index, value)
		}
		if len(records) == 0 {
			continue
		}

		if err := e.commit(ctx, path, doc, records); err != nil {
			return affected, err
		}
		affected = append(affected, path)
	}
	return affected, nil
}

// UpdateNameEverywhere sets field to value in every env file under base that
// defines it. Files where it already holds value are left alone.
func (e *Engine) UpdateNameEverywhere(ctx context.Context, base, field, value string, scope Scope) ([]string, error) {
	if err := validateAssignment("update all", field, value); err != nil {
		return nil, err
	}

	files, err := e.envFiles(base, scope)
	if err != nil {
		return nil, err
	}

	affected := make([]string, 0)
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return affected, err
		}

		doc, err := e.readDocument("update all", path)
		if err != nil {
			return affected, err
		}

		old, ok := doc.Lookup(field)
		if !ok || old == value {
			continue
		}
		doc.Set(field, value)

		record := versioning.ChangeRecord{FieldName: field, OldValue: versioning.Present(old), Value: value}
		if err := e.commit(ctx, path, doc, []versioning.ChangeRecord{record}); err != nil {
			return affected, err
		}
		affected = append(affected, path)
	}
	return affected, nil
}

// commit appends records to the log for path, then writes doc.
func (e *Engine) commit(ctx context.Context, path string, doc *envfile.Document, records []versioning.ChangeRecord) error {
	if _, err := e.store.AppendBatch(ctx, e.LogDir(path), records); err != nil {
		return err
	}
	return e.fs.Write(path, []byte(doc.String()))
}
