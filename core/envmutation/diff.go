package envmutation

import (
	"context"

	"github.com/adalundhe/envolve/core/envfile"
	"github.com/adalundhe/envolve/core/versioning"
)

// Difference is one variable that differs between two sides. A side that
// lacks the variable has its In flag unset.
type Difference struct {
	Name     string `json:"name" yaml:"name"`
	Source   string `json:"source" yaml:"source"`
	Target   string `json:"target" yaml:"target"`
	InSource bool   `json:"inSource" yaml:"inSource"`
	InTarget bool   `json:"inTarget" yaml:"inTarget"`
}

// firstValues indexes the first assignment of every name, keeping order.
func firstValues(pairs []envfile.Pair) ([]string, map[string]string) {
	values := make(map[string]string, len(pairs))
	order := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if _, ok := values[p.Name]; ok {
			continue
		}
		values[p.Name] = p.Value
		order = append(order, p.Name)
	}
	return order, values
}

// Compare lists the variables defined in both files whose values differ, in
// source order.
func (e *Engine) Compare(src, dst string) ([]Difference, error) {
	srcPairs, err := e.Variables(src)
	if err != nil {
		return nil, err
	}
	dstPairs, err := e.Variables(dst)
	if err != nil {
		return nil, err
	}

	order, srcValues := firstValues(srcPairs)
	_, dstValues := firstValues(dstPairs)

	diffs := make([]Difference, 0)
	for _, name := range order {
		dv, ok := dstValues[name]
		if !ok || dv == srcValues[name] {
			continue
		}
		diffs = append(diffs, Difference{Name: name, Source: srcValues[name], Target: dv, InSource: true, InTarget: true})
	}
	return diffs, nil
}

// Drift compares the state recorded in the log for path (source) with the
// live file (target). Fields recorded but missing from the file come first in
// recorded order, followed by live fields the log does not agree with.
func (e *Engine) Drift(ctx context.Context, path string) ([]Difference, error) {
	snap, err := e.store.ReconstructLatest(ctx, e.LogDir(path))
	if err != nil {
		return nil, err
	}
	live, err := e.Variables(path)
	if err != nil {
		return nil, err
	}

	liveOrder, liveValues := firstValues(live)

	diffs := make([]Difference, 0)
	for _, name := range snap.Names() {
		if _, ok := liveValues[name]; ok {
			continue
		}
		recorded, _ := snap.Get(name)
		diffs = append(diffs, Difference{Name: name, Source: recorded, InSource: true})
	}
	for _, name := range liveOrder {
		recorded, ok := snap.Get(name)
		current := liveValues[name]
		if ok && recorded == current {
			continue
		}
		diffs = append(diffs, Difference{Name: name, Source: recorded, Target: current, InSource: ok, InTarget: true})
	}
	return diffs, nil
}

// Capture records edits made to the env file at path outside envolve: every
// live field that is new or differs from the log goes into one entry. It
// returns nil when the file matches its history or does not exist.
func (e *Engine) Capture(ctx context.Context, path string) (*versioning.VersionEntry, error) {
	data, ok, err := e.fs.ReadOptional(path)
	if err != nil || !ok {
		return nil, err
	}

	dir := e.LogDir(path)
	snap, err := e.store.ReconstructLatest(ctx, dir)
	if err != nil {
		return nil, err
	}

	records := syncRecords(envfile.ParseFile(string(data)), snap.Get)
	if len(records) == 0 {
		return nil, nil
	}

	entry, err := e.store.AppendBatch(ctx, dir, records)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
