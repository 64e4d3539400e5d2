package versioning

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	coreerrors "github.com/adalundhe/envolve/core/errors"
	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// steppingClock returns a clock that advances one second per call.
func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := current
		current = current.Add(time.Second)
		return t
	}
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("entry-%03d", n)
	}
}

func newTestStore(opts ...StoreOption) *Store {
	base := []StoreOption{
		WithClock(steppingClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))),
		WithIDGenerator(sequentialIDs()),
		WithLockTimeout(2 * time.Second),
	}
	return NewStore(append(base, opts...)...)
}

func TestAppendChangeCreatesLogLazily(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := newTestStore()

	_, err := os.Stat(store.LogPath(dir))
	require.True(t, os.IsNotExist(err))

	entry, err := store.AppendChange(ctx, dir, "API_KEY", Present("abc"), "xyz")
	require.NoError(t, err)

	assert.Equal(t, "entry-001", entry.ID)
	assert.Equal(t, "2024-01-01T00:00:00.000Z", FormatTimestamp(entry.Timestamp))
	require.Len(t, entry.Changes, 1)

	data, err := os.ReadFile(store.LogPath(dir))
	require.NoError(t, err)
	assert.Equal(t,
		`{"id":"entry-001","timestamp":"2024-01-01T00:00:00.000Z","changes":[{"fieldName":"API_KEY","oldValue":"abc","value":"xyz"}]}`+"\n",
		string(data))
}

func TestAbsentAndEmptyOldValueAreDistinct(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := newTestStore()

	_, err := store.AppendChange(ctx, dir, "NEW", Absent(), "1")
	require.NoError(t, err)
	_, err = store.AppendChange(ctx, dir, "EMPTY", Present(""), "2")
	require.NoError(t, err)

	data, err := os.ReadFile(store.LogPath(dir))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.NotContains(t, lines[0], "oldValue")
	assert.Contains(t, lines[1], `"oldValue":""`)

	entries, err := store.Entries(ctx, dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Changes[0].OldValue.IsAbsent())

	v, ok := entries[1].Changes[0].OldValue.Get()
	assert.True(t, ok)
	assert.Equal(t, "", v)
}

func TestAppendBatchSharesOneEntry(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := newTestStore()

	entry, err := store.AppendBatch(ctx, dir, []ChangeRecord{
		{FieldName: "A", OldValue: Absent(), Value: "1"},
		{FieldName: "B", OldValue: Absent(), Value: "2"},
		{FieldName: "C", OldValue: Present("x"), Value: "3"},
	})
	require.NoError(t, err)
	assert.Len(t, entry.Changes, 3)

	entries, err := store.Entries(ctx, dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry.ID, entries[0].ID)
	assert.True(t, entry.Timestamp.Equal(entries[0].Timestamp))
}

func TestAppendRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := newTestStore()

	_, err := store.AppendBatch(ctx, dir, nil)
	assert.True(t, coreerrors.KindOf(err) == coreerrors.KindInvalidInput)

	_, err = store.AppendChange(ctx, dir, "A", Absent(), "two\nlines")
	assert.True(t, coreerrors.KindOf(err) == coreerrors.KindInvalidInput)

	_, err = store.AppendChange(ctx, dir, "", Absent(), "x")
	assert.True(t, coreerrors.KindOf(err) == coreerrors.KindInvalidInput)

	_, statErr := os.Stat(store.LogPath(dir))
	assert.True(t, os.IsNotExist(statErr))
}

func TestQueryHistoryMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := newTestStore()

	_, err := store.AppendChange(ctx, dir, "X", Present("v0"), "v1")
	require.NoError(t, err)
	_, err = store.AppendChange(ctx, dir, "Y", Present("y0"), "y1")
	require.NoError(t, err)
	_, err = store.AppendBatch(ctx, dir, []ChangeRecord{
		{FieldName: "Y", OldValue: Present("y1"), Value: "y2"},
		{FieldName: "X", OldValue: Present("v1"), Value: "v2"},
	})
	require.NoError(t, err)

	history, err := store.QueryHistory(ctx, dir, "X")
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, "entry-003", history[0].ID)
	assert.Len(t, history[0].Changes, 2, "entries keep all their records")
	change, ok := history[0].Change("X")
	require.True(t, ok)
	assert.Equal(t, "v2", change.Value)
	assert.Equal(t, "entry-001", history[1].ID)

	none, err := store.QueryHistory(ctx, dir, "Z")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestQueryHistorySortsByTimestampNotAppendOrder(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	times := []time.Time{
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	i := 0
	store := newTestStore(WithClock(func() time.Time {
		ts := times[i]
		i++
		return ts
	}))

	for n, v := range []string{"a", "b", "c"} {
		_, err := store.AppendChange(ctx, dir, "X", Present(fmt.Sprint(n)), v)
		require.NoError(t, err)
	}

	history, err := store.QueryHistory(ctx, dir, "X")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "a", history[0].Changes[0].Value)
	assert.Equal(t, "c", history[1].Changes[0].Value)
	assert.Equal(t, "b", history[2].Changes[0].Value)

	// Reconstruction follows physical order, so the last appended value wins.
	snap, err := store.ReconstructLatest(ctx, dir)
	require.NoError(t, err)
	v, _ := snap.Get("X")
	assert.Equal(t, "c", v)
}

func TestReconstructLatestReturnsLastValue(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := newTestStore()

	_, err := store.AppendBatch(ctx, dir, []ChangeRecord{
		{FieldName: "B", OldValue: Absent(), Value: "b0"},
		{FieldName: "A", OldValue: Absent(), Value: "a0"},
	})
	require.NoError(t, err)

	prev := "a0"
	for n := 1; n <= 5; n++ {
		next := fmt.Sprintf("a%d", n)
		_, err := store.AppendChange(ctx, dir, "A", Present(prev), next)
		require.NoError(t, err)
		prev = next
	}

	snap, err := store.ReconstructLatest(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, snap.Names(), "first-insertion order")

	v, ok := snap.Get("A")
	require.True(t, ok)
	assert.Equal(t, "a5", v)
	assert.Equal(t, 2, snap.Len())
}

func TestReadsOnMissingLogAreEmpty(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "never-created")
	store := newTestStore()

	entries, err := store.Entries(ctx, dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	history, err := store.QueryHistory(ctx, dir, "X")
	require.NoError(t, err)
	assert.Empty(t, history)

	snap, err := store.ReconstructLatest(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Len())

	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr), "reads must not create files")
}

func TestCorruptJournalIsReportedAndNeverOverwritten(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := newTestStore()

	_, err := store.AppendChange(ctx, dir, "X", Present("a"), "b")
	require.NoError(t, err)

	f, err := os.OpenFile(store.LogPath(dir), os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	before, err := os.ReadFile(store.LogPath(dir))
	require.NoError(t, err)

	_, err = store.QueryHistory(ctx, dir, "X")
	require.Error(t, err)
	assert.ErrorIs(t, err, coreerrors.ErrHistoryUnreadable)
	assert.Contains(t, err.Error(), "line 2")

	_, err = store.AppendChange(ctx, dir, "X", Present("b"), "c")
	require.Error(t, err)
	assert.ErrorIs(t, err, coreerrors.ErrHistoryUnreadable)

	after, err := os.ReadFile(store.LogPath(dir))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestLegacyArrayIsReadAsPrefix(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := newTestStore()

	legacy := `[
  {
    "timestamp": "2023-06-01T10:00:00.000Z",
    "changes": [ { "fieldName": "API_KEY", "value": "first" } ]
  },
  {
    "timestamp": "2023-06-02T10:00:00.000Z",
    "changes": [ { "fieldName": "API_KEY", "oldValue": "first", "value": "second" } ]
  }
]`
	require.NoError(t, os.WriteFile(store.LegacyLogPath(dir), []byte(legacy), 0o644))

	_, err := store.AppendChange(ctx, dir, "API_KEY", Present("second"), "third")
	require.NoError(t, err)

	entries, err := store.Entries(ctx, dir)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "legacy-1", entries[0].ID)
	assert.Equal(t, "legacy-2", entries[1].ID)
	assert.True(t, entries[0].Changes[0].OldValue.IsAbsent())
	assert.Equal(t, "third", entries[2].Changes[0].Value)

	data, err := os.ReadFile(store.LegacyLogPath(dir))
	require.NoError(t, err)
	assert.Equal(t, legacy, string(data), "legacy log is never rewritten")

	history, err := store.QueryHistory(ctx, dir, "API_KEY")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "third", history[0].Changes[0].Value)
}

func TestLegacyLogThatIsNotAnArrayIsUnreadable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := newTestStore()

	require.NoError(t, os.WriteFile(store.LegacyLogPath(dir), []byte(`{"timestamp":"x"}`), 0o644))

	_, err := store.Entries(ctx, dir)
	assert.ErrorIs(t, err, coreerrors.ErrHistoryUnreadable)

	_, err = store.AppendChange(ctx, dir, "A", Absent(), "1")
	assert.ErrorIs(t, err, coreerrors.ErrHistoryUnreadable)

	_, statErr := os.Stat(store.LogPath(dir))
	assert.True(t, os.IsNotExist(statErr))
}

func TestLegacyReadsCanBeDisabled(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := newTestStore(WithLegacyHistoryFile(""))

	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultLegacyHistoryFile), []byte("garbage"), 0o644))

	entries, err := store.Entries(ctx, dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, "", store.LegacyLogPath(dir))
}

func TestAppendAfterMissingTrailingNewline(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := newTestStore()

	line := `{"timestamp":"2024-01-01T00:00:00.000Z","changes":[{"fieldName":"A","value":"1"}]}`
	require.NoError(t, os.WriteFile(store.LogPath(dir), []byte(line), 0o600))

	_, err := store.AppendChange(ctx, dir, "A", Present("1"), "2")
	require.NoError(t, err)

	entries, err := store.Entries(ctx, dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "2", entries[1].Changes[0].Value)
}

func TestConcurrentAppendersLoseNoEntries(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// Separate stores stand in for separate processes: each append opens its
	// own lock and log descriptors.
	const writers = 8
	const perWriter = 10

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			store := NewStore(WithLockTimeout(10 * time.Second))
			for i := 0; i < perWriter; i++ {
				field := fmt.Sprintf("W%d", w)
				if _, err := store.AppendChange(ctx, dir, field, Present(fmt.Sprint(i)), fmt.Sprint(i+1)); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	entries, err := NewStore().Entries(ctx, dir)
	require.NoError(t, err)
	assert.Len(t, entries, writers*perWriter)

	ids := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		ids[e.ID] = struct{}{}
	}
	assert.Len(t, ids, writers*perWriter)
}

func TestAppendTimesOutWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := newTestStore(WithLockTimeout(100 * time.Millisecond))

	holder := flock.New(store.LogPath(dir) + ".lock")
	require.NoError(t, holder.Lock())
	defer func() { _ = holder.Unlock() }()

	_, err := store.AppendChange(ctx, dir, "A", Absent(), "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, coreerrors.ErrLockTimeout)
}

func TestFindEntryByPrefix(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := newTestStore()

	for i := 0; i < 3; i++ {
		_, err := store.AppendChange(ctx, dir, "A", Present(fmt.Sprint(i)), fmt.Sprint(i+1))
		require.NoError(t, err)
	}

	entry, err := store.FindEntry(ctx, dir, "entry-002")
	require.NoError(t, err)
	assert.Equal(t, "2", entry.Changes[0].Value)

	_, err = store.FindEntry(ctx, dir, "entry-")
	assert.ErrorIs(t, err, coreerrors.ErrInvalidInput)

	_, err = store.FindEntry(ctx, dir, "nope")
	assert.ErrorIs(t, err, coreerrors.ErrNotFound)
}

func TestEntriesWithoutIDsAreAddressable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := newTestStore()

	var legacy []string
	for i := 1; i <= 10; i++ {
		legacy = append(legacy, fmt.Sprintf(`{"timestamp":"2023-06-01T10:00:%02d.000Z","changes":[{"fieldName":"A","value":"v%d"}]}`, i, i))
	}
	require.NoError(t, os.WriteFile(store.LegacyLogPath(dir), []byte("["+strings.Join(legacy, ",")+"]"), 0o644))
	journal := `{"timestamp":"2023-07-01T00:00:00.000Z","changes":[{"fieldName":"A","oldValue":"v10","value":"j"}]}` + "\n"
	require.NoError(t, os.WriteFile(store.LogPath(dir), []byte(journal), 0o644))

	entry, err := store.FindEntry(ctx, dir, "legacy-1")
	require.NoError(t, err, "an exact id wins over the legacy-10 prefix match")
	assert.Equal(t, "v1", entry.Changes[0].Value)

	entry, err = store.FindEntry(ctx, dir, "legacy-10")
	require.NoError(t, err)
	assert.Equal(t, "v10", entry.Changes[0].Value)

	entry, err = store.FindEntry(ctx, dir, "line-1")
	require.NoError(t, err)
	assert.Equal(t, "j", entry.Changes[0].Value)

	history, err := store.QueryHistory(ctx, dir, "A")
	require.NoError(t, err)
	require.Len(t, history, 11)
	assert.Equal(t, "line-1", history[0].ID)
	assert.Equal(t, "legacy-10", history[1].ID)

	data, err := os.ReadFile(store.LogPath(dir))
	require.NoError(t, err)
	assert.Equal(t, journal, string(data))
}

func TestVersionEntryJSONAcceptsRFC3339(t *testing.T) {
	var entry VersionEntry
	err := json.Unmarshal([]byte(`{"timestamp":"2024-05-06T07:08:09Z","changes":[{"fieldName":"A","oldValue":null,"value":"1"}]}`), &entry)
	require.NoError(t, err)
	assert.Equal(t, 2024, entry.Timestamp.Year())
	assert.True(t, entry.Changes[0].OldValue.IsAbsent())

	err = json.Unmarshal([]byte(`{"timestamp":"yesterday","changes":[]}`), &entry)
	assert.Error(t, err)
}
