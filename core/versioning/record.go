package versioning

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/adalundhe/envolve/core/envfile"
)

// TimestampLayout is the persisted timestamp format: ISO-8601, UTC,
// millisecond precision (2024-01-01T00:00:00.000Z).
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// OldValue is the value a variable held before a change. A variable that did
// not exist has an Absent old value, which is distinct from Present("").
type OldValue struct {
	value   string
	present bool
}

// Present returns an OldValue holding v.
func Present(v string) OldValue {
	return OldValue{value: v, present: true}
}

// Absent returns the OldValue of a variable that did not exist.
func Absent() OldValue {
	return OldValue{}
}

// Get returns the value and whether it was present.
func (o OldValue) Get() (string, bool) {
	return o.value, o.present
}

// IsAbsent reports whether the variable did not exist before the change.
func (o OldValue) IsAbsent() bool {
	return !o.present
}

// String renders the value, or "<absent>".
func (o OldValue) String() string {
	if !o.present {
		return "<absent>"
	}
	return o.value
}

// ChangeRecord is one variable moving from OldValue to Value.
type ChangeRecord struct {
	FieldName string
	OldValue  OldValue
	Value     string
}

type changeRecordJSON struct {
	FieldName string  `json:"fieldName"`
	OldValue  *string `json:"oldValue,omitempty"`
	Value     string  `json:"value"`
}

// MarshalJSON omits oldValue when it is absent.
func (c ChangeRecord) MarshalJSON() ([]byte, error) {
	aux := changeRecordJSON{FieldName: c.FieldName, Value: c.Value}
	if v, ok := c.OldValue.Get(); ok {
		aux.OldValue = &v
	}
	return json.Marshal(aux)
}

// UnmarshalJSON treats a missing or null oldValue as absent.
func (c *ChangeRecord) UnmarshalJSON(data []byte) error {
	var aux changeRecordJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.FieldName = aux.FieldName
	c.Value = aux.Value
	c.OldValue = Absent()
	if aux.OldValue != nil {
		c.OldValue = Present(*aux.OldValue)
	}
	return nil
}

// VersionEntry groups the changes made by one operation under one timestamp.
// Entries written before ids were recorded get a positional id when read.
type VersionEntry struct {
	ID        string
	Timestamp time.Time
	Changes   []ChangeRecord
}

type versionEntryJSON struct {
	ID        string         `json:"id,omitempty"`
	Timestamp string         `json:"timestamp"`
	Changes   []ChangeRecord `json:"changes"`
}

// MarshalJSON renders the timestamp in TimestampLayout.
func (e VersionEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(versionEntryJSON{
		ID:        e.ID,
		Timestamp: FormatTimestamp(e.Timestamp),
		Changes:   e.Changes,
	})
}

// UnmarshalJSON accepts any RFC 3339 timestamp.
func (e *VersionEntry) UnmarshalJSON(data []byte) error {
	var aux versionEntryJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	ts, err := time.Parse(time.RFC3339Nano, aux.Timestamp)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", aux.Timestamp, err)
	}
	e.ID = aux.ID
	e.Timestamp = ts
	e.Changes = aux.Changes
	return nil
}

// Change returns the first record for field in the entry.
func (e VersionEntry) Change(field string) (ChangeRecord, bool) {
	for _, c := range e.Changes {
		if c.FieldName == field {
			return c, true
		}
	}
	return ChangeRecord{}, false
}

// Touches reports whether the entry changes field.
func (e VersionEntry) Touches(field string) bool {
	_, ok := e.Change(field)
	return ok
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Snapshot maps field names to their latest value, iterating in the order the
// names were first seen.
type Snapshot struct {
	names  []string
	values map[string]string
}

// NewSnapshot returns an empty Snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{values: make(map[string]string)}
}

// Set records value for name. A new name is appended to the iteration order;
// an existing one keeps its position.
func (s *Snapshot) Set(name, value string) {
	if _, ok := s.values[name]; !ok {
		s.names = append(s.names, name)
	}
	s.values[name] = value
}

// Get returns the latest value of name.
func (s *Snapshot) Get(name string) (string, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Len returns the number of fields.
func (s *Snapshot) Len() int {
	return len(s.names)
}

// Names returns field names in first-insertion order.
func (s *Snapshot) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Pairs returns the snapshot as env pairs in first-insertion order.
func (s *Snapshot) Pairs() []envfile.Pair {
	pairs := make([]envfile.Pair, len(s.names))
	for i, name := range s.names {
		pairs[i] = envfile.Pair{Name: name, Value: s.values[name]}
	}
	return pairs
}
