// Package testsupport provides fakes and builders shared by the package
// tests: a scripted row reader, an event-collecting sink, an in-memory
// remote tier and minimal session/model fakes.
package testsupport

import (
	"context"
	"sync"
	"time"

	"github.com/stashql/stash/interceptor"
	"github.com/stashql/stash/resultset"
	"github.com/stashql/stash/telemetry"
)

// FakeRowReader replays a scripted schema and row matrix through the
// resultset.RowReader contract and records how it was used.
type FakeRowReader struct {
	Cols []resultset.Column
	Data [][]any
	// Affected is what RecordsAffected reports; the zero value means -1.
	Affected int64
	// SchemaErr, NextErr and ValuesErr are returned by the corresponding
	// calls when non-nil.
	SchemaErr error
	NextErr   error
	ValuesErr error

	mu        sync.Mutex
	cursor    int
	closed    bool
	nextCalls int
}

// NewFakeRowReader builds a reader over columns and rows.
func NewFakeRowReader(cols []resultset.Column, rows [][]any) *FakeRowReader {
	return &FakeRowReader{Cols: cols, Data: rows, cursor: -1}
}

func (f *FakeRowReader) Schema() ([]resultset.Column, error) {
	if f.SchemaErr != nil {
		return nil, f.SchemaErr
	}
	return f.Cols, nil
}

func (f *FakeRowReader) Next(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if f.NextErr != nil {
		return false, f.NextErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextCalls++
	if f.cursor+1 >= len(f.Data) {
		return false, nil
	}
	f.cursor++
	return true, nil
}

func (f *FakeRowReader) Values(dest []any) error {
	if f.ValuesErr != nil {
		return f.ValuesErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	copy(dest, f.Data[f.cursor])
	return nil
}

func (f *FakeRowReader) RecordsAffected() int64 {
	if f.Affected == 0 {
		return -1
	}
	return f.Affected
}

func (f *FakeRowReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *FakeRowReader) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// NextCalls reports how many times Next was invoked.
func (f *FakeRowReader) NextCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextCalls
}

// SimpleResultSet builds a result set over string columns, the common
// shape test tables use.
func SimpleResultSet(names []string, rows [][]any) *resultset.ResultSet {
	cols := make([]resultset.Column, len(names))
	for i, n := range names {
		cols[i] = resultset.Column{Name: n, Ordinal: i, ValueType: resultset.TypeString, Nullable: true}
	}
	rs := &resultset.ResultSet{
		Columns:         cols,
		Rows:            rows,
		RecordsAffected: -1,
		CapturedAt:      time.Now().UTC(),
	}
	rs.SizeBytes = rs.EstimateSize()
	return rs
}

// EventRecorder is a telemetry.Sink that collects every event.
type EventRecorder struct {
	mu     sync.Mutex
	events []telemetry.Event
}

// Sink returns the function to hand to the cache configuration.
func (r *EventRecorder) Sink() telemetry.Sink {
	return func(ev telemetry.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, ev)
	}
}

// Events returns a copy of everything recorded so far.
func (r *EventRecorder) Events() []telemetry.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]telemetry.Event(nil), r.events...)
}

// Kinds returns the recorded event kinds in order.
func (r *EventRecorder) Kinds() []telemetry.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]telemetry.Kind, len(r.events))
	for i, ev := range r.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

// CountKind returns how many recorded events have the given kind.
func (r *EventRecorder) CountKind(kind telemetry.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// FakeRemoteTier is an in-memory remote cache tier with optional scripted
// failures and call counting.
type FakeRemoteTier struct {
	mu      sync.Mutex
	entries map[string][]byte

	GetErr    error
	SetErr    error
	DeleteErr error

	getCalls    int
	setCalls    int
	deleteCalls int
}

// NewFakeRemoteTier builds an empty tier.
func NewFakeRemoteTier() *FakeRemoteTier {
	return &FakeRemoteTier{entries: make(map[string][]byte)}
}

func (f *FakeRemoteTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.GetErr != nil {
		return nil, false, f.GetErr
	}
	data, ok := f.entries[key]
	return data, ok, nil
}

func (f *FakeRemoteTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls++
	if f.SetErr != nil {
		return f.SetErr
	}
	f.entries[key] = value
	return nil
}

func (f *FakeRemoteTier) Delete(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	for _, key := range keys {
		delete(f.entries, key)
	}
	return nil
}

// Len reports how many entries the tier currently holds.
func (f *FakeRemoteTier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// GetCalls reports how many Get calls the tier saw.
func (f *FakeRemoteTier) GetCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls
}

// SetCalls reports how many Set calls the tier saw.
func (f *FakeRemoteTier) SetCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setCalls
}

// FakeModel maps entity types to tables by a caller-supplied function.
type FakeModel struct {
	// Tables maps the reflected struct name to its entity info.
	Tables map[string]interceptor.EntityInfo
	// Resolve overrides the map lookup when non-nil.
	Resolve func(entity any) (interceptor.EntityInfo, bool)
}

func (m *FakeModel) FindEntityType(entity any) (interceptor.EntityInfo, bool) {
	if m.Resolve != nil {
		return m.Resolve(entity)
	}
	if named, ok := entity.(interface{ EntityName() string }); ok {
		info, found := m.Tables[named.EntityName()]
		return info, found
	}
	return interceptor.EntityInfo{}, false
}

// FakeTracker is a static change-tracker snapshot.
type FakeTracker struct {
	Changes []interceptor.ChangeEntry
}

func (t *FakeTracker) Entries() []interceptor.ChangeEntry { return t.Changes }

// FakeSession bundles a tracker and a model. Pointer identity makes it a
// valid key for the save interceptor's pending slot.
type FakeSession struct {
	Tracker *FakeTracker
	Mapping *FakeModel
}

func (s *FakeSession) ChangeTracker() interceptor.ChangeTracker { return s.Tracker }

func (s *FakeSession) Model() interceptor.Model { return s.Mapping }
