// Package timeline provides the append-only log of chat entries for a session.
//
// Entries are never mutated or removed once appended. Readers take a snapshot
// of the slice header under a read lock and iterate without holding it, which
// is safe because appended elements are immutable.
package timeline

import (
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
	"github.com/google/uuid"
)

// Cursor is the sequence number of the last entry an observer has seen.
// The zero Cursor means "nothing seen yet".
type Cursor uint64

// Scope associates an entry with the run and step that produced it.
type Scope struct {
	RunID  string
	StepID string
}

// Option configures a Timeline.
type Option func(*Timeline)

// WithClock overrides the timestamp source (used by tests).
func WithClock(now func() time.Time) Option {
	return func(t *Timeline) { t.now = now }
}

// WithIDGenerator overrides the entry identifier source.
func WithIDGenerator(gen func() string) Option {
	return func(t *Timeline) { t.newID = gen }
}

// Timeline is an append-only, ordered log of entries. It is safe for
// concurrent use by any number of writers and readers.
type Timeline struct {
	mu      sync.RWMutex
	entries []models.Entry
	now     func() time.Time
	newID   func() string
}

// New creates an empty timeline.
func New(opts ...Option) *Timeline {
	t := &Timeline{
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Append stores a new entry that is not tied to a run.
func (t *Timeline) Append(origin models.Origin, content string, kind models.ContentKind) models.Entry {
	return t.AppendScoped(Scope{}, origin, content, kind)
}

// AppendScoped stores a new entry and returns it. Identifier, sequence and
// timestamp are assigned under the write lock so concurrent appends never
// interleave.
func (t *Timeline) AppendScoped(scope Scope, origin models.Origin, content string, kind models.ContentKind) models.Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := models.Entry{
		ID:        t.newID(),
		Sequence:  uint64(len(t.entries)) + 1,
		Origin:    origin,
		Content:   content,
		Kind:      kind,
		CreatedAt: t.now(),
		RunID:     scope.RunID,
		StepID:    scope.StepID,
	}
	t.entries = append(t.entries, e)
	return e
}

// EntriesSince returns the entries appended after cursor, in append order.
// The sequence is lazy and finite: each iteration snapshots the timeline when
// it starts, so ranging over it again picks up newer entries.
func (t *Timeline) EntriesSince(cursor Cursor) iter.Seq[models.Entry] {
	return func(yield func(models.Entry) bool) {
		entries := t.snapshot()
		if uint64(cursor) >= uint64(len(entries)) {
			return
		}
		for _, e := range entries[cursor:] {
			if !yield(e) {
				return
			}
		}
	}
}

// CollectSince is EntriesSince materialized into a slice.
func (t *Timeline) CollectSince(cursor Cursor) []models.Entry {
	return slices.Collect(t.EntriesSince(cursor))
}

// Entries returns a copy of every entry.
func (t *Timeline) Entries() []models.Entry {
	return slices.Clone(t.snapshot())
}

// Len returns the number of entries.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Cursor returns the cursor positioned after the latest entry.
func (t *Timeline) Cursor() Cursor {
	return Cursor(t.Len())
}

func (t *Timeline) snapshot() []models.Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[:len(t.entries):len(t.entries)]
}
