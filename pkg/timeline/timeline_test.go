package timeline

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return func() time.Time { return base }
}

func TestAppendAssignsSequenceAndTimestamp(t *testing.T) {
	tl := New(WithClock(fixedClock()))

	first := tl.Append(models.OriginUser, "build a todo app", models.KindText)
	second := tl.AppendScoped(Scope{RunID: "run-1", StepID: "analyze"}, models.OriginAgent, "analyzing", models.KindText)

	assert.Equal(t, uint64(1), first.Sequence)
	assert.Equal(t, uint64(2), second.Sequence)
	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt, "timestamps may coincide")
	assert.Equal(t, "run-1", second.RunID)
	assert.Equal(t, "analyze", second.StepID)
	assert.Equal(t, 2, tl.Len())
	assert.Equal(t, Cursor(2), tl.Cursor())
}

func TestEntriesSince(t *testing.T) {
	tl := New()
	for i := 0; i < 5; i++ {
		tl.Append(models.OriginAgent, fmt.Sprintf("entry %d", i), models.KindText)
	}

	tests := []struct {
		name   string
		cursor Cursor
		want   []string
	}{
		{"from start", 0, []string{"entry 0", "entry 1", "entry 2", "entry 3", "entry 4"}},
		{"middle", 3, []string{"entry 3", "entry 4"}},
		{"at end", 5, nil},
		{"past end", 42, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for e := range tl.EntriesSince(tt.cursor) {
				got = append(got, e.Content)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEntriesSinceIsRestartable(t *testing.T) {
	tl := New()
	tl.Append(models.OriginUser, "a", models.KindText)

	seq := tl.EntriesSince(0)
	count := 0
	for range seq {
		count++
	}
	assert.Equal(t, 1, count)

	tl.Append(models.OriginAgent, "b", models.KindText)
	count = 0
	for range seq {
		count++
	}
	assert.Equal(t, 2, count, "a second range sees entries appended since")
}

func TestEntriesSinceEarlyBreak(t *testing.T) {
	tl := New()
	for i := 0; i < 3; i++ {
		tl.Append(models.OriginAgent, "x", models.KindText)
	}
	n := 0
	for range tl.EntriesSince(0) {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestEntriesReturnsCopy(t *testing.T) {
	tl := New()
	tl.Append(models.OriginUser, "original", models.KindText)

	entries := tl.Entries()
	entries[0].Content = "mutated"

	assert.Equal(t, "original", tl.Entries()[0].Content)
}

func TestConcurrentAppendKeepsOrderAndUniqueIDs(t *testing.T) {
	tl := New()
	const writers, perWriter = 8, 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				tl.Append(models.OriginSystem, fmt.Sprintf("%d-%d", w, i), models.KindStatus)
			}
		}(w)
	}

	// Concurrent readers must only ever observe a gap-free prefix.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			var prev uint64
			for e := range tl.EntriesSince(0) {
				if e.Sequence != prev+1 {
					t.Errorf("gap in sequence: %d after %d", e.Sequence, prev)
					return
				}
				prev = e.Sequence
			}
		}
	}()

	wg.Wait()
	<-done

	entries := tl.Entries()
	require.Len(t, entries, writers*perWriter)
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		assert.Equal(t, uint64(i+1), e.Sequence)
		assert.False(t, seen[e.ID], "duplicate id %s", e.ID)
		seen[e.ID] = true
	}
}
