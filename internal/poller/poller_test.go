package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"message-sync/internal/models"
	"message-sync/internal/timeline"
)

type fakeSource struct {
	mu      sync.Mutex
	calls   []time.Time
	msgs    []models.Message
	err     error
	inFetch func()
}

func (f *fakeSource) ListMessages(ctx context.Context, conversationID string, after time.Time) ([]models.Message, error) {
	f.mu.Lock()
	f.calls = append(f.calls, after)
	msgs, err, hook := f.msgs, f.err, f.inFetch
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return msgs, err
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSink struct {
	mu       sync.Mutex
	ingested []models.Message
	cursor   time.Time
}

func (f *fakeSink) Ingest(conversationID string, msg models.Message, source timeline.Source) timeline.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingested = append(f.ingested, msg)
	return timeline.Accepted
}

func (f *fakeSink) LastObserved(conversationID string) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor
}

func (f *fakeSink) ingestedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.ingested))
	for _, m := range f.ingested {
		ids = append(ids, m.ID)
	}
	return ids
}

func TestPollerFeedsActiveConversation(t *testing.T) {
	source := &fakeSource{msgs: []models.Message{{ID: "m1"}, {ID: "m2"}}}
	sink := &fakeSink{}
	p := New(source, sink, func() string { return "c1" }, 10*time.Millisecond, zerolog.Nop())

	p.Start(context.Background())
	defer p.Stop()

	require.Eventually(t, func() bool {
		return len(sink.ingestedIDs()) >= 2
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, sink.ingestedIDs(), "m1")
	assert.Contains(t, sink.ingestedIDs(), "m2")
}

func TestPollerSkipsWithoutActiveConversation(t *testing.T) {
	source := &fakeSource{}
	p := New(source, &fakeSink{}, func() string { return "" }, 10*time.Millisecond, zerolog.Nop())

	p.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	p.Stop()

	assert.Zero(t, source.callCount())
}

func TestPollerUsesLastObservedCursor(t *testing.T) {
	cursor := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	source := &fakeSource{}
	sink := &fakeSink{cursor: cursor}
	p := New(source, sink, func() string { return "c1" }, 10*time.Millisecond, zerolog.Nop())

	p.Start(context.Background())
	defer p.Stop()

	require.Eventually(t, func() bool { return source.callCount() > 0 }, time.Second, 5*time.Millisecond)

	source.mu.Lock()
	defer source.mu.Unlock()
	assert.Equal(t, cursor, source.calls[0])
}

func TestPollerStaleSelectionGuard(t *testing.T) {
	var mu sync.Mutex
	active := "c1"
	setActive := func(id string) {
		mu.Lock()
		active = id
		mu.Unlock()
	}
	activeFn := func() string {
		mu.Lock()
		defer mu.Unlock()
		return active
	}

	source := &fakeSource{msgs: []models.Message{{ID: "stale"}}}
	// Clear the selection while the fetch is in flight; the returned batch
	// must be discarded.
	source.inFetch = func() { setActive("") }
	sink := &fakeSink{}
	p := New(source, sink, activeFn, 10*time.Millisecond, zerolog.Nop())

	p.Start(context.Background())
	require.Eventually(t, func() bool { return source.callCount() > 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	p.Stop()

	assert.NotContains(t, sink.ingestedIDs(), "stale")
}

func TestStartStopIdempotent(t *testing.T) {
	source := &fakeSource{}
	p := New(source, &fakeSink{}, func() string { return "" }, 10*time.Millisecond, zerolog.Nop())

	p.Start(context.Background())
	p.Start(context.Background())
	assert.True(t, p.Running())

	p.Stop()
	p.Stop()
	assert.False(t, p.Running())
}

func TestStopHaltsPolling(t *testing.T) {
	source := &fakeSource{}
	p := New(source, &fakeSink{}, func() string { return "c1" }, 10*time.Millisecond, zerolog.Nop())

	p.Start(context.Background())
	require.Eventually(t, func() bool { return source.callCount() > 0 }, time.Second, 5*time.Millisecond)
	p.Stop()

	settled := source.callCount()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, source.callCount(), settled+1, "at most one in-flight poll after stop")
}
