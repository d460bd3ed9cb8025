package poller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"message-sync/internal/models"
	"message-sync/internal/observability"
	"message-sync/internal/timeline"
)

// MessageSource is the slice of the REST store the poller needs.
type MessageSource interface {
	ListMessages(ctx context.Context, conversationID string, after time.Time) ([]models.Message, error)
}

// Sink is the slice of the timeline the poller feeds.
type Sink interface {
	Ingest(conversationID string, msg models.Message, source timeline.Source) timeline.Result
	LastObserved(conversationID string) time.Time
}

// Poller is the fallback synchronizer used while the push channel is
// unhealthy. It fetches messages for the active conversation created after
// the last observed timestamp and feeds them through the same merge funnel
// as push events, so a message arriving on both channels during a flapping
// connection is deduplicated in one place.
type Poller struct {
	source   MessageSource
	sink     Sink
	activeFn func() string
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// New creates a stopped poller. activeFn reports the selected conversation;
// the poller is a no-op while it returns empty.
func New(source MessageSource, sink Sink, activeFn func() string, interval time.Duration, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Poller{
		source:   source,
		sink:     sink,
		activeFn: activeFn,
		interval: interval,
		logger:   logger.With().Str("component", "poller").Logger(),
	}
}

// Start begins polling. Idempotent: starting a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	p.logger.Info().Msg("polling fallback started")
	go p.loop(runCtx)
}

// Stop halts polling. Idempotent: stopping a stopped poller is a no-op.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.logger.Info().Msg("polling fallback stopped")
}

// Running reports whether the poll loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	conversationID := p.activeFn()
	if conversationID == "" {
		return
	}
	observability.IncPollCycle()

	after := p.sink.LastObserved(conversationID)
	msgs, err := p.source.ListMessages(ctx, conversationID, after)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("poll fetch failed")
		}
		return
	}

	for _, msg := range msgs {
		// Stale-response guard: drop the batch when the selection changed
		// while the fetch was in flight.
		if p.activeFn() != conversationID {
			return
		}
		p.sink.Ingest(conversationID, msg, timeline.SourcePoll)
	}
}
