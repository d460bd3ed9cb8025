package timeline

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"message-sync/internal/models"
	"message-sync/internal/observability"
)

// Source identifies where a candidate message came from. All four sources
// funnel through Ingest; nothing else mutates a conversation log.
type Source string

const (
	SourceOptimistic Source = "optimistic"
	SourceConfirmed  Source = "confirmed"
	SourcePush       Source = "push"
	SourcePoll       Source = "poll"
)

// Result reports what Ingest did with a candidate.
type Result int

const (
	Rejected Result = iota
	Accepted
	Replaced
	Duplicate
)

// Listener receives the side effects of a successful ingest.
type Listener interface {
	// ConversationUpdated carries the new last-message summary and the
	// unread delta (1 for an inbound message on a non-active conversation).
	ConversationUpdated(conversationID string, last models.Message, unreadDelta int)
	// TimelineChanged signals that the message list for a conversation
	// changed and the UI read model should be refreshed.
	TimelineChanged(conversationID string)
}

// Timeline owns the authoritative in-memory message list per conversation.
// Push, poll and the send pipeline only ever propose messages into it; the
// per-conversation lock makes Ingest the single writer.
type Timeline struct {
	mu       sync.RWMutex
	logs     map[string]*conversationLog
	selfID   string
	activeFn func() string
	listener Listener
	logger   zerolog.Logger
}

type conversationLog struct {
	mu           sync.Mutex
	entries      []models.Message
	lastObserved time.Time
}

// New creates a timeline for the given local user. activeFn reports the
// currently open conversation and gates unread counting.
func New(selfID string, activeFn func() string, listener Listener, logger zerolog.Logger) *Timeline {
	if activeFn == nil {
		activeFn = func() string { return "" }
	}
	return &Timeline{
		logs:     make(map[string]*conversationLog),
		selfID:   selfID,
		activeFn: activeFn,
		listener: listener,
		logger:   logger.With().Str("component", "timeline").Logger(),
	}
}

func (t *Timeline) log(conversationID string) *conversationLog {
	t.mu.RLock()
	l, ok := t.logs[conversationID]
	t.mu.RUnlock()
	if ok {
		return l
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok = t.logs[conversationID]; !ok {
		l = &conversationLog{}
		t.logs[conversationID] = l
	}
	return l
}

// Ingest merges a candidate message into a conversation log.
//
// A candidate whose id already exists is discarded, except that a confirmed
// candidate replaces the optimistic entry carrying the same client token.
// After every accepted ingest the log is kept sorted by creation time,
// arrival order preserved for equal timestamps.
func (t *Timeline) Ingest(conversationID string, msg models.Message, source Source) Result {
	if conversationID == "" || msg.ID == "" {
		observability.ObserveIngest(string(source), "rejected")
		return Rejected
	}

	l := t.log(conversationID)
	l.mu.Lock()
	result := l.merge(msg, source)
	l.mu.Unlock()

	switch result {
	case Accepted, Replaced:
		observability.ObserveIngest(string(source), "accepted")
		t.emit(conversationID, msg, source)
	case Duplicate:
		// Duplicate ids are expected while push and poll overlap during a
		// flapping connection. Resolved silently, observable only here.
		observability.ObserveIngest(string(source), "duplicate")
		t.logger.Debug().
			Str("conversation_id", conversationID).
			Str("message_id", msg.ID).
			Str("source", string(source)).
			Msg("duplicate message discarded")
	default:
		observability.ObserveIngest(string(source), "rejected")
	}
	return result
}

func (l *conversationLog) merge(msg models.Message, source Source) Result {
	idIdx := l.indexByID(msg.ID)

	if source == SourceConfirmed && msg.ClientToken != "" {
		if tokIdx := l.indexByToken(msg.ClientToken); tokIdx >= 0 {
			if idIdx >= 0 && idIdx != tokIdx {
				// The push channel already delivered the confirmed message;
				// drop the optimistic entry and keep the delivered one.
				l.entries = append(l.entries[:tokIdx], l.entries[tokIdx+1:]...)
			} else {
				msg.Status = models.SendStatusSent
				l.entries[tokIdx] = msg
				l.resort()
			}
			l.observe(msg, source)
			return Replaced
		}
	}

	if idIdx >= 0 {
		return Duplicate
	}

	l.entries = append(l.entries, msg)
	l.resort()
	l.observe(msg, source)
	return Accepted
}

func (l *conversationLog) observe(msg models.Message, source Source) {
	// Optimistic entries carry the local clock and must not advance the
	// poll cursor past not-yet-fetched server messages.
	if source != SourceOptimistic && msg.CreatedAt.After(l.lastObserved) {
		l.lastObserved = msg.CreatedAt
	}
}

func (l *conversationLog) resort() {
	sort.SliceStable(l.entries, func(i, j int) bool {
		return l.entries[i].CreatedAt.Before(l.entries[j].CreatedAt)
	})
}

func (l *conversationLog) indexByID(id string) int {
	for i := range l.entries {
		if l.entries[i].ID == id {
			return i
		}
	}
	return -1
}

func (l *conversationLog) indexByToken(token string) int {
	for i := range l.entries {
		if l.entries[i].ClientToken == token && l.entries[i].Status != models.SendStatusSent {
			return i
		}
	}
	return -1
}

func (t *Timeline) emit(conversationID string, msg models.Message, source Source) {
	if t.listener == nil {
		return
	}
	unreadDelta := 0
	inbound := msg.SenderID != "" && msg.SenderID != t.selfID
	if inbound && (source == SourcePush || source == SourcePoll) && t.activeFn() != conversationID {
		unreadDelta = 1
	}
	t.listener.ConversationUpdated(conversationID, msg, unreadDelta)
	t.listener.TimelineChanged(conversationID)
}

// Rollback removes the unconfirmed entry carrying the given client token and
// returns it so the caller can restore the original input. The entry is
// never silently dropped on a failed send; this is the only removal path for
// optimistic entries.
func (t *Timeline) Rollback(conversationID, token string) (models.Message, bool) {
	if token == "" {
		return models.Message{}, false
	}
	l := t.log(conversationID)
	l.mu.Lock()
	idx := l.indexByToken(token)
	var removed models.Message
	if idx >= 0 {
		removed = l.entries[idx]
		l.entries = append(l.entries[:idx], l.entries[idx+1:]...)
	}
	l.mu.Unlock()
	if idx < 0 {
		return models.Message{}, false
	}
	observability.ObserveIngest(string(SourceOptimistic), "rolled_back")
	if t.listener != nil {
		t.listener.TimelineChanged(conversationID)
	}
	return removed, true
}

// Remove deletes a confirmed message from a conversation log.
func (t *Timeline) Remove(conversationID, messageID string) bool {
	l := t.log(conversationID)
	l.mu.Lock()
	idx := l.indexByID(messageID)
	if idx >= 0 {
		l.entries = append(l.entries[:idx], l.entries[idx+1:]...)
	}
	l.mu.Unlock()
	if idx < 0 {
		return false
	}
	if t.listener != nil {
		t.listener.TimelineChanged(conversationID)
	}
	return true
}

// Drop discards the whole log for a deleted conversation.
func (t *Timeline) Drop(conversationID string) {
	t.mu.Lock()
	delete(t.logs, conversationID)
	t.mu.Unlock()
}

// Messages returns a copy of the ordered log for a conversation.
func (t *Timeline) Messages(conversationID string) []models.Message {
	l := t.log(conversationID)
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Message, len(l.entries))
	copy(out, l.entries)
	return out
}

// LastObserved returns the newest server-side creation timestamp seen for a
// conversation. The polling fallback fetches strictly after this point.
func (t *Timeline) LastObserved(conversationID string) time.Time {
	l := t.log(conversationID)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastObserved
}
