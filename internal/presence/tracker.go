package presence

import (
	"sync"
	"time"
)

// Tracker keeps the transient presence view: who is online and who is
// currently typing in which conversation. Typing entries expire on their own
// after the configured timeout, which bounds a stuck "typing" indicator to a
// single timeout window when the stop event is lost.
type Tracker struct {
	mu      sync.Mutex
	online  map[string]bool
	typing  map[string]map[string]typingEntry
	gen     uint64
	timeout time.Duration
	notify  func(kind string)
}

// typingEntry carries a generation stamp so an expiry callback that lost the
// race against a refresh can tell it no longer owns the entry.
type typingEntry struct {
	timer *time.Timer
	gen   uint64
}

// NewTracker creates a tracker with the given typing expiry timeout.
func NewTracker(typingTimeout time.Duration) *Tracker {
	if typingTimeout <= 0 {
		typingTimeout = 3 * time.Second
	}
	return &Tracker{
		online:  make(map[string]bool),
		typing:  make(map[string]map[string]typingEntry),
		timeout: typingTimeout,
	}
}

// Notification kinds passed to the change callback.
const (
	KindPresence = "presence"
	KindTyping   = "typing"
)

// SetNotify registers a callback fired after every state change. Used by the
// sync facade to push presence updates to the UI feed.
func (t *Tracker) SetNotify(fn func(kind string)) {
	t.mu.Lock()
	t.notify = fn
	t.mu.Unlock()
}

func (t *Tracker) fireNotify(kind string) {
	t.mu.Lock()
	fn := t.notify
	t.mu.Unlock()
	if fn != nil {
		fn(kind)
	}
}

// SetOnline marks a user online.
func (t *Tracker) SetOnline(userID string) {
	if userID == "" {
		return
	}
	t.mu.Lock()
	t.online[userID] = true
	t.mu.Unlock()
	t.fireNotify(KindPresence)
}

// SetOffline marks a user offline.
func (t *Tracker) SetOffline(userID string) {
	if userID == "" {
		return
	}
	t.mu.Lock()
	delete(t.online, userID)
	t.mu.Unlock()
	t.fireNotify(KindPresence)
}

// ReplaceOnline swaps the whole online set, used for online-users snapshots
// delivered right after a room join.
func (t *Tracker) ReplaceOnline(userIDs []string) {
	t.mu.Lock()
	t.online = make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		if id != "" {
			t.online[id] = true
		}
	}
	t.mu.Unlock()
	t.fireNotify(KindPresence)
}

// IsOnline reports whether a user is currently online.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online[userID]
}

// MarkTyping records that a user is typing in a conversation and arms the
// expiry timer. Repeated calls refresh the timer.
func (t *Tracker) MarkTyping(conversationID, userID string) {
	if conversationID == "" || userID == "" {
		return
	}
	t.mu.Lock()
	entries, ok := t.typing[conversationID]
	if !ok {
		entries = make(map[string]typingEntry)
		t.typing[conversationID] = entries
	}
	if cur, ok := entries[userID]; ok {
		cur.timer.Stop()
	}
	t.gen++
	gen := t.gen
	entries[userID] = typingEntry{
		gen: gen,
		timer: time.AfterFunc(t.timeout, func() {
			t.expireTyping(conversationID, userID, gen)
		}),
	}
	t.mu.Unlock()
	t.fireNotify(KindTyping)
}

// expireTyping is the timer callback. A refresh may have replaced the entry
// after this timer fired but before it took the lock, so the entry is only
// cleared when the generation still matches.
func (t *Tracker) expireTyping(conversationID, userID string, gen uint64) {
	t.mu.Lock()
	changed := false
	if entries, ok := t.typing[conversationID]; ok {
		if cur, ok := entries[userID]; ok && cur.gen == gen {
			delete(entries, userID)
			changed = true
			if len(entries) == 0 {
				delete(t.typing, conversationID)
			}
		}
	}
	t.mu.Unlock()
	if changed {
		t.fireNotify(KindTyping)
	}
}

// StopTyping clears a typing entry, either from an explicit stop event or
// from the expiry timer.
func (t *Tracker) StopTyping(conversationID, userID string) {
	t.mu.Lock()
	changed := false
	if entries, ok := t.typing[conversationID]; ok {
		if cur, ok := entries[userID]; ok {
			cur.timer.Stop()
			delete(entries, userID)
			changed = true
		}
		if len(entries) == 0 {
			delete(t.typing, conversationID)
		}
	}
	t.mu.Unlock()
	if changed {
		t.fireNotify(KindTyping)
	}
}

// Typing returns the users currently typing in a conversation.
func (t *Tracker) Typing(conversationID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := t.typing[conversationID]
	users := make([]string, 0, len(entries))
	for id := range entries {
		users = append(users, id)
	}
	return users
}

// OnlineSnapshot copies the online map for the read model.
func (t *Tracker) OnlineSnapshot() map[string]bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]bool, len(t.online))
	for id, v := range t.online {
		out[id] = v
	}
	return out
}

// TypingSnapshot copies the typing sets for the read model.
func (t *Tracker) TypingSnapshot() map[string][]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string][]string, len(t.typing))
	for convID, entries := range t.typing {
		users := make([]string, 0, len(entries))
		for id := range entries {
			users = append(users, id)
		}
		out[convID] = users
	}
	return out
}
