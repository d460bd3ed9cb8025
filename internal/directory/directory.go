package directory

import (
	"sort"
	"strings"
	"sync"

	"message-sync/internal/models"
)

// Directory maintains the conversation list: recency ordering, previews,
// unread counts and the active/selected conversation. It consumes updates
// from the timeline and never talks to the backend itself.
type Directory struct {
	mu            sync.RWMutex
	conversations map[string]models.Conversation
	activeID      string
}

// New creates an empty directory.
func New() *Directory {
	return &Directory{conversations: make(map[string]models.Conversation)}
}

// Replace swaps the full conversation set with an authoritative list from
// the store, keeping the active selection if it survived.
func (d *Directory) Replace(list []models.Conversation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conversations = make(map[string]models.Conversation, len(list))
	for _, c := range list {
		if c.LastActivity.IsZero() {
			if c.Last != nil {
				c.LastActivity = c.Last.SentAt
			} else {
				c.LastActivity = c.CreatedAt
			}
		}
		d.conversations[c.ID] = c
	}
	if _, ok := d.conversations[d.activeID]; !ok {
		d.activeID = ""
	}
}

// Upsert adds or updates a single conversation, created on first message
// send or explicit initiation.
func (d *Directory) Upsert(c models.Conversation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c.LastActivity.IsZero() {
		c.LastActivity = c.CreatedAt
	}
	d.conversations[c.ID] = c
}

// ApplyMessage updates the preview summary, activity timestamp and unread
// count after a message was merged into the timeline.
func (d *Directory) ApplyMessage(conversationID string, msg models.Message, unreadDelta int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.conversations[conversationID]
	if !ok {
		c = models.Conversation{ID: conversationID, CreatedAt: msg.CreatedAt}
	}
	if c.Last == nil || !msg.CreatedAt.Before(c.Last.SentAt) {
		c.Last = &models.LastMessage{
			Text:     previewText(msg),
			Kind:     msg.Kind(),
			SenderID: msg.SenderID,
			SentAt:   msg.CreatedAt,
		}
	}
	if msg.CreatedAt.After(c.LastActivity) {
		c.LastActivity = msg.CreatedAt
	}
	c.Unread += unreadDelta
	d.conversations[conversationID] = c
}

func previewText(msg models.Message) string {
	if msg.Attachment != nil {
		return msg.Attachment.OriginalName
	}
	return msg.Text
}

// ClearUnread resets the unread count for a conversation.
func (d *Directory) ClearUnread(conversationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.conversations[conversationID]; ok {
		c.Unread = 0
		d.conversations[conversationID] = c
	}
}

// SetActive records the selected conversation and returns the previous one.
func (d *Directory) SetActive(conversationID string) (previous string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	previous = d.activeID
	d.activeID = conversationID
	return previous
}

// Active returns the currently selected conversation id.
func (d *Directory) Active() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.activeID
}

// Get looks up a conversation.
func (d *Directory) Get(conversationID string) (models.Conversation, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.conversations[conversationID]
	return c, ok
}

// Remove drops a conversation from the local list. Used for the optimistic
// delete path; the caller re-fetches the authoritative list when the delete
// call fails.
func (d *Directory) Remove(conversationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.conversations, conversationID)
	if d.activeID == conversationID {
		d.activeID = ""
	}
}

// List returns conversations ordered by most-recent activity, filtered by a
// free-text search over participant names and title and by the type facet
// (all, project or direct).
func (d *Directory) List(search, facet string) []models.Conversation {
	d.mu.RLock()
	out := make([]models.Conversation, 0, len(d.conversations))
	for _, c := range d.conversations {
		if matchesFacet(c, facet) && matchesSearch(c, search) {
			out = append(out, c)
		}
	}
	d.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

func matchesFacet(c models.Conversation, facet string) bool {
	switch facet {
	case "", "all":
		return true
	default:
		return c.Type() == facet
	}
}

func matchesSearch(c models.Conversation, search string) bool {
	search = strings.TrimSpace(strings.ToLower(search))
	if search == "" {
		return true
	}
	if strings.Contains(strings.ToLower(c.Title), search) {
		return true
	}
	for _, p := range c.Participants {
		if strings.Contains(strings.ToLower(p.Name), search) {
			return true
		}
	}
	return false
}
