package models

import "time"

// Conversation types exposed through the directory facet filter.
const (
	ConversationTypeProject = "project"
	ConversationTypeDirect  = "direct"
)

// Participant is one side of a two-party conversation.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// LastMessage is the preview summary shown in the conversation list.
type LastMessage struct {
	Text     string    `json:"text"`
	Kind     string    `json:"kind"`
	SenderID string    `json:"sender_id"`
	SentAt   time.Time `json:"sent_at"`
}

// Conversation is a two-party thread, optionally scoped to a job posting
// and an application on it.
type Conversation struct {
	ID            string        `json:"id"`
	Participants  []Participant `json:"participants"`
	JobID         string        `json:"job_id,omitempty"`
	ApplicationID string        `json:"application_id,omitempty"`
	Title         string        `json:"title,omitempty"`
	Last          *LastMessage  `json:"last_message,omitempty"`
	Unread        int           `json:"unread"`
	LastActivity  time.Time     `json:"last_activity"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Type classifies the conversation for the directory facet.
func (c Conversation) Type() string {
	if c.JobID != "" {
		return ConversationTypeProject
	}
	return ConversationTypeDirect
}

// Other returns the participant that is not the given user.
func (c Conversation) Other(userID string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.ID != userID {
			return p, true
		}
	}
	return Participant{}, false
}
