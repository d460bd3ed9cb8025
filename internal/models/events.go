package models

import (
	"encoding/json"
	"time"
)

// Push-channel event names. Outbound events are fire-and-forget; the REST
// confirm path remains the source of truth for persistence.
const (
	EventJoinConversation  = "join-conversation"
	EventLeaveConversation = "leave-conversation"
	EventSendMessage       = "send-message"
	EventTyping            = "typing"
	EventStopTyping        = "stop-typing"

	EventNewMessage        = "new-message"
	EventMessageDelivered  = "message-delivered"
	EventMessageRead       = "message-read"
	EventUserTyping        = "user-typing"
	EventUserStoppedTyping = "user-stopped-typing"
	EventOnlineUsers       = "online-users"
	EventUserStatusUpdated = "user-status-updated"
)

// PushEvent is the envelope for both directions on the push channel. Every
// inbound payload carries the target conversation id so the funnel can route
// it without ambiguity.
type PushEvent struct {
	Type           string            `json:"type"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Message        *WireMessage      `json:"message,omitempty"`
	MessageID      json.RawMessage   `json:"message_id,omitempty"`
	UserID         json.RawMessage   `json:"user_id,omitempty"`
	Users          []json.RawMessage `json:"users,omitempty"`
	Status         string            `json:"status,omitempty"`
	At             time.Time         `json:"at,omitempty"`
}

// Update event types pushed to subscribed UI clients.
const (
	UpdateConversations = "conversations"
	UpdateMessages      = "messages"
	UpdateDelivery      = "delivery"
	UpdatePresence      = "presence"
	UpdateTyping        = "typing"
	UpdateHealth        = "connection-health"
	UpdateSnapshot      = "snapshot"
)

// UpdateEvent notifies the UI layer that part of the read model changed.
type UpdateEvent struct {
	Type           string         `json:"type"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Healthy        *bool          `json:"healthy,omitempty"`
	Snapshot       *StateSnapshot `json:"snapshot,omitempty"`
}

// Receipt is a delivery-state transition reported by the backend.
type Receipt struct {
	State string    `json:"state"`
	At    time.Time `json:"at"`
}

// StateSnapshot is the full reactive read model handed to the UI layer.
type StateSnapshot struct {
	Conversations  []Conversation      `json:"conversations"`
	ActiveID       string              `json:"active_id,omitempty"`
	ActiveMessages []Message           `json:"active_messages"`
	Healthy        bool                `json:"healthy"`
	Presence       map[string]bool     `json:"presence"`
	Typing         map[string][]string `json:"typing"`
	Delivery       map[string]Receipt  `json:"delivery"`
}
