package models

import (
	"encoding/json"
	"time"

	"message-sync/internal/identity"
)

// SendStatus is the client-local lifecycle of an outgoing message. It is
// independent of the delivery receipts reported by the backend.
type SendStatus string

const (
	SendStatusSending   SendStatus = "sending"
	SendStatusUploading SendStatus = "uploading"
	SendStatusSent      SendStatus = "sent"
	SendStatusFailed    SendStatus = "failed"
)

// Attachment describes an uploaded file or image.
type Attachment struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"original_name"`
	MimeType     string `json:"mime_type"`
	Size         int64  `json:"size"`
	URL          string `json:"url"`
	IsImage      bool   `json:"is_image"`
}

// Message is a single timeline entry. Exactly one of Text or Attachment is
// populated. Before the backend persists a send, ID holds the client token;
// once confirmed, ID carries the server-assigned id and ClientToken still
// links the entry to the optimistic original.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	ReceiverID     string      `json:"receiver_id"`
	Text           string      `json:"text,omitempty"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	Status         SendStatus  `json:"status,omitempty"`
	ClientToken    string      `json:"client_token,omitempty"`
}

// IsFile reports whether the message carries an attachment payload.
func (m Message) IsFile() bool { return m.Attachment != nil }

// Kind returns a short content discriminator for previews.
func (m Message) Kind() string {
	switch {
	case m.Attachment != nil && m.Attachment.IsImage:
		return "image"
	case m.Attachment != nil:
		return "file"
	default:
		return "text"
	}
}

// WireMessage is the shape messages arrive in from the REST store and the
// push channel. Identifier and participant references are kept raw because
// the backend emits them in several shapes (plain string, embedded object,
// {"$oid": ...} wrapper) depending on the code path that produced them.
type WireMessage struct {
	ID             json.RawMessage `json:"_id"`
	AltID          json.RawMessage `json:"id"`
	ConversationID json.RawMessage `json:"conversation_id"`
	Sender         json.RawMessage `json:"sender"`
	Receiver       json.RawMessage `json:"receiver"`
	Text           string          `json:"text"`
	Attachment     *Attachment     `json:"attachment"`
	CreatedAt      time.Time       `json:"created_at"`
	ClientToken    string          `json:"client_token"`
}

// Canonical converts a wire message into a Message with all references
// normalized. ok is false when no usable identifier could be extracted.
func (w WireMessage) Canonical() (Message, bool) {
	id, ok := identity.NormalizeRaw(w.ID)
	if !ok {
		id, ok = identity.NormalizeRaw(w.AltID)
	}
	if !ok {
		return Message{}, false
	}

	convID, _ := identity.NormalizeRaw(w.ConversationID)
	senderID, _ := identity.NormalizeRaw(w.Sender)
	receiverID, _ := identity.NormalizeRaw(w.Receiver)

	return Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Text:           w.Text,
		Attachment:     w.Attachment,
		CreatedAt:      w.CreatedAt,
		Status:         SendStatusSent,
		ClientToken:    w.ClientToken,
	}, true
}
