package mocks

import (
	"context"
	"io"
	"time"

	"github.com/stretchr/testify/mock"

	"message-sync/internal/models"
	"message-sync/internal/rabbitmq"
	"message-sync/internal/session"
	"message-sync/internal/socket"
	"message-sync/internal/store"
)

type StoreMock struct {
	mock.Mock
}

func (m *StoreMock) ListConversations(ctx context.Context, filter store.ListFilter) ([]models.Conversation, error) {
	args := m.Called(ctx, filter)
	var convs []models.Conversation
	if val := args.Get(0); val != nil {
		convs = val.([]models.Conversation)
	}
	return convs, args.Error(1)
}

func (m *StoreMock) ListMessages(ctx context.Context, conversationID string, after time.Time) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, after)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *StoreMock) SendMessage(ctx context.Context, req store.SendRequest) (models.Message, error) {
	args := m.Called(ctx, req)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *StoreMock) MarkRead(ctx context.Context, conversationID string) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

func (m *StoreMock) DeleteMessage(ctx context.Context, messageID string) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

func (m *StoreMock) DeleteConversation(ctx context.Context, conversationID string) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

func (m *StoreMock) UploadAttachment(ctx context.Context, filename string, content io.Reader) (models.Attachment, error) {
	args := m.Called(ctx, filename, content)
	var att models.Attachment
	if val := args.Get(0); val != nil {
		att = val.(models.Attachment)
	}
	return att, args.Error(1)
}

type CoreMock struct {
	mock.Mock
}

func (m *CoreMock) SelectConversation(ctx context.Context, conversationID string) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

func (m *CoreMock) SendText(ctx context.Context, conversationID, text string) (models.Message, error) {
	args := m.Called(ctx, conversationID, text)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *CoreMock) SendAttachment(ctx context.Context, conversationID, filename string, content io.Reader) (models.Message, error) {
	args := m.Called(ctx, conversationID, filename, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *CoreMock) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	args := m.Called(ctx, conversationID, messageID)
	return args.Error(0)
}

func (m *CoreMock) DeleteConversation(ctx context.Context, conversationID string) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

func (m *CoreMock) StartTyping(conversationID string) {
	m.Called(conversationID)
}

func (m *CoreMock) StopTyping(conversationID string) {
	m.Called(conversationID)
}

func (m *CoreMock) Conversations(search, facet string) []models.Conversation {
	args := m.Called(search, facet)
	var convs []models.Conversation
	if val := args.Get(0); val != nil {
		convs = val.([]models.Conversation)
	}
	return convs
}

func (m *CoreMock) Messages(conversationID string) []models.Message {
	args := m.Called(conversationID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs
}

func (m *CoreMock) Snapshot() models.StateSnapshot {
	args := m.Called()
	var snap models.StateSnapshot
	if val := args.Get(0); val != nil {
		snap = val.(models.StateSnapshot)
	}
	return snap
}

func (m *CoreMock) Healthy() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *CoreMock) ConnectionState() socket.State {
	args := m.Called()
	var state socket.State
	if val := args.Get(0); val != nil {
		state = val.(socket.State)
	}
	return state
}

type SessionMock struct {
	mock.Mock
}

func (m *SessionMock) Credentials(ctx context.Context) (session.Credentials, error) {
	args := m.Called(ctx)
	var creds session.Credentials
	if val := args.Get(0); val != nil {
		creds = val.(session.Credentials)
	}
	return creds, args.Error(1)
}

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	args := m.Called(ctx, routingKey, event, headers)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

var _ store.Store = (*StoreMock)(nil)
var _ rabbitmq.Publisher = (*PublisherMock)(nil)
var _ session.Provider = (*SessionMock)(nil)
