package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"message-sync/internal/config"
	"message-sync/internal/delivery"
	"message-sync/internal/directory"
	"message-sync/internal/models"
	"message-sync/internal/poller"
	"message-sync/internal/presence"
	"message-sync/internal/session"
	"message-sync/internal/socket"
	"message-sync/internal/store"
	"message-sync/internal/telemetry"
	"message-sync/internal/timeline"
)

// ErrStale is returned when a response arrived for a conversation that is no
// longer the active one; the result is discarded.
var ErrStale = errors.New("syncer: conversation no longer active")

// SendError wraps a failed send. Restored carries the original input text so
// the UI can put it back into the compose box; Filename names the file for
// upload failures.
type SendError struct {
	Restored string
	Filename string
	Err      error
}

func (e *SendError) Error() string {
	if e.Filename != "" {
		return fmt.Sprintf("upload of %q failed: %v", e.Filename, e.Err)
	}
	return fmt.Sprintf("send failed: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Broadcaster pushes read-model updates to subscribed UI clients.
type Broadcaster interface {
	Broadcast(event models.UpdateEvent)
}

// pushChannel is the slice of the connection manager the facade drives.
type pushChannel interface {
	Connect(ctx context.Context)
	ForceReconnect(ctx context.Context)
	Close()
	Healthy() bool
	State() socket.State
	JoinRoom(conversationID string)
	LeaveRoom(conversationID string)
	SendMessage(conversationID string, msg models.Message)
	Typing(conversationID string)
	StopTyping(conversationID string)
}

// fallback is the slice of the polling synchronizer the facade gates.
type fallback interface {
	Start(ctx context.Context)
	Stop()
	Running() bool
}

// Syncer owns the sync core: it wires the push channel and the polling
// fallback into the timeline funnel, runs the optimistic send pipeline and
// exposes the read model consumed by the UI layer.
type Syncer struct {
	cfg    config.SyncConfig
	store  store.Store
	selfID string

	timeline  *timeline.Timeline
	directory *directory.Directory
	delivery  *delivery.Tracker
	presence  *presence.Tracker
	push      pushChannel
	poller    fallback

	hub    Broadcaster
	audit  *telemetry.AuditEmitter
	logger zerolog.Logger

	mu      sync.Mutex
	baseCtx context.Context
}

// New assembles the sync core. Credentials must already be available; the
// session collaborator is consulted once for the local user identity and
// again by the transport layers on every call.
func New(cfg *config.Config, st store.Store, sess session.Provider, hub Broadcaster, audit *telemetry.AuditEmitter, logger zerolog.Logger) (*Syncer, error) {
	creds, err := sess.Credentials(context.Background())
	if err != nil {
		return nil, fmt.Errorf("syncer: %w", err)
	}

	s := &Syncer{
		cfg:    cfg.Sync,
		store:  st,
		selfID: creds.UserID,
		hub:    hub,
		audit:  audit,
		logger: logger.With().Str("component", "syncer").Logger(),
	}
	s.directory = directory.New()
	s.delivery = delivery.NewTracker()
	s.presence = presence.NewTracker(cfg.Sync.TypingTimeout)
	s.presence.SetNotify(s.onPresenceChange)
	s.timeline = timeline.New(creds.UserID, s.directory.Active, s, logger)

	s.push = socket.NewManager(socket.Options{
		URL:               cfg.Upstream.SocketURL,
		Session:           sess,
		Consumers:         s.consumers(),
		ReconnectAttempts: cfg.Sync.ReconnectAttempts,
		ReconnectDelay:    cfg.Sync.ReconnectDelay,
		OnHealth:          s.onHealth,
		OnAuthFailure:     s.onAuthFailure,
		Logger:            logger,
	})
	s.poller = poller.New(st, s.timeline, s.directory.Active, cfg.Sync.PollInterval, logger)
	return s, nil
}

// Run loads the initial conversation list and starts the push channel. A
// failed initial load is not fatal: the core starts with an empty directory
// and the UI can re-fetch once the backend is reachable.
func (s *Syncer) Run(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	convs, err := s.store.ListConversations(ctx, store.ListFilter{})
	if err != nil {
		s.logger.Warn().Err(err).Msg("initial conversation load failed, starting empty")
	} else {
		s.directory.Replace(convs)
	}
	s.broadcast(models.UpdateEvent{Type: models.UpdateConversations})

	s.push.Connect(ctx)
	return nil
}

// Close stops the push channel and the polling fallback.
func (s *Syncer) Close() {
	s.poller.Stop()
	s.push.Close()
}

func (s *Syncer) ctx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.Background()
}

func (s *Syncer) broadcast(event models.UpdateEvent) {
	if s.hub != nil {
		s.hub.Broadcast(event)
	}
}

// onHealth gates the polling fallback: exactly one of push and poll is ever
// active, and both feed the same merge funnel.
func (s *Syncer) onHealth(healthy bool) {
	if healthy {
		s.poller.Stop()
	} else if s.directory.Active() != "" {
		s.poller.Start(s.ctx())
	}
	h := healthy
	s.broadcast(models.UpdateEvent{Type: models.UpdateHealth, Healthy: &h})
}

func (s *Syncer) onAuthFailure(err error) {
	s.logger.Error().Err(err).Msg("push channel authentication failed, reconnect required")
	s.audit.Emit(s.ctx(), "error", "auth_failure", err.Error(), "")
	h := false
	s.broadcast(models.UpdateEvent{Type: models.UpdateHealth, Healthy: &h})
}

func (s *Syncer) onPresenceChange(kind string) {
	if kind == presence.KindTyping {
		s.broadcast(models.UpdateEvent{Type: models.UpdateTyping})
		return
	}
	s.broadcast(models.UpdateEvent{Type: models.UpdatePresence})
}

// ConversationUpdated implements timeline.Listener.
func (s *Syncer) ConversationUpdated(conversationID string, last models.Message, unreadDelta int) {
	s.directory.ApplyMessage(conversationID, last, unreadDelta)
	s.broadcast(models.UpdateEvent{Type: models.UpdateConversations})
}

// TimelineChanged implements timeline.Listener.
func (s *Syncer) TimelineChanged(conversationID string) {
	s.broadcast(models.UpdateEvent{Type: models.UpdateMessages, ConversationID: conversationID})
}

// SelectConversation opens a conversation: joins its room, loads its
// messages through the funnel and clears its unread count. A selection
// change while the fetch is in flight discards the stale response.
func (s *Syncer) SelectConversation(ctx context.Context, conversationID string) error {
	previous := s.directory.SetActive(conversationID)
	if previous != "" && previous != conversationID {
		s.push.LeaveRoom(previous)
	}
	if conversationID == "" {
		s.poller.Stop()
		s.broadcast(models.UpdateEvent{Type: models.UpdateMessages})
		return nil
	}

	s.push.JoinRoom(conversationID)
	s.push.ForceReconnect(s.ctx())

	msgs, err := s.store.ListMessages(ctx, conversationID, time.Time{})
	if err != nil {
		return fmt.Errorf("syncer: load messages: %w", err)
	}
	if s.directory.Active() != conversationID {
		return ErrStale
	}
	for _, msg := range msgs {
		s.timeline.Ingest(conversationID, msg, timeline.SourceConfirmed)
	}

	if err := s.store.MarkRead(ctx, conversationID); err != nil {
		s.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("mark read failed")
	} else {
		s.directory.ClearUnread(conversationID)
		s.broadcast(models.UpdateEvent{Type: models.UpdateConversations})
	}

	if !s.push.Healthy() {
		s.poller.Start(s.ctx())
	}
	return nil
}

// SendText runs the optimistic send pipeline for a text message: show it
// immediately with status sending, emit it on the push channel, confirm it
// over REST with bounded retries, and replace the optimistic entry with the
// server copy. On exhaustion the entry is rolled back and the original text
// is handed back for re-editing.
func (s *Syncer) SendText(ctx context.Context, conversationID, text string) (models.Message, error) {
	token := uuid.NewString()
	optimistic := models.Message{
		ID:             token,
		ConversationID: conversationID,
		SenderID:       s.selfID,
		ReceiverID:     s.receiverFor(conversationID),
		Text:           text,
		CreatedAt:      time.Now(),
		Status:         models.SendStatusSending,
		ClientToken:    token,
	}
	s.timeline.Ingest(conversationID, optimistic, timeline.SourceOptimistic)
	s.push.SendMessage(conversationID, optimistic)

	confirmed, err := s.confirm(ctx, store.SendRequest{
		ConversationID: conversationID,
		ReceiverID:     optimistic.ReceiverID,
		Text:           text,
		ClientToken:    token,
	})
	if err != nil {
		removed, _ := s.timeline.Rollback(conversationID, token)
		s.audit.Emit(ctx, "warn", "send_failure", err.Error(), conversationID)
		return models.Message{}, &SendError{Restored: removed.Text, Err: err}
	}

	s.timeline.Ingest(conversationID, confirmed, timeline.SourceConfirmed)
	return confirmed, nil
}

// SendAttachment uploads a file and sends it as a message. The entry passes
// through an uploading status first; an upload failure rolls it back exactly
// like a failed text send, with the notice naming the file.
func (s *Syncer) SendAttachment(ctx context.Context, conversationID, filename string, content io.Reader) (models.Message, error) {
	token := uuid.NewString()
	optimistic := models.Message{
		ID:             token,
		ConversationID: conversationID,
		SenderID:       s.selfID,
		ReceiverID:     s.receiverFor(conversationID),
		Attachment:     &models.Attachment{OriginalName: filename},
		CreatedAt:      time.Now(),
		Status:         models.SendStatusUploading,
		ClientToken:    token,
	}
	s.timeline.Ingest(conversationID, optimistic, timeline.SourceOptimistic)

	attachment, err := s.store.UploadAttachment(ctx, filename, content)
	if err != nil {
		s.timeline.Rollback(conversationID, token)
		s.audit.Emit(ctx, "warn", "upload_failure", err.Error(), conversationID)
		return models.Message{}, &SendError{Filename: filename, Err: err}
	}
	if s.directory.Active() != conversationID {
		s.timeline.Rollback(conversationID, token)
		return models.Message{}, ErrStale
	}

	confirmed, err := s.confirm(ctx, store.SendRequest{
		ConversationID: conversationID,
		ReceiverID:     optimistic.ReceiverID,
		Attachment:     &attachment,
		ClientToken:    token,
	})
	if err != nil {
		s.timeline.Rollback(conversationID, token)
		s.audit.Emit(ctx, "warn", "send_failure", err.Error(), conversationID)
		return models.Message{}, &SendError{Filename: filename, Err: err}
	}

	s.push.SendMessage(conversationID, confirmed)
	s.timeline.Ingest(conversationID, confirmed, timeline.SourceConfirmed)
	return confirmed, nil
}

// confirm persists a message over REST with bounded constant-backoff
// retries.
func (s *Syncer) confirm(ctx context.Context, req store.SendRequest) (models.Message, error) {
	retries := s.cfg.SendRetries
	if retries <= 0 {
		retries = 3
	}

	var confirmed models.Message
	operation := func() error {
		msg, err := s.store.SendMessage(ctx, req)
		if err != nil {
			return err
		}
		confirmed = msg
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(500*time.Millisecond), uint64(retries-1)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return models.Message{}, err
	}
	return confirmed, nil
}

func (s *Syncer) receiverFor(conversationID string) string {
	conv, ok := s.directory.Get(conversationID)
	if !ok {
		return ""
	}
	other, ok := conv.Other(s.selfID)
	if !ok {
		return ""
	}
	return other.ID
}

// DeleteMessage removes a message remotely, then locally.
func (s *Syncer) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	if err := s.store.DeleteMessage(ctx, messageID); err != nil {
		return fmt.Errorf("syncer: delete message: %w", err)
	}
	s.timeline.Remove(conversationID, messageID)
	return nil
}

// DeleteConversation removes a conversation optimistically: it disappears
// from the local list immediately; when the backend delete fails, the
// authoritative list is re-fetched.
func (s *Syncer) DeleteConversation(ctx context.Context, conversationID string) error {
	wasActive := s.directory.Active() == conversationID
	s.directory.Remove(conversationID)
	s.timeline.Drop(conversationID)
	if wasActive {
		s.push.LeaveRoom(conversationID)
		s.poller.Stop()
	}
	s.broadcast(models.UpdateEvent{Type: models.UpdateConversations})

	if err := s.store.DeleteConversation(ctx, conversationID); err != nil {
		if convs, lerr := s.store.ListConversations(ctx, store.ListFilter{}); lerr == nil {
			s.directory.Replace(convs)
			s.broadcast(models.UpdateEvent{Type: models.UpdateConversations})
		}
		return fmt.Errorf("syncer: delete conversation: %w", err)
	}
	return nil
}

// StartTyping signals the peer that the local user is typing.
func (s *Syncer) StartTyping(conversationID string) {
	s.push.Typing(conversationID)
}

// StopTyping clears the local typing signal.
func (s *Syncer) StopTyping(conversationID string) {
	s.push.StopTyping(conversationID)
}

// Conversations lists the directory with search and facet filtering.
func (s *Syncer) Conversations(search, facet string) []models.Conversation {
	return s.directory.List(search, facet)
}

// Messages returns the ordered timeline of a conversation.
func (s *Syncer) Messages(conversationID string) []models.Message {
	return s.timeline.Messages(conversationID)
}

// Healthy reports the push channel health signal.
func (s *Syncer) Healthy() bool {
	return s.push.Healthy()
}

// ConnectionState reports the push channel state for diagnostics.
func (s *Syncer) ConnectionState() socket.State {
	return s.push.State()
}

// Snapshot assembles the full reactive read model.
func (s *Syncer) Snapshot() models.StateSnapshot {
	active := s.directory.Active()
	var msgs []models.Message
	if active != "" {
		msgs = s.timeline.Messages(active)
	} else {
		msgs = []models.Message{}
	}
	return models.StateSnapshot{
		Conversations:  s.directory.List("", "all"),
		ActiveID:       active,
		ActiveMessages: msgs,
		Healthy:        s.push.Healthy(),
		Presence:       s.presence.OnlineSnapshot(),
		Typing:         s.presence.TypingSnapshot(),
		Delivery:       s.delivery.Snapshot(),
	}
}

func (s *Syncer) consumers() socket.Consumers {
	return socket.Consumers{
		Timeline: timelineSink{s},
		Delivery: deliverySink{s},
		Presence: presenceSink{s},
	}
}

// timelineSink routes push messages into the funnel.
type timelineSink struct{ s *Syncer }

func (ts timelineSink) IngestPush(conversationID string, msg models.Message) {
	ts.s.timeline.Ingest(conversationID, msg, timeline.SourcePush)
}

// deliverySink routes receipts to the delivery tracker.
type deliverySink struct{ s *Syncer }

func (ds deliverySink) RecordDelivered(messageID string, at time.Time) {
	if ds.s.delivery.RecordDelivered(messageID, at) {
		ds.s.broadcast(models.UpdateEvent{Type: models.UpdateDelivery})
	}
}

func (ds deliverySink) RecordRead(messageID string, at time.Time) {
	if ds.s.delivery.RecordRead(messageID, at) {
		ds.s.broadcast(models.UpdateEvent{Type: models.UpdateDelivery})
	}
}

// presenceSink routes presence events to the presence tracker, which
// notifies the UI feed on change.
type presenceSink struct{ s *Syncer }

func (ps presenceSink) SetOnline(userID string)  { ps.s.presence.SetOnline(userID) }
func (ps presenceSink) SetOffline(userID string) { ps.s.presence.SetOffline(userID) }
func (ps presenceSink) ReplaceOnline(ids []string) {
	ps.s.presence.ReplaceOnline(ids)
}
func (ps presenceSink) MarkTyping(conversationID, userID string) {
	ps.s.presence.MarkTyping(conversationID, userID)
}
func (ps presenceSink) StopTyping(conversationID, userID string) {
	ps.s.presence.StopTyping(conversationID, userID)
}
