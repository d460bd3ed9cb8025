package socket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"message-sync/internal/identity"
	"message-sync/internal/models"
	"message-sync/internal/observability"
	"message-sync/internal/session"
)

// State of the push channel. Degraded means the bounded reconnect budget is
// exhausted and only a forced retry (e.g. a conversation reselect) will dial
// again; polling carries the traffic meanwhile.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDegraded     State = "degraded"
)

// ErrAuthFailed is returned when the backend rejects the handshake
// credential. Fatal for this connection; no automatic retry.
var ErrAuthFailed = errors.New("socket: handshake rejected")

// TimelineSink receives inbound messages from the push channel.
type TimelineSink interface {
	IngestPush(conversationID string, msg models.Message)
}

// DeliverySink receives delivery receipts.
type DeliverySink interface {
	RecordDelivered(messageID string, at time.Time)
	RecordRead(messageID string, at time.Time)
}

// PresenceSink receives presence and typing events.
type PresenceSink interface {
	SetOnline(userID string)
	SetOffline(userID string)
	ReplaceOnline(userIDs []string)
	MarkTyping(conversationID, userID string)
	StopTyping(conversationID, userID string)
}

// Consumers are the three owning components inbound events are routed to.
// Every inbound event type has exactly one consumer.
type Consumers struct {
	Timeline TimelineSink
	Delivery DeliverySink
	Presence PresenceSink
}

// Options configures a Manager.
type Options struct {
	URL               string
	Session           session.Provider
	Consumers         Consumers
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	OnHealth          func(healthy bool)
	OnAuthFailure     func(err error)
	Logger            zerolog.Logger
}

// Manager owns the push channel lifecycle: dial, authenticate, subscribe to
// the active conversation room, reconnect with bounded backoff, and route
// inbound events. All outbound emits are fire-and-forget; the REST confirm
// path is the only source of truth for persistence.
type Manager struct {
	opts   Options
	logger zerolog.Logger

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	room    string
	running bool
	healthy bool
	cancel  context.CancelFunc

	writeMu sync.Mutex
}

// NewManager builds a Manager. Connect must be called to start it.
func NewManager(opts Options) *Manager {
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = 3
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 2 * time.Second
	}
	return &Manager{
		opts:   opts,
		state:  StateDisconnected,
		logger: opts.Logger.With().Str("component", "socket").Logger(),
	}
}

// BindConsumers sets the inbound event consumers. Must be called before
// Connect.
func (m *Manager) BindConsumers(c Consumers) {
	m.mu.Lock()
	m.opts.Consumers = c
	m.mu.Unlock()
}

// Connect starts the connection loop. Idempotent: a second call while the
// loop is running is a no-op.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	go m.run(runCtx)
}

// ForceReconnect dials again after the manager settled into degraded mode.
// No-op while the loop is still running.
func (m *Manager) ForceReconnect(ctx context.Context) {
	m.mu.Lock()
	degraded := m.state == StateDegraded && !m.running
	m.mu.Unlock()
	if degraded {
		m.Connect(ctx)
	}
}

// Close stops the connection loop and closes the transport.
func (m *Manager) Close() {
	m.mu.Lock()
	cancel := m.cancel
	conn := m.conn
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Healthy reports the binary health signal gating the polling fallback.
func (m *Manager) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

func (m *Manager) run(ctx context.Context) {
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	for {
		conn, err := m.dial(ctx)
		if err != nil {
			if errors.Is(err, ErrAuthFailed) {
				m.logger.Error().Msg("handshake authentication failed, reconnect required")
				m.setState(StateDegraded)
				if m.opts.OnAuthFailure != nil {
					m.opts.OnAuthFailure(err)
				}
				return
			}
			if ctx.Err() != nil {
				m.setState(StateDisconnected)
				return
			}
			m.logger.Warn().Err(err).Msg("reconnect budget exhausted, degrading to polling")
			m.setState(StateDegraded)
			return
		}

		m.mu.Lock()
		m.conn = conn
		room := m.room
		m.mu.Unlock()

		m.setState(StateConnected)
		m.setHealth(true)

		// Room membership does not survive a reconnect.
		if room != "" {
			m.send(outboundEvent{Type: models.EventJoinConversation, ConversationID: room})
		}

		m.readLoop(ctx, conn)

		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
		m.setState(StateDisconnected)
		m.setHealth(false)

		if ctx.Err() != nil {
			return
		}
	}
}

// dial attempts the authenticated handshake with a bounded constant-backoff
// retry. Returns ErrAuthFailed without retrying when the backend rejects the
// credential.
func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	m.setState(StateConnecting)

	var conn *websocket.Conn
	operation := func() error {
		observability.IncReconnect()

		creds, err := m.opts.Session.Credentials(ctx)
		if err != nil {
			return backoff.Permanent(ErrAuthFailed)
		}

		spanCtx, span := otel.Tracer("message-sync/socket").Start(ctx, "socket.handshake")
		defer span.End()

		header := http.Header{}
		header.Set("Authorization", "Bearer "+creds.Token)
		c, resp, err := websocket.DefaultDialer.DialContext(spanCtx, m.opts.URL, header)
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return backoff.Permanent(ErrAuthFailed)
			}
			m.logger.Warn().Err(err).Msg("handshake failed")
			return err
		}
		conn = c
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(m.opts.ReconnectDelay),
			uint64(m.opts.ReconnectAttempts-1),
		),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return conn, nil
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var event models.PushEvent
		if err := conn.ReadJSON(&event); err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.logger.Warn().Err(err).Msg("push channel read failed")
			}
			_ = conn.Close()
			return
		}
		m.dispatch(event)
	}
}

// dispatch routes each inbound event to its single owning consumer. No
// inbound event is handled anywhere else.
func (m *Manager) dispatch(event models.PushEvent) {
	c := m.opts.Consumers
	at := event.At
	if at.IsZero() {
		at = time.Now()
	}

	switch event.Type {
	case models.EventNewMessage:
		if c.Timeline == nil || event.Message == nil {
			return
		}
		msg, ok := event.Message.Canonical()
		if !ok {
			m.logger.Warn().Str("conversation_id", event.ConversationID).Msg("push message without usable id dropped")
			return
		}
		convID := event.ConversationID
		if convID == "" {
			convID = msg.ConversationID
		}
		c.Timeline.IngestPush(convID, msg)

	case models.EventMessageDelivered:
		if c.Delivery == nil {
			return
		}
		if id, ok := identity.NormalizeRaw(event.MessageID); ok {
			c.Delivery.RecordDelivered(id, at)
		}

	case models.EventMessageRead:
		if c.Delivery == nil {
			return
		}
		if id, ok := identity.NormalizeRaw(event.MessageID); ok {
			c.Delivery.RecordRead(id, at)
		}

	case models.EventUserTyping:
		if c.Presence == nil {
			return
		}
		if id, ok := identity.NormalizeRaw(event.UserID); ok {
			c.Presence.MarkTyping(event.ConversationID, id)
		}

	case models.EventUserStoppedTyping:
		if c.Presence == nil {
			return
		}
		if id, ok := identity.NormalizeRaw(event.UserID); ok {
			c.Presence.StopTyping(event.ConversationID, id)
		}

	case models.EventOnlineUsers:
		if c.Presence == nil {
			return
		}
		ids := make([]string, 0, len(event.Users))
		for _, raw := range event.Users {
			if id, ok := identity.NormalizeRaw(raw); ok {
				ids = append(ids, id)
			}
		}
		c.Presence.ReplaceOnline(ids)

	case models.EventUserStatusUpdated:
		if c.Presence == nil {
			return
		}
		if id, ok := identity.NormalizeRaw(event.UserID); ok {
			if event.Status == "online" {
				c.Presence.SetOnline(id)
			} else {
				c.Presence.SetOffline(id)
			}
		}

	default:
		m.logger.Debug().Str("type", event.Type).Msg("unhandled push event")
	}
}

// JoinRoom subscribes to a conversation room and remembers it for
// resubscription after a reconnect.
func (m *Manager) JoinRoom(conversationID string) {
	m.mu.Lock()
	m.room = conversationID
	m.mu.Unlock()
	m.send(outboundEvent{Type: models.EventJoinConversation, ConversationID: conversationID})
}

// LeaveRoom unsubscribes from a conversation room.
func (m *Manager) LeaveRoom(conversationID string) {
	m.mu.Lock()
	if m.room == conversationID {
		m.room = ""
	}
	m.mu.Unlock()
	m.send(outboundEvent{Type: models.EventLeaveConversation, ConversationID: conversationID})
}

// SendMessage emits a message over the push channel so the peer sees it
// immediately. Advisory only; persistence goes through the REST confirm.
func (m *Manager) SendMessage(conversationID string, msg models.Message) {
	m.send(outboundEvent{Type: models.EventSendMessage, ConversationID: conversationID, Message: &msg})
}

// Typing signals that the local user is typing.
func (m *Manager) Typing(conversationID string) {
	m.send(outboundEvent{Type: models.EventTyping, ConversationID: conversationID})
}

// StopTyping clears the local typing signal.
func (m *Manager) StopTyping(conversationID string) {
	m.send(outboundEvent{Type: models.EventStopTyping, ConversationID: conversationID})
}

type outboundEvent struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Message        *models.Message `json:"message,omitempty"`
}

func (m *Manager) send(event outboundEvent) {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		m.logger.Debug().Str("type", event.Type).Msg("push channel down, outbound event dropped")
		return
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteJSON(event); err != nil {
		m.logger.Warn().Err(err).Str("type", event.Type).Msg("outbound event write failed")
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) setHealth(healthy bool) {
	m.mu.Lock()
	changed := m.healthy != healthy
	m.healthy = healthy
	m.mu.Unlock()
	if !changed {
		return
	}
	observability.SetUpstreamHealthy(healthy)
	if m.opts.OnHealth != nil {
		m.opts.OnHealth(healthy)
	}
}
