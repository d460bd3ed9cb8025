package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"message-sync/internal/models"
	"message-sync/internal/session"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type timelineRecorder struct {
	mu   sync.Mutex
	msgs []models.Message
}

func (r *timelineRecorder) IngestPush(conversationID string, msg models.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *timelineRecorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.ID)
	}
	return out
}

type deliveryRecorder struct {
	mu        sync.Mutex
	delivered []string
	read      []string
}

func (r *deliveryRecorder) RecordDelivered(messageID string, at time.Time) {
	r.mu.Lock()
	r.delivered = append(r.delivered, messageID)
	r.mu.Unlock()
}

func (r *deliveryRecorder) RecordRead(messageID string, at time.Time) {
	r.mu.Lock()
	r.read = append(r.read, messageID)
	r.mu.Unlock()
}

type presenceRecorder struct {
	mu      sync.Mutex
	online  []string
	offline []string
	typing  []string
	stopped []string
	replace [][]string
}

func (r *presenceRecorder) SetOnline(userID string) {
	r.mu.Lock()
	r.online = append(r.online, userID)
	r.mu.Unlock()
}

func (r *presenceRecorder) SetOffline(userID string) {
	r.mu.Lock()
	r.offline = append(r.offline, userID)
	r.mu.Unlock()
}

func (r *presenceRecorder) ReplaceOnline(userIDs []string) {
	r.mu.Lock()
	r.replace = append(r.replace, userIDs)
	r.mu.Unlock()
}

func (r *presenceRecorder) MarkTyping(conversationID, userID string) {
	r.mu.Lock()
	r.typing = append(r.typing, conversationID+"/"+userID)
	r.mu.Unlock()
}

func (r *presenceRecorder) StopTyping(conversationID, userID string) {
	r.mu.Lock()
	r.stopped = append(r.stopped, conversationID+"/"+userID)
	r.mu.Unlock()
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testOptions(url string, consumers Consumers) Options {
	return Options{
		URL:               url,
		Session:           session.NewStatic("test-token", "user-1"),
		Consumers:         consumers,
		ReconnectAttempts: 2,
		ReconnectDelay:    10 * time.Millisecond,
		Logger:            zerolog.Nop(),
	}
}

func TestConnectDispatchesInboundEvents(t *testing.T) {
	tlRec := &timelineRecorder{}
	dlRec := &deliveryRecorder{}
	prRec := &presenceRecorder{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		events := []string{
			`{"type": "new-message", "conversation_id": "c1", "message": {"_id": {"$oid": "m1"}, "sender": "peer", "text": "hi", "created_at": "2026-01-02T10:00:00Z"}}`,
			`{"type": "message-delivered", "message_id": "m1"}`,
			`{"type": "message-read", "message_id": {"_id": "m1"}}`,
			`{"type": "user-typing", "conversation_id": "c1", "user_id": "peer"}`,
			`{"type": "user-stopped-typing", "conversation_id": "c1", "user_id": "peer"}`,
			`{"type": "online-users", "users": ["u1", {"_id": "u2"}]}`,
			`{"type": "user-status-updated", "user_id": "u3", "status": "online"}`,
			`{"type": "user-status-updated", "user_id": "u3", "status": "offline"}`,
		}
		for _, e := range events {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(e)))
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	m := NewManager(testOptions(wsURL(srv), Consumers{Timeline: tlRec, Delivery: dlRec, Presence: prRec}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Connect(ctx)
	defer m.Close()

	require.Eventually(t, func() bool {
		prRec.mu.Lock()
		defer prRec.mu.Unlock()
		return len(prRec.offline) == 1
	}, 2*time.Second, 10*time.Millisecond, "all events dispatched")

	assert.Equal(t, []string{"m1"}, tlRec.ids())

	dlRec.mu.Lock()
	assert.Equal(t, []string{"m1"}, dlRec.delivered)
	assert.Equal(t, []string{"m1"}, dlRec.read)
	dlRec.mu.Unlock()

	prRec.mu.Lock()
	assert.Equal(t, []string{"c1/peer"}, prRec.typing)
	assert.Equal(t, []string{"c1/peer"}, prRec.stopped)
	require.Len(t, prRec.replace, 1)
	assert.Equal(t, []string{"u1", "u2"}, prRec.replace[0])
	assert.Equal(t, []string{"u3"}, prRec.online)
	assert.Equal(t, []string{"u3"}, prRec.offline)
	prRec.mu.Unlock()

	assert.Equal(t, StateConnected, m.State())
	assert.True(t, m.Healthy())
}

func TestHandshakeAuthFailureIsFatal(t *testing.T) {
	var dials sync.WaitGroup
	dials.Add(1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	var authErr error
	opts := testOptions(wsURL(srv), Consumers{})
	opts.OnAuthFailure = func(err error) {
		authErr = err
		dials.Done()
	}

	m := NewManager(opts)
	m.Connect(context.Background())

	dials.Wait()
	assert.ErrorIs(t, authErr, ErrAuthFailed)
	assert.Equal(t, StateDegraded, m.State())
	assert.False(t, m.Healthy())
}

func TestMissingCredentialsTreatedAsAuthFailure(t *testing.T) {
	done := make(chan error, 1)
	opts := testOptions("ws://127.0.0.1:1/socket", Consumers{})
	opts.Session = session.NewStatic("", "")
	opts.OnAuthFailure = func(err error) { done <- err }

	m := NewManager(opts)
	m.Connect(context.Background())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrAuthFailed)
	case <-time.After(2 * time.Second):
		t.Fatal("auth failure callback not invoked")
	}
}

func TestReconnectBudgetExhaustionDegrades(t *testing.T) {
	// A closed listener: every dial fails with a transport error.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := wsURL(srv)
	srv.Close()

	m := NewManager(testOptions(url, Consumers{}))
	m.Connect(context.Background())

	require.Eventually(t, func() bool {
		return m.State() == StateDegraded
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, m.Healthy())
}

func TestForceReconnectAfterDegraded(t *testing.T) {
	var mu sync.Mutex
	accept := false

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ok := accept
		mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	m := NewManager(testOptions(wsURL(srv), Consumers{}))
	ctx := context.Background()
	m.Connect(ctx)

	require.Eventually(t, func() bool {
		return m.State() == StateDegraded
	}, 2*time.Second, 10*time.Millisecond)

	// While degraded, only an explicit trigger dials again.
	mu.Lock()
	accept = true
	mu.Unlock()
	m.ForceReconnect(ctx)
	defer m.Close()

	require.Eventually(t, func() bool {
		return m.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, m.Healthy())
}

func TestRoomRejoinedAfterReconnect(t *testing.T) {
	joins := make(chan string, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var event struct {
				Type           string `json:"type"`
				ConversationID string `json:"conversation_id"`
			}
			if err := conn.ReadJSON(&event); err != nil {
				return
			}
			if event.Type == models.EventJoinConversation {
				joins <- event.ConversationID
			}
		}
	}))
	defer srv.Close()

	m := NewManager(testOptions(wsURL(srv), Consumers{}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Connect(ctx)
	defer m.Close()

	require.Eventually(t, func() bool { return m.State() == StateConnected }, 2*time.Second, 10*time.Millisecond)
	m.JoinRoom("c1")

	select {
	case room := <-joins:
		assert.Equal(t, "c1", room)
	case <-time.After(2 * time.Second):
		t.Fatal("join event not received")
	}

	// Drop the connection; the loop reconnects and resubscribes on its own.
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	require.NotNil(t, conn)
	conn.Close()

	select {
	case room := <-joins:
		assert.Equal(t, "c1", room)
	case <-time.After(2 * time.Second):
		t.Fatal("room not rejoined after reconnect")
	}
}

func TestOutboundDroppedWhileDisconnected(t *testing.T) {
	m := NewManager(testOptions("ws://127.0.0.1:1/socket", Consumers{}))

	// Nothing to assert beyond not panicking and not blocking.
	m.SendMessage("c1", models.Message{ID: "m1"})
	m.Typing("c1")
	m.StopTyping("c1")
	assert.Equal(t, StateDisconnected, m.State())
}

func TestDispatchIgnoresUnusableMessage(t *testing.T) {
	tlRec := &timelineRecorder{}
	m := NewManager(testOptions("ws://unused", Consumers{Timeline: tlRec}))

	var wire models.WireMessage
	require.NoError(t, json.Unmarshal([]byte(`{"text": "no id"}`), &wire))
	m.dispatch(models.PushEvent{Type: models.EventNewMessage, ConversationID: "c1", Message: &wire})

	assert.Empty(t, tlRec.ids())
}
