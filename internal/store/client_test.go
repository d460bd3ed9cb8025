package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"message-sync/internal/models"
	"message-sync/internal/session"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	sess := session.NewStatic("test-token", "user-1")
	return NewClient(srv.URL, sess, zerolog.Nop()), srv
}

func TestListConversationsSendsBearerToken(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "/conversations", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"conversations": []models.Conversation{{ID: "c1"}},
		})
	})

	convs, err := client.ListConversations(context.Background(), ListFilter{})
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "c1", convs[0].ID)
}

func TestListConversationsFilterParams(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "alice", r.URL.Query().Get("search"))
		assert.Equal(t, "project", r.URL.Query().Get("type"))
		json.NewEncoder(w).Encode(map[string]any{"conversations": []models.Conversation{}})
	})

	_, err := client.ListConversations(context.Background(), ListFilter{Search: "alice", Facet: "project"})
	require.NoError(t, err)
}

func TestListMessagesNormalizesWireShapes(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"messages": [
			{"_id": {"$oid": "m1"}, "sender": {"_id": "u1"}, "text": "a", "created_at": "2026-01-02T10:00:00Z"},
			{"id": "m2", "sender": "u2", "text": "b", "created_at": "2026-01-02T10:01:00Z"},
			{"text": "no id, dropped"}
		]}`))
	})

	msgs, err := client.ListMessages(context.Background(), "c1", time.Time{})
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "u1", msgs[0].SenderID)
	assert.Equal(t, "c1", msgs[0].ConversationID, "conversation id backfilled from the request")
	assert.Equal(t, "m2", msgs[1].ID)
	assert.Equal(t, models.SendStatusSent, msgs[1].Status)
}

func TestListMessagesAfterCursor(t *testing.T) {
	after := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1767348000000", r.URL.Query().Get("after"))
		w.Write([]byte(`{"messages": []}`))
	})

	_, err := client.ListMessages(context.Background(), "c1", after)
	require.NoError(t, err)
}

func TestReadPathRetriesOnce(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"conversations": []models.Conversation{{ID: "c1"}}})
	})

	convs, err := client.ListConversations(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Len(t, convs, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestReadPathDoesNotRetryUnauthorized(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.ListConversations(context.Background(), ListFilter{})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSendMessage(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/messages", r.URL.Path)

		var req SendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tok-1", req.ClientToken)
		assert.Equal(t, "hello", req.Text)

		w.Write([]byte(`{"_id": "srv-1", "sender": "u1", "text": "hello", "created_at": "2026-01-02T10:00:00Z"}`))
	})

	msg, err := client.SendMessage(context.Background(), SendRequest{
		ConversationID: "c1",
		Text:           "hello",
		ClientToken:    "tok-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "srv-1", msg.ID)
	assert.Equal(t, "c1", msg.ConversationID)
	assert.Equal(t, "tok-1", msg.ClientToken, "client token backfilled from the request")
}

func TestSendMessageRejectsResponseWithoutID(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text": "hello"}`))
	})

	_, err := client.SendMessage(context.Background(), SendRequest{ConversationID: "c1", Text: "hello"})
	assert.Error(t, err)
}

func TestUploadAttachment(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/attachments", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "plan.pdf", header.Filename)

		json.NewEncoder(w).Encode(models.Attachment{
			Filename: "stored-plan.pdf",
			MimeType: "application/pdf",
			Size:     4,
			URL:      "/files/stored-plan.pdf",
		})
	})

	att, err := client.UploadAttachment(context.Background(), "plan.pdf", strings.NewReader("data"))
	require.NoError(t, err)
	assert.Equal(t, "stored-plan.pdf", att.Filename)
	assert.Equal(t, "plan.pdf", att.OriginalName, "original name backfilled when the backend omits it")
}

func TestDeleteEndpoints(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		switch r.URL.Path {
		case "/messages/m1", "/conversations/c1":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	require.NoError(t, client.DeleteMessage(context.Background(), "m1"))
	require.NoError(t, client.DeleteConversation(context.Background(), "c1"))
	assert.ErrorIs(t, client.DeleteMessage(context.Background(), "other"), ErrNotFound)
}

func TestMarkRead(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/conversations/c1/read", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.MarkRead(context.Background(), "c1"))
}

func TestMissingCredentialsSurface(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request must not reach the backend without credentials")
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, session.NewStatic("", ""), zerolog.Nop())
	_, err := client.ListConversations(context.Background(), ListFilter{})
	assert.ErrorIs(t, err, session.ErrNoCredentials)
}
