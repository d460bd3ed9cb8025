package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"message-sync/internal/models"
	"message-sync/internal/session"
)

var (
	// ErrUnauthorized signals a rejected bearer credential.
	ErrUnauthorized = errors.New("store: unauthorized")
	// ErrNotFound signals a missing conversation or message.
	ErrNotFound = errors.New("store: not found")
)

// ListFilter narrows the conversation listing.
type ListFilter struct {
	Search string
	Facet  string
}

// SendRequest is the payload for persisting a message.
type SendRequest struct {
	ConversationID string             `json:"conversation_id"`
	ReceiverID     string             `json:"receiver_id"`
	Text           string             `json:"text,omitempty"`
	Attachment     *models.Attachment `json:"attachment,omitempty"`
	ClientToken    string             `json:"client_token"`
}

// Store is the REST message store consumed by the sync core.
type Store interface {
	ListConversations(ctx context.Context, filter ListFilter) ([]models.Conversation, error)
	ListMessages(ctx context.Context, conversationID string, after time.Time) ([]models.Message, error)
	SendMessage(ctx context.Context, req SendRequest) (models.Message, error)
	MarkRead(ctx context.Context, conversationID string) error
	DeleteMessage(ctx context.Context, messageID string) error
	DeleteConversation(ctx context.Context, conversationID string) error
	UploadAttachment(ctx context.Context, filename string, content io.Reader) (models.Attachment, error)
}

// Client is the HTTP implementation of Store.
type Client struct {
	base    string
	http    *http.Client
	session session.Provider
	logger  zerolog.Logger
}

// NewClient builds a store client for the given backend base URL.
func NewClient(baseURL string, sess session.Provider, logger zerolog.Logger) *Client {
	return &Client{
		base:    baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		session: sess,
		logger:  logger.With().Str("component", "store").Logger(),
	}
}

// ListConversations fetches the conversation list. Retried once on failure
// before the error is surfaced.
func (c *Client) ListConversations(ctx context.Context, filter ListFilter) ([]models.Conversation, error) {
	q := url.Values{}
	if filter.Search != "" {
		q.Set("search", filter.Search)
	}
	if filter.Facet != "" && filter.Facet != "all" {
		q.Set("type", filter.Facet)
	}
	var resp struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	if err := c.getWithRetry(ctx, "/conversations", q, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// ListMessages fetches messages for a conversation created after the given
// timestamp (all messages when zero). Retried once on failure.
func (c *Client) ListMessages(ctx context.Context, conversationID string, after time.Time) ([]models.Message, error) {
	q := url.Values{}
	if !after.IsZero() {
		q.Set("after", strconv.FormatInt(after.UnixMilli(), 10))
	}
	var resp struct {
		Messages []models.WireMessage `json:"messages"`
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.getWithRetry(ctx, path, q, &resp); err != nil {
		return nil, err
	}

	out := make([]models.Message, 0, len(resp.Messages))
	for _, w := range resp.Messages {
		msg, ok := w.Canonical()
		if !ok {
			c.logger.Warn().Str("conversation_id", conversationID).Msg("message without usable id skipped")
			continue
		}
		if msg.ConversationID == "" {
			msg.ConversationID = conversationID
		}
		out = append(out, msg)
	}
	return out, nil
}

// SendMessage persists a message. This confirm path is the source of truth
// for delivery; the push channel send is advisory only.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (models.Message, error) {
	var wire models.WireMessage
	if err := c.do(ctx, http.MethodPost, "/messages", nil, req, &wire); err != nil {
		return models.Message{}, err
	}
	msg, ok := wire.Canonical()
	if !ok {
		return models.Message{}, fmt.Errorf("store: send response without message id")
	}
	if msg.ConversationID == "" {
		msg.ConversationID = req.ConversationID
	}
	if msg.ClientToken == "" {
		msg.ClientToken = req.ClientToken
	}
	return msg, nil
}

// MarkRead marks all messages in a conversation as read by the caller.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	path := "/conversations/" + url.PathEscape(conversationID) + "/read"
	return c.do(ctx, http.MethodPost, path, nil, nil, nil)
}

// DeleteMessage removes a message.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/messages/"+url.PathEscape(messageID), nil, nil, nil)
}

// DeleteConversation removes a conversation.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodDelete, "/conversations/"+url.PathEscape(conversationID), nil, nil, nil)
}

// UploadAttachment streams a file to the backend and returns its descriptor.
func (c *Client) UploadAttachment(ctx context.Context, filename string, content io.Reader) (models.Attachment, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("store: build upload: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return models.Attachment{}, fmt.Errorf("store: read upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return models.Attachment{}, fmt.Errorf("store: finish upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/attachments", &body)
	if err != nil {
		return models.Attachment{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if err := c.authorize(req); err != nil {
		return models.Attachment{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return models.Attachment{}, err
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return models.Attachment{}, err
	}

	var att models.Attachment
	if err := json.NewDecoder(resp.Body).Decode(&att); err != nil {
		return models.Attachment{}, fmt.Errorf("store: decode upload response: %w", err)
	}
	if att.OriginalName == "" {
		att.OriginalName = filename
	}
	return att, nil
}

// getWithRetry performs a GET and retries it once. Read-path failures get a
// single automatic retry before they reach the caller.
func (c *Client) getWithRetry(ctx context.Context, path string, q url.Values, out any) error {
	err := c.do(ctx, http.MethodGet, path, q, nil, out)
	if err == nil || errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotFound) || ctx.Err() != nil {
		return err
	}
	c.logger.Warn().Err(err).Str("path", path).Msg("read failed, retrying once")
	return c.do(ctx, http.MethodGet, path, q, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, in, out any) error {
	endpoint := c.base + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("store: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.authorize(req); err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("store: decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) error {
	creds, err := c.session.Credentials(req.Context())
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+creds.Token)
	return nil
}

func statusError(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("store: unexpected status %d", resp.StatusCode)
	}
}
