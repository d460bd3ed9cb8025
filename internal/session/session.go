package session

import (
	"context"
	"errors"
	"sync"
)

// ErrNoCredentials is returned while the host application has not signed in
// yet. The connection manager refuses to dial until credentials exist.
var ErrNoCredentials = errors.New("session: no credentials available")

// Credentials is what the authentication collaborator hands us: a bearer
// token for the backend plus the current user's canonical id.
type Credentials struct {
	Token  string
	UserID string
}

// Provider exposes the current session to the sync core. The host
// application owns sign-in and token refresh.
type Provider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// Static is a Provider backed by a fixed, swappable credential pair.
type Static struct {
	mu    sync.RWMutex
	creds Credentials
}

// NewStatic builds a provider with the given credentials.
func NewStatic(token, userID string) *Static {
	return &Static{creds: Credentials{Token: token, UserID: userID}}
}

// Credentials implements Provider.
func (s *Static) Credentials(ctx context.Context) (Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds.Token == "" || s.creds.UserID == "" {
		return Credentials{}, ErrNoCredentials
	}
	return s.creds, nil
}

// Update swaps the credentials, e.g. after a token refresh.
func (s *Static) Update(token, userID string) {
	s.mu.Lock()
	s.creds = Credentials{Token: token, UserID: userID}
	s.mu.Unlock()
}
