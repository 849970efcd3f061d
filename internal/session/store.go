// Package session persists browser sessions for the admin UI. A session record
// carries the login flag, the pending OAuth state and the encrypted Google
// Photos token blob. Cache and picker state are never stored here.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sorbh/digital-photo-frame/internal/crypto"
)

// DefaultMaxAge is how long an admin login stays valid.
const DefaultMaxAge = 24 * time.Hour

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// Session is one browser session.
type Session struct {
	ID                 string                `json:"id" dynamodbav:"session_id"`
	Authenticated      bool                  `json:"authenticated" dynamodbav:"authenticated"`
	LoginTime          time.Time             `json:"login_time" dynamodbav:"login_time"`
	GooglePhotosTokens *crypto.EncryptedBlob `json:"google_photos_tokens,omitempty" dynamodbav:"google_photos_tokens,omitempty"`
	GooglePhotosAuth   bool                  `json:"google_photos_auth" dynamodbav:"google_photos_auth"`
	OAuthState         string                `json:"oauth_state,omitempty" dynamodbav:"oauth_state,omitempty"`
	OAuthRedirectURI   string                `json:"oauth_redirect_uri,omitempty" dynamodbav:"oauth_redirect_uri,omitempty"`
	OAuthStateExpiry   time.Time             `json:"oauth_state_expiry" dynamodbav:"oauth_state_expiry"`
	UpdatedAt          time.Time             `json:"updated_at" dynamodbav:"updated_at"`
	ExpiresAt          int64                 `json:"expires_at" dynamodbav:"expires_at"` // TTL (Unix timestamp)
}

// New returns an empty session that expires maxAge after now.
func New(id string, now time.Time, maxAge time.Duration) *Session {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Session{
		ID:        id,
		UpdatedAt: now,
		ExpiresAt: now.Add(maxAge).Unix(),
	}
}

// Expired reports whether the session is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt != 0 && now.Unix() >= s.ExpiresAt
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.GooglePhotosTokens != nil {
		blob := crypto.EncryptedBlob{
			IV:         append([]byte(nil), s.GooglePhotosTokens.IV...),
			Ciphertext: append([]byte(nil), s.GooglePhotosTokens.Ciphertext...),
		}
		c.GooglePhotosTokens = &blob
	}
	return &c
}

// Store defines the persistence interface for browser sessions.
type Store interface {
	// Get returns the session or ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Save creates or replaces the session.
	Save(ctx context.Context, s *Session) error

	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error
}

// Updater is implemented by stores that can apply a read-modify-write to one
// session without interleaving with other writers.
type Updater interface {
	Update(ctx context.Context, id string, fn func(*Session) error) error
}

// Update loads a session, applies fn and saves the result. An error from fn
// aborts the update and is returned unchanged. Stores implementing Updater
// apply fn atomically; for the others a concurrent write may be lost.
func Update(ctx context.Context, store Store, id string, fn func(*Session) error) error {
	if u, ok := store.(Updater); ok {
		return u.Update(ctx, id, fn)
	}
	s, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(s); err != nil {
		return err
	}
	s.UpdatedAt = time.Now()
	if err := store.Save(ctx, s); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
