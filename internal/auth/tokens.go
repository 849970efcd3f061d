package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sorbh/digital-photo-frame/internal/crypto"
	"github.com/Sorbh/digital-photo-frame/internal/logging"
	"github.com/Sorbh/digital-photo-frame/internal/model"
	"github.com/Sorbh/digital-photo-frame/internal/session"
)

// DefaultExpiryBuffer is how long before expiry an access token is treated as expired.
const DefaultExpiryBuffer = 5 * time.Minute

// ErrNotAuthenticated is returned when a session has no usable Google Photos tokens.
var ErrNotAuthenticated = errors.New("not authenticated with Google Photos")

var errTokensChanged = errors.New("stored tokens changed")

// TokenStore keeps the encrypted token set on the browser session record.
type TokenStore struct {
	sessions session.Store
	cipher   crypto.Cipher
}

// NewTokenStore creates a TokenStore.
func NewTokenStore(sessions session.Store, cipher crypto.Cipher) *TokenStore {
	return &TokenStore{sessions: sessions, cipher: cipher}
}

// Store encrypts tokens and attaches them to the session.
func (s *TokenStore) Store(ctx context.Context, sessionID string, tokens *model.TokenSet) error {
	if tokens == nil {
		return fmt.Errorf("store tokens: nil token set")
	}
	blob, err := s.seal(tokens)
	if err != nil {
		return err
	}
	return session.Update(ctx, s.sessions, sessionID, func(sess *session.Session) error {
		sess.GooglePhotosTokens = &blob
		sess.GooglePhotosAuth = true
		return nil
	})
}

// Replace stores next only while the session still holds prev. It reports
// false without writing when the tokens were cleared or replaced meanwhile.
func (s *TokenStore) Replace(ctx context.Context, sessionID string, prev, next *model.TokenSet) (bool, error) {
	if prev == nil || next == nil {
		return false, fmt.Errorf("replace tokens: nil token set")
	}
	blob, err := s.seal(next)
	if err != nil {
		return false, err
	}
	err = session.Update(ctx, s.sessions, sessionID, func(sess *session.Session) error {
		current := s.open(ctx, sess)
		if current == nil ||
			current.AccessToken != prev.AccessToken ||
			current.RefreshToken != prev.RefreshToken {
			return errTokensChanged
		}
		sess.GooglePhotosTokens = &blob
		return nil
	})
	if errors.Is(err, errTokensChanged) || errors.Is(err, session.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Retrieve returns the session's token set, or nil when the session has none.
// A blob that cannot be decrypted or decoded also yields nil.
func (s *TokenStore) Retrieve(ctx context.Context, sessionID string) (*model.TokenSet, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return s.open(ctx, sess), nil
}

func (s *TokenStore) seal(tokens *model.TokenSet) (crypto.EncryptedBlob, error) {
	payload, err := json.Marshal(tokens)
	if err != nil {
		return crypto.EncryptedBlob{}, fmt.Errorf("marshal tokens: %w", err)
	}
	blob, err := s.cipher.Encrypt(string(payload))
	if err != nil {
		return crypto.EncryptedBlob{}, fmt.Errorf("encrypt tokens: %w", err)
	}
	return blob, nil
}

// open decrypts the session's token blob, or returns nil when there is none
// or it cannot be read.
func (s *TokenStore) open(ctx context.Context, sess *session.Session) *model.TokenSet {
	if !sess.GooglePhotosAuth || sess.GooglePhotosTokens == nil {
		return nil
	}
	plaintext, err := s.cipher.Decrypt(*sess.GooglePhotosTokens)
	if err != nil {
		logging.FromContext(ctx).Warn("discarding unreadable token blob", "error", err)
		return nil
	}
	var tokens model.TokenSet
	if err := json.Unmarshal([]byte(plaintext), &tokens); err != nil {
		logging.FromContext(ctx).Warn("discarding malformed token payload", "error", err)
		return nil
	}
	return &tokens
}

// Clear removes the token blob and flag. Clearing a missing session is a no-op.
func (s *TokenStore) Clear(ctx context.Context, sessionID string) error {
	err := session.Update(ctx, s.sessions, sessionID, func(sess *session.Session) error {
		sess.GooglePhotosTokens = nil
		sess.GooglePhotosAuth = false
		return nil
	})
	if errors.Is(err, session.ErrNotFound) {
		return nil
	}
	return err
}

// IsExpired reports whether tokens need a refresh, using the current time.
func IsExpired(tokens *model.TokenSet, buffer time.Duration) bool {
	return ExpiredAt(tokens, buffer, time.Now())
}

// ExpiredAt reports whether tokens are expired at now: nil tokens, a missing
// expiry, or now at or past expiry minus buffer.
func ExpiredAt(tokens *model.TokenSet, buffer time.Duration, now time.Time) bool {
	if tokens == nil || tokens.Expiry == 0 {
		return true
	}
	return now.UnixMilli() >= tokens.Expiry-buffer.Milliseconds()
}
