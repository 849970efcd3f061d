package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/Sorbh/digital-photo-frame/internal/logging"
	"github.com/Sorbh/digital-photo-frame/internal/model"
	"github.com/Sorbh/digital-photo-frame/internal/session"
)

// StateTTL bounds how long an authorization attempt may take.
const StateTTL = 10 * time.Minute

// ErrInvalidState is returned when the callback state does not match the pending attempt.
var ErrInvalidState = errors.New("invalid or expired OAuth state")

// Credentials identify the Google account behind a browser session.
type Credentials struct {
	// UserID partitions cached responses. It is the account email, or the
	// session id when the profile is unknown.
	UserID      string
	AccessToken string
}

// Service ties the OAuth flow to the per-session token store.
type Service struct {
	flow     *OAuthFlow
	tokens   *TokenStore
	sessions session.Store
	now      func() time.Time
}

// NewService creates a Service.
func NewService(flow *OAuthFlow, tokens *TokenStore, sessions session.Store) *Service {
	return &Service{flow: flow, tokens: tokens, sessions: sessions, now: time.Now}
}

// Flow returns the underlying OAuthFlow.
func (s *Service) Flow() *OAuthFlow {
	return s.flow
}

// BeginAuth builds the consent URL and records its state on the session.
func (s *Service) BeginAuth(ctx context.Context, sessionID, redirectURI string) (AuthRequest, error) {
	req, err := s.flow.BuildAuthURL(redirectURI, nil)
	if err != nil {
		return AuthRequest{}, err
	}
	err = session.Update(ctx, s.sessions, sessionID, func(sess *session.Session) error {
		sess.OAuthState = req.State
		sess.OAuthRedirectURI = req.RedirectURI
		sess.OAuthStateExpiry = s.now().Add(StateTTL)
		return nil
	})
	if err != nil {
		return AuthRequest{}, fmt.Errorf("record oauth state: %w", err)
	}
	return req, nil
}

// CompleteAuth validates state, exchanges the code and stores the tokens.
// The pending state is consumed whether or not it matches.
func (s *Service) CompleteAuth(ctx context.Context, sessionID, code, state string) (*model.TokenSet, error) {
	var redirectURI string
	valid := false
	err := session.Update(ctx, s.sessions, sessionID, func(sess *session.Session) error {
		valid = sess.OAuthState != "" &&
			subtle.ConstantTimeCompare([]byte(sess.OAuthState), []byte(state)) == 1 &&
			s.now().Before(sess.OAuthStateExpiry)
		redirectURI = sess.OAuthRedirectURI
		sess.OAuthState = ""
		sess.OAuthRedirectURI = ""
		sess.OAuthStateExpiry = time.Time{}
		return nil
	})
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrInvalidState
	}
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, ErrInvalidState
	}

	tokens, err := s.flow.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Store(ctx, sessionID, tokens); err != nil {
		return nil, fmt.Errorf("store tokens: %w", err)
	}
	return tokens, nil
}

// Tokens returns a non-expired token set for the session, refreshing and
// persisting it when needed. When refresh fails the stored tokens are cleared
// and ErrNotAuthenticated is returned. A refresh that races a Disconnect is
// discarded rather than written back.
func (s *Service) Tokens(ctx context.Context, sessionID string) (*model.TokenSet, error) {
	current, err := s.tokens.Retrieve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrNotAuthenticated
	}

	fresh, refreshed, err := s.flow.RefreshIfNeeded(ctx, current)
	if err != nil {
		if errors.Is(err, ErrNotAuthenticated) {
			logging.FromContext(ctx).Info("clearing google photos tokens after failed refresh", "error", err)
			if clearErr := s.tokens.Clear(ctx, sessionID); clearErr != nil {
				logging.FromContext(ctx).Error("failed to clear tokens", "error", clearErr)
			}
		}
		return nil, err
	}
	if !refreshed {
		return fresh, nil
	}
	stored, err := s.tokens.Replace(ctx, sessionID, current, fresh)
	if err != nil {
		logging.FromContext(ctx).Warn("failed to persist refreshed tokens", "error", err)
		return fresh, nil
	}
	if stored {
		return fresh, nil
	}

	// The session was disconnected or refreshed elsewhere during the refresh.
	latest, err := s.tokens.Retrieve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		s.flow.Revoke(ctx, fresh.AccessToken)
		return nil, ErrNotAuthenticated
	}
	return latest, nil
}

// AccessToken returns credentials for upstream calls on behalf of the session.
func (s *Service) AccessToken(ctx context.Context, sessionID string) (Credentials, error) {
	tokens, err := s.Tokens(ctx, sessionID)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{UserID: UserIDFor(sessionID, tokens), AccessToken: tokens.AccessToken}, nil
}

// Status reports whether the session has usable tokens and the profile behind them.
func (s *Service) Status(ctx context.Context, sessionID string) (bool, *model.UserInfo, error) {
	tokens, err := s.Tokens(ctx, sessionID)
	if errors.Is(err, ErrNotAuthenticated) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	return true, tokens.Profile(), nil
}

// Disconnect revokes the session's access token and clears stored tokens.
// Revocation is best-effort. It returns the user id whose cached data must be
// dropped, or "" when the session had no tokens.
func (s *Service) Disconnect(ctx context.Context, sessionID string) (string, error) {
	tokens, err := s.tokens.Retrieve(ctx, sessionID)
	if err != nil {
		return "", err
	}
	userID := ""
	if tokens != nil {
		userID = UserIDFor(sessionID, tokens)
		s.flow.Revoke(ctx, tokens.AccessToken)
	}
	if err := s.tokens.Clear(ctx, sessionID); err != nil {
		return userID, fmt.Errorf("clear tokens: %w", err)
	}
	return userID, nil
}

// UserID returns the cache partition of the session's stored tokens without
// refreshing them, or "" when the session holds none.
func (s *Service) UserID(ctx context.Context, sessionID string) (string, error) {
	tokens, err := s.tokens.Retrieve(ctx, sessionID)
	if err != nil || tokens == nil {
		return "", err
	}
	return UserIDFor(sessionID, tokens), nil
}

// UserIDFor derives the cache partition for a session's tokens.
func UserIDFor(sessionID string, tokens *model.TokenSet) string {
	if tokens != nil && tokens.UserEmail != "" {
		return tokens.UserEmail
	}
	return sessionID
}
