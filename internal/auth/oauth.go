package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/Sorbh/digital-photo-frame/internal/logging"
	"github.com/Sorbh/digital-photo-frame/internal/model"
)

var (
	// ErrConfiguration is returned when the OAuth client id or secret is missing.
	ErrConfiguration = errors.New("google OAuth client is not configured")

	// ErrExchangeFailed is returned when the authorization code cannot be exchanged.
	ErrExchangeFailed = errors.New("authorization code exchange failed")
)

// DefaultScopes grants read-only picker and library access plus the profile.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/photospicker.mediaitems.readonly",
	"https://www.googleapis.com/auth/photoslibrary.readonly",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// DefaultRevokeURL is Google's token revocation endpoint.
const DefaultRevokeURL = "https://oauth2.googleapis.com/revoke"

// DefaultTokenLifetime is assumed for access tokens issued without expires_in.
const DefaultTokenLifetime = time.Hour

// AuthRequest is a prepared authorization redirect.
type AuthRequest struct {
	URL         string
	State       string
	RedirectURI string
}

// FlowOptions tunes the endpoints and transport of an OAuthFlow.
type FlowOptions struct {
	// HTTPClient is used for every provider call. It should carry a timeout.
	HTTPClient *http.Client

	RevokeURL string

	// UserinfoEndpoint overrides the base URL of the userinfo API.
	UserinfoEndpoint string

	ExpiryBuffer time.Duration
}

// OAuthFlow runs the authorization-code flow against Google.
type OAuthFlow struct {
	config           *oauth2.Config
	httpClient       *http.Client
	revokeURL        string
	userinfoEndpoint string
	expiryBuffer     time.Duration
	now              func() time.Time
}

// NewOAuthFlow creates an OAuthFlow.
// The oauthConfig should be constructed by the caller (e.g., from environment variables).
func NewOAuthFlow(oauthConfig *oauth2.Config, opts FlowOptions) *OAuthFlow {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.RevokeURL == "" {
		opts.RevokeURL = DefaultRevokeURL
	}
	if opts.ExpiryBuffer <= 0 {
		opts.ExpiryBuffer = DefaultExpiryBuffer
	}
	return &OAuthFlow{
		config:           oauthConfig,
		httpClient:       opts.HTTPClient,
		revokeURL:        opts.RevokeURL,
		userinfoEndpoint: opts.UserinfoEndpoint,
		expiryBuffer:     opts.ExpiryBuffer,
		now:              time.Now,
	}
}

// Config returns the OAuth2 config.
func (f *OAuthFlow) Config() *oauth2.Config {
	return f.config
}

func (f *OAuthFlow) configured() bool {
	return f.config != nil && f.config.ClientID != "" && f.config.ClientSecret != ""
}

// withClient makes the oauth2 package use the flow's HTTP client.
func (f *OAuthFlow) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
}

func (f *OAuthFlow) configFor(redirectURI string, scopes []string) oauth2.Config {
	cfg := *f.config
	if redirectURI != "" {
		cfg.RedirectURL = redirectURI
	}
	if len(scopes) > 0 {
		cfg.Scopes = scopes
	} else if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	return cfg
}

// BuildAuthURL returns the consent URL and a fresh state nonce. Offline access
// and forced consent make Google issue a refresh token on every login.
// An empty redirectURI uses the configured one.
func (f *OAuthFlow) BuildAuthURL(redirectURI string, scopes []string) (AuthRequest, error) {
	if !f.configured() {
		return AuthRequest{}, ErrConfiguration
	}
	state, err := GenerateState()
	if err != nil {
		return AuthRequest{}, err
	}
	cfg := f.configFor(redirectURI, scopes)
	return AuthRequest{
		URL:         cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce),
		State:       state,
		RedirectURI: cfg.RedirectURL,
	}, nil
}

// ExchangeCode trades an authorization code for tokens and attaches the user's
// profile. A failed profile lookup leaves the profile fields empty.
func (f *OAuthFlow) ExchangeCode(ctx context.Context, code, redirectURI string) (*model.TokenSet, error) {
	if !f.configured() {
		return nil, ErrConfiguration
	}
	cfg := f.configFor(redirectURI, nil)

	token, err := cfg.Exchange(f.withClient(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExchangeFailed, err)
	}
	tokens := tokenSetFrom(token, nil, f.now())

	info, err := f.FetchProfile(ctx, tokens.AccessToken)
	if err != nil {
		logging.FromContext(ctx).Warn("failed to fetch google profile", "error", err)
		return tokens, nil
	}
	tokens.UserEmail = info.Email
	tokens.UserName = info.Name
	return tokens, nil
}

// FetchProfile reads the account's email and display name.
func (f *OAuthFlow) FetchProfile(ctx context.Context, accessToken string) (*model.UserInfo, error) {
	client := oauth2.NewClient(f.withClient(ctx), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if f.userinfoEndpoint != "" {
		opts = append(opts, option.WithEndpoint(f.userinfoEndpoint))
	}
	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create oauth2 service: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get userinfo: %w", err)
	}
	name := info.Name
	if name == "" {
		name = info.Email
	}
	return &model.UserInfo{Email: info.Email, Name: name}, nil
}

// RefreshIfNeeded returns tokens unchanged while they are fresh. Otherwise it
// redeems the refresh token and reports refreshed=true. A missing or rejected
// refresh token yields ErrNotAuthenticated and the caller must clear the tokens.
func (f *OAuthFlow) RefreshIfNeeded(ctx context.Context, tokens *model.TokenSet) (*model.TokenSet, bool, error) {
	if tokens == nil {
		return nil, false, ErrNotAuthenticated
	}
	if !ExpiredAt(tokens, f.expiryBuffer, f.now()) {
		return tokens, false, nil
	}
	if tokens.RefreshToken == "" {
		return nil, false, fmt.Errorf("%w: no refresh token", ErrNotAuthenticated)
	}
	if !f.configured() {
		return nil, false, ErrConfiguration
	}

	src := f.config.TokenSource(f.withClient(ctx), &oauth2.Token{
		RefreshToken: tokens.RefreshToken,
		Expiry:       f.now().Add(-time.Hour),
	})
	token, err := src.Token()
	if err != nil {
		return nil, false, fmt.Errorf("%w: refresh failed: %w", ErrNotAuthenticated, err)
	}
	return tokenSetFrom(token, tokens, f.now()), true, nil
}

// Revoke asks Google to revoke accessToken. Failures are logged only.
func (f *OAuthFlow) Revoke(ctx context.Context, accessToken string) {
	if accessToken == "" {
		return
	}
	logger := logging.FromContext(ctx)

	form := url.Values{"token": {accessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		logger.Warn("failed to build revoke request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		logger.Warn("token revocation failed", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logger.Warn("token revocation rejected", "status", resp.StatusCode)
	}
}

// tokenSetFrom converts an oauth2 token, carrying over the refresh token and
// profile from prev when the provider did not send new ones.
// tokenSetFrom converts an oauth2 token. A response without expires_in is
// given DefaultTokenLifetime from now.
func tokenSetFrom(token *oauth2.Token, prev *model.TokenSet, now time.Time) *model.TokenSet {
	out := &model.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       now.Add(DefaultTokenLifetime).UnixMilli(),
	}
	if !token.Expiry.IsZero() {
		out.Expiry = token.Expiry.UnixMilli()
	}
	if prev != nil {
		if out.RefreshToken == "" {
			out.RefreshToken = prev.RefreshToken
		}
		out.UserEmail = prev.UserEmail
		out.UserName = prev.UserName
	}
	return out
}

// GenerateState returns 32 random bytes, hex encoded.
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}
