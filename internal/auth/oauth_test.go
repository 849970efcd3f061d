package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/Sorbh/digital-photo-frame/internal/model"
)

func TestBuildAuthURL(t *testing.T) {
	p := newFakeProvider(t)
	f := testFlow(p)

	req, err := f.BuildAuthURL("", nil)
	if err != nil {
		t.Fatalf("BuildAuthURL failed: %v", err)
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		t.Fatalf("invalid url: %v", err)
	}
	q := u.Query()
	if q.Get("access_type") != "offline" {
		t.Errorf("expected access_type=offline, got %q", q.Get("access_type"))
	}
	if q.Get("prompt") != "consent" {
		t.Errorf("expected prompt=consent, got %q", q.Get("prompt"))
	}
	if q.Get("state") != req.State || len(req.State) != 64 {
		t.Errorf("unexpected state %q in %q", req.State, q.Get("state"))
	}
	if q.Get("client_id") != "test-client-id" {
		t.Errorf("unexpected client_id %q", q.Get("client_id"))
	}
	if !strings.Contains(q.Get("scope"), "photospicker.mediaitems.readonly") {
		t.Errorf("picker scope missing from %q", q.Get("scope"))
	}
	if req.RedirectURI != f.Config().RedirectURL {
		t.Errorf("expected configured redirect, got %q", req.RedirectURI)
	}

	other, _ := f.BuildAuthURL("http://frame.local/callback", nil)
	if other.State == req.State {
		t.Error("state must be fresh for every attempt")
	}
	if other.RedirectURI != "http://frame.local/callback" {
		t.Errorf("redirect override ignored: %q", other.RedirectURI)
	}
}

func TestBuildAuthURL_NotConfigured(t *testing.T) {
	f := NewOAuthFlow(&oauth2.Config{ClientID: "only-id"}, FlowOptions{})
	if _, err := f.BuildAuthURL("", nil); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if _, err := f.ExchangeCode(context.Background(), "code", ""); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestExchangeCode_Success(t *testing.T) {
	p := newFakeProvider(t)
	f := testFlow(p)

	tokens, err := f.ExchangeCode(context.Background(), "good-code", "")
	if err != nil {
		t.Fatalf("ExchangeCode failed: %v", err)
	}
	if tokens.AccessToken != "access-1" || tokens.RefreshToken != "refresh-1" {
		t.Errorf("unexpected tokens: %+v", tokens)
	}
	if tokens.UserEmail != "frame@example.com" || tokens.UserName != "Frame Owner" {
		t.Errorf("profile not attached: %+v", tokens)
	}
	remaining := time.Until(time.UnixMilli(tokens.Expiry))
	if remaining < 50*time.Minute || remaining > 61*time.Minute {
		t.Errorf("unexpected expiry, %v remaining", remaining)
	}
}

func TestExchangeCode_MissingExpiresIn(t *testing.T) {
	p := newFakeProvider(t)
	f := testFlow(p)
	ctx := context.Background()

	tokens, err := f.ExchangeCode(ctx, "no-expiry-code", "")
	if err != nil {
		t.Fatalf("ExchangeCode failed: %v", err)
	}
	remaining := time.Until(time.UnixMilli(tokens.Expiry))
	if remaining < 59*time.Minute || remaining > 61*time.Minute {
		t.Fatalf("expected a one hour default expiry, got %v remaining", remaining)
	}

	calls := p.calls()
	out, refreshed, err := f.RefreshIfNeeded(ctx, tokens)
	if err != nil || refreshed || out != tokens {
		t.Errorf("tokens without expires_in must not refresh on every call, got refreshed=%v err=%v", refreshed, err)
	}
	if p.calls() != calls {
		t.Errorf("expected no refresh request, got %d", p.calls()-calls)
	}
}

func TestTokenSetFrom_DefaultsExpiry(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	got := tokenSetFrom(&oauth2.Token{AccessToken: "a"}, nil, now)
	if want := now.Add(DefaultTokenLifetime).UnixMilli(); got.Expiry != want {
		t.Errorf("expected expiry %d, got %d", want, got.Expiry)
	}
	explicit := now.Add(10 * time.Minute)
	got = tokenSetFrom(&oauth2.Token{AccessToken: "a", Expiry: explicit}, nil, now)
	if got.Expiry != explicit.UnixMilli() {
		t.Errorf("explicit expiry must win, got %d", got.Expiry)
	}
}

func TestExchangeCode_ProfileFailureKeepsTokens(t *testing.T) {
	p := newFakeProvider(t)
	p.setUserinfoFails(true)
	f := testFlow(p)

	tokens, err := f.ExchangeCode(context.Background(), "good-code", "")
	if err != nil {
		t.Fatalf("profile failure must not fail the exchange: %v", err)
	}
	if tokens.AccessToken != "access-1" {
		t.Errorf("unexpected access token %q", tokens.AccessToken)
	}
	if tokens.UserEmail != "" || tokens.UserName != "" {
		t.Errorf("profile fields should be empty: %+v", tokens)
	}
}

func TestExchangeCode_BadCode(t *testing.T) {
	p := newFakeProvider(t)
	_, err := testFlow(p).ExchangeCode(context.Background(), "bad-code", "")
	if !errors.Is(err, ErrExchangeFailed) {
		t.Fatalf("expected ErrExchangeFailed, got %v", err)
	}
}

func TestRefreshIfNeeded_FreshTokensUntouched(t *testing.T) {
	p := newFakeProvider(t)
	f := testFlow(p)
	in := &model.TokenSet{AccessToken: "a", RefreshToken: "refresh-1", Expiry: time.Now().Add(time.Hour).UnixMilli()}

	out, refreshed, err := f.RefreshIfNeeded(context.Background(), in)
	if err != nil {
		t.Fatalf("RefreshIfNeeded failed: %v", err)
	}
	if refreshed || out != in {
		t.Error("fresh tokens should be returned as-is")
	}
	if p.calls() != 0 {
		t.Errorf("expected no token endpoint calls, got %d", p.calls())
	}
}

func TestRefreshIfNeeded_Expired(t *testing.T) {
	p := newFakeProvider(t)
	f := testFlow(p)
	in := &model.TokenSet{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(2 * time.Minute).UnixMilli(),
		UserEmail:    "frame@example.com",
		UserName:     "Frame Owner",
	}

	out, refreshed, err := f.RefreshIfNeeded(context.Background(), in)
	if err != nil {
		t.Fatalf("RefreshIfNeeded failed: %v", err)
	}
	if !refreshed {
		t.Fatal("tokens inside the expiry buffer should refresh")
	}
	if out.AccessToken != "access-2" {
		t.Errorf("expected new access token, got %q", out.AccessToken)
	}
	if out.RefreshToken != "refresh-1" {
		t.Errorf("refresh token should carry over, got %q", out.RefreshToken)
	}
	if out.UserEmail != "frame@example.com" || out.UserName != "Frame Owner" {
		t.Errorf("profile should carry over: %+v", out)
	}
}

func TestRefreshIfNeeded_Rejected(t *testing.T) {
	p := newFakeProvider(t)
	p.setRefreshFails(true)
	in := &model.TokenSet{AccessToken: "a", RefreshToken: "refresh-1", Expiry: 1}

	_, _, err := testFlow(p).RefreshIfNeeded(context.Background(), in)
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestRefreshIfNeeded_NoRefreshToken(t *testing.T) {
	p := newFakeProvider(t)
	_, _, err := testFlow(p).RefreshIfNeeded(context.Background(), &model.TokenSet{AccessToken: "a"})
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if _, _, err := testFlow(p).RefreshIfNeeded(context.Background(), nil); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated for nil tokens, got %v", err)
	}
}

func TestRevoke(t *testing.T) {
	p := newFakeProvider(t)
	f := testFlow(p)

	f.Revoke(context.Background(), "access-1")
	f.Revoke(context.Background(), "")

	got := p.revokedTokens()
	if len(got) != 1 || got[0] != "access-1" {
		t.Errorf("expected one revoke for access-1, got %v", got)
	}
}

func TestRevoke_UnreachableIsSilent(t *testing.T) {
	f := NewOAuthFlow(&oauth2.Config{ClientID: "id", ClientSecret: "secret"}, FlowOptions{
		RevokeURL: "http://127.0.0.1:1/revoke",
	})
	f.Revoke(context.Background(), "access-1")
}

func TestGenerateState(t *testing.T) {
	a, err := GenerateState()
	if err != nil {
		t.Fatalf("GenerateState failed: %v", err)
	}
	b, _ := GenerateState()
	if len(a) != 64 || a == b {
		t.Errorf("expected distinct 64-char states, got %q and %q", a, b)
	}
}
