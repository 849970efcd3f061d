package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/Sorbh/digital-photo-frame/internal/crypto"
	"github.com/Sorbh/digital-photo-frame/internal/session"
)

// fakeProvider emulates Google's token, userinfo and revoke endpoints.
type fakeProvider struct {
	*httptest.Server

	mu            sync.Mutex
	refreshFails  bool
	userinfoFails bool
	tokenCalls    int
	revoked       []string

	// When set, refresh grants signal refreshStarted and wait for refreshRelease.
	refreshStarted chan struct{}
	refreshRelease chan struct{}
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", p.handleToken)
	mux.HandleFunc("/oauth2/v2/userinfo", p.handleUserinfo)
	mux.HandleFunc("/revoke", p.handleRevoke)
	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Close)
	return p
}

func (p *fakeProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	p.mu.Lock()
	p.tokenCalls++
	refreshFails := p.refreshFails
	started, release := p.refreshStarted, p.refreshRelease
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		if r.PostForm.Get("code") == "no-expiry-code" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "access-1",
				"refresh_token": "refresh-1",
				"token_type":    "Bearer",
			})
			return
		}
		if r.PostForm.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"expires_in":    3600,
			"token_type":    "Bearer",
		})
	case "refresh_token":
		if started != nil {
			started <- struct{}{}
			<-release
		}
		if refreshFails || r.PostForm.Get("refresh_token") != "refresh-1" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access-2",
			"expires_in":   3600,
			"token_type":   "Bearer",
		})
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (p *fakeProvider) handleUserinfo(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	fails := p.userinfoFails
	p.mu.Unlock()
	if fails || !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		http.Error(w, `{"error":{"code":500,"message":"boom"}}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"email":"frame@example.com","name":"Frame Owner"}`))
}

func (p *fakeProvider) handleRevoke(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	p.mu.Lock()
	p.revoked = append(p.revoked, r.PostForm.Get("token"))
	p.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (p *fakeProvider) setRefreshFails(v bool) {
	p.mu.Lock()
	p.refreshFails = v
	p.mu.Unlock()
}

// blockRefresh makes refresh grants wait until release is called. started
// receives once per refresh request that reaches the provider.
func (p *fakeProvider) blockRefresh() (started <-chan struct{}, release func()) {
	s := make(chan struct{}, 1)
	r := make(chan struct{})
	p.mu.Lock()
	p.refreshStarted, p.refreshRelease = s, r
	p.mu.Unlock()
	var once sync.Once
	return s, func() { once.Do(func() { close(r) }) }
}

func (p *fakeProvider) setUserinfoFails(v bool) {
	p.mu.Lock()
	p.userinfoFails = v
	p.mu.Unlock()
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenCalls
}

func (p *fakeProvider) revokedTokens() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.revoked...)
}

func testFlow(p *fakeProvider) *OAuthFlow {
	return NewOAuthFlow(&oauth2.Config{
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		RedirectURL:  "http://localhost:8080/api/admin/google-photos/callback",
		Scopes:       DefaultScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.URL + "/auth",
			TokenURL:  p.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, FlowOptions{
		HTTPClient:       &http.Client{Timeout: 5 * time.Second},
		RevokeURL:        p.URL + "/revoke",
		UserinfoEndpoint: p.URL + "/",
	})
}

func testCipher(t *testing.T) *crypto.TokenCipher {
	t.Helper()
	key, err := crypto.DeriveKey("test-session-secret")
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	c, err := crypto.NewTokenCipher(key)
	if err != nil {
		t.Fatalf("NewTokenCipher failed: %v", err)
	}
	return c
}

// newTestSession saves a logged-in session and returns its id.
func newTestSession(t *testing.T, store session.Store) string {
	t.Helper()
	sess := session.New("sess-1", time.Now(), time.Hour)
	sess.Authenticated = true
	if err := store.Save(context.Background(), sess); err != nil {
		t.Fatalf("save session: %v", err)
	}
	return sess.ID
}
