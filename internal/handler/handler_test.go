package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"golang.org/x/oauth2"

	"github.com/Sorbh/digital-photo-frame/internal/adapter/memory"
	"github.com/Sorbh/digital-photo-frame/internal/auth"
	"github.com/Sorbh/digital-photo-frame/internal/cache"
	"github.com/Sorbh/digital-photo-frame/internal/crypto"
	"github.com/Sorbh/digital-photo-frame/internal/handler"
	"github.com/Sorbh/digital-photo-frame/internal/middleware"
	"github.com/Sorbh/digital-photo-frame/internal/model"
	"github.com/Sorbh/digital-photo-frame/internal/photos"
	"github.com/Sorbh/digital-photo-frame/internal/picker"
	"github.com/Sorbh/digital-photo-frame/internal/session"
)

const (
	testJWTSecret = "test-secret"
	testPassword  = "hunter2"
)

// envelope is the JSON body every endpoint returns.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// fakeGoogle emulates the token, userinfo and revoke endpoints.
type fakeGoogle struct {
	*httptest.Server

	mu      sync.Mutex
	revoked []string
}

func newFakeGoogle(t *testing.T) *fakeGoogle {
	t.Helper()
	g := &fakeGoogle{}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"expires_in":    3600,
			"token_type":    "Bearer",
		})
	})
	mux.HandleFunc("/oauth2/v2/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"email":"frame@example.com","name":"Frame Owner"}`))
	})
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		g.mu.Lock()
		g.revoked = append(g.revoked, r.PostForm.Get("token"))
		g.mu.Unlock()
	})
	g.Server = httptest.NewServer(mux)
	t.Cleanup(g.Close)
	return g
}

func (g *fakeGoogle) revokedTokens() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.revoked...)
}

type harness struct {
	google   *fakeGoogle
	sessions *session.MemoryStore
	admin    *auth.AdminAuth
	tokens   *auth.TokenStore
	library  *memory.Photos
	cache    *cache.Cache
	picker   *picker.Coordinator

	auth   *handler.AuthHandler
	photos *handler.GooglePhotosHandler
	health *handler.HealthHandler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	g := newFakeGoogle(t)

	flow := auth.NewOAuthFlow(&oauth2.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:8080/api/admin/google-photos/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   g.URL + "/auth",
			TokenURL:  g.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, auth.FlowOptions{
		HTTPClient:       &http.Client{Timeout: 5 * time.Second},
		RevokeURL:        g.URL + "/revoke",
		UserinfoEndpoint: g.URL + "/",
	})

	key, err := crypto.DeriveKey("test-session-secret")
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	cipher, err := crypto.NewTokenCipher(key)
	if err != nil {
		t.Fatalf("NewTokenCipher failed: %v", err)
	}

	sessions := session.NewMemoryStore()
	tokens := auth.NewTokenStore(sessions, cipher)
	service := auth.NewService(flow, tokens, sessions)
	admin := auth.NewAdminAuth(testPassword, testJWTSecret, time.Hour, sessions)

	library := memory.NewSeededPhotos()
	library.CompleteAfterPolls = 1
	c := cache.New(cache.Options{})
	coordinator := picker.NewCoordinator(library, service, picker.Options{})
	gateway := photos.NewGateway(library, c, photos.Options{RateLimit: -1})

	photosHandler := handler.NewGooglePhotosHandler(admin, service, service, coordinator, gateway, c, testJWTSecret)
	return &harness{
		google:   g,
		sessions: sessions,
		admin:    admin,
		tokens:   tokens,
		library:  library,
		cache:    c,
		picker:   coordinator,
		auth:     handler.NewAuthHandler(admin, middleware.NewAttemptLimiter(middleware.AttemptLimit{Attempts: 100}), photosHandler, false),
		photos:   photosHandler,
		health:   handler.NewHealthHandler(c, coordinator),
	}
}

// login returns a session token for a fresh admin session.
func (h *harness) login(t *testing.T) (string, string) {
	t.Helper()
	token, sess, err := h.admin.Login(context.Background(), testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return token, sess.ID
}

// connect stores valid Google tokens on the session.
func (h *harness) connect(t *testing.T, sid string) {
	t.Helper()
	err := h.tokens.Store(context.Background(), sid, &model.TokenSet{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(time.Hour).UnixMilli(),
		UserEmail:    "frame@example.com",
		UserName:     "Frame Owner",
	})
	if err != nil {
		t.Fatalf("store tokens: %v", err)
	}
}

func makeRequest(method, path, body, token string) events.APIGatewayProxyRequest {
	req := events.APIGatewayProxyRequest{
		HTTPMethod:            method,
		Path:                  path,
		Body:                  body,
		Headers:               map[string]string{"Content-Type": "application/json"},
		PathParameters:        map[string]string{},
		QueryStringParameters: map[string]string{},
	}
	if token != "" {
		req.Headers["Authorization"] = "Bearer " + token
	}
	return req
}

func decode(t *testing.T, resp events.APIGatewayProxyResponse, wantStatus int, data any) envelope {
	t.Helper()
	if resp.StatusCode != wantStatus {
		t.Fatalf("Expected %d, got %d: %s", wantStatus, resp.StatusCode, resp.Body)
	}
	var env envelope
	if err := json.Unmarshal([]byte(resp.Body), &env); err != nil {
		t.Fatalf("Failed to unmarshal body %q: %v", resp.Body, err)
	}
	if data != nil {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("Failed to unmarshal data %s: %v", env.Data, err)
		}
	}
	return env
}

func expectError(t *testing.T, resp events.APIGatewayProxyResponse, wantStatus int, wantCode string) {
	t.Helper()
	env := decode(t, resp, wantStatus, nil)
	if env.Success || env.Error == nil {
		t.Fatalf("Expected error envelope, got %s", resp.Body)
	}
	if env.Error.Code != wantCode {
		t.Errorf("Expected code %s, got %s", wantCode, env.Error.Code)
	}
}
