package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/Sorbh/digital-photo-frame/internal/auth"
	"github.com/Sorbh/digital-photo-frame/internal/logging"
	"github.com/Sorbh/digital-photo-frame/internal/middleware"
)

// SessionReleaser drops state kept for a browser session outside its record.
type SessionReleaser interface {
	ReleaseSession(ctx context.Context, sessionID string)
}

// AuthHandler handles the admin password login.
type AuthHandler struct {
	admin         *auth.AdminAuth
	limiter       middleware.RateLimiter
	releaser      SessionReleaser
	secureCookies bool
}

// NewAuthHandler creates a new AuthHandler. releaser, when non-nil, runs on
// logout before the session is deleted. Cookies are marked Secure unless
// secureCookies is false (local development over plain HTTP).
func NewAuthHandler(admin *auth.AdminAuth, limiter middleware.RateLimiter, releaser SessionReleaser, secureCookies bool) *AuthHandler {
	return &AuthHandler{admin: admin, limiter: limiter, releaser: releaser, secureCookies: secureCookies}
}

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Authenticated bool      `json:"authenticated"`
	Token         string    `json:"token,omitempty"`
	ExpiresAt     time.Time `json:"expiresAt,omitzero"`
}

// Login checks the admin password and issues a session cookie.
func (h *AuthHandler) Login(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	ip := sourceIP(req)
	if h.limiter != nil && !h.limiter.Allow(ip) {
		logging.FromContext(ctx).Warn("login rate limited", "source_ip", ip)
		return errorResponse(http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", "too many login attempts, try again later"), nil
	}

	var body loginRequest
	if err := decodeBody(req, &body); err != nil {
		return badRequest("INVALID_REQUEST", "request body must be JSON"), nil
	}
	if body.Password == "" {
		return badRequest("INVALID_REQUEST", "password is required"), nil
	}

	token, sess, err := h.admin.Login(ctx, body.Password)
	if err != nil {
		return writeError(ctx, err), nil
	}
	logging.FromContext(ctx).Info("admin logged in", "source_ip", ip)

	expiresAt := time.Unix(sess.ExpiresAt, 0).UTC()
	resp := jsonResponse(http.StatusOK, loginResponse{Authenticated: true, Token: token, ExpiresAt: expiresAt})
	return withCookie(resp, h.cookie(token, expiresAt)), nil
}

// Logout releases the caller's cached data and picker sessions, deletes the
// session and clears the cookie. It succeeds even without a valid session.
func (h *AuthHandler) Logout(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if sess, err := h.admin.Authenticate(ctx, SessionToken(req)); err == nil {
		if h.releaser != nil {
			h.releaser.ReleaseSession(ctx, sess.ID)
		}
		if err := h.admin.Logout(ctx, sess.ID); err != nil {
			return writeError(ctx, err), nil
		}
	}
	resp := jsonResponse(http.StatusOK, loginResponse{Authenticated: false})
	return withCookie(resp, h.cookie("", time.Unix(0, 0))), nil
}

// Status reports whether the caller holds a valid admin session.
func (h *AuthHandler) Status(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	sess, err := h.admin.Authenticate(ctx, SessionToken(req))
	if errors.Is(err, auth.ErrUnauthorized) {
		return jsonResponse(http.StatusOK, map[string]any{"authenticated": false}), nil
	}
	if err != nil {
		return writeError(ctx, err), nil
	}
	return jsonResponse(http.StatusOK, map[string]any{
		"authenticated": true,
		"loginTime":     sess.LoginTime,
		"expiresAt":     time.Unix(sess.ExpiresAt, 0).UTC(),
	}), nil
}

func (h *AuthHandler) cookie(value string, expires time.Time) *http.Cookie {
	c := &http.Cookie{
		Name:     SessionCookie,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	if value == "" {
		c.MaxAge = -1
	}
	return c
}
