package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/Sorbh/digital-photo-frame/internal/adapter"
	"github.com/Sorbh/digital-photo-frame/internal/auth"
	"github.com/Sorbh/digital-photo-frame/internal/crypto"
	"github.com/Sorbh/digital-photo-frame/internal/logging"
	"github.com/Sorbh/digital-photo-frame/internal/photos"
	"github.com/Sorbh/digital-photo-frame/internal/picker"
)

// SessionCookie names the cookie carrying the signed session token.
const SessionCookie = "session_token"

var errNoToken = errors.New("no authorization token found")

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

// getHeader looks a header up case-insensitively.
func getHeader(req events.APIGatewayProxyRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// SessionToken extracts the raw session token from the Authorization header or
// the session cookie.
func SessionToken(req events.APIGatewayProxyRequest) string {
	if h := getHeader(req, "Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	for _, part := range strings.Split(getHeader(req, "Cookie"), ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, SessionCookie+"=") {
			return strings.TrimPrefix(part, SessionCookie+"=")
		}
	}
	return ""
}

// GetSessionID extracts and verifies the session token and returns its session id.
func GetSessionID(req events.APIGatewayProxyRequest, jwtSecret string) (string, error) {
	tokenString := SessionToken(req)
	if tokenString == "" {
		return "", errNoToken
	}
	return auth.ParseSessionToken(jwtSecret, tokenString)
}

// sourceIP is the caller address used for rate limiting. X-Forwarded-For is
// only consulted when the transport did not report a peer address.
func sourceIP(req events.APIGatewayProxyRequest) string {
	if ip := req.RequestContext.Identity.SourceIP; ip != "" {
		return ip
	}
	ip, _, _ := strings.Cut(getHeader(req, "X-Forwarded-For"), ",")
	return strings.TrimSpace(ip)
}

// pageQuery reads pageSize and pageToken. A missing pageSize is DefaultPageSize;
// the gateway clamps the rest.
func pageQuery(req events.APIGatewayProxyRequest) (int, string, error) {
	size := photos.DefaultPageSize
	if raw := req.QueryStringParameters["pageSize"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, "", fmt.Errorf("pageSize must be an integer: %q", raw)
		}
		size = n
	}
	return size, req.QueryStringParameters["pageToken"], nil
}

func decodeBody(req events.APIGatewayProxyRequest, v any) error {
	if strings.TrimSpace(req.Body) == "" {
		return nil
	}
	return json.Unmarshal([]byte(req.Body), v)
}

func jsonResponse(status int, data any) events.APIGatewayProxyResponse {
	return render(status, apiResponse{Success: true, Data: data})
}

func errorResponse(status int, code, message string) events.APIGatewayProxyResponse {
	return render(status, apiResponse{Error: &apiError{Code: code, Message: message}})
}

func render(status int, body apiResponse) events.APIGatewayProxyResponse {
	b, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		b = []byte(`{"success":false,"error":{"code":"INTERNAL_ERROR","message":"failed to encode response"}}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(b),
	}
}

// withCookie attaches a Set-Cookie header to resp.
func withCookie(resp events.APIGatewayProxyResponse, c *http.Cookie) events.APIGatewayProxyResponse {
	if resp.MultiValueHeaders == nil {
		resp.MultiValueHeaders = make(map[string][]string)
	}
	resp.MultiValueHeaders["Set-Cookie"] = append(resp.MultiValueHeaders["Set-Cookie"], c.String())
	return resp
}

// errorStatus maps a domain error onto its HTTP status and error code.
// Wrapped sentinels are checked before the upstream error they may carry.
func errorStatus(err error) (int, string, string) {
	switch {
	case errors.Is(err, auth.ErrConfiguration), errors.Is(err, crypto.ErrConfiguration):
		return http.StatusInternalServerError, "CONFIGURATION_ERROR", "server is not configured for Google Photos"
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, "AUTH_REQUIRED", "authentication required"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid password"
	case errors.Is(err, auth.ErrNotAuthenticated):
		return http.StatusUnauthorized, "NOT_AUTHENTICATED", "not connected to Google Photos"
	case errors.Is(err, auth.ErrInvalidState):
		return http.StatusBadRequest, "INVALID_STATE", "invalid or expired authorization state"
	case errors.Is(err, auth.ErrExchangeFailed):
		return http.StatusBadGateway, "AUTH_CALLBACK_FAILED", "failed to handle authentication callback"
	case errors.Is(err, picker.ErrNoProviderAccount):
		return http.StatusPreconditionFailed, "NO_GOOGLE_PHOTOS_ACCOUNT", "this Google account has no Google Photos library"
	case errors.Is(err, picker.ErrUpstreamQuotaExceeded):
		return http.StatusTooManyRequests, "QUOTA_EXCEEDED", "Google Photos quota exceeded, try again later"
	case errors.Is(err, picker.ErrSessionCreateFailed):
		return http.StatusBadGateway, "SESSION_CREATE_FAILED", "failed to create picker session"
	case errors.Is(err, picker.ErrSessionNotFound):
		return http.StatusNotFound, "SESSION_NOT_FOUND", "picker session not found"
	case errors.Is(err, picker.ErrSessionTimedOut):
		return http.StatusGone, "SESSION_TIMED_OUT", "picker session timed out"
	case errors.Is(err, picker.ErrSessionCancelled):
		return http.StatusGone, "SESSION_CANCELLED", "picker session was cancelled"
	case errors.Is(err, adapter.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "resource not found"
	}

	var uerr *adapter.UpstreamError
	if errors.As(err, &uerr) {
		if uerr.Status == http.StatusTooManyRequests {
			return http.StatusTooManyRequests, "QUOTA_EXCEEDED", "Google Photos quota exceeded, try again later"
		}
		return http.StatusBadGateway, "UPSTREAM_ERROR", "Google Photos request failed"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
}

// writeError logs err and renders it as an error response.
func writeError(ctx context.Context, err error) events.APIGatewayProxyResponse {
	status, code, message := errorStatus(err)
	logger := logging.FromContext(ctx)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "code", code, "error", err)
	} else {
		logger.Warn("request rejected", "code", code, "error", err)
	}

	resp := errorResponse(status, code, message)
	var uerr *adapter.UpstreamError
	if status == http.StatusTooManyRequests && errors.As(err, &uerr) && uerr.RetryAfter > 0 {
		resp.Headers["Retry-After"] = strconv.Itoa(int(uerr.RetryAfter.Seconds() + 0.5))
	}
	return resp
}

// NotFound is the router's fallback response.
func NotFound(method, path string) events.APIGatewayProxyResponse {
	return errorResponse(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("no route for %s %s", method, path))
}

// InternalError renders an unexpected handler failure.
func InternalError(ctx context.Context, err error) events.APIGatewayProxyResponse {
	return writeError(ctx, err)
}

func badRequest(code, message string) events.APIGatewayProxyResponse {
	return errorResponse(http.StatusBadRequest, code, message)
}
