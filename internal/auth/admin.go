package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Sorbh/digital-photo-frame/internal/session"
)

var (
	// ErrInvalidCredentials is returned for a wrong admin password.
	ErrInvalidCredentials = errors.New("invalid admin password")

	// ErrUnauthorized is returned when a request carries no valid admin session.
	ErrUnauthorized = errors.New("admin session required")
)

// CheckPassword compares candidate with the configured admin password, which
// may be a bcrypt hash or, for development, plain text.
func CheckPassword(stored, candidate string) bool {
	if stored == "" || candidate == "" {
		return false
	}
	if strings.HasPrefix(stored, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(candidate)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(candidate)) == 1
}

// HashPassword returns a bcrypt hash suitable for ADMIN_PASSWORD.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// SignSessionToken issues an HS256 JWT naming the browser session.
func SignSessionToken(secret, sessionID string, now time.Time, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sid": sessionID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseSessionToken verifies a session JWT and returns its session id.
func ParseSessionToken(secret, tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		if sid, ok := claims["sid"].(string); ok && sid != "" {
			return sid, nil
		}
	}
	return "", fmt.Errorf("invalid token claims")
}

// AdminAuth handles the single-password admin login.
type AdminAuth struct {
	password  string
	jwtSecret string
	maxAge    time.Duration
	sessions  session.Store
	now       func() time.Time
}

// NewAdminAuth creates an AdminAuth. password is the configured admin password or bcrypt hash.
func NewAdminAuth(password, jwtSecret string, maxAge time.Duration, sessions session.Store) *AdminAuth {
	if maxAge <= 0 {
		maxAge = session.DefaultMaxAge
	}
	return &AdminAuth{
		password:  password,
		jwtSecret: jwtSecret,
		maxAge:    maxAge,
		sessions:  sessions,
		now:       time.Now,
	}
}

// MaxAge is the lifetime of a login.
func (a *AdminAuth) MaxAge() time.Duration {
	return a.maxAge
}

// Login checks the password, creates a session and returns its signed token.
func (a *AdminAuth) Login(ctx context.Context, password string) (string, *session.Session, error) {
	if !CheckPassword(a.password, password) {
		return "", nil, ErrInvalidCredentials
	}
	now := a.now()
	sess := session.New(uuid.NewString(), now, a.maxAge)
	sess.Authenticated = true
	sess.LoginTime = now
	if err := a.sessions.Save(ctx, sess); err != nil {
		return "", nil, fmt.Errorf("save session: %w", err)
	}
	token, err := SignSessionToken(a.jwtSecret, sess.ID, now, a.maxAge)
	if err != nil {
		return "", nil, fmt.Errorf("sign session token: %w", err)
	}
	return token, sess, nil
}

// Authenticate resolves a session token to a logged-in session.
func (a *AdminAuth) Authenticate(ctx context.Context, tokenString string) (*session.Session, error) {
	sid, err := ParseSessionToken(a.jwtSecret, tokenString)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	sess, err := a.sessions.Get(ctx, sid)
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if !sess.Authenticated {
		return nil, ErrUnauthorized
	}
	return sess, nil
}

// Logout deletes the session.
func (a *AdminAuth) Logout(ctx context.Context, sessionID string) error {
	return a.sessions.Delete(ctx, sessionID)
}
