package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sorbh/digital-photo-frame/internal/session"
)

func TestCheckPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	tests := []struct {
		stored, candidate string
		want              bool
	}{
		{hash, "hunter2", true},
		{hash, "hunter3", false},
		{"plain-pass", "plain-pass", true},
		{"plain-pass", "plain-pas", false},
		{"", "", false},
		{"plain-pass", "", false},
	}
	for _, tc := range tests {
		if got := CheckPassword(tc.stored, tc.candidate); got != tc.want {
			t.Errorf("CheckPassword(%q, %q) = %v, want %v", tc.stored, tc.candidate, got, tc.want)
		}
	}
}

func TestHashPassword_Empty(t *testing.T) {
	if _, err := HashPassword(""); err == nil {
		t.Error("expected error for empty password")
	}
}

func TestSessionToken_RoundTrip(t *testing.T) {
	token, err := SignSessionToken("jwt-secret", "sess-1", time.Now(), time.Hour)
	if err != nil {
		t.Fatalf("SignSessionToken failed: %v", err)
	}
	sid, err := ParseSessionToken("jwt-secret", token)
	if err != nil {
		t.Fatalf("ParseSessionToken failed: %v", err)
	}
	if sid != "sess-1" {
		t.Errorf("expected sess-1, got %q", sid)
	}

	if _, err := ParseSessionToken("other-secret", token); err == nil {
		t.Error("expected error for wrong secret")
	}
	expired, _ := SignSessionToken("jwt-secret", "sess-1", time.Now().Add(-2*time.Hour), time.Hour)
	if _, err := ParseSessionToken("jwt-secret", expired); err == nil {
		t.Error("expected error for expired token")
	}
}

func TestAdminAuth_LoginAuthenticateLogout(t *testing.T) {
	sessions := session.NewMemoryStore()
	a := NewAdminAuth("admin-pass", "jwt-secret", time.Hour, sessions)
	ctx := context.Background()

	if _, _, err := a.Login(ctx, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	token, sess, err := a.Login(ctx, "admin-pass")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !sess.Authenticated || sess.LoginTime.IsZero() {
		t.Errorf("session not marked as logged in: %+v", sess)
	}

	got, err := a.Authenticate(ctx, token)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if got.ID != sess.ID {
		t.Errorf("expected session %q, got %q", sess.ID, got.ID)
	}

	if err := a.Logout(ctx, sess.ID); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := a.Authenticate(ctx, token); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized after logout, got %v", err)
	}
}

func TestAdminAuth_RejectsBadTokens(t *testing.T) {
	sessions := session.NewMemoryStore()
	a := NewAdminAuth("admin-pass", "jwt-secret", time.Hour, sessions)
	ctx := context.Background()

	if _, err := a.Authenticate(ctx, "not-a-jwt"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}

	// A validly signed token for a session that was never logged in.
	_ = sessions.Save(ctx, session.New("anon", time.Now(), time.Hour))
	token, _ := SignSessionToken("jwt-secret", "anon", time.Now(), time.Hour)
	if _, err := a.Authenticate(ctx, token); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for anonymous session, got %v", err)
	}
}
