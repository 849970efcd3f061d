package crypto

import (
	"bytes"
	"errors"
	"testing"
	"testing/quick"
)

func newTestCipher(t *testing.T, secret string) *TokenCipher {
	t.Helper()
	key, err := DeriveKey(secret)
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	c, err := NewTokenCipher(key)
	if err != nil {
		t.Fatalf("NewTokenCipher failed: %v", err)
	}
	return c
}

func TestDeriveKey_EmptySecret(t *testing.T) {
	_, err := DeriveKey("")
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestDeriveKey_Deterministic(t *testing.T) {
	a, err := DeriveKey("server-secret")
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	b, _ := DeriveKey("server-secret")
	c, _ := DeriveKey("other-secret")
	if a != b {
		t.Error("same secret should derive the same key")
	}
	if a == c {
		t.Error("different secrets should derive different keys")
	}
}

func TestTokenCipher_RoundTrip(t *testing.T) {
	c := newTestCipher(t, "server-secret")

	fixed := []string{"", "ya29.access-token", `{"access_token":"a","refresh_token":"r"}`, "写真フレーム 📷"}
	for _, in := range fixed {
		blob, err := c.Encrypt(in)
		if err != nil {
			t.Fatalf("Encrypt(%q) failed: %v", in, err)
		}
		out, err := c.Decrypt(blob)
		if err != nil {
			t.Fatalf("Decrypt failed for %q: %v", in, err)
		}
		if out != in {
			t.Errorf("round trip mismatch: got %q, want %q", out, in)
		}
	}

	property := func(s string) bool {
		blob, err := c.Encrypt(s)
		if err != nil {
			return false
		}
		out, err := c.Decrypt(blob)
		return err == nil && out == s
	}
	if err := quick.Check(property, nil); err != nil {
		t.Error(err)
	}
}

func TestTokenCipher_FreshIVPerCall(t *testing.T) {
	c := newTestCipher(t, "server-secret")

	a, _ := c.Encrypt("same plaintext")
	b, _ := c.Encrypt("same plaintext")
	if len(a.IV) != ivSize {
		t.Fatalf("expected %d-byte IV, got %d", ivSize, len(a.IV))
	}
	if bytes.Equal(a.IV, b.IV) {
		t.Error("IV was reused")
	}
	if bytes.Equal(a.Ciphertext, b.Ciphertext) {
		t.Error("ciphertext should differ between calls")
	}
}

func TestTokenCipher_WrongKey(t *testing.T) {
	blob, _ := newTestCipher(t, "secret-a").Encrypt("token")
	_, err := newTestCipher(t, "secret-b").Decrypt(blob)
	if !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt, got %v", err)
	}
}

func TestTokenCipher_MalformedBlob(t *testing.T) {
	c := newTestCipher(t, "server-secret")
	good, _ := c.Encrypt("token")

	tampered := EncryptedBlob{IV: good.IV, Ciphertext: append([]byte(nil), good.Ciphertext...)}
	tampered.Ciphertext[0] ^= 0xff

	cases := map[string]EncryptedBlob{
		"empty":      {},
		"short iv":   {IV: good.IV[:12], Ciphertext: good.Ciphertext},
		"short data": {IV: good.IV, Ciphertext: []byte{1, 2, 3}},
		"tampered":   tampered,
	}
	for name, blob := range cases {
		if _, err := c.Decrypt(blob); !errors.Is(err, ErrDecrypt) {
			t.Errorf("%s: expected ErrDecrypt, got %v", name, err)
		}
	}
}
