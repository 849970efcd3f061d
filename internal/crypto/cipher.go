package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

const (
	// keySize is the AES-256 key length.
	keySize = 32

	// ivSize is the per-blob nonce length. GCM is configured for 16-byte nonces
	// so blobs written by earlier deployments stay readable.
	ivSize = 16

	kdfSalt = "google-photos-salt"

	// scrypt cost parameters.
	scryptN = 1 << 14
	scryptR = 8
	scryptP = 1
)

var (
	// ErrConfiguration is returned when the server secret is missing.
	ErrConfiguration = errors.New("server secret is not configured")

	// ErrDecrypt is returned for any blob that cannot be opened with the key.
	ErrDecrypt = errors.New("failed to decrypt token blob")
)

// Key is a derived AES-256 key.
type Key [keySize]byte

// EncryptedBlob is an encrypted token payload together with the IV it was sealed with.
type EncryptedBlob struct {
	IV         []byte `json:"iv" dynamodbav:"iv"`
	Ciphertext []byte `json:"data" dynamodbav:"data"`
}

// Cipher encrypts and decrypts token payloads.
type Cipher interface {
	Encrypt(plaintext string) (EncryptedBlob, error)
	Decrypt(blob EncryptedBlob) (string, error)
}

// DeriveKey derives the token encryption key from the server secret.
// The same secret always yields the same key.
func DeriveKey(serverSecret string) (Key, error) {
	var key Key
	if serverSecret == "" {
		return key, ErrConfiguration
	}
	derived, err := scrypt.Key([]byte(serverSecret), []byte(kdfSalt), scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return key, fmt.Errorf("derive key: %w", err)
	}
	copy(key[:], derived)
	return key, nil
}

// TokenCipher implements Cipher with AES-256-GCM.
type TokenCipher struct {
	aead cipher.AEAD
	rand io.Reader
}

// NewTokenCipher creates a TokenCipher bound to key.
func NewTokenCipher(key Key) (*TokenCipher, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &TokenCipher{aead: aead, rand: rand.Reader}, nil
}

// Encrypt seals plaintext under a freshly generated IV.
func (c *TokenCipher) Encrypt(plaintext string) (EncryptedBlob, error) {
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return EncryptedBlob{}, fmt.Errorf("generate iv: %w", err)
	}
	return EncryptedBlob{
		IV:         iv,
		Ciphertext: c.aead.Seal(nil, iv, []byte(plaintext), nil),
	}, nil
}

// Decrypt opens blob with the IV it carries. Every failure maps to ErrDecrypt.
func (c *TokenCipher) Decrypt(blob EncryptedBlob) (string, error) {
	if len(blob.IV) != ivSize || len(blob.Ciphertext) < c.aead.Overhead() {
		return "", ErrDecrypt
	}
	plaintext, err := c.aead.Open(nil, blob.IV, blob.Ciphertext, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}
