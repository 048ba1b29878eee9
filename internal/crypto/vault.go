// Package crypto implements syncmesh's credential vault (§4.A): authenticated
// encryption for stored connector credentials, password hashing, token
// generation, and webhook HMAC signing/verification.
//
// The wire format and AES-256-GCM choice follow the teacher's own
// internal/crypto package; the key-derivation (scrypt) and hex encoding
// follow what the specification requires for credential storage.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	keySize   = 32 // AES-256
	ivSize    = 16
	tagSize   = 16
	saltConst = "syncmesh-vault-v1" // fixed salt for scrypt key derivation
)

// Vault performs authenticated encryption of stored credential blobs using
// a single process-level key.
type Vault struct {
	key []byte // exactly 32 bytes
}

// New derives a 32-byte AES-256 key from secret. Secrets shorter than 32
// bytes are stretched with scrypt over a fixed salt; secrets already 32
// bytes or longer are truncated to the first 32 bytes (no stretching
// needed — they already carry enough entropy).
func New(secret string) (*Vault, error) {
	if secret == "" {
		return nil, errors.New("crypto: process secret must not be empty")
	}

	if len(secret) >= keySize {
		return &Vault{key: []byte(secret)[:keySize]}, nil
	}

	key, err := scrypt.Key([]byte(secret), []byte(saltConst), 1<<15, 8, 1, keySize)
	if err != nil {
		return nil, fmt.Errorf("crypto: derive key: %w", err)
	}
	return &Vault{key: key}, nil
}

// CredentialDecryptError is returned when Decrypt cannot authenticate the
// ciphertext (wrong key, or tampered bytes).
type CredentialDecryptError struct {
	Err error
}

func (e *CredentialDecryptError) Error() string {
	return fmt.Sprintf("credential could not be decrypted; re-enter credentials: %v", e.Err)
}
func (e *CredentialDecryptError) Unwrap() error { return e.Err }
func (e *CredentialDecryptError) IsRetryable() bool { return false }

// Encrypt seals plaintext and returns the hex-encoded wire format
// iv(16) || authTag(16) || ciphertext.
func (v *Vault) Encrypt(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return "", fmt.Errorf("crypto: new gcm: %w", err)
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("crypto: generate iv: %w", err)
	}

	// Seal appends ciphertext||tag to dst; GCM puts the tag last, so we
	// reorder into iv||tag||ciphertext to match the documented wire format.
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	wire := make([]byte, 0, ivSize+tagSize+len(ct))
	wire = append(wire, iv...)
	wire = append(wire, tag...)
	wire = append(wire, ct...)
	return hex.EncodeToString(wire), nil
}

// Decrypt opens a value produced by Encrypt. Returns *CredentialDecryptError
// if the auth tag does not verify.
func (v *Vault) Decrypt(wireHex string) ([]byte, error) {
	wire, err := hex.DecodeString(wireHex)
	if err != nil {
		return nil, &CredentialDecryptError{Err: fmt.Errorf("invalid hex encoding: %w", err)}
	}
	if len(wire) < ivSize+tagSize {
		return nil, &CredentialDecryptError{Err: errors.New("ciphertext too short")}
	}

	iv := wire[:ivSize]
	tag := wire[ivSize : ivSize+tagSize]
	ct := wire[ivSize+tagSize:]

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}

	sealed := make([]byte, 0, len(ct)+len(tag))
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, &CredentialDecryptError{Err: err}
	}
	return plaintext, nil
}

// EncryptString and DecryptString are convenience wrappers over byte slices.
func (v *Vault) EncryptString(plaintext string) (string, error) {
	return v.Encrypt([]byte(plaintext))
}

func (v *Vault) DecryptString(wireHex string) (string, error) {
	pt, err := v.Decrypt(wireHex)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// HashPassword derives a salted scrypt hash, returned as "salt:hash" (both
// hex-encoded), for storing user-facing secrets (e.g. webhook admin tokens).
func HashPassword(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("crypto: generate salt: %w", err)
	}
	hash, err := scrypt.Key([]byte(password), salt, 1<<14, 8, 1, 32)
	if err != nil {
		return "", fmt.Errorf("crypto: hash password: %w", err)
	}
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(hash), nil
}

// VerifyPassword checks password against a "salt:hash" value from HashPassword.
func VerifyPassword(password, stored string) (bool, error) {
	parts := strings.SplitN(stored, ":", 2)
	if len(parts) != 2 {
		return false, errors.New("crypto: malformed password hash")
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return false, fmt.Errorf("crypto: decode salt: %w", err)
	}
	want, err := hex.DecodeString(parts[1])
	if err != nil {
		return false, fmt.Errorf("crypto: decode hash: %w", err)
	}
	got, err := scrypt.Key([]byte(password), salt, 1<<14, 8, 1, len(want))
	if err != nil {
		return false, fmt.Errorf("crypto: hash password: %w", err)
	}
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// GenerateToken returns a cryptographically strong URL-safe hex token of n bytes.
func GenerateToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("crypto: generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// SignWebhook computes the HMAC-SHA-256 signature header value for body
// using secret, in the "sha256=<hex>" form required by §6.
func SignWebhook(body []byte, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhook reports whether header is a valid HMAC-SHA-256 signature of
// body under secret, using a timing-safe comparison.
func VerifyWebhook(body []byte, secret []byte, header string) bool {
	expected := SignWebhook(body, secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(header)) == 1
}
