package crypto

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, err := New("test-process-secret")
	require.NoError(t, err)

	original := "pat-token-abc123"
	encrypted, err := v.EncryptString(original)
	require.NoError(t, err)
	require.NotEqual(t, original, encrypted)

	decrypted, err := v.DecryptString(encrypted)
	require.NoError(t, err)
	require.Equal(t, original, decrypted)
}

func TestEncryptDecryptRoundTripAnyKeyLength(t *testing.T) {
	for _, secret := range []string{"short", "exactly-32-bytes-long-secret!!!!", "a very long process secret indeed, much longer than 32 bytes"} {
		v, err := New(secret)
		require.NoError(t, err)

		encrypted, err := v.EncryptString("hello world")
		require.NoError(t, err)

		decrypted, err := v.DecryptString(encrypted)
		require.NoError(t, err)
		require.Equal(t, "hello world", decrypted)
	}
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	v, err := New("test-process-secret")
	require.NoError(t, err)

	encrypted, err := v.EncryptString("sensitive-value")
	require.NoError(t, err)

	raw, err := hex.DecodeString(encrypted)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF // flip a byte in the ciphertext
	tampered := hex.EncodeToString(raw)

	_, err = v.DecryptString(tampered)
	require.Error(t, err)
	var decErr *CredentialDecryptError
	require.ErrorAs(t, err, &decErr)
}

func TestDecryptWrongKeyFails(t *testing.T) {
	v1, err := New("secret-one")
	require.NoError(t, err)
	v2, err := New("secret-two")
	require.NoError(t, err)

	encrypted, err := v1.EncryptString("value")
	require.NoError(t, err)

	_, err = v2.DecryptString(encrypted)
	require.Error(t, err)
}

func TestHashPasswordVerify(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	require.Contains(t, hash, ":")

	ok, err := VerifyPassword("hunter2", hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = VerifyPassword("wrong", hash)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGenerateTokenUnique(t *testing.T) {
	a, err := GenerateToken(16)
	require.NoError(t, err)
	b, err := GenerateToken(16)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.Len(t, a, 32) // hex-encoded 16 bytes
}

func TestSignVerifyWebhook(t *testing.T) {
	secret := []byte("webhook-secret")
	body := []byte(`{"event":"updated"}`)

	sig := SignWebhook(body, secret)
	require.True(t, strings.HasPrefix(sig, "sha256="))
	require.True(t, VerifyWebhook(body, secret, sig))

	require.False(t, VerifyWebhook(body, secret, "sha256=deadbeef"))
	require.False(t, VerifyWebhook([]byte(`{"event":"other"}`), secret, sig))
}
