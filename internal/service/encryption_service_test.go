package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAESKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func newTestCipher(t *testing.T, key string) *AESEncryptionService {
	t.Helper()
	svc, err := NewAESEncryptionService(key)
	require.NoError(t, err)
	return svc
}

func TestNewAESEncryptionService_KeyValidation(t *testing.T) {
	for name, key := range map[string]string{
		"not hex":   "zz" + testAESKey[2:],
		"16 bytes":  testAESKey[:32],
		"too long":  testAESKey + "00",
		"empty":     "",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewAESEncryptionService(key)
			assert.Error(t, err)
		})
	}
}

func TestAESEncryptionService_SealOpen(t *testing.T) {
	svc := newTestCipher(t, testAESKey)
	const iban = "DE89370400440532013000"

	sealed, err := svc.Encrypt(iban, "vendor-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, sealedPrefix))
	assert.NotContains(t, sealed, iban)

	again, err := svc.Encrypt(iban, "vendor-1")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per call")

	plain, err := svc.Decrypt(sealed, "vendor-1")
	require.NoError(t, err)
	assert.Equal(t, iban, plain)
}

func TestAESEncryptionService_OpenFailures(t *testing.T) {
	svc := newTestCipher(t, testAESKey)
	sealed, err := svc.Encrypt("acct_123", "vendor-1")
	require.NoError(t, err)

	tampered := []byte(sealed)
	if tampered[len(tampered)-1] == 'A' {
		tampered[len(tampered)-1] = 'B'
	} else {
		tampered[len(tampered)-1] = 'A'
	}

	other := newTestCipher(t, "abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789")

	tests := []struct {
		name   string
		svc    *AESEncryptionService
		sealed string
		aad    string
		want   error
	}{
		{"copied to another vendor", svc, sealed, "vendor-2", nil},
		{"tampered", svc, string(tampered), "vendor-1", nil},
		{"other key", other, sealed, "vendor-1", nil},
		{"legacy hex", svc, "00ff00ff", "vendor-1", errUnknownSealVersion},
		{"bad base64", svc, sealedPrefix + "!!!", "vendor-1", nil},
		{"truncated", svc, sealedPrefix + "AAAA", "vendor-1", errCiphertextTooShort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.svc.Decrypt(tt.sealed, tt.aad)
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}
