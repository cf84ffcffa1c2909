package auth

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTOTPManager(t *testing.T) *TOTPManager {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	tm, err := NewTOTPManager(key, "Garage")
	require.NoError(t, err)
	return tm
}

func codeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

// ============================================================================
// Constructor
// ============================================================================

func TestNewTOTPManager_InvalidKeyLength(t *testing.T) {
	for _, length := range []int{0, 16, 24, 31, 33, 64} {
		tm, err := NewTOTPManager(make([]byte, length), "Garage")
		assert.Error(t, err)
		assert.Nil(t, tm)
		assert.Contains(t, err.Error(), "must be exactly 32 bytes")
	}
}

// ============================================================================
// Enrollment
// ============================================================================

func TestTOTPManager_Enroll(t *testing.T) {
	tm := newTestTOTPManager(t)

	enrollment, err := tm.Enroll("alice")
	require.NoError(t, err)

	assert.NotEmpty(t, enrollment.Secret)
	assert.Len(t, enrollment.SecretNonce, 12)
	assert.NotContains(t, string(enrollment.SecretEncrypted), enrollment.Secret)

	require.True(t, strings.HasPrefix(enrollment.QRCode, "data:image/png;base64,"))
	png, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(enrollment.QRCode, "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal(t, []byte{137, 80, 78, 71}, png[:4])

	opened, err := tm.Open(enrollment.SecretEncrypted, enrollment.SecretNonce)
	require.NoError(t, err)
	assert.Equal(t, enrollment.Secret, opened)
}

func TestTOTPManager_QRCodeForExistingSecret(t *testing.T) {
	tm := newTestTOTPManager(t)

	enrollment, err := tm.Enroll("alice")
	require.NoError(t, err)

	qr, err := tm.QRCode(enrollment.Secret, "alice")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(qr, "data:image/png;base64,"))

	_, err = tm.QRCode("not base32!", "alice")
	assert.Error(t, err)
}

// ============================================================================
// Sealing - SECURITY CRITICAL
// ============================================================================

func TestTOTPManager_SealUsesFreshNonce(t *testing.T) {
	tm := newTestTOTPManager(t)

	c1, n1, err := tm.Seal("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)
	c2, n2, err := tm.Seal("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)

	assert.NotEqual(t, n1, n2)
	assert.NotEqual(t, c1, c2)
}

func TestTOTPManager_OpenWithWrongKeyFails(t *testing.T) {
	tm := newTestTOTPManager(t)
	other := newTestTOTPManager(t)

	sealed, nonce, err := tm.Seal("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)

	_, err = other.Open(sealed, nonce)
	assert.Error(t, err)
}

func TestTOTPManager_OpenTamperedCiphertextFails(t *testing.T) {
	tm := newTestTOTPManager(t)

	sealed, nonce, err := tm.Seal("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)
	sealed[0] ^= 0xff

	_, err = tm.Open(sealed, nonce)
	assert.Error(t, err)

	_, err = tm.Open(sealed, nonce[:4])
	assert.Error(t, err)
}

// ============================================================================
// Validation
// ============================================================================

func TestTOTPManager_ValidateWindow(t *testing.T) {
	tm := newTestTOTPManager(t)
	secret := "JBSWY3DPEHPK3PXP"
	// Middle of a step so ±30s lands cleanly in the neighbouring steps.
	now := time.Unix(1_800_000_015, 0)

	assert.True(t, tm.Validate(secret, codeAt(t, secret, now), now), "current step")
	assert.True(t, tm.Validate(secret, codeAt(t, secret, now.Add(-30*time.Second)), now), "previous step")
	assert.True(t, tm.Validate(secret, codeAt(t, secret, now.Add(30*time.Second)), now), "next step")
	assert.False(t, tm.Validate(secret, codeAt(t, secret, now.Add(-60*time.Second)), now), "two steps back")
	assert.False(t, tm.Validate(secret, codeAt(t, secret, now.Add(60*time.Second)), now), "two steps ahead")
}

func TestTOTPManager_MatchStep(t *testing.T) {
	tm := newTestTOTPManager(t)
	secret := "JBSWY3DPEHPK3PXP"
	now := time.Unix(1_800_000_015, 0)
	current := now.Unix() / 30

	step, ok := tm.MatchStep(secret, codeAt(t, secret, now), now)
	require.True(t, ok)
	assert.Equal(t, current, step)

	step, ok = tm.MatchStep(secret, codeAt(t, secret, now.Add(-30*time.Second)), now)
	require.True(t, ok)
	assert.Equal(t, current-1, step)

	step, ok = tm.MatchStep(secret, codeAt(t, secret, now.Add(30*time.Second)), now)
	require.True(t, ok)
	assert.Equal(t, current+1, step)

	_, ok = tm.MatchStep(secret, codeAt(t, secret, now.Add(-90*time.Second)), now)
	assert.False(t, ok)
}

func TestTOTPManager_ValidateWrongSecret(t *testing.T) {
	tm := newTestTOTPManager(t)
	now := time.Unix(1_800_000_015, 0)

	code := codeAt(t, "JBSWY3DPEHPK3PXP", now)

	assert.False(t, tm.Validate("KRSXG5CTMVRXEZLU", code, now))
}

func TestTOTPManager_ValidateMalformedCode(t *testing.T) {
	tm := newTestTOTPManager(t)
	now := time.Now()

	assert.False(t, tm.Validate("JBSWY3DPEHPK3PXP", "", now))
	assert.False(t, tm.Validate("JBSWY3DPEHPK3PXP", "12345", now))
	assert.False(t, tm.Validate("JBSWY3DPEHPK3PXP", "abcdef", now))
}

func TestTOTPManager_ValidateTrimsWhitespace(t *testing.T) {
	tm := newTestTOTPManager(t)
	now := time.Unix(1_800_000_015, 0)
	secret := "JBSWY3DPEHPK3PXP"

	assert.True(t, tm.Validate(secret, " "+codeAt(t, secret, now)+"\n", now))
}
