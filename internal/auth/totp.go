package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	totpPeriod = 30
	totpSkew   = 1
	qrSize     = 256
)

// TOTPManager issues, seals and validates TOTP shared secrets.
type TOTPManager struct {
	encryptionKey []byte // AES-256
	issuer        string
}

// Enrollment is a freshly generated shared secret.
type Enrollment struct {
	Secret          string // base32, shown to the user once
	SecretEncrypted []byte
	SecretNonce     []byte
	QRCode          string // PNG data URL
}

// NewTOTPManager requires a 32-byte key.
func NewTOTPManager(encryptionKey []byte, issuer string) (*TOTPManager, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(encryptionKey))
	}

	return &TOTPManager{
		encryptionKey: encryptionKey,
		issuer:        issuer,
	}, nil
}

// Enroll generates a secret for accountName, seals it and renders its QR code.
func (tm *TOTPManager) Enroll(accountName string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountName,
		SecretSize:  20,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	encrypted, nonce, err := tm.Seal(key.Secret())
	if err != nil {
		return nil, err
	}

	qr, err := renderQR(key.URL())
	if err != nil {
		return nil, err
	}

	return &Enrollment{
		Secret:          key.Secret(),
		SecretEncrypted: encrypted,
		SecretNonce:     nonce,
		QRCode:          qr,
	}, nil
}

// QRCode re-renders the provisioning QR for an existing secret.
func (tm *TOTPManager) QRCode(secret, accountName string) (string, error) {
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(secret))
	if err != nil {
		return "", fmt.Errorf("invalid TOTP secret: %w", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountName,
		Secret:      raw,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build TOTP key: %w", err)
	}
	return renderQR(key.URL())
}

// Validate accepts codes for the current 30s step and one step either side.
func (tm *TOTPManager) Validate(secret, code string, at time.Time) bool {
	_, ok := tm.MatchStep(secret, code, at)
	return ok
}

// MatchStep is Validate, also returning the time step the code belongs to so
// callers can refuse a step they have already accepted.
func (tm *TOTPManager) MatchStep(secret, code string, at time.Time) (int64, bool) {
	code = strings.TrimSpace(code)
	opts := totp.ValidateOpts{
		Period:    totpPeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}

	for offset := -totpSkew; offset <= totpSkew; offset++ {
		t := at.Add(time.Duration(offset*totpPeriod) * time.Second)
		valid, err := totp.ValidateCustom(code, secret, t, opts)
		if err == nil && valid {
			return t.Unix() / totpPeriod, true
		}
	}
	return 0, false
}

// Seal encrypts a secret with AES-256-GCM and returns (ciphertext, nonce).
func (tm *TOTPManager) Seal(secret string) ([]byte, []byte, error) {
	gcm, err := tm.gcm()
	if err != nil {
		return nil, nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nil, nonce, []byte(secret), nil), nonce, nil
}

// Open decrypts a secret sealed by Seal.
func (tm *TOTPManager) Open(encrypted, nonce []byte) (string, error) {
	gcm, err := tm.gcm()
	if err != nil {
		return "", err
	}

	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("invalid nonce length %d", len(nonce))
	}

	plaintext, err := gcm.Open(nil, nonce, encrypted, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return string(plaintext), nil
}

func (tm *TOTPManager) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func renderQR(url string) (string, error) {
	qr, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to create QR code: %w", err)
	}

	png, err := qr.PNG(qrSize)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code: %w", err)
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
