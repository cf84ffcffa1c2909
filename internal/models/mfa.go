package models

import (
	"time"
)

// MFAEnrollment holds a principal's TOTP seed. At most one per principal.
// The seed is sealed with AES-256-GCM before it reaches the store.
type MFAEnrollment struct {
	PrincipalID     string
	SecretEncrypted []byte
	SecretNonce     []byte
	Enabled         bool
	CreatedAt       time.Time
	EnabledAt       *time.Time
	// LastUsedStep is the newest TOTP time step accepted for this principal.
	// Codes at or before it are replays.
	LastUsedStep int64
}

// MFAChallenge is returned instead of a session while a second factor is due.
type MFAChallenge struct {
	PrincipalID    string
	ChallengeToken string
	ExpiresAt      time.Time
	// Set only while the enrollment is pending confirmation.
	Enrollment *MFAEnrollmentPayload
}

// MFAEnrollmentPayload lets the user add the seed to an authenticator app.
type MFAEnrollmentPayload struct {
	QRCode         string `json:"qr_code"` // data URL
	ManualEntryKey string `json:"manual_entry_key"`
}

// MFAStatus summarises a principal's enrollment.
type MFAStatus struct {
	Enrolled  bool       `json:"enrolled"`
	Enabled   bool       `json:"enabled"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	EnabledAt *time.Time `json:"enabled_at,omitempty"`
}
