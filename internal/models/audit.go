package models

import (
	"time"
)

// Audit outcomes.
const (
	AuditOutcomeSessionIssued        = "session_issued"
	AuditOutcomeSecondFactorRequired = "second_factor_required"
	AuditOutcomeUnknownPrincipal     = "unknown_principal"
	AuditOutcomeBadSecret            = "bad_secret"
	AuditOutcomeBadSecondFactor      = "bad_second_factor"
	AuditOutcomeAdmissionBlocked     = "admission_blocked"
	AuditOutcomeInternalError        = "internal_error"
)

// AuditEvent is an append-only record of one login attempt.
type AuditEvent struct {
	ID          string           `json:"id"`
	PrincipalID *string          `json:"principal_id,omitempty"`
	Method      CredentialMethod `json:"method"`
	Success     bool             `json:"success"`
	Outcome     string           `json:"outcome"`
	ClientID    string           `json:"client_id"`
	UserAgent   *string          `json:"user_agent,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// AuditStats aggregates login events over a window.
type AuditStats struct {
	Since            time.Time `json:"since"`
	Total            int64     `json:"total"`
	Successful       int64     `json:"successful"`
	Failed           int64     `json:"failed"`
	Blocked          int64     `json:"blocked"`
	UniquePrincipals int64     `json:"unique_principals"`
	UniqueClients    int64     `json:"unique_clients"`
}
