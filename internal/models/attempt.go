package models

import "time"

// AttemptRecord is the failed-login state for one client identifier.
// BlockedUntil, when set, is never before LastAttemptAt.
type AttemptRecord struct {
	ClientID      string     `json:"client_id"`
	FailureCount  int        `json:"failure_count"`
	LastAttemptAt time.Time  `json:"last_attempt_at"`
	BlockedUntil  *time.Time `json:"blocked_until,omitempty"`
}

// AdmissionDecision is the answer to "may this client attempt a login now".
type AdmissionDecision struct {
	Allowed           bool
	RetryAfterSeconds int
}
