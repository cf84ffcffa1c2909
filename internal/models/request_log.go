package models

import (
	"time"
)

// RequestLog is one served HTTP request. Endpoint is the matched route
// pattern ("unmatched" when no route matched), Path the raw path without
// its query string.
type RequestLog struct {
	ID          string    `json:"id"`
	PrincipalID *string   `json:"principal_id,omitempty"`
	ClientID    string    `json:"client_id"`
	Method      string    `json:"method"`
	Endpoint    string    `json:"endpoint"`
	Path        string    `json:"path"`
	StatusCode  int       `json:"status_code"`
	DurationMs  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// EndpointStat aggregates requests to one route.
type EndpointStat struct {
	Method        string  `json:"method"`
	Endpoint      string  `json:"endpoint"`
	TotalRequests int64   `json:"total_requests"`
	UniqueClients int64   `json:"unique_clients"`
	SuccessRate   float64 `json:"success_rate"` // percent of 2xx responses
}

// SuspiciousClient is a client with many failed requests or rejected logins
// inside the stats window.
type SuspiciousClient struct {
	ClientID       string    `json:"client_id"`
	TotalRequests  int64     `json:"total_requests"`
	FailedRequests int64     `json:"failed_requests"`
	FailedLogins   int64     `json:"failed_logins"`
	LastSeenAt     time.Time `json:"last_seen_at"`
}

// PrincipalActivity summarises what one principal did inside the window.
type PrincipalActivity struct {
	PrincipalID      string     `json:"principal_id"`
	Username         string     `json:"username"`
	Role             string     `json:"role"`
	TotalRequests    int64      `json:"total_requests"`
	SuccessfulLogins int64      `json:"successful_logins"`
	FailedLogins     int64      `json:"failed_logins"`
	LastActivityAt   *time.Time `json:"last_activity_at,omitempty"`
}

type HourlyLoginTrend struct {
	Hour       time.Time `json:"hour"`
	Total      int64     `json:"total"`
	Successful int64     `json:"successful"`
}

type HourlyRequestTrend struct {
	Hour          time.Time `json:"hour"`
	Total         int64     `json:"total"`
	UniqueClients int64     `json:"unique_clients"`
}

// HourlyTrends buckets logins and requests by hour since Since.
type HourlyTrends struct {
	Since    time.Time            `json:"since"`
	Logins   []HourlyLoginTrend   `json:"logins"`
	Requests []HourlyRequestTrend `json:"requests"`
}

// RejectedLoginOutcomes are the outcomes that count as a failed credential
// check from a client.
var RejectedLoginOutcomes = []string{
	AuditOutcomeUnknownPrincipal,
	AuditOutcomeBadSecret,
	AuditOutcomeBadSecondFactor,
}
