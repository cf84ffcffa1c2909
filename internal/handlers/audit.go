package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/garage/internal/models"
	pkghttp "github.com/BradenHooton/garage/pkg/http"
)

// AuditServiceInterface is the read side of the login audit trail
type AuditServiceInterface interface {
	RecentLogins(ctx context.Context, limit int) ([]models.AuditEvent, error)
	Stats(ctx context.Context) (*models.AuditStats, error)
	BlockedClients(ctx context.Context, limit int) ([]models.AttemptRecord, error)
	EndpointStats(ctx context.Context, limit int) ([]models.EndpointStat, error)
	SuspiciousClients(ctx context.Context, limit int) ([]models.SuspiciousClient, error)
	PrincipalActivity(ctx context.Context, limit int) ([]models.PrincipalActivity, error)
	Trends(ctx context.Context) (*models.HourlyTrends, error)
}

// AuditHandler serves the admin audit endpoints
type AuditHandler struct {
	service AuditServiceInterface
	logger  *slog.Logger
}

func NewAuditHandler(service AuditServiceInterface, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{service: service, logger: logger}
}

type AuditLoginsResponse struct {
	OK     bool                `json:"ok"`
	Events []models.AuditEvent `json:"events"`
}

type AuditStatsResponse struct {
	OK    bool               `json:"ok"`
	Stats *models.AuditStats `json:"stats"`
}

type BlockedClientsResponse struct {
	OK      bool                   `json:"ok"`
	Clients []models.AttemptRecord `json:"clients"`
}

type EndpointStatsResponse struct {
	OK        bool                  `json:"ok"`
	Endpoints []models.EndpointStat `json:"endpoints"`
}

type SuspiciousClientsResponse struct {
	OK      bool                      `json:"ok"`
	Clients []models.SuspiciousClient `json:"clients"`
}

type ActivityResponse struct {
	OK         bool                       `json:"ok"`
	Principals []models.PrincipalActivity `json:"principals"`
}

type TrendsResponse struct {
	OK     bool                 `json:"ok"`
	Trends *models.HourlyTrends `json:"trends"`
}

// Logins handles GET /audit/logins?limit=
func (h *AuditHandler) Logins(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	events, err := h.service.RecentLogins(r.Context(), limit)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list audit events")
		return
	}
	if events == nil {
		events = []models.AuditEvent{}
	}
	pkghttp.WriteJSON(w, http.StatusOK, AuditLoginsResponse{OK: true, Events: events})
}

// Stats handles GET /audit/stats
func (h *AuditHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to compute audit stats")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, AuditStatsResponse{OK: true, Stats: stats})
}

// BlockedClients handles GET /audit/blocked-clients?limit=
func (h *AuditHandler) BlockedClients(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	clients, err := h.service.BlockedClients(r.Context(), limit)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list blocked clients")
		return
	}
	if clients == nil {
		clients = []models.AttemptRecord{}
	}
	pkghttp.WriteJSON(w, http.StatusOK, BlockedClientsResponse{OK: true, Clients: clients})
}

// Endpoints handles GET /audit/endpoints?limit=
func (h *AuditHandler) Endpoints(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	stats, err := h.service.EndpointStats(r.Context(), limit)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to compute endpoint stats")
		return
	}
	if stats == nil {
		stats = []models.EndpointStat{}
	}
	pkghttp.WriteJSON(w, http.StatusOK, EndpointStatsResponse{OK: true, Endpoints: stats})
}

// SuspiciousClients handles GET /audit/suspicious-clients?limit=
func (h *AuditHandler) SuspiciousClients(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	clients, err := h.service.SuspiciousClients(r.Context(), limit)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list suspicious clients")
		return
	}
	if clients == nil {
		clients = []models.SuspiciousClient{}
	}
	pkghttp.WriteJSON(w, http.StatusOK, SuspiciousClientsResponse{OK: true, Clients: clients})
}

// Activity handles GET /audit/activity?limit=
func (h *AuditHandler) Activity(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	activity, err := h.service.PrincipalActivity(r.Context(), limit)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to compute principal activity")
		return
	}
	if activity == nil {
		activity = []models.PrincipalActivity{}
	}
	pkghttp.WriteJSON(w, http.StatusOK, ActivityResponse{OK: true, Principals: activity})
}

// Trends handles GET /audit/trends
func (h *AuditHandler) Trends(w http.ResponseWriter, r *http.Request) {
	trends, err := h.service.Trends(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to compute hourly trends")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, TrendsResponse{OK: true, Trends: trends})
}
