package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/garage/internal/auth"
	"github.com/BradenHooton/garage/internal/models"
	pkghttp "github.com/BradenHooton/garage/pkg/http"
)

// MFAServiceInterface defines the TOTP management operations
type MFAServiceInterface interface {
	Status(ctx context.Context, principalID string) (*models.MFAStatus, error)
	Setup(ctx context.Context, p *models.Principal) (*models.MFAEnrollmentPayload, error)
	Enable(ctx context.Context, p *models.Principal, code string) error
	Disable(ctx context.Context, p *models.Principal, code string) error
}

// MFAHandler handles MFA-related HTTP requests
type MFAHandler struct {
	mfa        MFAServiceInterface
	principals auth.PrincipalLookup
	logger     *slog.Logger
}

// NewMFAHandler creates a new MFA handler
func NewMFAHandler(mfa MFAServiceInterface, principals auth.PrincipalLookup, logger *slog.Logger) *MFAHandler {
	return &MFAHandler{
		mfa:        mfa,
		principals: principals,
		logger:     logger,
	}
}

// MFACodeRequest carries a current TOTP code
type MFACodeRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// MFAStatusResponse shows the current enrollment
type MFAStatusResponse struct {
	OK bool `json:"ok"`
	*models.MFAStatus
}

// MFASetupResponse carries the QR code of a pending enrollment
type MFASetupResponse struct {
	OK bool `json:"ok"`
	*models.MFAEnrollmentPayload
}

// Status handles GET /mfa/status
func (h *MFAHandler) Status(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	status, err := h.mfa.Status(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to load mfa status")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, MFAStatusResponse{OK: true, MFAStatus: status})
}

// Setup handles POST /mfa/setup
func (h *MFAHandler) Setup(w http.ResponseWriter, r *http.Request) {
	p, ok := h.currentPrincipal(w, r)
	if !ok {
		return
	}

	payload, err := h.mfa.Setup(r.Context(), p)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to start mfa setup")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, MFASetupResponse{OK: true, MFAEnrollmentPayload: payload})
}

// Enable handles POST /mfa/enable
func (h *MFAHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.withCode(w, r, h.mfa.Enable, "failed to enable mfa")
}

// Disable handles POST /mfa/disable
func (h *MFAHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.withCode(w, r, h.mfa.Disable, "failed to disable mfa")
}

func (h *MFAHandler) withCode(w http.ResponseWriter, r *http.Request, op func(context.Context, *models.Principal, string) error, logMsg string) {
	var req MFACodeRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	p, ok := h.currentPrincipal(w, r)
	if !ok {
		return
	}

	if err := op(r.Context(), p, req.Code); err != nil {
		writeServiceError(w, h.logger, err, logMsg)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, pkghttp.Envelope{OK: true})
}

// currentPrincipal loads the caller. A session whose principal was deleted is
// treated as unauthenticated.
func (h *MFAHandler) currentPrincipal(w http.ResponseWriter, r *http.Request) (*models.Principal, bool) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return nil, false
	}

	p, err := h.principals.GetByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteUnauthorized(w, "unauthorized")
			return nil, false
		}
		h.logger.Error("failed to load principal", slog.String("user_id", claims.UserID), slog.Any("error", err))
		pkghttp.WriteInternalError(w)
		return nil, false
	}
	return p, true
}
