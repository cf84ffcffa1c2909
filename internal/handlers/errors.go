package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/garage/internal/models"
	pkghttp "github.com/BradenHooton/garage/pkg/http"
)

// clientMessage strips the sentinel prefix from a wrapped service error,
// leaving the detail added by the service.
func clientMessage(err, sentinel error) string {
	msg := strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
	if msg == "" {
		return sentinel.Error()
	}
	return msg
}

// writeServiceError maps the generic sentinels onto status codes. Anything
// unrecognised is logged and answered with 500.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error, logMsg string) {
	switch {
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, clientMessage(err, models.ErrBadRequest))
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, clientMessage(err, models.ErrNotFound))
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, clientMessage(err, models.ErrConflict))
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, clientMessage(err, models.ErrForbidden))
	case errors.Is(err, models.ErrBadSecondFactor):
		pkghttp.WriteError(w, http.StatusUnauthorized, pkghttp.CodeInvalidCreds, "invalid verification code")
	default:
		logger.Error(logMsg, slog.Any("error", err))
		pkghttp.WriteInternalError(w)
	}
}
