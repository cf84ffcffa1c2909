package logger

import (
	"context"
	"log/slog"
	"time"
)

// LoginAuditEntry is the log-line view of one login outcome.
type LoginAuditEntry struct {
	PrincipalID string
	Identifier  string
	Method      string
	Outcome     string
	ClientID    string
	UserAgent   string
	Success     bool
}

// AuditLogger writes security audit lines next to the regular application log.
type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger.With(slog.String("audit_type", "auth")),
	}
}

// LogLogin emits one audit line per login outcome. Rejections log at WARN.
func (al *AuditLogger) LogLogin(ctx context.Context, entry LoginAuditEntry) {
	attrs := []slog.Attr{
		slog.String("method", entry.Method),
		slog.String("outcome", entry.Outcome),
		slog.Bool("success", entry.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if entry.PrincipalID != "" {
		attrs = append(attrs, slog.String("principal_id", entry.PrincipalID))
	}
	if entry.Identifier != "" {
		attrs = append(attrs, slog.String("identifier", MaskIdentifier(entry.Identifier)))
	}
	if entry.ClientID != "" {
		attrs = append(attrs, slog.String("client_id", entry.ClientID))
	}
	if entry.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", entry.UserAgent))
	}

	level := slog.LevelInfo
	if !entry.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit_event", attrs...)
}

// LogAccountAction logs account changes such as role updates or MFA toggles.
func (al *AuditLogger) LogAccountAction(ctx context.Context, eventType, actorID, targetID string, metadata map[string]string) {
	attrs := []slog.Attr{
		slog.String("event_type", eventType),
		slog.String("actor_id", actorID),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	if targetID != "" && targetID != actorID {
		attrs = append(attrs, slog.String("target_id", targetID))
	}
	for key, val := range metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	al.logger.LogAttrs(ctx, slog.LevelInfo, "audit_event", attrs...)
}
