package audit

import (
	"context"
	"log/slog"
	"time"
)

// Logger emits structured audit events for the tenant lifecycle and
// authentication surface. Audit lines are ordinary slog records with a
// fixed shape so they can be filtered out of the main log stream.
type Logger struct {
	logger *slog.Logger
}

func NewLogger(logger *slog.Logger) *Logger {
	return &Logger{logger: logger}
}

func (al *Logger) LogAction(ctx context.Context, tenantID, userID, action, resource, resourceID, status, details string) {
	al.logger.Info("audit",
		slog.String("action", action),
		slog.String("resource", resource),
		slog.String("resource_id", resourceID),
		slog.String("tenant_id", tenantID),
		slog.String("user_id", userID),
		slog.String("status", status),
		slog.String("details", details),
		slog.Time("timestamp", time.Now()),
	)
}

// LogProvisioning records a tenant provisioning attempt outcome.
func (al *Logger) LogProvisioning(ctx context.Context, tenantID, userID, slug, status, details string) {
	al.LogAction(ctx, tenantID, userID, "provision", "tenant", slug, status, details)
}

// LogLogin records a login outcome. Only the outcome is recorded; the
// failure cause never reaches the audit stream either.
func (al *Logger) LogLogin(ctx context.Context, tenantID, userID, status string) {
	al.LogAction(ctx, tenantID, userID, "login", "session", "", status, "")
}

// LogTokenRefresh records a refresh-token rotation.
func (al *Logger) LogTokenRefresh(ctx context.Context, tenantID, userID, status string) {
	al.LogAction(ctx, tenantID, userID, "refresh", "session", "", status, "")
}

// LogLogout records a logout.
func (al *Logger) LogLogout(ctx context.Context, tenantID, userID string) {
	al.LogAction(ctx, tenantID, userID, "logout", "session", "", "success", "")
}

// LogDenied records an access denial, including cross-tenant rejections.
func (al *Logger) LogDenied(ctx context.Context, tenantID, userID, reason string) {
	al.LogAction(ctx, tenantID, userID, "access_denied", "api", "", "denied", reason)
}
