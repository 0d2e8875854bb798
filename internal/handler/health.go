package handler

import (
	"log/slog"
	"net/http"

	"github.com/yourorg/cliniccore/internal/infrastructure/redis"
	"github.com/yourorg/cliniccore/pkg/database"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	pool   *database.Pool
	redis  *redis.Client
	logger *slog.Logger
}

func NewHealthHandler(pool *database.Pool, redisClient *redis.Client, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{pool: pool, redis: redisClient, logger: logger}
}

// Live handles GET /healthz. Always OK while the process serves requests.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /readyz. The database is required; redis is reported
// but does not fail readiness because every cached path degrades to
// Postgres.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"database": "ok", "redis": "ok"}
	overall := "ok"
	status := http.StatusOK

	if err := h.pool.Health(r.Context()); err != nil {
		h.logger.Error("readiness: database unhealthy", slog.String("error", err.Error()))
		checks["database"] = "unavailable"
		overall = "unavailable"
		status = http.StatusServiceUnavailable
	}

	if h.redis == nil {
		checks["redis"] = "disabled"
	} else if err := h.redis.Ping(r.Context()); err != nil {
		h.logger.Warn("readiness: redis unhealthy", slog.String("error", err.Error()))
		checks["redis"] = "degraded"
	}

	writeJSON(w, status, map[string]any{"status": overall, "checks": checks})
}
