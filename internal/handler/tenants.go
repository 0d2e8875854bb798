package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/yourorg/cliniccore/internal/domain"
	"github.com/yourorg/cliniccore/internal/tenant"
)

// TenantHandler serves tenant registry endpoints: the public slug
// availability probe and the operator listing and lifecycle operations.
type TenantHandler struct {
	tenants  domain.TenantRepository
	resolver *tenant.Resolver
	logger   *slog.Logger
}

func NewTenantHandler(tenants domain.TenantRepository, resolver *tenant.Resolver, logger *slog.Logger) *TenantHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TenantHandler{tenants: tenants, resolver: resolver, logger: logger}
}

// Exists handles GET /api/tenants/{slug}/exists. Public: signup forms use
// it to probe slug availability. Only availability is revealed, never
// tenant details.
func (h *TenantHandler) Exists(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	exists, err := h.tenants.SlugExists(r.Context(), slug)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"available": !exists})
}

type tenantSummary struct {
	ID          string `json:"id"`
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	MaxUsers    int    `json:"max_users"`
	MaxRecords  int    `json:"max_records"`
	TrialEndsAt string `json:"trial_ends_at,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// List handles GET /api/admin/tenants.
func (h *TenantHandler) List(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.tenants.List(r.Context())
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	summaries := make([]tenantSummary, 0, len(tenants))
	for _, t := range tenants {
		s := tenantSummary{
			ID:         t.ID,
			Slug:       t.Slug,
			Name:       t.Name,
			Status:     string(t.Status),
			MaxUsers:   t.MaxUsers,
			MaxRecords: t.MaxRecords,
			CreatedAt:  t.CreatedAt.Format(time.RFC3339),
		}
		if t.TrialEndsAt != nil {
			s.TrialEndsAt = t.TrialEndsAt.Format(time.RFC3339)
		}
		summaries = append(summaries, s)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenants": summaries, "count": len(summaries)})
}

type statusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus handles PATCH /api/admin/tenants/{id}/status: suspend,
// reactivate or cancel a tenant. The resolver cache entry is invalidated
// so the change takes effect within one local-cache TTL.
func (h *TenantHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	status := domain.TenantStatus(req.Status)
	switch status {
	case domain.TenantStatusActive, domain.TenantStatusSuspended, domain.TenantStatusCancelled:
	default:
		writeError(w, http.StatusBadRequest, "status must be active, suspended or cancelled")
		return
	}

	t, err := h.tenants.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if err := h.tenants.UpdateStatus(r.Context(), t.ID, status); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	h.resolver.Invalidate(r.Context(), t.ID)
	h.resolver.Invalidate(r.Context(), t.Slug)

	h.logger.Info("tenant status updated",
		slog.String("tenant_id", t.ID),
		slog.String("status", string(status)),
	)
	writeJSON(w, http.StatusOK, map[string]string{"id": t.ID, "status": string(status)})
}
