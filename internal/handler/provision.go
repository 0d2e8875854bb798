package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/yourorg/cliniccore/internal/featureflags"
	"github.com/yourorg/cliniccore/internal/security/ratelimit"
	"github.com/yourorg/cliniccore/internal/tenant"
)

// Signup attempts per source IP within the strict window.
const (
	signupMaxAttempts = 3
	signupWindow      = 10 * time.Minute
)

// ProvisionHandler serves tenant creation: the operator endpoint and the
// flag-gated public signup.
type ProvisionHandler struct {
	provisioner *tenant.Provisioner
	limiter     *ratelimit.Limiter
	defaultPlan string
	logger      *slog.Logger
}

func NewProvisionHandler(provisioner *tenant.Provisioner, limiter *ratelimit.Limiter, defaultPlan string, logger *slog.Logger) *ProvisionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProvisionHandler{provisioner: provisioner, limiter: limiter, defaultPlan: defaultPlan, logger: logger}
}

type provisionRequest struct {
	Slug             string `json:"slug"`
	ClinicName       string `json:"clinic_name"`
	AdminEmail       string `json:"admin_email"`
	AdminPassword    string `json:"admin_password"`
	AdminDisplayName string `json:"admin_display_name"`
	Plan             string `json:"plan"`
}

type signupRequest struct {
	ClinicName  string `json:"clinic_name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type provisionResponse struct {
	TenantID           string `json:"tenant_id"`
	Slug               string `json:"slug"`
	AdminUserID        string `json:"admin_user_id"`
	SubscriptionStatus string `json:"subscription_status"`
	TrialEndsAt        string `json:"trial_ends_at,omitempty"`
}

func newProvisionResponse(result *tenant.ProvisionResult) provisionResponse {
	resp := provisionResponse{
		TenantID:           result.TenantID,
		Slug:               result.Slug,
		AdminUserID:        result.AdminUserID,
		SubscriptionStatus: string(result.SubscriptionStatus),
	}
	if result.TrialEndsAt != nil {
		resp.TrialEndsAt = result.TrialEndsAt.Format(time.RFC3339)
	}
	return resp
}

// signupResponse is the public-facing shape: no internal identifiers, just
// what the new clinic needs to log in.
type signupResponse struct {
	TenantSlug   string             `json:"tenant_slug"`
	Subscription signupSubscription `json:"subscription"`
	AdminEmail   string             `json:"admin_email"`
	Message      string             `json:"message"`
}

type signupSubscription struct {
	Status      string `json:"status"`
	TrialEndsAt string `json:"trial_ends_at,omitempty"`
}

func newSignupResponse(result *tenant.ProvisionResult, adminEmail string) signupResponse {
	resp := signupResponse{
		TenantSlug: result.Slug,
		Subscription: signupSubscription{
			Status: string(result.SubscriptionStatus),
		},
		AdminEmail: adminEmail,
		Message:    "Your clinic is ready. Log in with your admin account.",
	}
	if result.TrialEndsAt != nil {
		resp.Subscription.TrialEndsAt = result.TrialEndsAt.Format(time.RFC3339)
	}
	return resp
}

// Create handles POST /api/admin/tenants. Reached only through the admin
// key middleware.
func (h *ProvisionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.provisioner.Provision(r.Context(), tenant.ProvisionRequest{
		Slug:             req.Slug,
		ClinicName:       req.ClinicName,
		AdminEmail:       req.AdminEmail,
		AdminSecret:      req.AdminPassword,
		AdminDisplayName: req.AdminDisplayName,
		PlanSlug:         req.Plan,
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newProvisionResponse(result))
}

// Signup handles POST /api/signup: self-service tenant creation on the
// default plan. Disabled unless the signup feature flag is on.
func (h *ProvisionHandler) Signup(w http.ResponseWriter, r *http.Request) {
	if !featureflags.Enabled(featureflags.SignupFlag) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if !h.limiter.AllowStrict("signup:"+clientIP(r), signupMaxAttempts, signupWindow) {
		writeError(w, http.StatusTooManyRequests, "too many signup attempts")
		return
	}

	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ClinicName == "" {
		writeError(w, http.StatusBadRequest, "clinic_name is required")
		return
	}

	adminEmail := strings.ToLower(strings.TrimSpace(req.Email))
	result, err := h.provisioner.Provision(r.Context(), tenant.ProvisionRequest{
		ClinicName:       req.ClinicName,
		AdminEmail:       adminEmail,
		AdminSecret:      req.Password,
		AdminDisplayName: req.DisplayName,
		PlanSlug:         h.defaultPlan,
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSignupResponse(result, adminEmail))
}
