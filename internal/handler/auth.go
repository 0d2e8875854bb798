package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/yourorg/cliniccore/internal/domain"
	"github.com/yourorg/cliniccore/internal/security/middleware"
	"github.com/yourorg/cliniccore/internal/security/ratelimit"
	"github.com/yourorg/cliniccore/internal/service"
)

// Login attempts per identifier within the strict window.
const (
	loginMaxAttempts = 5
	loginWindow      = time.Minute
)

// AuthHandler serves the authentication endpoints.
type AuthHandler struct {
	auth    *service.AuthService
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

func NewAuthHandler(auth *service.AuthService, limiter *ratelimit.Limiter, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{auth: auth, limiter: limiter, logger: logger}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	User         userResponse `json:"user"`
}

type userResponse struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	DisplayName string   `json:"display_name"`
	TenantID    string   `json:"tenant_id"`
	TenantSlug  string   `json:"tenant_slug"`
	Roles       []string `json:"roles"`
}

func newTokenResponse(result *service.LoginResult) tokenResponse {
	return tokenResponse{
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    result.Tokens.ExpiresIn,
		User: userResponse{
			ID:          result.User.ID,
			Email:       result.User.Email,
			DisplayName: result.User.DisplayName,
			TenantID:    result.Tenant.ID,
			TenantSlug:  result.Tenant.Slug,
			Roles:       result.Roles,
		},
	}
}

// Login handles POST /api/auth/login. Email and password only; the tenant
// is derived from the directory, never from the request.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	if !h.limiter.AllowStrict("login:"+req.Email+":"+clientIP(r), loginMaxAttempts, loginWindow) {
		writeError(w, http.StatusTooManyRequests, "too many login attempts")
		return
	}

	result, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(result))
}

// Refresh handles POST /api/auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	result, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(result))
}

// Logout handles POST /api/auth/logout. Requires authentication.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeDomainError(w, h.logger, domain.ErrUnauthorized)
		return
	}
	if err := h.auth.Logout(r.Context(), principal); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// Me handles GET /api/auth/me. Requires authentication.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeDomainError(w, h.logger, domain.ErrUnauthorized)
		return
	}

	user, roles, err := h.auth.Profile(r.Context(), principal)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		TenantID:    principal.TenantID,
		TenantSlug:  principal.TenantSlug,
		Roles:       roles,
	})
}
