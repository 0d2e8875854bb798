package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/yourorg/cliniccore/internal/domain"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims is the JWT payload for both access and refresh tokens. Tenant
// identity is baked into every token at issuance: a token is only ever
// valid for the tenant it was minted for.
type Claims struct {
	UserID     string `json:"uid"`
	Email      string `json:"email"`
	TenantID   string `json:"tid"`
	TenantSlug string `json:"tslug"`
	TokenType  string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenManager issues and validates tenant-bound JWTs.
type TokenManager struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenManager(secret string, accessTTL, refreshTTL time.Duration) *TokenManager {
	return &TokenManager{
		secret:     []byte(secret),
		issuer:     "cliniccore",
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64 // Access token lifetime in seconds
}

// GeneratePair mints a new access/refresh token pair for a user.
func (tm *TokenManager) GeneratePair(user *domain.User, tenantSlug string) (*TokenPair, error) {
	access, err := tm.generate(user, tenantSlug, TokenTypeAccess, tm.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}
	refresh, err := tm.generate(user, tenantSlug, TokenTypeRefresh, tm.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(tm.accessTTL.Seconds()),
	}, nil
}

func (tm *TokenManager) generate(user *domain.User, tenantSlug, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:     user.ID,
		Email:      user.Email,
		TenantID:   user.TenantID,
		TenantSlug: tenantSlug,
		TokenType:  tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tm.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.secret)
}

// ValidateAccess parses and verifies an access token.
func (tm *TokenManager) ValidateAccess(tokenString string) (*Claims, error) {
	return tm.validate(tokenString, TokenTypeAccess)
}

// ValidateRefresh parses and verifies a refresh token.
func (tm *TokenManager) ValidateRefresh(tokenString string) (*Claims, error) {
	return tm.validate(tokenString, TokenTypeRefresh)
}

func (tm *TokenManager) validate(tokenString, wantType string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return tm.secret, nil
	}, jwt.WithIssuer(tm.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, domain.ErrUnauthorized
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, domain.ErrUnauthorized
	}
	if claims.TokenType != wantType {
		return nil, domain.ErrUnauthorized
	}
	if claims.TenantID == "" || claims.UserID == "" {
		return nil, domain.ErrUnauthorized
	}
	return claims, nil
}

// ExtractToken pulls a bearer token from the Authorization header.
func ExtractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
