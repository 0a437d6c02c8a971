package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aman-churiwal/media-gateway/internal/apperr"
	"github.com/aman-churiwal/media-gateway/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const serviceAudience = "media-gateway"

var errMissingSigningSecret = errors.New("jwt signing secret must be provided")

// Caller is an authenticated external system.
type Caller struct {
	Name     string
	Scope    string
	APIKeyID *uuid.UUID
	Method   string // "api_key" or "jwt"
}

// Allows reports whether the caller may use endpoints in scope. Admin callers may use anything.
func (c *Caller) Allows(scope string) bool {
	return c != nil && (c.Scope == scope || c.Scope == models.ScopeAdmin)
}

type serviceClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

type CallerAuthConfig struct {
	APIKeys   *APIKeyService
	JWTSecret []byte
	JWTIssuer string
	Clock     func() time.Time
}

// CallerAuthService accepts either a stored API key or an HS256 service token signed with the shared secret.
type CallerAuthService struct {
	keys   *APIKeyService
	secret []byte
	issuer string
	clock  func() time.Time
}

func NewCallerAuthService(cfg CallerAuthConfig) *CallerAuthService {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &CallerAuthService{
		keys:   cfg.APIKeys,
		secret: cfg.JWTSecret,
		issuer: cfg.JWTIssuer,
		clock:  clock,
	}
}

func looksLikeJWT(credential string) bool {
	return strings.Count(credential, ".") == 2
}

// Authenticate resolves a raw credential to a caller.
func (s *CallerAuthService) Authenticate(ctx context.Context, credential string) (*Caller, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, apperr.ErrMissingCredential
	}

	if looksLikeJWT(credential) && len(s.secret) > 0 {
		return s.authenticateJWT(credential)
	}

	apiKey, err := s.keys.Validate(ctx, credential)
	if err != nil {
		return nil, err
	}
	if apiKey == nil || !apiKey.IsActive {
		return nil, fmt.Errorf("api key: %w", apperr.ErrUnauthorized)
	}

	s.keys.TouchLastUsed(ctx, apiKey.ID)
	id := apiKey.ID
	return &Caller{Name: apiKey.Name, Scope: apiKey.Scope, APIKeyID: &id, Method: "api_key"}, nil
}

func (s *CallerAuthService) authenticateJWT(tokenString string) (*Caller, error) {
	claims := &serviceClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(serviceAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock),
	)
	if err != nil {
		return nil, fmt.Errorf("service token: %w: %w", apperr.ErrUnauthorized, err)
	}
	if claims.Subject == "" || claims.Scope == "" {
		return nil, fmt.Errorf("service token without subject or scope: %w", apperr.ErrUnauthorized)
	}

	return &Caller{Name: claims.Subject, Scope: claims.Scope, Method: "jwt"}, nil
}

// IssueServiceToken signs a short-lived token for another internal service.
func (s *CallerAuthService) IssueServiceToken(subject, scope string, ttl time.Duration) (string, error) {
	if len(s.secret) == 0 {
		return "", errMissingSigningSecret
	}

	now := s.clock().UTC()
	claims := serviceClaims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			Audience:  []string{serviceAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
