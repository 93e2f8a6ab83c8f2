package service

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"marketplace-settlement/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var knownRoles = []string{ports.RoleCustomer, ports.RoleVendor, ports.RoleAdmin}

// accessClaims is the token body shared with the identity service.
type accessClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTTokenService verifies HS256 access tokens. Generate exists for local
// tooling and tests; production tokens come from the identity service.
type JWTTokenService struct {
	key    []byte
	ttl    time.Duration
	issuer string
	parser *jwt.Parser
}

func NewJWTTokenService(secret string, ttl time.Duration, issuer string) *JWTTokenService {
	return &JWTTokenService{
		key:    []byte(secret),
		ttl:    ttl,
		issuer: issuer,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(5*time.Second),
		),
	}
}

// Generate signs a token for subject acting as role.
func (s *JWTTokenService) Generate(subject uuid.UUID, role string) (string, time.Time, error) {
	issued := time.Now()
	expires := issued.Add(s.ttl)
	claims := accessClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expires, nil
}

// Validate checks signature, issuer and expiry and returns the caller.
func (s *JWTTokenService) Validate(token string) (*ports.TokenClaims, error) {
	var claims accessClaims
	if _, err := s.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return s.key, nil
	}); err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}

	subject, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("access token subject: %w", err)
	}
	if !slices.Contains(knownRoles, claims.Role) {
		return nil, fmt.Errorf("access token role %q: %w", claims.Role, errUnknownRole)
	}
	return &ports.TokenClaims{Subject: subject, Role: claims.Role}, nil
}

var errUnknownRole = errors.New("unknown role")
