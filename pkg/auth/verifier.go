package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/askdb-inc/askdb-engine/pkg/config"
)

// TokenVerifier validates a bearer token and returns its claims.
type TokenVerifier interface {
	ValidateToken(tokenString string) (*Claims, error)
}

// Verifier validates JWTs in one of three modes: HMAC with a shared secret,
// JWKS lookup per whitelisted issuer, or unverified parsing when
// verification is disabled for local development.
type Verifier struct {
	enableVerification bool
	hmacSecret         []byte
	jwks               map[string]keyfunc.Keyfunc
}

// NewVerifier creates a verifier from the auth configuration. A configured
// JWT secret selects HMAC mode; otherwise JWKS endpoints are fetched at
// startup.
func NewVerifier(cfg *config.AuthConfig) (*Verifier, error) {
	v := &Verifier{
		enableVerification: cfg.EnableVerification,
		jwks:               make(map[string]keyfunc.Keyfunc),
	}

	if !cfg.EnableVerification {
		return v, nil
	}

	if cfg.JWTSecret != "" {
		v.hmacSecret = []byte(cfg.JWTSecret)
		return v, nil
	}

	if len(cfg.JWKSEndpoints) == 0 {
		return nil, errors.New("auth verification enabled but neither JWT secret nor JWKS endpoints configured")
	}
	for issuer, jwksURL := range cfg.JWKSEndpoints {
		jwks, err := keyfunc.NewDefaultCtx(context.Background(), []string{jwksURL})
		if err != nil {
			return nil, fmt.Errorf("failed to create JWKS client for %s: %w", issuer, err)
		}
		v.jwks[issuer] = jwks
	}
	return v, nil
}

// ValidateToken validates a JWT and returns the claims.
func (v *Verifier) ValidateToken(tokenString string) (*Claims, error) {
	if !v.enableVerification {
		return v.parseUnverifiedToken(tokenString)
	}
	if v.hmacSecret != nil {
		return v.validateHMAC(tokenString)
	}
	return v.validateJWKS(tokenString)
}

func (v *Verifier) validateHMAC(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.hmacSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	return claims, nil
}

func (v *Verifier) validateJWKS(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		claims, ok := token.Claims.(*Claims)
		if !ok {
			return nil, errors.New("invalid claims type")
		}

		jwks, exists := v.jwks[claims.Issuer]
		if !exists {
			return nil, fmt.Errorf("unauthorized issuer: %s", claims.Issuer)
		}
		return jwks.KeyfuncCtx(context.Background())(token)
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	return claims, nil
}

// parseUnverifiedToken parses a JWT without verifying the signature. Used
// in development mode when verification is disabled.
func (v *Verifier) parseUnverifiedToken(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	token, _, err := parser.ParseUnverified(tokenString, &Claims{})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	return claims, nil
}

var _ TokenVerifier = (*Verifier)(nil)
