// Package auth provides bearer-token authentication for the engine's HTTP
// surface. Tokens are verified locally with an HMAC secret or against JWKS
// endpoints of whitelisted issuers.
package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// Roles recognized by the engine. Admin unlocks the index management
// endpoints; everything else is regular.
const (
	RoleRegular = "regular"
	RoleAdmin   = "admin"
)

// Claims is the JWT claims structure the engine accepts.
type Claims struct {
	jwt.RegisteredClaims
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// Principal is the authenticated caller as the rest of the engine sees it.
// Handlers and services never touch raw claims.
type Principal struct {
	Subject string
	Email   string
	Role    string
}

// IsAdmin reports whether the principal carries the admin role.
func (p *Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Principal reduces the claims to an opaque principal. Any "admin" entry in
// the roles claim grants admin; everything else is regular.
func (c *Claims) Principal() *Principal {
	role := RoleRegular
	for _, r := range c.Roles {
		if r == RoleAdmin {
			role = RoleAdmin
			break
		}
	}
	return &Principal{
		Subject: c.Subject,
		Email:   c.Email,
		Role:    role,
	}
}
