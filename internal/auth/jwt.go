// Retriever - Asynchronous Search Orchestration Backend
// Copyright 2026 Tessera Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-ai/retriever

// Package auth verifies HS256 application tokens and carries the resulting
// identity through request contexts. Token issuance beyond short-lived
// guest sessions happens in an external identity service.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Roles understood by the authorization middleware.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
	RoleGuest = "guest"
)

// ErrInvalidToken covers every verification failure so callers cannot probe
// which check rejected a token.
var ErrInvalidToken = errors.New("invalid token")

// Context is the verified identity attached to a request.
type Context struct {
	Subject string
	Role    string
	Email   string
}

// Guest reports whether the principal holds a guest session.
func (c *Context) Guest() bool { return c.Role == RoleGuest }

// Admin reports whether the principal may use the admin surface.
func (c *Context) Admin() bool { return c.Role == RoleAdmin }

// FingerprintExtra is the identity contribution to the query fingerprint:
// guests share a pool, identified principals get per-subject keys.
func (c *Context) FingerprintExtra() map[string]any {
	extra := map[string]any{"guest": c.Guest()}
	if !c.Guest() {
		extra["subject"] = c.Subject
	}
	return extra
}

// claims extends the registered set with the application fields.
type claims struct {
	jwt.RegisteredClaims
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
}

// Manager signs and verifies application tokens.
type Manager struct {
	secret   []byte
	issuer   string
	audience string
	guestTTL time.Duration
}

// NewManager builds a Manager. The secret must already be validated by the
// config layer.
func NewManager(secret, issuer, audience string, guestTTL time.Duration) *Manager {
	return &Manager{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		guestTTL: guestTTL,
	}
}

// Issue mints a token for a principal. Used for guest sessions and tests;
// user and admin tokens normally come from the identity service sharing the
// same secret.
func (m *Manager) Issue(subject, role, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Role:  role,
		Email: email,
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// IssueGuest mints a short-lived guest token with a random pooled subject.
func (m *Manager) IssueGuest() (token string, expiresIn int, err error) {
	token, err = m.Issue("guest-"+uuid.NewString(), RoleGuest, "", m.guestTTL)
	if err != nil {
		return "", 0, err
	}
	return token, int(m.guestTTL.Seconds()), nil
}

// Verify checks signature, issuer, audience, expiry, and required claims,
// returning the identity on success.
func (m *Manager) Verify(tokenString string) (*Context, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &claims{},
		func(t *jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || c.Subject == "" || c.IssuedAt == nil {
		return nil, ErrInvalidToken
	}
	role := c.Role
	if role == "" {
		role = RoleUser
	}
	return &Context{Subject: c.Subject, Role: role, Email: c.Email}, nil
}
