// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/opentrusty/opentrusty-core/crypto"
	"github.com/opentrusty/opentrusty-core/id"
)

// claims is the registered claim set of a session JWT: iss, sub, aud, exp,
// iat, jti. It carries no private claims; AuthContext scopes/permissions
// are re-resolved per request from the Permission Evaluator rather than
// baked into the token, so a role change takes effect on the next request
// instead of waiting for token expiry.
type claims = jwt.RegisteredClaims

// Service provides session management business logic.
//
// Purpose: Implementation of session lifecycle and validation rules.
// Domain: Session
//
// A session is represented externally as a signed JWT (iss, sub, aud,
// exp, iat, jti) so the same artifact can be presented either as a
// cookie value or an Authorization: Bearer header; only its SHA-256 hash
// is stored, alongside the backing Session row the jti identifies.
// Validating a session therefore requires both a valid signature (the
// client cannot forge or extend one) and a live, matching database row
// (the server can revoke one before its natural expiry).
type Service struct {
	repo        Repository
	signer      *crypto.Signer
	issuer      string
	uiAudience  string
	lifetime    time.Duration
	idleTimeout time.Duration
}

// NewService creates a new session service. signer mints and verifies the
// RS256 session JWTs; issuer and uiAudience are stamped into every token's
// iss/aud claims.
func NewService(repo Repository, signer *crypto.Signer, issuer, uiAudience string, lifetime, idleTimeout time.Duration) *Service {
	return &Service{
		repo:        repo,
		signer:      signer,
		issuer:      issuer,
		uiAudience:  uiAudience,
		lifetime:    lifetime,
		idleTimeout: idleTimeout,
	}
}

// Create mints a new signed session JWT for a user and persists its
// backing Session row.
//
// Purpose: Initializes a new persistent session after successful authentication.
// Domain: Session
// Audited: No
// Errors: System errors
// Create returns the signed session JWT exactly once; only its hash is
// persisted, so it must be handed to the caller (to set as a cookie or
// Authorization header) immediately and never logged.
func (s *Service) Create(ctx context.Context, tenantID *string, userID, ipAddress, userAgent string) (*Session, string, error) {
	jti := id.NewUUIDv7()
	now := time.Now()
	expiresAt := now.Add(s.lifetime)

	token, err := s.signer.Sign(ctx, &claims{
		Issuer:    s.issuer,
		Subject:   userID,
		Audience:  jwt.ClaimStrings{s.uiAudience},
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(now),
		ID:        jti,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to sign session token: %w", err)
	}

	session := &Session{
		ID:         jti,
		TenantID:   tenantID,
		UserID:     userID,
		TokenHash:  crypto.HashToken(token),
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
		LastSeenAt: now,
	}

	if err := s.repo.Create(ctx, session); err != nil {
		return nil, "", fmt.Errorf("failed to create session: %w", err)
	}

	return session, token, nil
}

// Get verifies a session JWT's signature and audience, then retrieves and
// validates the Session row its jti identifies. Callers that also need to
// reject blacklisted jtis (C2) must check that separately; this package
// has no dependency on the blacklist package.
func (s *Service) Get(ctx context.Context, token string) (*Session, error) {
	var c claims
	if err := s.signer.Verify(ctx, token, &c, s.uiAudience); err != nil {
		return nil, ErrSessionInvalid
	}

	tokenHash := crypto.HashToken(token)

	session, err := s.repo.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	if session.ID != c.ID || session.UserID != c.Subject {
		return nil, ErrSessionInvalid
	}

	if session.IsExpired() {
		s.repo.Delete(ctx, tokenHash)
		return nil, ErrSessionExpired
	}

	if session.IsIdle(s.idleTimeout) {
		s.repo.Delete(ctx, tokenHash)
		return nil, ErrSessionExpired
	}

	return session, nil
}

// Refresh refreshes a session's last seen time.
//
// Purpose: Keeps a session alive by updating its activity timestamp.
// Domain: Session
// Audited: No
// Errors: ErrSessionNotFound, ErrSessionExpired, ErrSessionInvalid
func (s *Service) Refresh(ctx context.Context, token string) error {
	session, err := s.Get(ctx, token)
	if err != nil {
		return err
	}

	session.LastSeenAt = time.Now()
	return s.repo.Update(ctx, session)
}

// Rotate exchanges a still-valid session token for a fresh one: the
// presented session is destroyed and a new row (and signed JWT) is minted
// for the same subject, resetting both the lifetime and idle clocks. The
// old token stops validating immediately since its backing row is gone.
func (s *Service) Rotate(ctx context.Context, token string) (*Session, string, error) {
	current, err := s.Get(ctx, token)
	if err != nil {
		return nil, "", err
	}

	if err := s.repo.Delete(ctx, crypto.HashToken(token)); err != nil {
		return nil, "", fmt.Errorf("failed to retire session: %w", err)
	}

	return s.Create(ctx, current.TenantID, current.UserID, current.IPAddress, current.UserAgent)
}

// Destroy destroys a session identified by its signed JWT, regardless of
// whether the JWT still verifies (a session the caller wants gone should
// be deletable even past its own expiry).
func (s *Service) Destroy(ctx context.Context, token string) error {
	return s.repo.Delete(ctx, crypto.HashToken(token))
}

// DestroyAllForUser destroys all sessions for a user
func (s *Service) DestroyAllForUser(ctx context.Context, userID string) error {
	return s.repo.DeleteByUserID(ctx, userID)
}

// CleanupExpired removes all expired sessions
func (s *Service) CleanupExpired(ctx context.Context) error {
	return s.repo.DeleteExpired(ctx)
}
