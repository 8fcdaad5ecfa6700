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

// Package consent implements the "remember this decision" grant store:
// once a user approves a client for a set of scopes, a subsequent
// /authorize for a subset of those scopes skips the consent prompt.
package consent

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrGrantNotFound is returned when no ConsentGrant exists for a
// (userId, clientId) pair.
var ErrGrantNotFound = errors.New("consent grant not found")

// Grant records that a user approved a client for a set of scopes.
//
// Purpose: Entity backing the OAuth2 consent-skip optimization.
// Domain: OAuth2
// Invariants: Unique per (UserID, ClientID). A grant past ExpiresAt or
// with RevokedAt set no longer covers any scope.
type Grant struct {
	UserID    string
	ClientID  string
	Scopes    []string
	GrantedAt time.Time
	ExpiresAt *time.Time
	RevokedAt *time.Time
}

// Covers reports whether this grant is currently valid and covers every
// scope in requested.
func (g *Grant) Covers(requested []string) bool {
	if g.RevokedAt != nil {
		return false
	}
	if g.ExpiresAt != nil && time.Now().After(*g.ExpiresAt) {
		return false
	}

	granted := make(map[string]struct{}, len(g.Scopes))
	for _, s := range g.Scopes {
		granted[s] = struct{}{}
	}
	for _, s := range requested {
		if s == "" {
			continue
		}
		if _, ok := granted[s]; !ok {
			return false
		}
	}
	return true
}

// SplitScope splits a space-delimited OAuth2 scope parameter.
func SplitScope(scope string) []string {
	return strings.Fields(scope)
}

// Repository defines persistence for consent grants.
//
// Purpose: Abstraction over the consent_grants table.
// Domain: OAuth2
type Repository interface {
	// Get retrieves the grant for (userID, clientID), or ErrGrantNotFound.
	Get(ctx context.Context, userID, clientID string) (*Grant, error)

	// Upsert stores g, replacing any existing grant for the same
	// (UserID, ClientID) pair. Used both to create a new grant and to
	// widen an existing one when the user approves additional scopes.
	Upsert(ctx context.Context, g *Grant) error

	// Revoke marks the grant for (userID, clientID) revoked.
	Revoke(ctx context.Context, userID, clientID string) error
}

// Service answers "does this request still need a consent prompt".
type Service struct {
	repo Repository
}

// NewService creates a consent service backed by repo.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Resolve returns the existing grant for (userID, clientID), or nil if
// none exists. It never returns ErrGrantNotFound — callers check for a
// nil grant instead, since "no grant yet" is an expected outcome here.
func (s *Service) Resolve(ctx context.Context, userID, clientID string) (*Grant, error) {
	g, err := s.repo.Get(ctx, userID, clientID)
	if err != nil {
		if errors.Is(err, ErrGrantNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return g, nil
}

// Remember persists that userID approved clientID for scopes, called
// when the consent collaborator reports the user chose to remember the
// decision.
func (s *Service) Remember(ctx context.Context, userID, clientID string, scopes []string) error {
	return s.repo.Upsert(ctx, &Grant{
		UserID:    userID,
		ClientID:  clientID,
		Scopes:    scopes,
		GrantedAt: time.Now(),
	})
}

// Revoke withdraws a previously remembered grant.
func (s *Service) Revoke(ctx context.Context, userID, clientID string) error {
	return s.repo.Revoke(ctx, userID, clientID)
}
