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

// Package blacklist tracks revoked token identifiers (jti) so that a
// revoked-but-not-yet-expired token is rejected by introspection and
// bearer checks even though its signature still verifies.
package blacklist

import (
	"context"
	"time"
)

// Entry is a single blacklisted jti. Rows may be pruned once Now() is
// past ExpiresAt, since the signature itself will fail validation by then.
type Entry struct {
	JTI       string
	ExpiresAt time.Time
}

// Repository defines persistence for the blacklist.
//
// Purpose: Abstraction over the append-only revoked-jti set.
// Domain: OAuth2
type Repository interface {
	// Add inserts jti with the given expiry. Adding an already-present jti
	// is a no-op (revocation is idempotent).
	Add(ctx context.Context, jti string, expiresAt time.Time) error

	// Contains reports whether jti is currently blacklisted.
	Contains(ctx context.Context, jti string) (bool, error)

	// DeleteExpired removes rows whose ExpiresAt has passed.
	DeleteExpired(ctx context.Context) error
}

// Service wraps a Repository with the narrow operations the protocol
// engine and introspection endpoint need.
type Service struct {
	repo Repository
}

// NewService creates a blacklist service backed by repo.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Revoke blacklists jti until expiresAt.
func (s *Service) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	return s.repo.Add(ctx, jti, expiresAt)
}

// IsRevoked reports whether jti has been blacklisted.
func (s *Service) IsRevoked(ctx context.Context, jti string) (bool, error) {
	return s.repo.Contains(ctx, jti)
}
