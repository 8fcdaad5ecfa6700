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

package crypto

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/opentrusty/opentrusty-core/id"
)

// Token signing/verification failure modes, distinguished so the protocol
// layer can map each to the right OAuth error.
var (
	ErrInvalidSignature = errors.New("crypto: invalid token signature")
	ErrExpiredToken     = errors.New("crypto: token has expired")
	ErrMalformedToken   = errors.New("crypto: malformed token")
)

// Signer mints and verifies RS256 JWTs against a process-wide signing-key
// cache backed by JWKRepository. It is adapted from the HS256
// NewWithClaims/ParseWithClaims idiom used elsewhere in the ecosystem,
// generalized to asymmetric keys with kid-directed lookup.
type Signer struct {
	repo   JWKRepository
	issuer string

	mu      sync.RWMutex
	active  *SigningKey
	rotated chan struct{} // closed and replaced on every rotation
}

// NewSigner constructs a Signer bound to the given repository and issuer
// claim value.
func NewSigner(repo JWKRepository, issuer string) *Signer {
	return &Signer{repo: repo, issuer: issuer, rotated: make(chan struct{})}
}

// RotationSignal returns a channel that is closed the next time a
// rotation completes. Callers that want to react to rotation (e.g. to
// drop a stale in-memory key reference) should re-call RotationSignal
// after it fires.
func (s *Signer) RotationSignal() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rotated
}

// Bootstrap generates the first ACTIVE signing key if none exists.
func (s *Signer) Bootstrap(ctx context.Context) error {
	_, err := s.repo.GetActive(ctx)
	if err == nil {
		return nil
	}
	return s.Rotate(ctx)
}

// Rotate retires the current ACTIVE key (if any) and installs a new one.
// Serialization across concurrent rotations is the repository's
// responsibility (an exclusive row lock in the Postgres implementation).
func (s *Signer) Rotate(ctx context.Context) error {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("crypto: failed to generate signing key: %w", err)
	}

	if err := s.repo.RetireActive(ctx); err != nil {
		return fmt.Errorf("crypto: failed to retire active key: %w", err)
	}

	key := &SigningKey{
		Kid:        id.NewUUIDv7(),
		Alg:        "RS256",
		PublicKey:  &priv.PublicKey,
		PrivateKey: priv,
		Status:     KeyStatusActive,
		CreatedAt:  time.Now(),
	}
	if err := s.repo.Insert(ctx, key); err != nil {
		return fmt.Errorf("crypto: failed to insert new signing key: %w", err)
	}

	s.mu.Lock()
	s.active = key
	old := s.rotated
	s.rotated = make(chan struct{})
	s.mu.Unlock()
	close(old)

	return nil
}

func (s *Signer) currentActive(ctx context.Context) (*SigningKey, error) {
	s.mu.RLock()
	cached := s.active
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	key, err := s.repo.GetActive(ctx)
	if err != nil {
		return nil, ErrNoActiveKey
	}

	s.mu.Lock()
	s.active = key
	s.mu.Unlock()
	return key, nil
}

// Sign produces a compact RS256 JWT for claims, which must embed
// jwt.RegisteredClaims (directly or via struct embedding) so Issuer,
// IssuedAt, and ExpiresAt are honored.
func (s *Signer) Sign(ctx context.Context, claims jwt.Claims) (string, error) {
	key, err := s.currentActive(ctx)
	if err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = key.Kid

	signed, err := token.SignedString(key.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("crypto: failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates tokenString into claims (a pointer to a
// jwt.Claims implementation), checking signature, kid, algorithm, and the
// registered time-based claims. A non-empty audience is required to be
// present in the token's audience list; pass "" only when the caller has
// no audience expectation (e.g. verifying a token of unknown provenance
// before deciding what it is).
func (s *Signer) Verify(ctx context.Context, tokenString string, claims jwt.Claims, audience string) error {
	opts := []jwt.ParserOption{jwt.WithIssuer(s.issuer)}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}

	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("%w: expected RSA, got %v", ErrAlgMismatch, t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrMalformedToken
		}
		key, err := s.repo.GetByKid(ctx, kid)
		if err != nil {
			return nil, ErrUnknownKid
		}
		return key.PublicKey, nil
	}, opts...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		if errors.Is(err, ErrUnknownKid) || errors.Is(err, ErrAlgMismatch) || errors.Is(err, ErrMalformedToken) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !parsed.Valid {
		return ErrInvalidSignature
	}
	return nil
}
