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

package middleware

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	jose "gopkg.in/go-jose/go-jose.v2"

	"github.com/golang-jwt/jwt/v5"
)

// Errors surfaced by private_key_jwt verification.
var (
	ErrJWKSFetchFailed          = errors.New("middleware: failed to fetch client jwks")
	ErrJWKSKeyNotFound          = errors.New("middleware: client assertion kid not found in jwks")
	ErrAssertionInvalid         = errors.New("middleware: client assertion failed verification")
	ErrAssertionSubjectMismatch = errors.New("middleware: client assertion sub/iss does not match client_id")
)

type jwksCacheEntry struct {
	set       *jose.JSONWebKeySet
	expiresAt time.Time
}

// JWKSCache is a process-wide, per-URI-TTL, single-flight-protected cache
// of clients' own JWKS documents, used to verify private_key_jwt client
// assertions without hammering a flaky client endpoint under concurrent
// token requests.
type JWKSCache struct {
	httpClient *http.Client
	ttl        time.Duration

	mu      sync.RWMutex
	entries map[string]jwksCacheEntry

	group singleflight.Group
}

// NewJWKSCache builds a cache with the given per-entry TTL and outbound
// HTTP timeout.
func NewJWKSCache(ttl, httpTimeout time.Duration) *JWKSCache {
	return &JWKSCache{
		httpClient: &http.Client{Timeout: httpTimeout},
		ttl:        ttl,
		entries:    make(map[string]jwksCacheEntry),
	}
}

func (c *JWKSCache) fetch(ctx context.Context, jwksURI string) (*jose.JSONWebKeySet, error) {
	c.mu.RLock()
	entry, ok := c.entries[jwksURI]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.set, nil
	}

	v, err, _ := c.group.Do(jwksURI, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURI, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: status %d", ErrJWKSFetchFailed, resp.StatusCode)
		}

		var set jose.JSONWebKeySet
		if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
		}

		c.mu.Lock()
		c.entries[jwksURI] = jwksCacheEntry{set: &set, expiresAt: time.Now().Add(c.ttl)}
		c.mu.Unlock()

		return &set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*jose.JSONWebKeySet), nil
}

// VerifyAssertion verifies a private_key_jwt client_assertion: its
// signature against clientID's published jwksURI, and that iss/sub both
// equal clientID and aud contains audience.
func (c *JWKSCache) VerifyAssertion(ctx context.Context, assertion, clientID, jwksURI, audience string) error {
	claims := jwt.RegisteredClaims{}

	_, err := jwt.ParseWithClaims(assertion, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("middleware: unsupported client assertion algorithm %v", t.Header["alg"])
		}

		kid, _ := t.Header["kid"].(string)

		set, err := c.fetch(ctx, jwksURI)
		if err != nil {
			return nil, err
		}

		for _, k := range set.Keys {
			if kid != "" && k.KeyID != kid {
				continue
			}
			pub, ok := k.Key.(*rsa.PublicKey)
			if !ok {
				continue
			}
			return pub, nil
		}
		return nil, ErrJWKSKeyNotFound
	}, jwt.WithAudience(audience))

	if err != nil {
		return fmt.Errorf("%w: %v", ErrAssertionInvalid, err)
	}

	if claims.Issuer != clientID || claims.Subject != clientID {
		return ErrAssertionSubjectMismatch
	}

	return nil
}
