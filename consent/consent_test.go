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

package consent

import (
	"context"
	"testing"
	"time"
)

type mockRepo struct {
	grants map[string]*Grant
}

func newMockRepo() *mockRepo {
	return &mockRepo{grants: map[string]*Grant{}}
}

func key(userID, clientID string) string { return userID + "|" + clientID }

func (m *mockRepo) Get(ctx context.Context, userID, clientID string) (*Grant, error) {
	g, ok := m.grants[key(userID, clientID)]
	if !ok {
		return nil, ErrGrantNotFound
	}
	return g, nil
}

func (m *mockRepo) Upsert(ctx context.Context, g *Grant) error {
	m.grants[key(g.UserID, g.ClientID)] = g
	return nil
}

func (m *mockRepo) Revoke(ctx context.Context, userID, clientID string) error {
	g, ok := m.grants[key(userID, clientID)]
	if !ok {
		return ErrGrantNotFound
	}
	now := time.Now()
	g.RevokedAt = &now
	return nil
}

func TestGrantCoversSubsetOfScopes(t *testing.T) {
	g := &Grant{Scopes: []string{"openid", "profile", "email"}}
	if !g.Covers([]string{"openid", "profile"}) {
		t.Errorf("Covers() = false, want true for subset request")
	}
	if g.Covers([]string{"openid", "address"}) {
		t.Errorf("Covers() = true, want false for scope outside grant")
	}
}

func TestGrantExpiredDoesNotCover(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	g := &Grant{Scopes: []string{"openid"}, ExpiresAt: &past}
	if g.Covers([]string{"openid"}) {
		t.Errorf("Covers() = true for an expired grant")
	}
}

func TestGrantRevokedDoesNotCover(t *testing.T) {
	now := time.Now()
	g := &Grant{Scopes: []string{"openid"}, RevokedAt: &now}
	if g.Covers([]string{"openid"}) {
		t.Errorf("Covers() = true for a revoked grant")
	}
}

func TestServiceResolveReturnsNilWithoutError(t *testing.T) {
	svc := NewService(newMockRepo())
	g, err := svc.Resolve(context.Background(), "u1", "c1")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if g != nil {
		t.Errorf("Resolve() = %v, want nil for no grant", g)
	}
}

func TestServiceRememberThenResolve(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	if err := svc.Remember(ctx, "u1", "c1", []string{"openid", "profile"}); err != nil {
		t.Fatalf("Remember() error = %v", err)
	}

	g, err := svc.Resolve(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if g == nil || !g.Covers([]string{"openid"}) {
		t.Errorf("Resolve() = %v, want a grant covering openid", g)
	}
}

func TestServiceRevoke(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	if err := svc.Remember(ctx, "u1", "c1", []string{"openid"}); err != nil {
		t.Fatalf("Remember() error = %v", err)
	}
	if err := svc.Revoke(ctx, "u1", "c1"); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	g, err := svc.Resolve(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if g == nil || g.Covers([]string{"openid"}) {
		t.Errorf("Resolve() after Revoke() still covers scopes: %v", g)
	}
}
