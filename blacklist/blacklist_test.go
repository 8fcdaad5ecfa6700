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

package blacklist

import (
	"context"
	"testing"
	"time"
)

type mockRepo struct {
	entries map[string]time.Time
}

func newMockRepo() *mockRepo {
	return &mockRepo{entries: map[string]time.Time{}}
}

func (m *mockRepo) Add(ctx context.Context, jti string, expiresAt time.Time) error {
	m.entries[jti] = expiresAt
	return nil
}

func (m *mockRepo) Contains(ctx context.Context, jti string) (bool, error) {
	_, ok := m.entries[jti]
	return ok, nil
}

func (m *mockRepo) DeleteExpired(ctx context.Context) error {
	now := time.Now()
	for jti, exp := range m.entries {
		if now.After(exp) {
			delete(m.entries, jti)
		}
	}
	return nil
}

func TestServiceRevokeThenIsRevoked(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	revoked, err := svc.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsRevoked() error = %v", err)
	}
	if revoked {
		t.Fatalf("IsRevoked() = true before Revoke()")
	}

	if err := svc.Revoke(ctx, "jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	revoked, err = svc.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsRevoked() error = %v", err)
	}
	if !revoked {
		t.Fatalf("IsRevoked() = false after Revoke()")
	}
}

func TestServiceRevokeIsIdempotent(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	if err := svc.Revoke(ctx, "jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if err := svc.Revoke(ctx, "jti-1", time.Now().Add(2*time.Hour)); err != nil {
		t.Fatalf("Revoke() second call error = %v", err)
	}

	revoked, err := svc.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("IsRevoked() error = %v", err)
	}
	if !revoked {
		t.Fatalf("IsRevoked() = false after repeated Revoke()")
	}
}
