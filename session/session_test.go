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
	"errors"
	"testing"
	"time"

	"github.com/opentrusty/opentrusty-core/crypto"
)

// memJWKRepo backs the test Signer without a database.
type memJWKRepo struct {
	keys map[string]*crypto.SigningKey
}

func newMemJWKRepo() *memJWKRepo { return &memJWKRepo{keys: map[string]*crypto.SigningKey{}} }

func (m *memJWKRepo) Insert(ctx context.Context, key *crypto.SigningKey) error {
	m.keys[key.Kid] = key
	return nil
}

func (m *memJWKRepo) GetActive(ctx context.Context) (*crypto.SigningKey, error) {
	for _, k := range m.keys {
		if k.Status == crypto.KeyStatusActive {
			return k, nil
		}
	}
	return nil, crypto.ErrNoActiveKey
}

func (m *memJWKRepo) GetByKid(ctx context.Context, kid string) (*crypto.SigningKey, error) {
	k, ok := m.keys[kid]
	if !ok {
		return nil, crypto.ErrUnknownKid
	}
	return k, nil
}

func (m *memJWKRepo) ListPublishable(ctx context.Context, retainRetiredFor time.Duration) ([]*crypto.SigningKey, error) {
	var out []*crypto.SigningKey
	for _, k := range m.keys {
		out = append(out, k)
	}
	return out, nil
}

func (m *memJWKRepo) RetireActive(ctx context.Context) error { return nil }

func newTestService(t *testing.T, repo Repository) *Service {
	t.Helper()
	signer := crypto.NewSigner(newMemJWKRepo(), "https://issuer.test")
	if err := signer.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	return NewService(repo, signer, "https://issuer.test", "ui-audience", time.Hour, 15*time.Minute)
}

type mockSessionRepository struct {
	byTokenHash map[string]*Session
	byUser      map[string][]string
}

func newMockSessionRepository() *mockSessionRepository {
	return &mockSessionRepository{
		byTokenHash: map[string]*Session{},
		byUser:      map[string][]string{},
	}
}

func (m *mockSessionRepository) Create(ctx context.Context, sess *Session) error {
	m.byTokenHash[sess.TokenHash] = sess
	m.byUser[sess.UserID] = append(m.byUser[sess.UserID], sess.TokenHash)
	return nil
}

func (m *mockSessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	sess, ok := m.byTokenHash[tokenHash]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (m *mockSessionRepository) Update(ctx context.Context, sess *Session) error {
	if _, ok := m.byTokenHash[sess.TokenHash]; !ok {
		return ErrSessionNotFound
	}
	m.byTokenHash[sess.TokenHash] = sess
	return nil
}

func (m *mockSessionRepository) Delete(ctx context.Context, tokenHash string) error {
	delete(m.byTokenHash, tokenHash)
	return nil
}

func (m *mockSessionRepository) DeleteByUserID(ctx context.Context, userID string) error {
	for _, th := range m.byUser[userID] {
		delete(m.byTokenHash, th)
	}
	delete(m.byUser, userID)
	return nil
}

func (m *mockSessionRepository) DeleteExpired(ctx context.Context) error {
	for th, sess := range m.byTokenHash {
		if sess.IsExpired() {
			delete(m.byTokenHash, th)
		}
	}
	return nil
}

func TestServiceCreateReturnsTokenOnceAndPersistsHashOnly(t *testing.T) {
	repo := newMockSessionRepository()
	svc := newTestService(t, repo)

	sess, token, err := svc.Create(context.Background(), nil, "user-1", "127.0.0.1", "test-agent")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if token == "" {
		t.Fatalf("Create() returned an empty plaintext token")
	}
	if sess.TokenHash == "" {
		t.Fatalf("Create() did not persist a token hash")
	}
	if sess.TokenHash == token {
		t.Fatalf("Create() persisted the plaintext token instead of its hash")
	}

	got, err := svc.Get(context.Background(), token)
	if err != nil {
		t.Fatalf("Get() error = %v, want nil", err)
	}
	if got.ID != sess.ID {
		t.Fatalf("Get() returned session %q, want %q", got.ID, sess.ID)
	}
}

func TestServiceGetUnknownToken(t *testing.T) {
	svc := newTestService(t, newMockSessionRepository())

	if _, err := svc.Get(context.Background(), "not-a-real-token"); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("Get() error = %v, want ErrSessionInvalid for an unverifiable token", err)
	}
}

func TestServiceGetExpiredSessionIsDeleted(t *testing.T) {
	repo := newMockSessionRepository()
	svc := newTestService(t, repo)

	sess, token, err := svc.Create(context.Background(), nil, "user-1", "127.0.0.1", "test-agent")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	sess.ExpiresAt = time.Now().Add(-time.Minute)
	repo.byTokenHash[sess.TokenHash] = sess

	if _, err := svc.Get(context.Background(), token); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("Get() error = %v, want ErrSessionExpired", err)
	}
	if _, err := repo.GetByTokenHash(context.Background(), sess.TokenHash); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expired session was not deleted from repository")
	}
}

func TestServiceGetIdleSessionIsDeleted(t *testing.T) {
	repo := newMockSessionRepository()
	svc := newTestService(t, repo)

	sess, token, err := svc.Create(context.Background(), nil, "user-1", "127.0.0.1", "test-agent")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	sess.LastSeenAt = time.Now().Add(-time.Hour)
	repo.byTokenHash[sess.TokenHash] = sess

	if _, err := svc.Get(context.Background(), token); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("Get() error = %v, want ErrSessionExpired for idle session", err)
	}
}

func TestServiceRefreshUpdatesLastSeen(t *testing.T) {
	repo := newMockSessionRepository()
	svc := newTestService(t, repo)

	sess, token, err := svc.Create(context.Background(), nil, "user-1", "127.0.0.1", "test-agent")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	original := sess.LastSeenAt
	time.Sleep(time.Millisecond)

	if err := svc.Refresh(context.Background(), token); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	updated, err := repo.GetByTokenHash(context.Background(), sess.TokenHash)
	if err != nil {
		t.Fatalf("GetByTokenHash() error = %v", err)
	}
	if !updated.LastSeenAt.After(original) {
		t.Fatalf("Refresh() did not advance LastSeenAt")
	}
}

func TestServiceRotateIssuesFreshTokenAndRetiresOld(t *testing.T) {
	repo := newMockSessionRepository()
	svc := newTestService(t, repo)

	_, oldToken, err := svc.Create(context.Background(), nil, "user-1", "127.0.0.1", "test-agent")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	sess, newToken, err := svc.Rotate(context.Background(), oldToken)
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if newToken == oldToken {
		t.Fatalf("Rotate() returned the same token it consumed")
	}
	if sess.UserID != "user-1" {
		t.Fatalf("Rotate() session user = %q, want user-1", sess.UserID)
	}

	if _, err := svc.Get(context.Background(), oldToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("old token still validates after Rotate(); error = %v", err)
	}
	if _, err := svc.Get(context.Background(), newToken); err != nil {
		t.Fatalf("new token failed to validate after Rotate(): %v", err)
	}
}

func TestServiceDestroyRemovesSession(t *testing.T) {
	repo := newMockSessionRepository()
	svc := newTestService(t, repo)

	_, token, err := svc.Create(context.Background(), nil, "user-1", "127.0.0.1", "test-agent")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := svc.Destroy(context.Background(), token); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if _, err := svc.Get(context.Background(), token); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Get() after Destroy() error = %v, want ErrSessionNotFound", err)
	}
}

func TestServiceDestroyAllForUser(t *testing.T) {
	repo := newMockSessionRepository()
	svc := newTestService(t, repo)

	_, tokenA, err := svc.Create(context.Background(), nil, "user-1", "127.0.0.1", "test-agent")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_, tokenB, err := svc.Create(context.Background(), nil, "user-1", "10.0.0.1", "other-agent")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := svc.DestroyAllForUser(context.Background(), "user-1"); err != nil {
		t.Fatalf("DestroyAllForUser() error = %v", err)
	}
	if _, err := svc.Get(context.Background(), tokenA); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("session A survived DestroyAllForUser()")
	}
	if _, err := svc.Get(context.Background(), tokenB); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("session B survived DestroyAllForUser()")
	}
}
