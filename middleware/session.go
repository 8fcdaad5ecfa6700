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
	"errors"
	"net/http"
	"strings"

	"github.com/opentrusty/opentrusty-core/blacklist"
	"github.com/opentrusty/opentrusty-core/policy"
	"github.com/opentrusty/opentrusty-core/session"
	"github.com/opentrusty/opentrusty-core/user"
)

// SessionCookieName is the cookie carrying the signed session JWT for
// browser-based callers; API callers present the same JWT as a Bearer
// token instead.
const SessionCookieName = "ot_session"

// ErrSessionAuthRequired is returned when neither a bearer token nor a
// session cookie is present on the request.
var ErrSessionAuthRequired = errors.New("middleware: no session credential presented")

// ErrSessionAuthFailed is returned when a presented credential fails
// validation (bad signature, blacklisted, expired, or no backing row).
var ErrSessionAuthFailed = errors.New("middleware: session credential invalid")

// SessionAuthenticator resolves the AuthContext for UI-facing endpoints
// (/authorize's user-auth step, /auth/check, /auth/refresh, ...) from
// either a Bearer header or a session cookie carrying a signed session
// JWT (C1), cross-checked against the blacklist (C2) and the backing
// Session row.
type SessionAuthenticator struct {
	sessions  *session.Service
	blacklist *blacklist.Service
	policy    *policy.Service
	users     *user.Service
}

// NewSessionAuthenticator builds a SessionAuthenticator. users may be nil,
// in which case the subject's active flag is not re-checked per request.
func NewSessionAuthenticator(sessions *session.Service, bl *blacklist.Service, pol *policy.Service, users *user.Service) *SessionAuthenticator {
	return &SessionAuthenticator{sessions: sessions, blacklist: bl, policy: pol, users: users}
}

// Authenticate resolves the AuthContext for r. If a Bearer header is
// present it is treated as authoritative: a present-but-invalid bearer
// fails the request outright and never falls back to a cookie. Only in
// the bearer's absence is the session cookie consulted.
func (a *SessionAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*AuthContext, *session.Session, error) {
	if token, ok := bearerToken(r); ok {
		return a.validate(ctx, token)
	}

	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, nil, ErrSessionAuthRequired
	}
	return a.validate(ctx, cookie.Value)
}

func (a *SessionAuthenticator) validate(ctx context.Context, token string) (*AuthContext, *session.Session, error) {
	sess, err := a.sessions.Get(ctx, token)
	if err != nil {
		return nil, nil, ErrSessionAuthFailed
	}

	if a.blacklist != nil {
		revoked, err := a.blacklist.IsRevoked(ctx, sess.ID)
		if err != nil || revoked {
			return nil, nil, ErrSessionAuthFailed
		}
	}

	// A session outlives its subject only on paper: a deactivated user's
	// otherwise-valid session is rejected here rather than at expiry.
	if a.users != nil {
		u, err := a.users.GetUser(ctx, sess.UserID)
		if err != nil || !u.IsActive {
			return nil, nil, ErrSessionAuthFailed
		}
	}

	auth := &AuthContext{
		UserID:      sess.UserID,
		AuthTime:    sess.CreatedAt.Unix(),
		Permissions: map[string]struct{}{},
	}

	if a.policy != nil {
		perms, err := a.policy.Resolve(ctx, sess.UserID)
		if err == nil {
			auth.Permissions = map[string]struct{}(perms)
		}
	}

	return auth, sess, nil
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header.
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return h[len(prefix):], true
}

// RequireSession is a chi-compatible middleware that authenticates the
// request via SessionAuthenticator and installs the resulting
// AuthContext, or fails with unauthorized if onFail is nil and no
// AuthContext could be resolved.
func (a *SessionAuthenticator) RequireSession(onFail func(w http.ResponseWriter, r *http.Request, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth, _, err := a.Authenticate(r.Context(), r)
			if err != nil {
				if onFail == nil {
					http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
					return
				}
				onFail(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), auth)))
		})
	}
}
