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

package protocol

import (
	"encoding/json"
	"net/http"

	"github.com/opentrusty/opentrusty-core/middleware"
	"github.com/opentrusty/opentrusty-core/oautherr"
)

// authCheckRequest names the single permission POST /auth/check tests.
type authCheckRequest struct {
	Permission string `json:"permission"`
}

type authCheckResponse struct {
	Allowed bool `json:"allowed"`
}

// AuthCheck implements POST /auth/check, the non-OAuth RBAC surface §6
// describes: a session-authenticated caller asks whether it currently
// holds a single permission.
func (h *Handler) AuthCheck(w http.ResponseWriter, r *http.Request) {
	auth := middleware.AuthContextFrom(r.Context())
	if auth == nil {
		oautherr.WritePlain(w, r, http.StatusUnauthorized, "unauthenticated", "a valid session is required", nil)
		return
	}

	var req authCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Permission == "" {
		oautherr.WritePlain(w, r, http.StatusBadRequest, "invalid_request", "permission is required", nil)
		return
	}

	allowed, err := h.policy.Allows(r.Context(), auth.UserID, req.Permission)
	if err != nil {
		oautherr.WritePlain(w, r, http.StatusInternalServerError, "server_error", "failed to resolve permissions", nil)
		return
	}

	oautherr.WriteJSON(w, r, http.StatusOK, authCheckResponse{Allowed: allowed})
}

// authCheckBatchRequest names the set of permissions
// POST /auth/check-batch tests in one round trip.
type authCheckBatchRequest struct {
	Permissions []string `json:"permissions"`
}

type authCheckResult struct {
	Permission string `json:"permission"`
	Allowed    bool   `json:"allowed"`
}

type authCheckBatchResponse struct {
	Results []authCheckResult `json:"results"`
}

// AuthCheckBatch implements POST /auth/check-batch: one Resolve, many
// membership tests, so a UI can render a whole permission-gated screen
// with a single round trip instead of one request per control.
func (h *Handler) AuthCheckBatch(w http.ResponseWriter, r *http.Request) {
	auth := middleware.AuthContextFrom(r.Context())
	if auth == nil {
		oautherr.WritePlain(w, r, http.StatusUnauthorized, "unauthenticated", "a valid session is required", nil)
		return
	}

	var req authCheckBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Permissions) == 0 {
		oautherr.WritePlain(w, r, http.StatusBadRequest, "invalid_request", "permissions is required", nil)
		return
	}

	results, err := h.policy.AllowsBatch(r.Context(), auth.UserID, req.Permissions)
	if err != nil {
		oautherr.WritePlain(w, r, http.StatusInternalServerError, "server_error", "failed to resolve permissions", nil)
		return
	}

	out := make([]authCheckResult, 0, len(req.Permissions))
	for _, p := range req.Permissions {
		out = append(out, authCheckResult{Permission: p, Allowed: results[p]})
	}
	oautherr.WriteJSON(w, r, http.StatusOK, authCheckBatchResponse{Results: out})
}

// authRefreshRequest carries the session token POST /auth/refresh rotates.
type authRefreshRequest struct {
	RefreshToken string `json:"refreshToken,omitempty"`
}

type authRefreshResponse struct {
	SessionToken string `json:"session_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// AuthRefresh implements POST /auth/refresh: exchanges a still-valid
// session token for a fresh session JWT, accepting the current one either
// as a Bearer header, the ot_session cookie, or a refreshToken body field
// (for callers that cannot set either). The presented session stops
// validating the moment the new one is minted.
func (h *Handler) AuthRefresh(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerOrCookie(r)
	if !ok {
		var req authRefreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.RefreshToken != "" {
			token, ok = req.RefreshToken, true
		}
	}
	if !ok {
		oautherr.WritePlain(w, r, http.StatusUnauthorized, "unauthenticated", "no session credential presented", nil)
		return
	}

	sess, newToken, err := h.sessions.Rotate(r.Context(), token)
	if err != nil {
		oautherr.WritePlain(w, r, http.StatusUnauthorized, "unauthenticated", "session is invalid or expired", nil)
		return
	}

	h.audit(r, "session_refreshed", "auth", true, map[string]any{"user_id": sess.UserID})
	oautherr.WriteJSON(w, r, http.StatusOK, authRefreshResponse{
		SessionToken: newToken,
		ExpiresAt:    sess.ExpiresAt.Unix(),
	})
}

func bearerOrCookie(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):], true
	}
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}
	return "", false
}
