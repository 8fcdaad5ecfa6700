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
	"net/http"

	"github.com/opentrusty/opentrusty-core/oautherr"
)

// RequireAuth rejects a request with invalid_token unless a prior
// authentication middleware (bearer access-token or session) installed an
// AuthContext.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if AuthContextFrom(r.Context()) == nil {
			oautherr.New(oautherr.InvalidToken, "authentication required").Write(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireScopes rejects a request with insufficient_scope unless every
// scope in scopes is present in the request's AuthContext. It assumes a
// prior middleware already rejected a missing AuthContext.
func RequireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := AuthContextFrom(r.Context())
			if auth == nil {
				oautherr.New(oautherr.InvalidToken, "authentication required").Write(w, r)
				return
			}
			for _, scope := range scopes {
				if !auth.HasScope(scope) {
					oautherr.New(oautherr.InsufficientScope, "token lacks required scope: "+scope).Write(w, r)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermissions rejects a request with insufficient_permissions
// unless every permission in permissions is held in the request's
// AuthContext.
func RequirePermissions(permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := AuthContextFrom(r.Context())
			if auth == nil {
				oautherr.New(oautherr.InvalidToken, "authentication required").Write(w, r)
				return
			}
			for _, permission := range permissions {
				if !auth.HasPermission(permission) {
					oautherr.New(oautherr.InsufficientPermissions, "missing required permission: "+permission).Write(w, r)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
