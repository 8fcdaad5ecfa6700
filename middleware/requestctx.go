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
	"net/http"

	"github.com/google/uuid"
)

// RequestContext enriches every request's context with a correlation id,
// the caller's IP address, and User-Agent, so downstream audit logging and
// error handling can attribute a request without re-deriving these values.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		ip := r.Header.Get("X-Forwarded-For")
		if ip == "" {
			ip = r.RemoteAddr
		}

		ctx = context.WithValue(ctx, ctxKeyRequestID, requestID)
		ctx = context.WithValue(ctx, ctxKeyIPAddress, ip)
		ctx = context.WithValue(ctx, ctxKeyUserAgent, r.UserAgent())

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
