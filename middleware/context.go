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

// Package middleware implements the request-boundary concerns (C4, C7):
// client authentication, bearer/session authentication, permission/scope
// enforcement, and request enrichment for audit logging. Rate limiting
// lives in package ratelimit.
package middleware

import (
	"context"

	"github.com/opentrusty/opentrusty-core/client"
)

// unexported context key type, the idiom used throughout the corpus for
// request-scoped values so keys from different packages never collide.
type ctxKey int

const (
	ctxKeyAuth ctxKey = iota
	ctxKeyRequestID
	ctxKeyIPAddress
	ctxKeyUserAgent
	ctxKeyClient
)

// AuthContext is the authenticated identity resolved for a request: a
// user (bearer/session), a client (client_credentials or client-auth-only
// requests), or both.
type AuthContext struct {
	UserID      string
	ClientID    string
	Scopes      []string
	Permissions map[string]struct{}
	AuthTime    int64
}

// HasScope reports whether scope was granted to this request.
func (a *AuthContext) HasScope(scope string) bool {
	for _, s := range a.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// HasPermission reports whether permission is present, honoring the "*"
// wildcard the same way policy.EffectivePermissionSet does.
func (a *AuthContext) HasPermission(permission string) bool {
	if _, ok := a.Permissions["*"]; ok {
		return true
	}
	_, ok := a.Permissions[permission]
	return ok
}

// WithAuthContext returns a context carrying auth, retrievable with
// AuthContextFrom.
func WithAuthContext(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, ctxKeyAuth, auth)
}

// AuthContextFrom retrieves the AuthContext installed by a prior
// authentication middleware, or nil if none ran.
func AuthContextFrom(ctx context.Context) *AuthContext {
	v, _ := ctx.Value(ctxKeyAuth).(*AuthContext)
	return v
}

// WithClient returns a context carrying the authenticated OAuth2 client,
// retrievable with ClientFrom.
func WithClient(ctx context.Context, c *client.Client) context.Context {
	return context.WithValue(ctx, ctxKeyClient, c)
}

// ClientFrom retrieves the client installed by the client-auth middleware,
// or nil if none ran.
func ClientFrom(ctx context.Context) *client.Client {
	v, _ := ctx.Value(ctxKeyClient).(*client.Client)
	return v
}

// RequestIDFrom retrieves the per-request correlation id installed by
// RequestContext.
func RequestIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRequestID).(string)
	return v
}

// IPAddressFrom retrieves the caller's IP address installed by
// RequestContext.
func IPAddressFrom(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyIPAddress).(string)
	return v
}

// UserAgentFrom retrieves the caller's User-Agent installed by
// RequestContext.
func UserAgentFrom(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyUserAgent).(string)
	return v
}
