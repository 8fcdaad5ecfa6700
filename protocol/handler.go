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

// Package protocol is the OAuth Protocol Engine (C5): it implements
// /authorize, /token, /introspect, /revoke, /userinfo, the discovery
// endpoints, and the non-OAuth /auth/* surface, wired together as a single
// chi.Router tree (no /oauth/* vs /v2/oauth/* duplication).
package protocol

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opentrusty/opentrusty-core/audit"
	"github.com/opentrusty/opentrusty-core/authz"
	"github.com/opentrusty/opentrusty-core/blacklist"
	"github.com/opentrusty/opentrusty-core/client"
	"github.com/opentrusty/opentrusty-core/config"
	"github.com/opentrusty/opentrusty-core/consent"
	"github.com/opentrusty/opentrusty-core/crypto"
	"github.com/opentrusty/opentrusty-core/issuance"
	"github.com/opentrusty/opentrusty-core/middleware"
	"github.com/opentrusty/opentrusty-core/oautherr"
	"github.com/opentrusty/opentrusty-core/policy"
	"github.com/opentrusty/opentrusty-core/ratelimit"
	"github.com/opentrusty/opentrusty-core/scope"
	"github.com/opentrusty/opentrusty-core/session"
	"github.com/opentrusty/opentrusty-core/tenant"
	"github.com/opentrusty/opentrusty-core/user"
)

// Handler holds every collaborator the protocol engine dispatches to. It
// has no mutable state of its own; everything it touches lives in the
// Credential Store or in the process-wide caches owned by its
// collaborators (Signer, JWKSCache, rate limiter).
type Handler struct {
	cfg *config.Loader

	clients       client.ClientRepository
	codes         client.AuthorizationCodeRepository
	accessTokens  client.AccessTokenRepository
	refreshTokens client.RefreshTokenRepository

	scopes    scope.Repository
	blacklist *blacklist.Service
	consent   *consent.Service
	sessions  *session.Service
	policy    *policy.Service
	users     *user.Service
	authz     *authz.Service
	tenants   *tenant.Service

	signer *crypto.Signer
	jwks   crypto.JWKRepository
	issuer *issuance.Issuer

	clientAuth      *middleware.ClientAuthenticator
	sessionAuth     *middleware.SessionAuthenticator
	accessTokenAuth *middleware.AccessTokenAuthenticator

	auditLogger audit.Logger
	rateLimiter *ratelimit.Limiter

	// LoginURL and ConsentURL are the external collaborators /authorize
	// hands off to per §4.5.1 steps 6 and 8. Each receives the original
	// /authorize query string appended as ?return_to=<original request>.
	loginURL   string
	consentURL string
}

// Deps bundles every constructor argument for NewHandler, since the
// protocol engine legitimately depends on nearly every package in the
// module.
type Deps struct {
	Config *config.Loader

	Clients       client.ClientRepository
	Codes         client.AuthorizationCodeRepository
	AccessTokens  client.AccessTokenRepository
	RefreshTokens client.RefreshTokenRepository

	Scopes    scope.Repository
	Blacklist *blacklist.Service
	Consent   *consent.Service
	Sessions  *session.Service
	Policy    *policy.Service
	Users     *user.Service
	Authz     *authz.Service
	Tenants   *tenant.Service

	Signer *crypto.Signer
	JWKs   crypto.JWKRepository
	Issuer *issuance.Issuer

	ClientAuth      *middleware.ClientAuthenticator
	SessionAuth     *middleware.SessionAuthenticator
	AccessTokenAuth *middleware.AccessTokenAuthenticator

	AuditLogger audit.Logger
	RateLimiter *ratelimit.Limiter

	LoginURL   string
	ConsentURL string
}

// NewHandler builds the protocol engine from its dependencies.
func NewHandler(d Deps) *Handler {
	return &Handler{
		cfg:             d.Config,
		clients:         d.Clients,
		codes:           d.Codes,
		accessTokens:    d.AccessTokens,
		refreshTokens:   d.RefreshTokens,
		scopes:          d.Scopes,
		blacklist:       d.Blacklist,
		consent:         d.Consent,
		sessions:        d.Sessions,
		policy:          d.Policy,
		users:           d.Users,
		authz:           d.Authz,
		tenants:         d.Tenants,
		signer:          d.Signer,
		jwks:            d.JWKs,
		issuer:          d.Issuer,
		clientAuth:      d.ClientAuth,
		sessionAuth:     d.SessionAuth,
		accessTokenAuth: d.AccessTokenAuth,
		auditLogger:     d.AuditLogger,
		rateLimiter:     d.RateLimiter,
		loginURL:        d.LoginURL,
		consentURL:      d.ConsentURL,
	}
}

func (h *Handler) audit(r *http.Request, eventType, resource string, success bool, metadata map[string]any) {
	if h.auditLogger == nil {
		return
	}
	h.auditLogger.Log(r.Context(), audit.Event{
		Resource:  resource,
		Type:      eventType,
		Success:   success,
		Metadata:  metadata,
		IPAddress: middleware.IPAddressFrom(r.Context()),
		UserAgent: middleware.UserAgentFrom(r.Context()),
	})
}

func (h *Handler) durationOrDefault(clientSeconds int, fallback time.Duration) time.Duration {
	if clientSeconds <= 0 {
		return fallback
	}
	return time.Duration(clientSeconds) * time.Second
}

// config returns the current, possibly hot-reloaded, configuration.
func (h *Handler) config() *config.Config {
	return h.cfg.Current()
}

// Router assembles the full chi route tree for the protocol engine.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestContext)

	rl := h.rateLimiter

	r.With(rl.Middleware("authorize", ratelimit.ByRemoteAddr, h.auditRateLimited)).
		Get("/authorize", h.Authorize)

	r.With(rl.Middleware("token", ratelimit.ByRemoteAddr, h.auditRateLimited)).
		Post("/token", h.Token)

	r.With(rl.Middleware("introspect", ratelimit.ByRemoteAddr, h.auditRateLimited)).
		Post("/introspect", h.Introspect)

	r.With(rl.Middleware("revoke", ratelimit.ByRemoteAddr, h.auditRateLimited)).
		Post("/revoke", h.Revoke)

	r.With(rl.Middleware("userinfo", ratelimit.ByRemoteAddr, h.auditRateLimited)).
		Get("/userinfo", h.UserInfo)
	r.With(rl.Middleware("userinfo", ratelimit.ByRemoteAddr, h.auditRateLimited)).
		Post("/userinfo", h.UserInfo)

	r.Get("/.well-known/oauth-authorization-server", h.OAuthAuthorizationServerMetadata)
	r.Get("/.well-known/openid-configuration", h.OpenIDConfiguration)
	r.Get("/.well-known/jwks.json", h.JWKS)

	r.Group(func(r chi.Router) {
		r.Use(h.sessionAuth.RequireSession(h.writeSessionAuthFailure))
		r.Post("/auth/check", h.AuthCheck)
		r.Post("/auth/check-batch", h.AuthCheckBatch)
	})
	r.Post("/auth/refresh", h.AuthRefresh)

	return r
}

func (h *Handler) auditRateLimited(r *http.Request) {
	h.audit(r, "rate_limited", r.URL.Path, false, map[string]any{"path": r.URL.Path})
}

func (h *Handler) writeSessionAuthFailure(w http.ResponseWriter, r *http.Request, err error) {
	oautherr.WritePlain(w, r, http.StatusUnauthorized, "unauthenticated", "a valid session is required", nil)
}
