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

// Command server wires every collaborator into a running OpenTrusty
// authorization server: it loads configuration, opens the Postgres-backed
// credential store, constructs the protocol engine, and serves it over
// HTTP until asked to shut down.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opentrusty/opentrusty-core/audit"
	"github.com/opentrusty/opentrusty-core/authz"
	"github.com/opentrusty/opentrusty-core/blacklist"
	"github.com/opentrusty/opentrusty-core/config"
	"github.com/opentrusty/opentrusty-core/consent"
	"github.com/opentrusty/opentrusty-core/crypto"
	"github.com/opentrusty/opentrusty-core/issuance"
	"github.com/opentrusty/opentrusty-core/middleware"
	"github.com/opentrusty/opentrusty-core/policy"
	"github.com/opentrusty/opentrusty-core/protocol"
	"github.com/opentrusty/opentrusty-core/ratelimit"
	"github.com/opentrusty/opentrusty-core/session"
	"github.com/opentrusty/opentrusty-core/store/postgres"
	"github.com/opentrusty/opentrusty-core/tenant"
	"github.com/opentrusty/opentrusty-core/user"
)

const (
	readTimeout       = 5 * time.Second
	readHeaderTimeout = 2 * time.Second
	writeTimeout      = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
	cleanupInterval   = 5 * time.Minute
	policyCacheSize   = 4096
	policyCacheTTL    = 30 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	loader := config.NewLoader(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		return err
	}

	clients := postgres.NewClientRepository(db)
	codes := postgres.NewAuthorizationCodeRepository(db)
	accessTokens := postgres.NewAccessTokenRepository(db)
	refreshTokens := postgres.NewRefreshTokenRepository(db)
	scopes := postgres.NewScopeRepository(db)
	jwks := postgres.NewJWKRepository(db)
	users := postgres.NewUserRepository(db)
	sessions := postgres.NewSessionRepository(db)
	consentRepo := postgres.NewConsentRepository(db)
	blacklistRepo := postgres.NewBlacklistRepository(db)
	auditRepo := postgres.NewAuditRepository(db)
	roles := postgres.NewRoleRepository(db)
	assignments := postgres.NewAssignmentRepository(db)
	projects := postgres.NewProjectRepository(db)
	tenants := postgres.NewTenantRepository(db)
	memberships := postgres.NewMembershipRepository(db)

	signer := crypto.NewSigner(jwks, cfg.Issuer)
	if err := signer.Bootstrap(ctx); err != nil {
		return err
	}

	auditLogger := audit.NewRepositoryLogger(auditRepo)

	hasher := crypto.NewPasswordHasher(crypto.DefaultPasswordPolicy())
	userService := user.NewService(users, hasher, auditLogger, cfg.MaxLoginAttempts, cfg.AccountLockDuration, cfg.HMACEmailKey)

	sessionService := session.NewService(sessions, signer, cfg.Issuer, cfg.UIAudience, 24*time.Hour, 30*time.Minute)

	policyCache, err := policy.NewCache(policyCacheSize)
	if err != nil {
		return err
	}
	policyService := policy.NewService(roles, assignments, scopes, policyCache, policyCacheTTL)

	issuer := issuance.NewIssuer(signer, accessTokens, refreshTokens, cfg.Issuer)
	consentService := consent.NewService(consentRepo)
	blacklistService := blacklist.NewService(blacklistRepo)
	authzService := authz.NewService(projects, roles, assignments)
	tenantService := tenant.NewService(tenants, memberships, assignments, userService, clients, policyService, auditLogger)

	jwksCache := middleware.NewJWKSCache(cfg.JWKSCacheTTL, cfg.OutboundHTTPTTL)
	clientAuth := middleware.NewClientAuthenticator(clients, jwksCache, cfg.Issuer)
	sessionAuth := middleware.NewSessionAuthenticator(sessionService, blacklistService, policyService, userService)
	accessTokenAuth := middleware.NewAccessTokenAuthenticator(signer, accessTokens, blacklistService, policyService, cfg.Issuer)

	limiter := ratelimit.New(cfg.RateLimits)
	cleanupStop := make(chan struct{})
	go limiter.CleanupRoutine(cleanupInterval, cleanupStop)
	defer close(cleanupStop)

	// Periodic GC: expired codes, tokens, sessions, and blacklist entries
	// are swept rather than deleted inline on the request path.
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweepCtx, sweepCancel := context.WithTimeout(ctx, cfg.DBCallTimeout)
				for name, sweep := range map[string]func(context.Context) error{
					"authorization_codes": codes.DeleteExpired,
					"access_tokens":       accessTokens.DeleteExpired,
					"refresh_tokens":      refreshTokens.DeleteExpired,
					"token_blacklist":     blacklistRepo.DeleteExpired,
					"sessions":            sessionService.CleanupExpired,
				} {
					if err := sweep(sweepCtx); err != nil {
						logger.Warn("expiry sweep failed", "table", name, "error", err)
					}
				}
				sweepCancel()
			}
		}
	}()

	handler := protocol.NewHandler(protocol.Deps{
		Config:          loader,
		Clients:         clients,
		Codes:           codes,
		AccessTokens:    accessTokens,
		RefreshTokens:   refreshTokens,
		Scopes:          scopes,
		Blacklist:       blacklistService,
		Consent:         consentService,
		Sessions:        sessionService,
		Policy:          policyService,
		Users:           userService,
		Authz:           authzService,
		Tenants:         tenantService,
		Signer:          signer,
		JWKs:            jwks,
		Issuer:          issuer,
		ClientAuth:      clientAuth,
		SessionAuth:     sessionAuth,
		AccessTokenAuth: accessTokenAuth,
		AuditLogger:     auditLogger,
		RateLimiter:     limiter,
		LoginURL:        cfg.LoginURL,
		ConsentURL:      cfg.ConsentURL,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler.Router(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	go loader.WatchReload(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		<-stop
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	logger.Info("server starting", "addr", cfg.ListenAddr, "issuer", cfg.Issuer)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
