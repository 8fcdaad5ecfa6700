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

// Package config assembles the typed, explicit configuration struct every
// component in the server is constructed with. No component reads the
// environment directly; Load is the only place os.Getenv-shaped values
// enter the system.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// RateLimit describes a token-bucket limit for one endpoint class.
type RateLimit struct {
	Capacity     int     `json:"capacity"`
	RefillPerSec float64 `json:"refill_per_sec"`
}

// Config is the complete, explicit configuration surface for the server.
// It is built once by Load and handed to every component's constructor;
// components never read environment variables themselves.
type Config struct {
	Issuer     string `env:"ISSUER,required"`
	UIAudience string `env:"UI_AUDIENCE" envDefault:"ui-audience"`

	DatabaseURL string `env:"DATABASE_URL,required"`

	AccessTokenTTLDefault  time.Duration `env:"ACCESS_TOKEN_TTL_DEFAULT" envDefault:"1h"`
	RefreshTokenTTLDefault time.Duration `env:"REFRESH_TOKEN_TTL_DEFAULT" envDefault:"720h"`
	IDTokenTTLDefault      time.Duration `env:"ID_TOKEN_TTL_DEFAULT" envDefault:"1h"`
	AuthorizationCodeTTL   time.Duration `env:"AUTHORIZATION_CODE_TTL" envDefault:"10m"`

	JWTAlgorithm string        `env:"JWT_ALGORITHM" envDefault:"RS256"`
	JWKSCacheTTL time.Duration `env:"JWKS_CACHE_TTL" envDefault:"10m"`

	MaxLoginAttempts    int           `env:"MAX_LOGIN_ATTEMPTS" envDefault:"5"`
	AccountLockDuration time.Duration `env:"ACCOUNT_LOCK_DURATION" envDefault:"15m"`

	HMACEmailKey string `env:"HMAC_EMAIL_KEY,required"`

	// LoginURL and ConsentURL are the external, non-OAuth UI pages
	// Authorize redirects to for credential collection and scope
	// confirmation. They are not part of this server; it only composes
	// redirects to them.
	LoginURL   string `env:"LOGIN_URL,required"`
	ConsentURL string `env:"CONSENT_URL,required"`

	DBCallTimeout   time.Duration `env:"DB_CALL_TIMEOUT" envDefault:"3s"`
	HashingTimeout  time.Duration `env:"HASHING_TIMEOUT" envDefault:"5s"`
	OutboundHTTPTTL time.Duration `env:"OUTBOUND_HTTP_TIMEOUT" envDefault:"3s"`
	ListenAddr      string        `env:"LISTEN_ADDR" envDefault:":8080"`

	RateLimits map[string]RateLimit `env:"-"`
}

var allowedAlgorithms = map[string]bool{"RS256": true, "ES256": true, "PS256": true}

// defaultRateLimits are conservative starting points. Spec §9 explicitly
// declines to prescribe values; operators tune these per deployment by
// overriding RateLimits after Load.
func defaultRateLimits() map[string]RateLimit {
	return map[string]RateLimit{
		"authorize":  {Capacity: 20, RefillPerSec: 5},
		"token":      {Capacity: 30, RefillPerSec: 10},
		"introspect": {Capacity: 60, RefillPerSec: 20},
		"revoke":     {Capacity: 30, RefillPerSec: 10},
		"userinfo":   {Capacity: 60, RefillPerSec: 20},
	}
}

// Load parses environment variables into a Config and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	cfg.RateLimits = defaultRateLimits()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that struct tags cannot express.
func (c *Config) Validate() error {
	if !allowedAlgorithms[c.JWTAlgorithm] {
		return fmt.Errorf("config: unsupported jwt algorithm %q", c.JWTAlgorithm)
	}
	if c.AuthorizationCodeTTL > 10*time.Minute {
		return fmt.Errorf("config: authorization code ttl %s exceeds the 10 minute maximum", c.AuthorizationCodeTTL)
	}
	if c.Issuer == "" {
		return fmt.Errorf("config: issuer must not be empty")
	}
	return nil
}

// Clone returns a shallow copy suitable for atomic snapshot replacement.
func (c *Config) Clone() *Config {
	cp := *c
	cp.RateLimits = make(map[string]RateLimit, len(c.RateLimits))
	for k, v := range c.RateLimits {
		cp.RateLimits[k] = v
	}
	return &cp
}
