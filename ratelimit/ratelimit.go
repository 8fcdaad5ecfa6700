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

// Package ratelimit applies a keyed token-bucket limiter per endpoint
// class, generalized from a per-IP-only Gin limiter to a chi-compatible
// http.Handler middleware keyed by (subject, endpoint), where subject is
// whatever the caller's KeyFunc returns. The only KeyFunc provided is
// ByRemoteAddr, and the protocol router uses it for every endpoint,
// authenticated or not; no client_id-based key is implemented.
package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/opentrusty/opentrusty-core/config"
)

// Limiter holds one token bucket per (key, endpoint) pair and prunes the
// map periodically so a long-lived process does not accumulate an
// unbounded number of stale buckets from one-off clients/IPs.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	limits   map[string]config.RateLimit
	maxSize  int
}

// New builds a Limiter from the per-endpoint-class limits in limits
// (config.Config.RateLimits). An endpoint with no entry is not limited.
func New(limits map[string]config.RateLimit) *Limiter {
	l := &Limiter{
		limiters: make(map[string]*rate.Limiter),
		limits:   limits,
		maxSize:  10000,
	}
	return l
}

// CleanupRoutine periodically resets the bucket map once it grows past
// maxSize, bounding memory for a long-running process. Run it in its own
// goroutine; it returns when ctx-equivalent stop channel closes.
func (l *Limiter) CleanupRoutine(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			if len(l.limiters) > l.maxSize {
				l.limiters = make(map[string]*rate.Limiter)
			}
			l.mu.Unlock()
		}
	}
}

func (l *Limiter) getLimiter(key, endpoint string) *rate.Limiter {
	cfg, limited := l.limits[endpoint]
	if !limited {
		return nil
	}

	compositeKey := key + "|" + endpoint

	l.mu.RLock()
	lim, ok := l.limiters[compositeKey]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok = l.limiters[compositeKey]; ok {
		return lim
	}
	lim = rate.NewLimiter(rate.Limit(cfg.RefillPerSec), cfg.Capacity)
	l.limiters[compositeKey] = lim
	return lim
}

// KeyFunc extracts the rate-limit subject key from a request.
type KeyFunc func(r *http.Request) string

// ByRemoteAddr is the KeyFunc the protocol router uses for every endpoint.
func ByRemoteAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

// Middleware returns a chi-compatible middleware enforcing the limit
// configured for endpoint, keyed by keyFn(r). A request denied by the
// bucket gets 429 with Retry-After and deny is invoked so the caller can
// audit-log the rejection.
func (l *Limiter) Middleware(endpoint string, keyFn KeyFunc, deny func(r *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lim := l.getLimiter(keyFn(r), endpoint)
			if lim != nil && !lim.Allow() {
				retryAfter := 1
				if cfg, ok := l.limits[endpoint]; ok && cfg.RefillPerSec > 0 {
					retryAfter = int(1/cfg.RefillPerSec) + 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"temporarily_unavailable","error_description":"rate limit exceeded"}`))
				if deny != nil {
					deny(r)
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
