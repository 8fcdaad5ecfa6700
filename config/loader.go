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

package config

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// Loader holds the single process-wide configuration snapshot and swaps it
// atomically on SIGHUP. Most components are constructed once with the
// Config value returned by Current() and do not see a reload; the
// rate limiter keeps the limits it was built with. protocol.Handler holds
// the Loader and re-reads Current() per request (issuer, token TTLs,
// discovery document).
type Loader struct {
	current atomic.Pointer[Config]
}

// NewLoader builds a Loader seeded with cfg.
func NewLoader(cfg *Config) *Loader {
	l := &Loader{}
	l.current.Store(cfg)
	return l
}

// Current returns the active configuration snapshot.
func (l *Loader) Current() *Config {
	return l.current.Load()
}

// WatchReload installs a SIGHUP handler that reloads configuration from
// the environment and swaps it in atomically. It runs until ctx is
// cancelled. Reload failures are logged and the previous snapshot is
// kept in place.
func (l *Loader) WatchReload(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			next, err := Load()
			if err != nil {
				slog.ErrorContext(ctx, "configuration reload failed, keeping previous snapshot",
					slog.String("component", "config"),
					slog.Any("error", err))
				continue
			}
			l.current.Store(next)
			slog.InfoContext(ctx, "configuration reloaded", slog.String("component", "config"))
		}
	}
}
