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

package crypto

import (
	"context"
	"fmt"
	"time"

	jose "gopkg.in/go-jose/go-jose.v2"
)

// PublishJWKS assembles the public JWKS document: every key that is
// either ACTIVE or RETIRED-but-not-yet-fully-expired, so a token signed
// by a just-retired key still verifies until it expires naturally.
// retainRetiredFor should be the maximum configured access token TTL
// across all clients (spec §4.1: "leaves RETIRED keys published for
// max(accessTokenTtl)").
func PublishJWKS(ctx context.Context, repo JWKRepository, retainRetiredFor time.Duration) (*jose.JSONWebKeySet, error) {
	keys, err := repo.ListPublishable(ctx, retainRetiredFor)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to list publishable keys: %w", err)
	}

	set := &jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, len(keys))}
	for _, k := range keys {
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       k.PublicKey,
			KeyID:     k.Kid,
			Algorithm: k.Alg,
			Use:       "sig",
		})
	}
	return set, nil
}
