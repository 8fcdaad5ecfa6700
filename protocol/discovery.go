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
	"net/http"

	"github.com/opentrusty/opentrusty-core/crypto"
	"github.com/opentrusty/opentrusty-core/discovery"
	"github.com/opentrusty/opentrusty-core/oautherr"
)

// OAuthAuthorizationServerMetadata implements
// GET /.well-known/oauth-authorization-server per §4.5.6/RFC 8414.
func (h *Handler) OAuthAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	doc := discovery.OAuthAuthorizationServerMetadata(h.config(), h.config().Issuer)
	oautherr.WriteJSON(w, r, http.StatusOK, doc)
}

// OpenIDConfiguration implements GET /.well-known/openid-configuration,
// the same document plus the OIDC-only fields.
func (h *Handler) OpenIDConfiguration(w http.ResponseWriter, r *http.Request) {
	doc := discovery.OpenIDConfiguration(h.config(), h.config().Issuer)
	oautherr.WriteJSON(w, r, http.StatusOK, doc)
}

// JWKS implements GET /.well-known/jwks.json, publishing every ACTIVE or
// not-yet-fully-expired RETIRED key so a token signed moments before a
// rotation still verifies.
func (h *Handler) JWKS(w http.ResponseWriter, r *http.Request) {
	cfg := h.config()
	retainFor := cfg.AccessTokenTTLDefault
	if cfg.RefreshTokenTTLDefault > retainFor {
		retainFor = cfg.RefreshTokenTTLDefault
	}

	set, err := crypto.PublishJWKS(r.Context(), h.jwks, retainFor)
	if err != nil {
		oautherr.New(oautherr.ServerError, "").WithError(err).Write(w, r)
		return
	}
	oautherr.WriteJSON(w, r, http.StatusOK, set)
}
