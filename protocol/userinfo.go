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

	"github.com/opentrusty/opentrusty-core/authz"
	"github.com/opentrusty/opentrusty-core/client"
	"github.com/opentrusty/opentrusty-core/oautherr"
)

// userInfoResponse mirrors the claim set MintIDToken releases, since both
// are gated by the same granted-scope rules (§4.5.5), plus the
// tenant/project claims BuildUserInfoClaims contributes on top of the
// standard OIDC vocabulary.
type userInfoResponse struct {
	Sub string `json:"sub"`

	PreferredUsername string `json:"preferred_username,omitempty"`
	Name              string `json:"name,omitempty"`
	GivenName         string `json:"given_name,omitempty"`
	FamilyName        string `json:"family_name,omitempty"`
	Picture           string `json:"picture,omitempty"`
	Locale            string `json:"locale,omitempty"`
	Zoneinfo          string `json:"zoneinfo,omitempty"`

	Email         string `json:"email,omitempty"`
	EmailVerified *bool  `json:"email_verified,omitempty"`

	Roles    []string             `json:"roles,omitempty"`
	Projects []*authz.ProjectInfo `json:"projects,omitempty"`
}

// UserInfo implements GET/POST /userinfo per §4.5.5: bearer-authenticated,
// claims released are gated by the scope granted to the presented access
// token, never by what the user's full profile contains.
func (h *Handler) UserInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	auth, err := h.accessTokenAuth.Authenticate(ctx, r)
	if err != nil {
		oautherr.New(oautherr.InvalidToken, "the access token is invalid, expired, or revoked").Write(w, r)
		return
	}
	if !auth.HasScope(client.ScopeOpenID) {
		oautherr.New(oautherr.InsufficientScope, "the openid scope is required").Write(w, r)
		return
	}
	if auth.UserID == "" {
		oautherr.New(oautherr.InvalidToken, "token has no user subject").Write(w, r)
		return
	}

	u, err := h.users.GetUser(ctx, auth.UserID)
	if err != nil {
		oautherr.New(oautherr.ServerError, "").WithError(err).Write(w, r)
		return
	}

	resp := userInfoResponse{Sub: u.ID}
	if auth.HasScope(client.ScopeProfile) {
		resp.PreferredUsername = u.Profile.Username
		resp.Name = u.Profile.FullName
		resp.GivenName = u.Profile.GivenName
		resp.FamilyName = u.Profile.FamilyName
		resp.Picture = u.Profile.Picture
		resp.Locale = u.Profile.Locale
		resp.Zoneinfo = u.Profile.Timezone
	}
	if auth.HasScope(client.ScopeEmail) {
		if u.EmailPlain != nil {
			resp.Email = *u.EmailPlain
		}
		verified := u.EmailVerified
		resp.EmailVerified = &verified
	}

	if h.authz != nil {
		if claims, err := h.authz.BuildUserInfoClaims(ctx, auth.UserID); err == nil {
			resp.Roles = claims.Roles
			resp.Projects = claims.Projects
		}
	}

	h.audit(r, "userinfo", "userinfo", true, map[string]any{"user_id": auth.UserID, "client_id": auth.ClientID})
	oautherr.WriteJSON(w, r, http.StatusOK, resp)
}
