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

// Package discovery assembles the OAuth 2.0 Authorization Server Metadata
// (RFC 8414) and OpenID Connect Discovery documents. Both are pure
// functions of *config.Config: no I/O, no database access, so the same
// config always produces byte-identical documents.
package discovery

import (
	"github.com/opentrusty/opentrusty-core/config"
)

// Document is the shape shared by both discovery responses; OIDC's
// openid-configuration is a superset of RFC 8414's fields, so one struct
// serves both endpoints.
type Document struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint,omitempty"`
	JWKSURI                           string   `json:"jwks_uri"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported,omitempty"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported,omitempty"`
	ClaimsSupported                   []string `json:"claims_supported,omitempty"`
}

var supportedScopes = []string{"openid", "profile", "email"}

var supportedClaims = []string{
	"sub", "iss", "aud", "exp", "iat", "auth_time", "nonce",
	"preferred_username", "name", "given_name", "family_name", "picture", "updated_at",
	"email", "email_verified",
}

// baseDocument builds the fields common to both discovery responses,
// purely from cfg and the externally-visible base URL.
func baseDocument(cfg *config.Config, baseURL string) Document {
	return Document{
		Issuer:                 cfg.Issuer,
		AuthorizationEndpoint:  baseURL + "/authorize",
		TokenEndpoint:          baseURL + "/token",
		IntrospectionEndpoint:  baseURL + "/introspect",
		RevocationEndpoint:     baseURL + "/revoke",
		JWKSURI:                baseURL + "/.well-known/jwks.json",
		ScopesSupported:        supportedScopes,
		ResponseTypesSupported: []string{"code"},
		GrantTypesSupported: []string{
			grantAuthorizationCode, grantRefreshToken, grantClientCredentials,
		},
		TokenEndpointAuthMethodsSupported: []string{
			"client_secret_basic", "client_secret_post", "private_key_jwt", "none",
		},
		CodeChallengeMethodsSupported: []string{"S256"},
		// Only the single asymmetric algorithm the Signer actually
		// produces is ever advertised; protocol tokens are never
		// HMAC-signed in this implementation (§9).
		IDTokenSigningAlgValuesSupported: []string{cfg.JWTAlgorithm},
	}
}

// Grant type literals duplicated here (rather than importing client, which
// would make discovery depend on the credential store) since they are
// part of the stable OAuth vocabulary, not client package internals.
const (
	grantAuthorizationCode = "authorization_code"
	grantRefreshToken      = "refresh_token"
	grantClientCredentials = "client_credentials"
)

// OAuthAuthorizationServerMetadata builds the RFC 8414 document served at
// /.well-known/oauth-authorization-server.
func OAuthAuthorizationServerMetadata(cfg *config.Config, baseURL string) Document {
	return baseDocument(cfg, baseURL)
}

// OpenIDConfiguration builds the OIDC discovery document served at
// /.well-known/openid-configuration. It is the RFC 8414 document plus the
// OIDC-only fields (userinfo_endpoint, subject_types_supported,
// claims_supported).
func OpenIDConfiguration(cfg *config.Config, baseURL string) Document {
	doc := baseDocument(cfg, baseURL)
	doc.UserinfoEndpoint = baseURL + "/userinfo"
	doc.SubjectTypesSupported = []string{"public"}
	doc.ClaimsSupported = supportedClaims
	return doc
}
