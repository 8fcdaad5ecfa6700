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

package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/opentrusty/opentrusty-core/client"
)

// ErrClientAuthFailed is returned by AuthenticateClient for any
// unsuccessful authentication attempt. The OAuth error response is always
// invalid_client regardless of the underlying cause, so callers should
// not leak which of the checks below failed.
var ErrClientAuthFailed = errors.New("middleware: client authentication failed")

// ClientAuthenticator resolves and authenticates the OAuth2 client making
// a request to the token, introspection, or revocation endpoint, per the
// four methods a client may be registered with: client_secret_basic,
// client_secret_post, private_key_jwt, and none (public clients).
type ClientAuthenticator struct {
	repo     client.ClientRepository
	jwks     *JWKSCache
	audience string // expected "aud" of a client_assertion (the issuer identifier)
}

// NewClientAuthenticator builds a ClientAuthenticator. audience is the
// value required in the "aud" of private_key_jwt assertions; the server
// passes its issuer identifier.
func NewClientAuthenticator(repo client.ClientRepository, jwks *JWKSCache, audience string) *ClientAuthenticator {
	return &ClientAuthenticator{repo: repo, jwks: jwks, audience: audience}
}

// Authenticate resolves the client making r and verifies its credentials
// according to its registered token_endpoint_auth_method. r.ParseForm
// must already have been called by the caller. On success it returns the
// authenticated, active client; on any failure it returns
// ErrClientAuthFailed, which callers MUST translate to an invalid_client
// (401) OAuth error without echoing the underlying cause.
func (a *ClientAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*client.Client, error) {
	clientID, clientSecret, hasBasic := r.BasicAuth()

	switch {
	case hasBasic:
		return a.authSecret(ctx, clientID, clientSecret, client.AuthMethodClientSecretBasic)

	case r.PostForm.Get("client_assertion") != "":
		return a.authPrivateKeyJWT(ctx, r.PostForm.Get("client_id"), r.PostForm.Get("client_assertion"), r.PostForm.Get("client_assertion_type"))

	case r.PostForm.Get("client_secret") != "":
		return a.authSecret(ctx, r.PostForm.Get("client_id"), r.PostForm.Get("client_secret"), client.AuthMethodClientSecretPost)

	case r.PostForm.Get("client_id") != "":
		return a.authNone(ctx, r.PostForm.Get("client_id"))

	default:
		return nil, ErrClientAuthFailed
	}
}

func (a *ClientAuthenticator) resolve(ctx context.Context, clientID string) (*client.Client, error) {
	if clientID == "" {
		return nil, ErrClientAuthFailed
	}
	c, err := a.repo.GetByClientID(ctx, "", clientID)
	if err != nil {
		return nil, ErrClientAuthFailed
	}
	if c == nil || !c.IsActive || c.DeletedAt != nil {
		return nil, ErrClientAuthFailed
	}
	return c, nil
}

func (a *ClientAuthenticator) authSecret(ctx context.Context, clientID, secret, method string) (*client.Client, error) {
	c, err := a.resolve(ctx, clientID)
	if err != nil {
		return nil, err
	}

	// Confidential clients must authenticate with the method they were
	// registered for; a public client has no secret to check against.
	if c.Type != client.ClientTypeConfidential {
		return nil, ErrClientAuthFailed
	}
	if c.TokenEndpointAuthMethod != "" && c.TokenEndpointAuthMethod != method {
		return nil, ErrClientAuthFailed
	}
	if secret == "" || !client.VerifyClientSecret(secret, c.ClientSecretHash) {
		return nil, ErrClientAuthFailed
	}
	return c, nil
}

func (a *ClientAuthenticator) authPrivateKeyJWT(ctx context.Context, clientID, assertion, assertionType string) (*client.Client, error) {
	const expectedAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
	if assertionType != "" && assertionType != expectedAssertionType {
		return nil, ErrClientAuthFailed
	}

	c, err := a.resolve(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if c.Type != client.ClientTypeConfidential {
		return nil, ErrClientAuthFailed
	}
	if c.TokenEndpointAuthMethod != client.AuthMethodPrivateKeyJWT {
		return nil, ErrClientAuthFailed
	}
	if c.JWKSURI == "" || a.jwks == nil {
		return nil, ErrClientAuthFailed
	}

	if err := a.jwks.VerifyAssertion(ctx, assertion, c.ClientID, c.JWKSURI, a.audience); err != nil {
		return nil, ErrClientAuthFailed
	}
	return c, nil
}

func (a *ClientAuthenticator) authNone(ctx context.Context, clientID string) (*client.Client, error) {
	c, err := a.resolve(ctx, clientID)
	if err != nil {
		return nil, err
	}

	// A confidential client that was issued a secret MUST NOT be allowed
	// to authenticate as if it were public.
	if c.Type == client.ClientTypeConfidential && c.TokenEndpointAuthMethod != client.AuthMethodNone {
		return nil, ErrClientAuthFailed
	}
	return c, nil
}
