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

// Package oautherr builds the OAuth 2.1/OIDC error envelopes the protocol
// engine returns, and writes them either as JSON or as a redirect carrying
// the error parameters, depending on where in the request flow the error
// occurred.
package oautherr

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
)

// Kind is one of the RFC 6749/OIDC error codes this server can emit on the
// wire. It is also the literal "error" field value in JSON responses and
// redirect query parameters.
type Kind string

const (
	InvalidRequest          Kind = "invalid_request"
	InvalidClient           Kind = "invalid_client"
	InvalidGrant            Kind = "invalid_grant"
	InvalidScope            Kind = "invalid_scope"
	UnauthorizedClient      Kind = "unauthorized_client"
	UnsupportedGrantType    Kind = "unsupported_grant_type"
	UnsupportedResponseType Kind = "unsupported_response_type"
	AccessDenied            Kind = "access_denied"
	LoginRequired           Kind = "login_required"
	ConsentRequired         Kind = "consent_required"
	ServerError             Kind = "server_error"
	TemporarilyUnavailable  Kind = "temporarily_unavailable"
	InvalidToken            Kind = "invalid_token"
	InsufficientScope       Kind = "insufficient_scope"
	InsufficientPermissions Kind = "insufficient_permissions"
)

var statusForKind = map[Kind]int{
	InvalidRequest:          http.StatusBadRequest,
	InvalidClient:           http.StatusUnauthorized,
	InvalidGrant:            http.StatusBadRequest,
	InvalidScope:            http.StatusBadRequest,
	UnauthorizedClient:      http.StatusBadRequest,
	UnsupportedGrantType:    http.StatusBadRequest,
	UnsupportedResponseType: http.StatusBadRequest,
	AccessDenied:            http.StatusForbidden,
	LoginRequired:           http.StatusBadRequest,
	ConsentRequired:         http.StatusBadRequest,
	ServerError:             http.StatusInternalServerError,
	TemporarilyUnavailable:  http.StatusServiceUnavailable,
	InvalidToken:            http.StatusUnauthorized,
	InsufficientScope:       http.StatusForbidden,
	InsufficientPermissions: http.StatusForbidden,
}

// Error wraps a Kind with the detail needed to log and render it. It is
// built with New(kind, description) and augmented with WithError/WithURI
// before Write/Redirect is called, mirroring the builder style the example
// pack's HTTP error helper uses.
type Error struct {
	Kind        Kind
	Description string
	URI         string

	status int
	err    error
}

func newError(kind Kind, description string) *Error {
	return &Error{Kind: kind, Description: description, status: statusForKind[kind]}
}

// New builds an Error of the given kind, defaulting its HTTP status from
// the Kind→status table.
func New(kind Kind, description string) *Error {
	return newError(kind, description)
}

// WithError attaches the underlying Go error for logging. It is never
// serialized to the client.
func (e *Error) WithError(err error) *Error {
	e.err = err
	return e
}

// WithURI sets the optional error_uri field.
func (e *Error) WithURI(uri string) *Error {
	e.URI = uri
	return e
}

// Error implements the error interface so Error can travel through normal
// Go error-handling paths before being rendered.
func (e *Error) Error() string {
	if e.Description != "" {
		return string(e.Kind) + ": " + e.Description
	}
	return string(e.Kind)
}

type envelope struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
}

// Write renders e as the standard OAuth JSON error envelope, logging the
// wrapped Go error (if any) at error level without exposing it to the
// client.
func (e *Error) Write(w http.ResponseWriter, r *http.Request) {
	if e.err != nil {
		slog.ErrorContext(r.Context(), "oauth request failed",
			slog.String("kind", string(e.Kind)),
			slog.String("path", r.URL.Path),
			slog.Any("error", e.err))
	}

	status := e.status
	if status == 0 {
		status = http.StatusBadRequest
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)

	body, err := json.Marshal(envelope{Error: string(e.Kind), ErrorDescription: e.Description, ErrorURI: e.URI})
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to marshal error envelope", slog.Any("error", err))
		return
	}
	if _, err := w.Write(body); err != nil {
		slog.ErrorContext(r.Context(), "failed to write error response", slog.Any("error", err))
	}
}

// Redirect renders e by 302-redirecting to redirectURI with error,
// error_description, error_uri, and state appended as query parameters,
// per §4.5.1: once client_id and redirect_uri have been validated, every
// subsequent /authorize failure is communicated this way instead of as a
// JSON body.
func (e *Error) Redirect(w http.ResponseWriter, r *http.Request, redirectURI, state string) {
	if e.err != nil {
		slog.ErrorContext(r.Context(), "oauth authorize request failed",
			slog.String("kind", string(e.Kind)),
			slog.Any("error", e.err))
	}

	u, err := url.Parse(redirectURI)
	if err != nil {
		New(ServerError, "malformed redirect_uri").Write(w, r)
		return
	}

	q := u.Query()
	q.Set("error", string(e.Kind))
	if e.Description != "" {
		q.Set("error_description", e.Description)
	}
	if e.URI != "" {
		q.Set("error_uri", e.URI)
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()

	http.Redirect(w, r, u.String(), http.StatusFound)
}

// plainEnvelope is the {error, message, details?} shape used by the
// non-OAuth /auth/* endpoints.
type plainEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// WritePlain renders a non-OAuth error response for the /auth/* surface,
// which does not speak the RFC 6749 error vocabulary.
func WritePlain(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	body, err := json.Marshal(plainEnvelope{Error: code, Message: message, Details: details})
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to marshal error envelope", slog.Any("error", err))
		return
	}
	if _, err := w.Write(body); err != nil {
		slog.ErrorContext(r.Context(), "failed to write error response", slog.Any("error", err))
	}
}

// WriteJSON is a generic wrapper for returning a successful JSON payload,
// grounded on the example pack's util.WriteJSONResponse helper.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, response any) {
	body, err := json.Marshal(response)
	if err != nil {
		slog.ErrorContext(r.Context(), "unable to marshal response body", slog.Any("error", err))
		New(ServerError, "").Write(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.ErrorContext(r.Context(), "failed to write response", slog.Any("error", err))
	}
}
