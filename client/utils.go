// Copyright 2026 The OpenTrusty Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"errors"
	"fmt"

	"github.com/opentrusty/opentrusty-core/crypto"
)

// GenerateClientSecret generates a new cryptographically strong client secret.
func GenerateClientSecret() (string, error) {
	secret, err := crypto.RandomToken(32)
	if err != nil {
		return "", fmt.Errorf("client: failed to generate secret: %w", err)
	}
	return secret, nil
}

// HashClientSecret hashes a client secret for storage.
func HashClientSecret(secret string) string {
	return crypto.HashToken(secret)
}

// VerifyClientSecret checks a presented secret against its stored hash in
// constant time.
func VerifyClientSecret(presented, storedHash string) bool {
	return crypto.ConstantTimeEquals(HashClientSecret(presented), storedHash)
}

// Validation errors
var (
	ErrInvalidRedirectURI = errors.New("invalid redirect_uri format")
	ErrInvalidClientURI   = errors.New("invalid client_uri format")
)
