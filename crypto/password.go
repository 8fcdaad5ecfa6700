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
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Domain errors for password verification.
var (
	ErrInvalidHashFormat  = errors.New("crypto: invalid password hash format")
	ErrIncompatibleParams = errors.New("crypto: incompatible argon2 parameters")
	ErrPasswordMismatch   = errors.New("crypto: password does not match")
)

// PasswordPolicy controls the Argon2id work factor. The single definition
// here replaces the two divergent hashers the legacy code carried (one in
// a standalone package with a malformed encoding string, one duplicated
// inline in the identity service).
type PasswordPolicy struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultPasswordPolicy targets roughly 100ms per hash on modest
// reference hardware.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// PasswordHasher hashes and verifies passwords with Argon2id, encoding
// parameters into the stored hash so that a later policy change can be
// detected and trigger a re-hash on next successful login.
type PasswordHasher struct {
	policy PasswordPolicy
}

// NewPasswordHasher builds a hasher for the given policy.
func NewPasswordHasher(policy PasswordPolicy) *PasswordHasher {
	return &PasswordHasher{policy: policy}
}

// Hash produces the canonical PHC-like encoding:
// $argon2id$v=19$m=65536,t=3,p=2$<salt>$<hash>
func (h *PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, h.policy.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("crypto: failed to generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, h.policy.Iterations, h.policy.Memory, h.policy.Parallelism, h.policy.KeyLength)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.policy.Memory, h.policy.Iterations, h.policy.Parallelism, b64Salt, b64Hash)

	return encoded, nil
}

// Verify reports whether password matches the encoded hash in
// constant time, and whether the hash was produced under a weaker
// policy than the hasher's current one (NeedsRehash).
func (h *PasswordHasher) Verify(password, encodedHash string) (ok bool, needsRehash bool, err error) {
	policy, salt, hash, err := decode(encodedHash)
	if err != nil {
		return false, false, err
	}

	candidate := argon2.IDKey([]byte(password), salt, policy.Iterations, policy.Memory, policy.Parallelism, uint32(len(hash)))

	match := subtle.ConstantTimeCompare(hash, candidate) == 1
	if !match {
		return false, false, nil
	}

	needsRehash = policy.Memory < h.policy.Memory ||
		policy.Iterations < h.policy.Iterations ||
		policy.Parallelism < h.policy.Parallelism

	return true, needsRehash, nil
}

func decode(encoded string) (PasswordPolicy, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	// parts[0] == "", parts[1] == "argon2id", parts[2] == "v=..", parts[3] == "m=..,t=..,p=..", parts[4] == salt, parts[5] == hash
	if len(parts) != 6 || parts[1] != "argon2id" {
		return PasswordPolicy{}, nil, nil, ErrInvalidHashFormat
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return PasswordPolicy{}, nil, nil, fmt.Errorf("%w: %v", ErrInvalidHashFormat, err)
	}
	if version != argon2.Version {
		return PasswordPolicy{}, nil, nil, ErrIncompatibleParams
	}

	var policy PasswordPolicy
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &policy.Memory, &policy.Iterations, &policy.Parallelism); err != nil {
		return PasswordPolicy{}, nil, nil, fmt.Errorf("%w: %v", ErrInvalidHashFormat, err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return PasswordPolicy{}, nil, nil, fmt.Errorf("%w: %v", ErrInvalidHashFormat, err)
	}

	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return PasswordPolicy{}, nil, nil, fmt.Errorf("%w: %v", ErrInvalidHashFormat, err)
	}

	return policy, salt, hash, nil
}
