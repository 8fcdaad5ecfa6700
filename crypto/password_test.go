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

import "testing"

func weakPolicy() PasswordPolicy {
	return PasswordPolicy{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func TestPasswordHashAndVerify(t *testing.T) {
	h := NewPasswordHasher(weakPolicy())

	encoded, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	ok, needsRehash, err := h.Verify("correct horse battery staple", encoded)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok {
		t.Fatalf("Verify() = false, want true for correct password")
	}
	if needsRehash {
		t.Fatalf("Verify() needsRehash = true, want false for matching policy")
	}
}

func TestPasswordVerifyWrongPassword(t *testing.T) {
	h := NewPasswordHasher(weakPolicy())
	encoded, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	ok, _, err := h.Verify("wrong password", encoded)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if ok {
		t.Fatalf("Verify() = true, want false for wrong password")
	}
}

func TestPasswordNeedsRehashOnStrongerPolicy(t *testing.T) {
	weak := NewPasswordHasher(weakPolicy())
	encoded, err := weak.Hash("hunter2")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	strong := NewPasswordHasher(DefaultPasswordPolicy())
	ok, needsRehash, err := strong.Verify("hunter2", encoded)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok {
		t.Fatalf("Verify() = false, want true")
	}
	if !needsRehash {
		t.Fatalf("Verify() needsRehash = false, want true when policy strengthened")
	}
}

func TestPasswordVerifyMalformedHash(t *testing.T) {
	h := NewPasswordHasher(weakPolicy())
	if _, _, err := h.Verify("x", "not-a-valid-hash"); err == nil {
		t.Fatalf("Verify() error = nil, want ErrInvalidHashFormat")
	}
}
