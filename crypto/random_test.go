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

func TestVerifyPKCE(t *testing.T) {
	// From spec scenario 1.
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	if !VerifyPKCE("S256", verifier, challenge) {
		t.Fatalf("VerifyPKCE() = false, want true for matching verifier/challenge")
	}
	if VerifyPKCE("S256", "wrong", challenge) {
		t.Fatalf("VerifyPKCE() = true, want false for mismatched verifier")
	}
	if VerifyPKCE("plain", verifier, challenge) {
		t.Fatalf("VerifyPKCE() = true, want false for unsupported method")
	}
}

func TestRandomTokenLength(t *testing.T) {
	tok, err := RandomToken(32)
	if err != nil {
		t.Fatalf("RandomToken() error = %v", err)
	}
	if len(tok) != 43 {
		t.Fatalf("RandomToken(32) length = %d, want 43", len(tok))
	}

	tok2, err := RandomToken(32)
	if err != nil {
		t.Fatalf("RandomToken() error = %v", err)
	}
	if tok == tok2 {
		t.Fatalf("RandomToken() produced identical output twice")
	}
}

func TestHashTokenDeterministic(t *testing.T) {
	a := HashToken("some-opaque-token")
	b := HashToken("some-opaque-token")
	if a != b {
		t.Fatalf("HashToken() not deterministic: %q != %q", a, b)
	}
	if HashToken("other") == a {
		t.Fatalf("HashToken() collision across different inputs")
	}
}

func TestConstantTimeEquals(t *testing.T) {
	if !ConstantTimeEquals("secret", "secret") {
		t.Fatalf("ConstantTimeEquals() = false, want true for equal strings")
	}
	if ConstantTimeEquals("secret", "other") {
		t.Fatalf("ConstantTimeEquals() = true, want false for different strings")
	}
}
