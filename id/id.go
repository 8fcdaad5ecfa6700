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

// Package id generates the opaque identifiers used for every persisted
// aggregate in the system.
package id

import "github.com/google/uuid"

// NewUUIDv7 returns a new time-ordered UUID (RFC 9562 version 7) as its
// canonical string form. Every repository Create path calls this to
// assign primary keys before the row is persisted, so inserts cluster by
// creation time even though the ID has no other semantic meaning.
func NewUUIDv7() string {
	u, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if the runtime's random source is broken,
		// which is unrecoverable for a server minting credentials.
		panic("id: failed to generate uuidv7: " + err.Error())
	}
	return u.String()
}
