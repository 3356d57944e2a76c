/*
 * Copyright 2025 The Aozora Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package types

import (
	"fmt"
	"time"

	"github.com/aozora-team/aozora/pkg/document"
)

// EntityKind is the catalog entity type an operation targets.
type EntityKind string

// The entity kinds managed by the catalog.
const (
	KindAnime     EntityKind = "anime"
	KindManga     EntityKind = "manga"
	KindCharacter EntityKind = "character"
	KindPerson    EntityKind = "person"
	KindCompany   EntityKind = "company"
	KindTrack     EntityKind = "track"
	KindGroupe    EntityKind = "groupe"
	KindUser      EntityKind = "user"
	KindImage     EntityKind = "image"
)

// Kinds lists every entity kind the catalog manages.
var Kinds = []EntityKind{
	KindAnime,
	KindManga,
	KindCharacter,
	KindPerson,
	KindCompany,
	KindTrack,
	KindGroupe,
	KindUser,
	KindImage,
}

// Validate returns an error if the kind is not a known catalog kind.
func (k EntityKind) Validate() error {
	for _, kind := range Kinds {
		if k == kind {
			return nil
		}
	}
	return fmt.Errorf("unknown entity kind: %q", k)
}

// String returns the kind name.
func (k EntityKind) String() string {
	return string(k)
}

// RelationHandle is a stable reference to another entity, used in place of
// embedding. Role carries the relation-specific qualifier such as a staff
// position or a character's billing.
type RelationHandle struct {
	ID   ID     `bson:"id" json:"id"`
	Role string `bson:"role,omitempty" json:"role,omitempty"`
}

// Entity is the public projection of a stored catalog entity.
type Entity struct {
	// ID is the unique identifier of the entity.
	ID ID `json:"id"`

	// Kind is the catalog entity type.
	Kind EntityKind `json:"kind"`

	// Verified reports whether the entity has passed moderation. Entities
	// staged by a create request stay unverified until accepted.
	Verified bool `json:"verified"`

	// Removed reports whether the entity has been soft-deleted.
	Removed bool `json:"removed"`

	// Data is the entity's document snapshot with relations resolved to
	// handles.
	Data document.Document `json:"data"`

	// CreatedAt is the time when the entity was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is the time when the entity was last written.
	UpdatedAt time.Time `json:"updated_at"`
}
