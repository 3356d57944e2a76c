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

package database

import (
	"time"

	"github.com/aozora-team/aozora/api/types"
	"github.com/aozora-team/aozora/pkg/document"
)

// EntityInfo is the database representation of a catalog entity.
type EntityInfo struct {
	// ID is the unique identifier of the entity.
	ID types.ID `bson:"_id"`

	// Kind is the catalog entity type.
	Kind types.EntityKind `bson:"kind"`

	// NaturalKey is the kind-specific uniqueness key, e.g. a company's name
	// or a person's first and last name. Empty when the kind defines none.
	NaturalKey string `bson:"natural_key,omitempty"`

	// Verified reports whether the entity has passed moderation.
	Verified bool `bson:"verified"`

	// Removed reports whether the entity has been soft-deleted.
	Removed bool `bson:"removed"`

	// Data is the entity's document snapshot.
	Data document.Document `bson:"data"`

	// CreatedAt is the time the entity was created.
	CreatedAt time.Time `bson:"created_at"`

	// UpdatedAt is the time the entity was last written.
	UpdatedAt time.Time `bson:"updated_at"`
}

// DeepCopy returns a deep copy of this EntityInfo.
func (i *EntityInfo) DeepCopy() *EntityInfo {
	if i == nil {
		return nil
	}

	clone := *i
	clone.Data = i.Data.DeepCopy()
	return &clone
}

// ToEntity converts this EntityInfo to the public Entity type.
func (i *EntityInfo) ToEntity() *types.Entity {
	return &types.Entity{
		ID:        i.ID,
		Kind:      i.Kind,
		Verified:  i.Verified,
		Removed:   i.Removed,
		Data:      i.Data.DeepCopy(),
		CreatedAt: i.CreatedAt,
		UpdatedAt: i.UpdatedAt,
	}
}
