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

// Package types provides the public types of the catalog API. This package
// is shared by the server core and its callers.
package types

import (
	"errors"
	"fmt"

	"github.com/rs/xid"
)

// ErrInvalidID is returned when the given ID is not a valid xid.
var ErrInvalidID = errors.New("invalid ID")

// ID represents the public, storage-independent identifier of an entity or
// revision. IDs are generated in the core so cascaded sub-entities receive
// their identity before anything is persisted.
type ID string

// NewID generates a fresh identifier.
func NewID() ID {
	return ID(xid.New().String())
}

// String returns a string representation of this ID.
func (id ID) String() string {
	return string(id)
}

// Validate returns an error if this ID is not a well-formed xid string.
func (id ID) Validate() error {
	if _, err := xid.FromString(string(id)); err != nil {
		return fmt.Errorf("%s: %w", id, ErrInvalidID)
	}
	return nil
}
