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

// Package database provides the storage interface for the catalog backend.
package database

import (
	"context"
	stderrors "errors"

	"github.com/aozora-team/aozora/api/types"
	"github.com/aozora-team/aozora/pkg/document"
	"github.com/aozora-team/aozora/pkg/errors"
)

var (
	// ErrEntityNotFound is returned when the entity could not be found.
	ErrEntityNotFound = errors.NotFound("entity not found").WithCode("ErrEntityNotFound")

	// ErrEntityAlreadyExists is returned when an entity with the same
	// natural key already exists.
	ErrEntityAlreadyExists = errors.AlreadyExists("entity already exists").WithCode("ErrEntityAlreadyExists")

	// ErrRevisionNotFound is returned when the revision could not be found.
	ErrRevisionNotFound = errors.NotFound("revision not found").WithCode("ErrRevisionNotFound")

	// ErrTxnDone is returned when a closed transaction is used.
	ErrTxnDone = errors.FailedPrecond("transaction already committed or aborted").WithCode("ErrTxnDone")
)

// IsEntityNotFound reports whether the given error denotes a missing entity.
func IsEntityNotFound(err error) bool {
	return stderrors.Is(err, ErrEntityNotFound)
}

// Database opens transactional scopes over the catalog stores.
type Database interface {
	// Begin opens a transaction. All writes of one logical operation run in
	// a single transaction committed or aborted by the caller.
	Begin(ctx context.Context, update bool) (Txn, error)

	// Close closes all resources of this database.
	Close() error
}

// Txn is one transactional scope over the entity and revision stores. The
// per-kind entity capability is the small surface the generic entity
// manager is built against: find, exists, insert and update-with-changes.
type Txn interface {
	// Commit makes every write of this transaction durable.
	Commit() error

	// Abort discards every write of this transaction. Aborting a committed
	// transaction is a no-op so it can be deferred unconditionally.
	Abort() error

	// FindEntityInfo returns the entity of the given kind and id.
	FindEntityInfo(ctx context.Context, kind types.EntityKind, id types.ID) (*EntityInfo, error)

	// EntityExists reports whether an entity of the given kind and id exists.
	EntityExists(ctx context.Context, kind types.EntityKind, id types.ID) (bool, error)

	// FindEntityInfoByNaturalKey returns the entity of the given kind whose
	// natural key matches, or ErrEntityNotFound.
	FindEntityInfoByNaturalKey(ctx context.Context, kind types.EntityKind, naturalKey string) (*EntityInfo, error)

	// CreateEntityInfo inserts the given entity. The caller assigns the id;
	// a non-empty natural key must be unique within the kind.
	CreateEntityInfo(ctx context.Context, info *EntityInfo) (*EntityInfo, error)

	// ApplyEntityChanges applies a change-set to the stored document of the
	// given entity and returns the updated info. naturalKey is the key
	// recomputed from the post-change document; empty when the kind defines
	// none.
	ApplyEntityChanges(
		ctx context.Context,
		kind types.EntityKind,
		id types.ID,
		changes document.Document,
		naturalKey string,
	) (*EntityInfo, error)

	// SetEntityVerified flips the moderation flag of the given entity.
	SetEntityVerified(ctx context.Context, kind types.EntityKind, id types.ID, verified bool) (*EntityInfo, error)

	// SetEntityRemoved flips the soft-delete flag of the given entity.
	SetEntityRemoved(ctx context.Context, kind types.EntityKind, id types.ID, removed bool) (*EntityInfo, error)

	// CreateRevisionInfo inserts the given revision record.
	CreateRevisionInfo(ctx context.Context, info *RevisionInfo) (*RevisionInfo, error)

	// FindRevisionInfo returns the revision of the given id.
	FindRevisionInfo(ctx context.Context, id types.ID) (*RevisionInfo, error)

	// UpdateRevisionInfo replaces the stored revision with the given one.
	UpdateRevisionInfo(ctx context.Context, info *RevisionInfo) error

	// FindRevisionInfosByTarget returns the revisions affecting the given
	// entity, oldest first.
	FindRevisionInfosByTarget(ctx context.Context, kind types.EntityKind, id types.ID) ([]*RevisionInfo, error)

	// DeleteRevisionInfo removes a revision record. This is the explicit
	// administrative delete; moderation never removes revisions.
	DeleteRevisionInfo(ctx context.Context, id types.ID) error
}
