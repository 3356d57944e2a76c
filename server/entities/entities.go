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

// Package entities provides the entity related business logic. Every write
// runs in a single transaction; side effects staged during the write are
// executed only after the transaction committed.
package entities

import (
	"context"

	"github.com/aozora-team/aozora/api/types"
	"github.com/aozora-team/aozora/pkg/document"
	"github.com/aozora-team/aozora/server/backend"
	"github.com/aozora-team/aozora/server/backend/database"
	"github.com/aozora-team/aozora/server/catalog"
	"github.com/aozora-team/aozora/server/effects"
	"github.com/aozora-team/aozora/server/logging"
)

// Get returns the entity of the given kind and id.
func Get(
	ctx context.Context,
	be *backend.Backend,
	kind types.EntityKind,
	id types.ID,
) (*types.Entity, error) {
	txn, err := be.DB.Begin(ctx, false)
	if err != nil {
		return nil, err
	}
	defer abort(ctx, txn)

	info, err := txn.FindEntityInfo(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	return info.ToEntity(), nil
}

// Create creates a verified entity from the given document, cascading over
// its inline relation specs. Used by trusted actors; the write is recorded
// as an already accepted revision.
func Create(
	ctx context.Context,
	be *backend.Backend,
	actorID types.ID,
	kind types.EntityKind,
	data document.Document,
	note string,
) (*types.Entity, error) {
	var entity *types.Entity
	err := withManager(ctx, be, actorID, kind, func(m *catalog.Manager) error {
		if err := m.Init(ctx, data); err != nil {
			return err
		}

		created, err := m.Create(ctx, note)
		if err != nil {
			return err
		}
		entity = created
		return nil
	}, "create")
	return entity, err
}

// CreateRequest creates an unverified entity awaiting moderation.
func CreateRequest(
	ctx context.Context,
	be *backend.Backend,
	actorID types.ID,
	kind types.EntityKind,
	data document.Document,
	note string,
) (*types.Entity, error) {
	var entity *types.Entity
	err := withManager(ctx, be, actorID, kind, func(m *catalog.Manager) error {
		if err := m.Init(ctx, data); err != nil {
			return err
		}

		created, err := m.CreateRequest(ctx, note)
		if err != nil {
			return err
		}
		entity = created
		return nil
	}, "create_request")
	return entity, err
}

// Update applies the difference between the stored entity and the given
// document directly, recording an accepted update revision.
func Update(
	ctx context.Context,
	be *backend.Backend,
	actorID types.ID,
	kind types.EntityKind,
	id types.ID,
	data document.Document,
	note string,
) (*document.ChangeSet, error) {
	var cs *document.ChangeSet
	err := withManager(ctx, be, actorID, kind, func(m *catalog.Manager) error {
		if err := m.Init(ctx, data); err != nil {
			return err
		}

		applied, err := m.Patch(ctx, id, note)
		if err != nil {
			return err
		}
		cs = applied
		return nil
	}, "update")
	return cs, err
}

// UpdateRequest stages the difference between the stored entity and the
// given document as a pending revision, leaving the entity untouched.
func UpdateRequest(
	ctx context.Context,
	be *backend.Backend,
	actorID types.ID,
	kind types.EntityKind,
	id types.ID,
	data document.Document,
	note string,
) (*types.Revision, error) {
	var revision *types.Revision
	err := withManager(ctx, be, actorID, kind, func(m *catalog.Manager) error {
		if err := m.Init(ctx, data); err != nil {
			return err
		}

		staged, err := m.UpdateRequest(ctx, id, note)
		if err != nil {
			return err
		}
		revision = staged
		return nil
	}, "update_request")
	return revision, err
}

// GetChanges previews the change-set the given document would apply to the
// stored entity without writing anything. A nil change-set means no
// difference.
func GetChanges(
	ctx context.Context,
	be *backend.Backend,
	actorID types.ID,
	kind types.EntityKind,
	id types.ID,
	data document.Document,
	ignoreKeys []string,
) (*document.ChangeSet, error) {
	txn, err := be.DB.Begin(ctx, false)
	if err != nil {
		return nil, err
	}
	defer abort(ctx, txn)

	actor, err := be.ResolveActor(ctx, txn, actorID)
	if err != nil {
		return nil, err
	}

	manager, err := catalog.NewManager(txn, kind, catalog.Options{Actor: actor})
	if err != nil {
		return nil, err
	}
	if err := manager.Init(ctx, data); err != nil {
		return nil, err
	}

	return manager.GetChanges(ctx, id, ignoreKeys)
}

// Delete soft-removes the entity, recording an accepted deletion revision.
func Delete(
	ctx context.Context,
	be *backend.Backend,
	actorID types.ID,
	kind types.EntityKind,
	id types.ID,
	note string,
) error {
	return withManager(ctx, be, actorID, kind, func(m *catalog.Manager) error {
		return m.Delete(ctx, id, note)
	}, "delete")
}

// DeleteRequest stages a deletion awaiting moderation.
func DeleteRequest(
	ctx context.Context,
	be *backend.Backend,
	actorID types.ID,
	kind types.EntityKind,
	id types.ID,
	note string,
) (*types.Revision, error) {
	var revision *types.Revision
	err := withManager(ctx, be, actorID, kind, func(m *catalog.Manager) error {
		staged, err := m.DeleteRequest(ctx, id, note)
		if err != nil {
			return err
		}
		revision = staged
		return nil
	}, "delete_request")
	return revision, err
}

// Restore lifts the soft-delete flag of the entity.
func Restore(
	ctx context.Context,
	be *backend.Backend,
	actorID types.ID,
	kind types.EntityKind,
	id types.ID,
	note string,
) error {
	return withManager(ctx, be, actorID, kind, func(m *catalog.Manager) error {
		return m.Restore(ctx, id, note)
	}, "restore")
}

// withManager runs one entity write: it opens the transaction, resolves the
// actor, hands a manager to the given function, commits, and executes staged
// side effects after the commit. On any failure the transaction is aborted
// and the staged effects are discarded with it.
func withManager(
	ctx context.Context,
	be *backend.Backend,
	actorID types.ID,
	kind types.EntityKind,
	fn func(m *catalog.Manager) error,
	op string,
) error {
	txn, err := be.DB.Begin(ctx, true)
	if err != nil {
		return err
	}
	defer abort(ctx, txn)

	actor, err := be.ResolveActor(ctx, txn, actorID)
	if err != nil {
		return err
	}

	batch := effects.NewBatch()
	manager, err := catalog.NewManager(txn, kind, catalog.Options{
		Actor:   actor,
		Effects: batch,
	})
	if err != nil {
		return err
	}

	if err := fn(manager); err != nil {
		return err
	}

	if err := txn.Commit(); err != nil {
		return err
	}

	if be.Metrics != nil {
		be.Metrics.AddEntityWrite(kind, op)
	}
	batch.Run(ctx, be.Effects)
	return nil
}

// abort rolls back a transaction unless it committed; safe to defer
// unconditionally.
func abort(ctx context.Context, txn database.Txn) {
	if err := txn.Abort(); err != nil {
		logging.From(ctx).Error(err)
	}
}
