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

package revisions

import (
	"context"

	"github.com/aozora-team/aozora/api/types"
	"github.com/aozora-team/aozora/server/backend"
	"github.com/aozora-team/aozora/server/backend/database"
	"github.com/aozora-team/aozora/server/effects"
	"github.com/aozora-team/aozora/server/logging"
)

// Apply applies one moderator action to the given revision within its own
// transaction. Side effects the action stages, such as releasing an image
// file superseded by an accepted update, run only after the commit.
func Apply(
	ctx context.Context,
	be *backend.Backend,
	actorID types.ID,
	revisionID types.ID,
	input *types.ActionInput,
) (*types.Revision, error) {
	txn, err := be.DB.Begin(ctx, true)
	if err != nil {
		return nil, err
	}
	defer abort(ctx, txn)

	batch := effects.NewBatch()
	handler, err := handlerFor(ctx, be, txn, actorID, batch)
	if err != nil {
		return nil, err
	}

	revision, err := handler.ApplyAction(ctx, revisionID, input)
	if err != nil {
		return nil, err
	}

	if err := txn.Commit(); err != nil {
		return nil, err
	}

	batch.Run(ctx, be.Effects)
	return revision, nil
}

// Get returns the revision of the given id.
func Get(
	ctx context.Context,
	be *backend.Backend,
	actorID types.ID,
	revisionID types.ID,
) (*types.Revision, error) {
	txn, err := be.DB.Begin(ctx, false)
	if err != nil {
		return nil, err
	}
	defer abort(ctx, txn)

	handler, err := handlerFor(ctx, be, txn, actorID, nil)
	if err != nil {
		return nil, err
	}
	return handler.Find(ctx, revisionID)
}

// ListForTarget returns the revisions affecting the given entity, oldest
// first.
func ListForTarget(
	ctx context.Context,
	be *backend.Backend,
	actorID types.ID,
	kind types.EntityKind,
	id types.ID,
) ([]*types.Revision, error) {
	txn, err := be.DB.Begin(ctx, false)
	if err != nil {
		return nil, err
	}
	defer abort(ctx, txn)

	handler, err := handlerFor(ctx, be, txn, actorID, nil)
	if err != nil {
		return nil, err
	}
	return handler.ListByTarget(ctx, kind, id)
}

// Remove deletes a revision record. Admin only.
func Remove(
	ctx context.Context,
	be *backend.Backend,
	actorID types.ID,
	revisionID types.ID,
) error {
	txn, err := be.DB.Begin(ctx, true)
	if err != nil {
		return err
	}
	defer abort(ctx, txn)

	handler, err := handlerFor(ctx, be, txn, actorID, nil)
	if err != nil {
		return err
	}
	if err := handler.Delete(ctx, revisionID); err != nil {
		return err
	}
	return txn.Commit()
}

func handlerFor(
	ctx context.Context,
	be *backend.Backend,
	txn database.Txn,
	actorID types.ID,
	batch *effects.Batch,
) (*Handler, error) {
	actor, err := be.ResolveActor(ctx, txn, actorID)
	if err != nil {
		return nil, err
	}

	opts := Options{
		Actor:                actor,
		ClaimRequiresPending: be.Config.ClaimRequiresPending,
		Effects:              batch,
	}
	if be.Metrics != nil {
		opts.Observer = be.Metrics
	}
	return New(txn, opts)
}

func abort(ctx context.Context, txn database.Txn) {
	if err := txn.Abort(); err != nil {
		logging.From(ctx).Error(err)
	}
}
