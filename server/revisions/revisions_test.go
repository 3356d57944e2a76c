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

package revisions_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aozora-team/aozora/api/types"
	"github.com/aozora-team/aozora/pkg/document"
	"github.com/aozora-team/aozora/server/backend/database"
	"github.com/aozora-team/aozora/server/backend/database/memory"
	"github.com/aozora-team/aozora/server/catalog"
	"github.com/aozora-team/aozora/server/effects"
	"github.com/aozora-team/aozora/server/revisions"
)

var ctx = context.Background()

func setupTxn(t *testing.T) database.Txn {
	db, err := memory.New()
	assert.NoError(t, err)
	txn, err := db.Begin(ctx, true)
	assert.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, txn.Abort()) })
	return txn
}

func moderatorActor() *types.Actor {
	return &types.Actor{
		ID:       types.NewID(),
		Username: "faye",
		Roles:    []string{types.RoleModerator},
	}
}

func memberActor() *types.Actor {
	return &types.Actor{
		ID:       types.NewID(),
		Username: "jet",
		Roles:    []string{types.RoleMember},
	}
}

// seedEntity creates a verified anime and returns it.
func seedEntity(t *testing.T, txn database.Txn, data document.Document) *types.Entity {
	manager, err := catalog.NewManager(txn, types.KindAnime, catalog.Options{
		Actor: &types.Actor{ID: types.NewID(), Username: "seed", Roles: []string{types.RoleAdmin}},
	})
	assert.NoError(t, err)
	assert.NoError(t, manager.Init(ctx, data))
	entity, err := manager.Create(ctx, "")
	assert.NoError(t, err)
	return entity
}

// seedUpdateRequest stages a pending update request for the given entity.
func seedUpdateRequest(
	t *testing.T,
	txn database.Txn,
	target *types.Entity,
	desired document.Document,
) *types.Revision {
	manager, err := catalog.NewManager(txn, types.KindAnime, catalog.Options{Actor: memberActor()})
	assert.NoError(t, err)
	assert.NoError(t, manager.Init(ctx, desired))
	revision, err := manager.UpdateRequest(ctx, target.ID, "proposed fix")
	assert.NoError(t, err)
	return revision
}

func newHandler(t *testing.T, txn database.Txn, opts revisions.Options) *revisions.Handler {
	handler, err := revisions.New(txn, opts)
	assert.NoError(t, err)
	return handler
}

func action(label types.ActionLabel) *types.ActionInput {
	return &types.ActionInput{Label: label}
}

func TestHandlerClaim(t *testing.T) {
	t.Run("claim moves a pending revision to in progress test", func(t *testing.T) {
		txn := setupTxn(t)
		anime := seedEntity(t, txn, document.Document{"title": "Trigun", "year": 1997})
		staged := seedUpdateRequest(t, txn, anime, document.Document{"title": "Trigun", "year": 1998})

		moderator := moderatorActor()
		handler := newHandler(t, txn, revisions.Options{Actor: moderator})

		updated, err := handler.ApplyAction(ctx, staged.ID, action(types.ActionInProgress))
		assert.NoError(t, err)
		assert.Equal(t, types.RevisionInProgress, updated.Status)

		// The claim is on the audit trail, after the author's SUBMIT entry.
		assert.Len(t, updated.Actions, 2)
		assert.Equal(t, types.ActionInProgress, updated.Actions[1].Label)
		assert.Equal(t, moderator.ID, updated.Actions[1].User.ID)
	})

	t.Run("strict mode blocks claiming an already claimed revision test", func(t *testing.T) {
		txn := setupTxn(t)
		anime := seedEntity(t, txn, document.Document{"title": "Trigun", "year": 1997})
		staged := seedUpdateRequest(t, txn, anime, document.Document{"title": "Trigun", "year": 1998})

		first := newHandler(t, txn, revisions.Options{Actor: moderatorActor(), ClaimRequiresPending: true})
		_, err := first.ApplyAction(ctx, staged.ID, action(types.ActionInProgress))
		assert.NoError(t, err)

		second := newHandler(t, txn, revisions.Options{Actor: moderatorActor(), ClaimRequiresPending: true})
		_, err = second.ApplyAction(ctx, staged.ID, action(types.ActionInProgress))
		assert.ErrorIs(t, err, revisions.ErrInvalidTransition)

		// Without strict mode a takeover is allowed.
		third := newHandler(t, txn, revisions.Options{Actor: moderatorActor()})
		_, err = third.ApplyAction(ctx, staged.ID, action(types.ActionInProgress))
		assert.NoError(t, err)
	})

	t.Run("moderator role is required for actions test", func(t *testing.T) {
		txn := setupTxn(t)
		anime := seedEntity(t, txn, document.Document{"title": "Trigun", "year": 1997})
		staged := seedUpdateRequest(t, txn, anime, document.Document{"title": "Trigun", "year": 1998})

		handler := newHandler(t, txn, revisions.Options{Actor: memberActor()})
		_, err := handler.ApplyAction(ctx, staged.ID, action(types.ActionInProgress))
		assert.ErrorIs(t, err, revisions.ErrNotModerator)
	})
}

func TestHandlerAccept(t *testing.T) {
	t.Run("accepting an update request applies its change set test", func(t *testing.T) {
		txn := setupTxn(t)
		anime := seedEntity(t, txn, document.Document{"title": "Trigun", "year": 1997})
		staged := seedUpdateRequest(t, txn, anime, document.Document{"title": "Trigun", "year": 1998})

		handler := newHandler(t, txn, revisions.Options{Actor: moderatorActor()})
		updated, err := handler.ApplyAction(ctx, staged.ID, action(types.ActionAccept))
		assert.NoError(t, err)
		assert.Equal(t, types.RevisionAccepted, updated.Status)

		stored, err := txn.FindEntityInfo(ctx, types.KindAnime, anime.ID)
		assert.NoError(t, err)
		assert.Equal(t, 1998, stored.Data["year"])
	})

	t.Run("closed revisions cannot be accepted or rejected again test", func(t *testing.T) {
		txn := setupTxn(t)
		anime := seedEntity(t, txn, document.Document{"title": "Trigun", "year": 1997})
		staged := seedUpdateRequest(t, txn, anime, document.Document{"title": "Trigun", "year": 1998})

		handler := newHandler(t, txn, revisions.Options{Actor: moderatorActor()})
		_, err := handler.ApplyAction(ctx, staged.ID, action(types.ActionAccept))
		assert.NoError(t, err)

		_, err = handler.ApplyAction(ctx, staged.ID, action(types.ActionAccept))
		assert.ErrorIs(t, err, revisions.ErrInvalidTransition)
		_, err = handler.ApplyAction(ctx, staged.ID, action(types.ActionReject))
		assert.ErrorIs(t, err, revisions.ErrInvalidTransition)

		// A failed transition leaves no audit entry behind.
		info, err := txn.FindRevisionInfo(ctx, staged.ID)
		assert.NoError(t, err)
		assert.Len(t, info.Actions, 2) // SUBMIT + ACCEPT
	})

	t.Run("accepting a create request verifies the entity test", func(t *testing.T) {
		txn := setupTxn(t)

		manager, err := catalog.NewManager(txn, types.KindAnime, catalog.Options{Actor: memberActor()})
		assert.NoError(t, err)
		assert.NoError(t, manager.Init(ctx, document.Document{"title": "Akira"}))
		anime, err := manager.CreateRequest(ctx, "please add")
		assert.NoError(t, err)
		assert.False(t, anime.Verified)

		revs, err := txn.FindRevisionInfosByTarget(ctx, types.KindAnime, anime.ID)
		assert.NoError(t, err)
		assert.Len(t, revs, 1)

		handler := newHandler(t, txn, revisions.Options{Actor: moderatorActor()})
		_, err = handler.ApplyAction(ctx, revs[0].ID, action(types.ActionAccept))
		assert.NoError(t, err)

		stored, err := txn.FindEntityInfo(ctx, types.KindAnime, anime.ID)
		assert.NoError(t, err)
		assert.True(t, stored.Verified)
	})

	t.Run("accepting an update request releases the superseded image test", func(t *testing.T) {
		txn := setupTxn(t)

		// 01. Create the anime with its first poster.
		createBatch := effects.NewBatch()
		manager, err := catalog.NewManager(txn, types.KindAnime, catalog.Options{
			Actor:   &types.Actor{ID: types.NewID(), Username: "ed", Roles: []string{types.RoleAdmin}},
			Effects: createBatch,
		})
		assert.NoError(t, err)
		assert.NoError(t, manager.Init(ctx, document.Document{
			"title": "Akira",
			"image": document.Document{"new": document.Document{
				"data": []byte("poster-v1"),
				"mime": "image/png",
			}},
		}))
		anime, err := manager.Create(ctx, "")
		assert.NoError(t, err)
		oldImageID := createBatch.Pending()[0].ResourceID

		// 02. A member proposes a replacement poster.
		manager, err = catalog.NewManager(txn, types.KindAnime, catalog.Options{Actor: memberActor()})
		assert.NoError(t, err)
		assert.NoError(t, manager.Init(ctx, document.Document{
			"title": "Akira",
			"image": document.Document{"new": document.Document{
				"data": []byte("poster-v2"),
				"mime": "image/png",
			}},
		}))
		staged, err := manager.UpdateRequest(ctx, anime.ID, "new poster")
		assert.NoError(t, err)

		// 03. Accepting the request stages deletion of the replaced file on
		// the handler's batch, like the direct patch path does.
		acceptBatch := effects.NewBatch()
		handler := newHandler(t, txn, revisions.Options{
			Actor:   moderatorActor(),
			Effects: acceptBatch,
		})
		_, err = handler.ApplyAction(ctx, staged.ID, action(types.ActionAccept))
		assert.NoError(t, err)

		pending := acceptBatch.Pending()
		assert.Len(t, pending, 1)
		assert.Equal(t, effects.OpDelete, pending[0].Op)
		assert.Equal(t, oldImageID, pending[0].ResourceID)
	})

	t.Run("accepting a delete request removes the entity test", func(t *testing.T) {
		txn := setupTxn(t)
		anime := seedEntity(t, txn, document.Document{"title": "Akira"})

		manager, err := catalog.NewManager(txn, types.KindAnime, catalog.Options{Actor: memberActor()})
		assert.NoError(t, err)
		staged, err := manager.DeleteRequest(ctx, anime.ID, "duplicate")
		assert.NoError(t, err)

		handler := newHandler(t, txn, revisions.Options{Actor: moderatorActor()})
		_, err = handler.ApplyAction(ctx, staged.ID, action(types.ActionAccept))
		assert.NoError(t, err)

		stored, err := txn.FindEntityInfo(ctx, types.KindAnime, anime.ID)
		assert.NoError(t, err)
		assert.True(t, stored.Removed)

		// Reverting the deletion restores the entity.
		_, err = handler.ApplyAction(ctx, staged.ID, action(types.ActionRevert))
		assert.NoError(t, err)
		stored, err = txn.FindEntityInfo(ctx, types.KindAnime, anime.ID)
		assert.NoError(t, err)
		assert.False(t, stored.Removed)
	})
}

func TestHandlerChange(t *testing.T) {
	t.Run("change lays submitted fields over the staged change set test", func(t *testing.T) {
		txn := setupTxn(t)
		anime := seedEntity(t, txn, document.Document{"title": "Trigun", "year": 1997})
		staged := seedUpdateRequest(t, txn, anime, document.Document{"title": "Trigun", "year": 1998})

		handler := newHandler(t, txn, revisions.Options{Actor: moderatorActor()})
		updated, err := handler.ApplyAction(ctx, staged.ID, &types.ActionInput{
			Label:   types.ActionChange,
			Changes: document.Document{"year": 1999},
		})
		assert.NoError(t, err)
		assert.Equal(t, 1999, updated.Changes["year"])
		assert.Equal(t, 1997, updated.BeforeChanges["year"])

		// Accepting now applies the amended value.
		_, err = handler.ApplyAction(ctx, staged.ID, action(types.ActionAccept))
		assert.NoError(t, err)
		stored, err := txn.FindEntityInfo(ctx, types.KindAnime, anime.ID)
		assert.NoError(t, err)
		assert.Equal(t, 1999, stored.Data["year"])
	})

	t.Run("change reducing the request to a no-op fails test", func(t *testing.T) {
		txn := setupTxn(t)
		anime := seedEntity(t, txn, document.Document{"title": "Trigun", "year": 1997})
		staged := seedUpdateRequest(t, txn, anime, document.Document{"title": "Trigun", "year": 1998})

		handler := newHandler(t, txn, revisions.Options{Actor: moderatorActor()})
		_, err := handler.ApplyAction(ctx, staged.ID, &types.ActionInput{
			Label:   types.ActionChange,
			Changes: document.Document{"year": 1997},
		})
		assert.ErrorIs(t, err, catalog.ErrEmptyChanges)
	})

	t.Run("change is rejected on closed revisions test", func(t *testing.T) {
		txn := setupTxn(t)
		anime := seedEntity(t, txn, document.Document{"title": "Trigun", "year": 1997})
		staged := seedUpdateRequest(t, txn, anime, document.Document{"title": "Trigun", "year": 1998})

		handler := newHandler(t, txn, revisions.Options{Actor: moderatorActor()})
		_, err := handler.ApplyAction(ctx, staged.ID, action(types.ActionReject))
		assert.NoError(t, err)

		_, err = handler.ApplyAction(ctx, staged.ID, &types.ActionInput{
			Label:   types.ActionChange,
			Changes: document.Document{"year": 1999},
		})
		assert.ErrorIs(t, err, revisions.ErrInvalidTransition)
	})
}

func TestHandlerRevert(t *testing.T) {
	t.Run("revert restores the values before an accepted update test", func(t *testing.T) {
		txn := setupTxn(t)
		anime := seedEntity(t, txn, document.Document{"title": "Trigun", "year": 1997})
		staged := seedUpdateRequest(t, txn, anime, document.Document{"title": "Trigun Stampede", "year": 1998})

		handler := newHandler(t, txn, revisions.Options{Actor: moderatorActor()})
		_, err := handler.ApplyAction(ctx, staged.ID, action(types.ActionAccept))
		assert.NoError(t, err)

		updated, err := handler.ApplyAction(ctx, staged.ID, action(types.ActionRevert))
		assert.NoError(t, err)
		assert.Equal(t, types.RevisionReverted, updated.Status)

		stored, err := txn.FindEntityInfo(ctx, types.KindAnime, anime.ID)
		assert.NoError(t, err)
		assert.Equal(t, "Trigun", stored.Data["title"])
		assert.Equal(t, 1997, stored.Data["year"])

		// A reverted revision stays closed.
		_, err = handler.ApplyAction(ctx, staged.ID, action(types.ActionReject))
		assert.ErrorIs(t, err, revisions.ErrInvalidTransition)
	})

	t.Run("directly applied updates are revertible test", func(t *testing.T) {
		txn := setupTxn(t)
		anime := seedEntity(t, txn, document.Document{"title": "Trigun", "year": 1997})

		manager, err := catalog.NewManager(txn, types.KindAnime, catalog.Options{
			Actor: &types.Actor{ID: types.NewID(), Username: "ed", Roles: []string{types.RoleAdmin}},
		})
		assert.NoError(t, err)
		assert.NoError(t, manager.Init(ctx, document.Document{"title": "Trigun", "year": 1998}))
		_, err = manager.Patch(ctx, anime.ID, "fix year")
		assert.NoError(t, err)

		revs, err := txn.FindRevisionInfosByTarget(ctx, types.KindAnime, anime.ID)
		assert.NoError(t, err)
		assert.Len(t, revs, 2)
		assert.Equal(t, types.RevisionUpdate, revs[1].Type)
		assert.Equal(t, types.RevisionAccepted, revs[1].Status)

		handler := newHandler(t, txn, revisions.Options{Actor: moderatorActor()})
		updated, err := handler.ApplyAction(ctx, revs[1].ID, action(types.ActionRevert))
		assert.NoError(t, err)
		assert.Equal(t, types.RevisionReverted, updated.Status)

		stored, err := txn.FindEntityInfo(ctx, types.KindAnime, anime.ID)
		assert.NoError(t, err)
		assert.Equal(t, 1997, stored.Data["year"])
	})

	t.Run("reverting a direct deletion restores the entity test", func(t *testing.T) {
		txn := setupTxn(t)
		anime := seedEntity(t, txn, document.Document{"title": "Akira"})

		manager, err := catalog.NewManager(txn, types.KindAnime, catalog.Options{
			Actor: &types.Actor{ID: types.NewID(), Username: "ed", Roles: []string{types.RoleAdmin}},
		})
		assert.NoError(t, err)
		assert.NoError(t, manager.Delete(ctx, anime.ID, "duplicate"))

		revs, err := txn.FindRevisionInfosByTarget(ctx, types.KindAnime, anime.ID)
		assert.NoError(t, err)
		assert.Equal(t, types.RevisionDelete, revs[1].Type)

		handler := newHandler(t, txn, revisions.Options{Actor: moderatorActor()})
		_, err = handler.ApplyAction(ctx, revs[1].ID, action(types.ActionRevert))
		assert.NoError(t, err)

		stored, err := txn.FindEntityInfo(ctx, types.KindAnime, anime.ID)
		assert.NoError(t, err)
		assert.False(t, stored.Removed)
	})

	t.Run("only accepted revisions can be reverted test", func(t *testing.T) {
		txn := setupTxn(t)
		anime := seedEntity(t, txn, document.Document{"title": "Trigun", "year": 1997})
		staged := seedUpdateRequest(t, txn, anime, document.Document{"title": "Trigun", "year": 1998})

		handler := newHandler(t, txn, revisions.Options{Actor: moderatorActor()})
		_, err := handler.ApplyAction(ctx, staged.ID, action(types.ActionRevert))
		assert.ErrorIs(t, err, revisions.ErrInvalidTransition)
	})

	t.Run("reverting an accepted create request unverifies the entity test", func(t *testing.T) {
		txn := setupTxn(t)

		manager, err := catalog.NewManager(txn, types.KindAnime, catalog.Options{Actor: memberActor()})
		assert.NoError(t, err)
		assert.NoError(t, manager.Init(ctx, document.Document{"title": "Akira"}))
		anime, err := manager.CreateRequest(ctx, "")
		assert.NoError(t, err)

		revs, err := txn.FindRevisionInfosByTarget(ctx, types.KindAnime, anime.ID)
		assert.NoError(t, err)

		handler := newHandler(t, txn, revisions.Options{Actor: moderatorActor()})
		_, err = handler.ApplyAction(ctx, revs[0].ID, action(types.ActionAccept))
		assert.NoError(t, err)

		_, err = handler.ApplyAction(ctx, revs[0].ID, action(types.ActionRevert))
		assert.NoError(t, err)

		stored, err := txn.FindEntityInfo(ctx, types.KindAnime, anime.ID)
		assert.NoError(t, err)
		assert.False(t, stored.Verified)
	})
}

func TestHandlerDelete(t *testing.T) {
	t.Run("deleting revision records requires the admin role test", func(t *testing.T) {
		txn := setupTxn(t)
		anime := seedEntity(t, txn, document.Document{"title": "Trigun", "year": 1997})
		staged := seedUpdateRequest(t, txn, anime, document.Document{"title": "Trigun", "year": 1998})

		moderator := newHandler(t, txn, revisions.Options{Actor: moderatorActor()})
		err := moderator.Delete(ctx, staged.ID)
		assert.ErrorIs(t, err, revisions.ErrNotAdmin)

		admin := newHandler(t, txn, revisions.Options{Actor: &types.Actor{
			ID:       types.NewID(),
			Username: "ed",
			Roles:    []string{types.RoleAdmin},
		}})
		assert.NoError(t, admin.Delete(ctx, staged.ID))

		_, err = admin.Find(ctx, staged.ID)
		assert.ErrorIs(t, err, database.ErrRevisionNotFound)
	})

	t.Run("unknown action labels are rejected by validation test", func(t *testing.T) {
		txn := setupTxn(t)
		anime := seedEntity(t, txn, document.Document{"title": "Trigun", "year": 1997})
		staged := seedUpdateRequest(t, txn, anime, document.Document{"title": "Trigun", "year": 1998})

		handler := newHandler(t, txn, revisions.Options{Actor: moderatorActor()})
		_, err := handler.ApplyAction(ctx, staged.ID, action(types.ActionSubmit))
		assert.Error(t, err)
	})
}
