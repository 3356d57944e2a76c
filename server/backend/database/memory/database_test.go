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

package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aozora-team/aozora/api/types"
	"github.com/aozora-team/aozora/pkg/document"
	"github.com/aozora-team/aozora/server/backend/database"
	"github.com/aozora-team/aozora/server/backend/database/memory"
)

func TestDB(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) database.Txn {
		db, err := memory.New()
		assert.NoError(t, err)
		txn, err := db.Begin(ctx, true)
		assert.NoError(t, err)
		t.Cleanup(func() { assert.NoError(t, txn.Abort()) })
		return txn
	}

	t.Run("entity crud test", func(t *testing.T) {
		txn := setup(t)

		created, err := txn.CreateEntityInfo(ctx, &database.EntityInfo{
			ID:       types.NewID(),
			Kind:     types.KindCompany,
			Verified: true,
			Data:     document.Document{"name": "Sunrise"},
		})
		assert.NoError(t, err)

		found, err := txn.FindEntityInfo(ctx, types.KindCompany, created.ID)
		assert.NoError(t, err)
		assert.Equal(t, "Sunrise", found.Data["name"])

		exists, err := txn.EntityExists(ctx, types.KindCompany, created.ID)
		assert.NoError(t, err)
		assert.True(t, exists)

		// Kind mismatch is a miss, not a leak across kinds.
		_, err = txn.FindEntityInfo(ctx, types.KindAnime, created.ID)
		assert.ErrorIs(t, err, database.ErrEntityNotFound)
	})

	t.Run("natural key uniqueness test", func(t *testing.T) {
		txn := setup(t)

		_, err := txn.CreateEntityInfo(ctx, &database.EntityInfo{
			ID:         types.NewID(),
			Kind:       types.KindCompany,
			NaturalKey: "sunrise",
			Data:       document.Document{"name": "Sunrise"},
		})
		assert.NoError(t, err)

		_, err = txn.CreateEntityInfo(ctx, &database.EntityInfo{
			ID:         types.NewID(),
			Kind:       types.KindCompany,
			NaturalKey: "sunrise",
			Data:       document.Document{"name": "SUNRISE"},
		})
		assert.ErrorIs(t, err, database.ErrEntityAlreadyExists)

		// The same key under another kind is fine.
		_, err = txn.CreateEntityInfo(ctx, &database.EntityInfo{
			ID:         types.NewID(),
			Kind:       types.KindPerson,
			NaturalKey: "sunrise",
			Data:       document.Document{},
		})
		assert.NoError(t, err)

		found, err := txn.FindEntityInfoByNaturalKey(ctx, types.KindCompany, "sunrise")
		assert.NoError(t, err)
		assert.Equal(t, "Sunrise", found.Data["name"])
	})

	t.Run("apply entity changes test", func(t *testing.T) {
		txn := setup(t)

		created, err := txn.CreateEntityInfo(ctx, &database.EntityInfo{
			ID:         types.NewID(),
			Kind:       types.KindCompany,
			NaturalKey: "sunrise",
			Data:       document.Document{"name": "Sunrise", "country": "JP"},
		})
		assert.NoError(t, err)

		updated, err := txn.ApplyEntityChanges(ctx, types.KindCompany, created.ID, document.Document{
			"name":    "Bandai Namco Filmworks",
			"country": document.Removed,
		}, "bandai namco filmworks")
		assert.NoError(t, err)
		assert.Equal(t, "Bandai Namco Filmworks", updated.Data["name"])
		_, hasCountry := updated.Data["country"]
		assert.False(t, hasCountry)
		assert.Equal(t, "bandai namco filmworks", updated.NaturalKey)
	})

	t.Run("verified and removed flags test", func(t *testing.T) {
		txn := setup(t)

		created, err := txn.CreateEntityInfo(ctx, &database.EntityInfo{
			ID:   types.NewID(),
			Kind: types.KindCharacter,
			Data: document.Document{"name": "Spike"},
		})
		assert.NoError(t, err)

		info, err := txn.SetEntityVerified(ctx, types.KindCharacter, created.ID, true)
		assert.NoError(t, err)
		assert.True(t, info.Verified)

		info, err = txn.SetEntityRemoved(ctx, types.KindCharacter, created.ID, true)
		assert.NoError(t, err)
		assert.True(t, info.Removed)
	})

	t.Run("revision crud test", func(t *testing.T) {
		txn := setup(t)
		target := types.NewID()

		first, err := txn.CreateRevisionInfo(ctx, &database.RevisionInfo{
			ID:         types.NewID(),
			Type:       types.RevisionCreate,
			Status:     types.RevisionAccepted,
			TargetKind: types.KindAnime,
			TargetID:   target,
			AuthorID:   types.NewID(),
		})
		assert.NoError(t, err)

		second, err := txn.CreateRevisionInfo(ctx, &database.RevisionInfo{
			ID:         types.NewID(),
			Type:       types.RevisionUpdateRequest,
			Status:     types.RevisionPending,
			TargetKind: types.KindAnime,
			TargetID:   target,
			AuthorID:   types.NewID(),
		})
		assert.NoError(t, err)

		second.Status = types.RevisionAccepted
		assert.NoError(t, txn.UpdateRevisionInfo(ctx, second))

		found, err := txn.FindRevisionInfo(ctx, second.ID)
		assert.NoError(t, err)
		assert.Equal(t, types.RevisionAccepted, found.Status)

		infos, err := txn.FindRevisionInfosByTarget(ctx, types.KindAnime, target)
		assert.NoError(t, err)
		assert.Len(t, infos, 2)
		assert.Equal(t, first.ID, infos[0].ID)

		assert.NoError(t, txn.DeleteRevisionInfo(ctx, first.ID))
		_, err = txn.FindRevisionInfo(ctx, first.ID)
		assert.ErrorIs(t, err, database.ErrRevisionNotFound)
	})

	t.Run("aborted transaction leaves no writes test", func(t *testing.T) {
		db, err := memory.New()
		assert.NoError(t, err)

		txn, err := db.Begin(ctx, true)
		assert.NoError(t, err)

		created, err := txn.CreateEntityInfo(ctx, &database.EntityInfo{
			ID:   types.NewID(),
			Kind: types.KindCompany,
			Data: document.Document{"name": "Ghost"},
		})
		assert.NoError(t, err)
		assert.NoError(t, txn.Abort())

		read, err := db.Begin(ctx, false)
		assert.NoError(t, err)
		defer func() { assert.NoError(t, read.Abort()) }()

		_, err = read.FindEntityInfo(ctx, types.KindCompany, created.ID)
		assert.ErrorIs(t, err, database.ErrEntityNotFound)
	})

	t.Run("commit makes writes visible test", func(t *testing.T) {
		db, err := memory.New()
		assert.NoError(t, err)

		txn, err := db.Begin(ctx, true)
		assert.NoError(t, err)
		created, err := txn.CreateEntityInfo(ctx, &database.EntityInfo{
			ID:   types.NewID(),
			Kind: types.KindCompany,
			Data: document.Document{"name": "Madhouse"},
		})
		assert.NoError(t, err)
		assert.NoError(t, txn.Commit())

		// Committing twice is an error, aborting afterwards is not.
		assert.ErrorIs(t, txn.Commit(), database.ErrTxnDone)
		assert.NoError(t, txn.Abort())

		read, err := db.Begin(ctx, false)
		assert.NoError(t, err)
		defer func() { assert.NoError(t, read.Abort()) }()

		found, err := read.FindEntityInfo(ctx, types.KindCompany, created.ID)
		assert.NoError(t, err)
		assert.Equal(t, "Madhouse", found.Data["name"])
	})
}
