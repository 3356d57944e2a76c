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

package catalog_test

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

func adminActor() *types.Actor {
	return &types.Actor{
		ID:       types.NewID(),
		Username: "ed",
		Roles:    []string{types.RoleAdmin},
	}
}

func memberActor() *types.Actor {
	return &types.Actor{
		ID:       types.NewID(),
		Username: "jet",
		Roles:    []string{types.RoleMember},
	}
}

func newManager(
	t *testing.T,
	txn database.Txn,
	kind types.EntityKind,
	opts catalog.Options,
) *catalog.Manager {
	manager, err := catalog.NewManager(txn, kind, opts)
	assert.NoError(t, err)
	return manager
}

func TestManagerCreate(t *testing.T) {
	t.Run("create cascades over inline relation specs test", func(t *testing.T) {
		txn := setupTxn(t)
		actor := adminActor()

		// 01. Create a person the anime will reference by id.
		people := newManager(t, txn, types.KindPerson, catalog.Options{Actor: actor})
		assert.NoError(t, people.Init(ctx, document.Document{
			"firstName": "Shinichiro",
			"lastName":  "Watanabe",
		}))
		director, err := people.Create(ctx, "")
		assert.NoError(t, err)

		// 02. Create the anime with an inline company spec and the existing
		// person reference.
		animes := newManager(t, txn, types.KindAnime, catalog.Options{Actor: actor})
		assert.NoError(t, animes.Init(ctx, document.Document{
			"title": "Cowboy Bebop",
			"companys": []any{
				document.Document{"new": document.Document{"name": "Sunrise"}, "role": "studio"},
			},
			"staffs": []any{
				document.Document{"id": director.ID.String(), "role": "director"},
			},
		}))
		anime, err := animes.Create(ctx, "first import")
		assert.NoError(t, err)
		assert.True(t, anime.Verified)

		// 03. The inline company was persisted verified, findable by its
		// natural key.
		company, err := txn.FindEntityInfoByNaturalKey(ctx, types.KindCompany, "sunrise")
		assert.NoError(t, err)
		assert.True(t, company.Verified)

		// 04. The stored anime references resolved handles only.
		stored, err := txn.FindEntityInfo(ctx, types.KindAnime, anime.ID)
		assert.NoError(t, err)
		companys := stored.Data["companys"].([]any)
		assert.Len(t, companys, 1)
		handle, ok := document.AsDocument(companys[0])
		assert.True(t, ok)
		assert.Equal(t, company.ID.String(), handle["id"])
		assert.Equal(t, "studio", handle["role"])

		// 05. Both creations left accepted revisions; the company's links
		// back to the anime's.
		animeRevs, err := txn.FindRevisionInfosByTarget(ctx, types.KindAnime, anime.ID)
		assert.NoError(t, err)
		assert.Len(t, animeRevs, 1)
		assert.Equal(t, types.RevisionCreate, animeRevs[0].Type)
		assert.Equal(t, types.RevisionAccepted, animeRevs[0].Status)

		companyRevs, err := txn.FindRevisionInfosByTarget(ctx, types.KindCompany, company.ID)
		assert.NoError(t, err)
		assert.Len(t, companyRevs, 1)
		assert.Equal(t, animeRevs[0].ID, companyRevs[0].RefID)
	})

	t.Run("inline spec reuses entity with same natural key test", func(t *testing.T) {
		txn := setupTxn(t)
		actor := adminActor()

		companies := newManager(t, txn, types.KindCompany, catalog.Options{Actor: actor})
		assert.NoError(t, companies.Init(ctx, document.Document{"name": "Sunrise"}))
		existing, err := companies.Create(ctx, "")
		assert.NoError(t, err)

		animes := newManager(t, txn, types.KindAnime, catalog.Options{Actor: actor})
		assert.NoError(t, animes.Init(ctx, document.Document{
			"title": "Cowboy Bebop",
			"companys": []any{
				document.Document{"new": document.Document{"name": " sunrise "}},
			},
		}))
		anime, err := animes.Create(ctx, "")
		assert.NoError(t, err)

		stored, err := txn.FindEntityInfo(ctx, types.KindAnime, anime.ID)
		assert.NoError(t, err)
		handle, _ := document.AsDocument(stored.Data["companys"].([]any)[0])
		assert.Equal(t, existing.ID.String(), handle["id"])
	})

	t.Run("create request stages an unverified entity test", func(t *testing.T) {
		txn := setupTxn(t)
		actor := memberActor()

		animes := newManager(t, txn, types.KindAnime, catalog.Options{Actor: actor})
		assert.NoError(t, animes.Init(ctx, document.Document{"title": "Trigun"}))
		anime, err := animes.CreateRequest(ctx, "please add")
		assert.NoError(t, err)
		assert.False(t, anime.Verified)

		revs, err := txn.FindRevisionInfosByTarget(ctx, types.KindAnime, anime.ID)
		assert.NoError(t, err)
		assert.Len(t, revs, 1)
		assert.Equal(t, types.RevisionCreateRequest, revs[0].Type)
		assert.Equal(t, types.RevisionPending, revs[0].Status)
		assert.Equal(t, actor.ID, revs[0].AuthorID)
	})

	t.Run("relation entry must carry exactly one of id or new test", func(t *testing.T) {
		txn := setupTxn(t)
		animes := newManager(t, txn, types.KindAnime, catalog.Options{Actor: adminActor()})

		err := animes.Init(ctx, document.Document{
			"title": "Trigun",
			"companys": []any{
				document.Document{
					"id":  "some-id",
					"new": document.Document{"name": "Madhouse"},
				},
			},
		})
		assert.ErrorIs(t, err, catalog.ErrBadEntry)

		err = animes.Init(ctx, document.Document{
			"title":    "Trigun",
			"companys": []any{document.Document{"role": "studio"}},
		})
		assert.ErrorIs(t, err, catalog.ErrBadEntry)
	})

	t.Run("relation reference to missing entity fails test", func(t *testing.T) {
		txn := setupTxn(t)
		animes := newManager(t, txn, types.KindAnime, catalog.Options{Actor: adminActor()})

		err := animes.Init(ctx, document.Document{
			"title":    "Trigun",
			"companys": []any{document.Document{"id": types.NewID().String()}},
		})
		assert.ErrorIs(t, err, database.ErrEntityNotFound)
	})
}

func TestManagerPatch(t *testing.T) {
	createAnime := func(t *testing.T, txn database.Txn, actor *types.Actor, data document.Document) *types.Entity {
		manager := newManager(t, txn, types.KindAnime, catalog.Options{Actor: actor})
		assert.NoError(t, manager.Init(ctx, data))
		anime, err := manager.Create(ctx, "")
		assert.NoError(t, err)
		return anime
	}

	t.Run("patch applies the diff and records an update revision test", func(t *testing.T) {
		txn := setupTxn(t)
		actor := adminActor()
		anime := createAnime(t, txn, actor, document.Document{
			"title": "Trigun",
			"year":  1997,
		})

		manager := newManager(t, txn, types.KindAnime, catalog.Options{Actor: actor})
		assert.NoError(t, manager.Init(ctx, document.Document{
			"title": "Trigun Stampede",
			"year":  1997,
		}))
		cs, err := manager.Patch(ctx, anime.ID, "retitle")
		assert.NoError(t, err)
		assert.Equal(t, "Trigun Stampede", cs.Changes["title"])
		assert.Equal(t, "Trigun", cs.Before["title"])
		_, yearChanged := cs.Changes["year"]
		assert.False(t, yearChanged)

		stored, err := txn.FindEntityInfo(ctx, types.KindAnime, anime.ID)
		assert.NoError(t, err)
		assert.Equal(t, "Trigun Stampede", stored.Data["title"])

		revs, err := txn.FindRevisionInfosByTarget(ctx, types.KindAnime, anime.ID)
		assert.NoError(t, err)
		assert.Len(t, revs, 2)
		assert.Equal(t, types.RevisionUpdate, revs[1].Type)
		assert.Equal(t, types.RevisionAccepted, revs[1].Status)
		assert.Equal(t, "Trigun", revs[1].BeforeChanges["title"])
	})

	t.Run("patch without differences fails with empty changes test", func(t *testing.T) {
		txn := setupTxn(t)
		actor := adminActor()
		anime := createAnime(t, txn, actor, document.Document{"title": "Trigun"})

		manager := newManager(t, txn, types.KindAnime, catalog.Options{Actor: actor})
		assert.NoError(t, manager.Init(ctx, document.Document{"title": " Trigun "}))
		_, err := manager.Patch(ctx, anime.ID, "")
		assert.ErrorIs(t, err, catalog.ErrEmptyChanges)
	})

	t.Run("relation arrays diff by handle identity not order test", func(t *testing.T) {
		txn := setupTxn(t)
		actor := adminActor()

		companies := newManager(t, txn, types.KindCompany, catalog.Options{Actor: actor})
		assert.NoError(t, companies.Init(ctx, document.Document{"name": "Sunrise"}))
		sunrise, err := companies.Create(ctx, "")
		assert.NoError(t, err)

		companies = newManager(t, txn, types.KindCompany, catalog.Options{Actor: actor})
		assert.NoError(t, companies.Init(ctx, document.Document{"name": "Bones"}))
		bones, err := companies.Create(ctx, "")
		assert.NoError(t, err)

		anime := createAnime(t, txn, actor, document.Document{
			"title": "Cowboy Bebop",
			"companys": []any{
				document.Document{"id": sunrise.ID.String()},
				document.Document{"id": bones.ID.String()},
			},
		})

		// Same handles in reverse order is no change at all.
		manager := newManager(t, txn, types.KindAnime, catalog.Options{Actor: actor})
		assert.NoError(t, manager.Init(ctx, document.Document{
			"title": "Cowboy Bebop",
			"companys": []any{
				document.Document{"id": bones.ID.String()},
				document.Document{"id": sunrise.ID.String()},
			},
		}))
		_, err = manager.Patch(ctx, anime.ID, "")
		assert.ErrorIs(t, err, catalog.ErrEmptyChanges)

		// Dropping one handle is a change.
		manager = newManager(t, txn, types.KindAnime, catalog.Options{Actor: actor})
		assert.NoError(t, manager.Init(ctx, document.Document{
			"title": "Cowboy Bebop",
			"companys": []any{
				document.Document{"id": sunrise.ID.String()},
			},
		}))
		cs, err := manager.Patch(ctx, anime.ID, "")
		assert.NoError(t, err)
		_, changed := cs.Changes["companys"]
		assert.True(t, changed)
	})

	t.Run("replacing an owned image stages a delete effect test", func(t *testing.T) {
		txn := setupTxn(t)
		actor := adminActor()
		batch := effects.NewBatch()

		manager := newManager(t, txn, types.KindAnime, catalog.Options{Actor: actor, Effects: batch})
		assert.NoError(t, manager.Init(ctx, document.Document{
			"title": "Akira",
			"image": document.Document{"new": document.Document{
				"data": []byte("poster-v1"),
				"mime": "image/png",
			}},
		}))
		anime, err := manager.Create(ctx, "")
		assert.NoError(t, err)

		pending := batch.Pending()
		assert.Len(t, pending, 1)
		assert.Equal(t, effects.OpCreate, pending[0].Op)
		assert.Equal(t, []byte("poster-v1"), pending[0].Payload)
		oldImageID := pending[0].ResourceID

		// The image entity holds metadata only, not the payload.
		image, err := txn.FindEntityInfo(ctx, types.KindImage, oldImageID)
		assert.NoError(t, err)
		_, hasPayload := image.Data["data"]
		assert.False(t, hasPayload)
		assert.Equal(t, "image/png", image.Data["mime"])

		// Replace the poster; the old file is staged for deletion after the
		// new one is staged for creation.
		batch = effects.NewBatch()
		manager = newManager(t, txn, types.KindAnime, catalog.Options{Actor: actor, Effects: batch})
		assert.NoError(t, manager.Init(ctx, document.Document{
			"title": "Akira",
			"image": document.Document{"new": document.Document{
				"data": []byte("poster-v2"),
				"mime": "image/png",
			}},
		}))
		_, err = manager.Patch(ctx, anime.ID, "new poster")
		assert.NoError(t, err)

		pending = batch.Pending()
		assert.Len(t, pending, 2)
		assert.Equal(t, effects.OpCreate, pending[0].Op)
		assert.Equal(t, effects.OpDelete, pending[1].Op)
		assert.Equal(t, oldImageID, pending[1].ResourceID)
	})

	t.Run("update request stages a pending revision without writing test", func(t *testing.T) {
		txn := setupTxn(t)
		actor := memberActor()
		anime := createAnime(t, txn, adminActor(), document.Document{"title": "Trigun", "year": 1997})

		manager := newManager(t, txn, types.KindAnime, catalog.Options{Actor: actor})
		assert.NoError(t, manager.Init(ctx, document.Document{"title": "Trigun", "year": 1998}))
		revision, err := manager.UpdateRequest(ctx, anime.ID, "fix year")
		assert.NoError(t, err)
		assert.Equal(t, types.RevisionUpdateRequest, revision.Type)
		assert.Equal(t, types.RevisionPending, revision.Status)
		assert.Equal(t, 1998, revision.Changes["year"])
		assert.Equal(t, 1997, revision.BeforeChanges["year"])

		// The target is untouched until moderation accepts.
		stored, err := txn.FindEntityInfo(ctx, types.KindAnime, anime.ID)
		assert.NoError(t, err)
		assert.Equal(t, 1997, stored.Data["year"])
	})

	t.Run("get changes previews the diff without writing test", func(t *testing.T) {
		txn := setupTxn(t)
		actor := adminActor()
		anime := createAnime(t, txn, actor, document.Document{
			"title":    "Trigun",
			"year":     1997,
			"imported": "2001-01-01",
		})

		manager := newManager(t, txn, types.KindAnime, catalog.Options{Actor: actor})
		assert.NoError(t, manager.Init(ctx, document.Document{
			"title":    "Trigun",
			"year":     1998,
			"imported": "2020-05-05",
		}))
		cs, err := manager.GetChanges(ctx, anime.ID, []string{"imported"})
		assert.NoError(t, err)
		assert.Equal(t, 1998, cs.Changes["year"])
		_, imported := cs.Changes["imported"]
		assert.False(t, imported)

		stored, err := txn.FindEntityInfo(ctx, types.KindAnime, anime.ID)
		assert.NoError(t, err)
		assert.Equal(t, 1997, stored.Data["year"])

		revs, err := txn.FindRevisionInfosByTarget(ctx, types.KindAnime, anime.ID)
		assert.NoError(t, err)
		assert.Len(t, revs, 1)
	})

	t.Run("get changes skips relation fields the caller excludes test", func(t *testing.T) {
		txn := setupTxn(t)
		actor := adminActor()

		companies := newManager(t, txn, types.KindCompany, catalog.Options{Actor: actor})
		assert.NoError(t, companies.Init(ctx, document.Document{"name": "Sunrise"}))
		sunrise, err := companies.Create(ctx, "")
		assert.NoError(t, err)

		companies = newManager(t, txn, types.KindCompany, catalog.Options{Actor: actor})
		assert.NoError(t, companies.Init(ctx, document.Document{"name": "Bones"}))
		bones, err := companies.Create(ctx, "")
		assert.NoError(t, err)

		anime := createAnime(t, txn, actor, document.Document{
			"title":    "Cowboy Bebop",
			"companys": []any{document.Document{"id": sunrise.ID.String()}},
		})

		manager := newManager(t, txn, types.KindAnime, catalog.Options{Actor: actor})
		assert.NoError(t, manager.Init(ctx, document.Document{
			"title":    "Cowboy Bebop",
			"companys": []any{document.Document{"id": bones.ID.String()}},
		}))

		// With the relation excluded the swap is invisible.
		cs, err := manager.GetChanges(ctx, anime.ID, []string{"companys"})
		assert.NoError(t, err)
		assert.Nil(t, cs)

		// Without the exclusion it is reported.
		cs, err = manager.GetChanges(ctx, anime.ID, nil)
		assert.NoError(t, err)
		_, changed := cs.Changes["companys"]
		assert.True(t, changed)
	})

	t.Run("members cannot elevate user roles test", func(t *testing.T) {
		txn := setupTxn(t)
		admin := adminActor()
		member := memberActor()

		users := newManager(t, txn, types.KindUser, catalog.Options{Actor: admin})
		assert.NoError(t, users.Init(ctx, document.Document{"username": "spike"}))
		user, err := users.Create(ctx, "")
		assert.NoError(t, err)

		users = newManager(t, txn, types.KindUser, catalog.Options{Actor: member})
		assert.NoError(t, users.Init(ctx, document.Document{
			"username": "spike",
			"role":     types.RoleAdmin,
		}))
		_, err = users.Patch(ctx, user.ID, "")
		assert.ErrorIs(t, err, catalog.ErrForbidden)

		// A member minting an admin through a creation spec is rejected at
		// resolution time already.
		users = newManager(t, txn, types.KindUser, catalog.Options{Actor: member})
		err = users.Init(ctx, document.Document{
			"username": "vicious",
			"role":     types.RoleAdmin,
		})
		assert.ErrorIs(t, err, catalog.ErrForbidden)
	})
}

func TestManagerDelete(t *testing.T) {
	t.Run("delete and restore are revisioned soft toggles test", func(t *testing.T) {
		txn := setupTxn(t)
		actor := adminActor()

		manager := newManager(t, txn, types.KindAnime, catalog.Options{Actor: actor})
		assert.NoError(t, manager.Init(ctx, document.Document{"title": "Akira"}))
		anime, err := manager.Create(ctx, "")
		assert.NoError(t, err)

		assert.NoError(t, manager.Delete(ctx, anime.ID, "duplicate entry"))
		stored, err := txn.FindEntityInfo(ctx, types.KindAnime, anime.ID)
		assert.NoError(t, err)
		assert.True(t, stored.Removed)

		assert.NoError(t, manager.Restore(ctx, anime.ID, "not a duplicate"))
		stored, err = txn.FindEntityInfo(ctx, types.KindAnime, anime.ID)
		assert.NoError(t, err)
		assert.False(t, stored.Removed)

		revs, err := txn.FindRevisionInfosByTarget(ctx, types.KindAnime, anime.ID)
		assert.NoError(t, err)
		assert.Len(t, revs, 3)
		assert.Equal(t, types.RevisionDelete, revs[1].Type)
		assert.Equal(t, types.RevisionDeleteRestore, revs[2].Type)
	})

	t.Run("delete request leaves the entity untouched test", func(t *testing.T) {
		txn := setupTxn(t)
		manager := newManager(t, txn, types.KindAnime, catalog.Options{Actor: adminActor()})
		assert.NoError(t, manager.Init(ctx, document.Document{"title": "Akira"}))
		anime, err := manager.Create(ctx, "")
		assert.NoError(t, err)

		revision, err := manager.DeleteRequest(ctx, anime.ID, "looks duplicated")
		assert.NoError(t, err)
		assert.Equal(t, types.RevisionDeleteRequest, revision.Type)
		assert.Equal(t, types.RevisionPending, revision.Status)

		stored, err := txn.FindEntityInfo(ctx, types.KindAnime, anime.ID)
		assert.NoError(t, err)
		assert.False(t, stored.Removed)
	})
}
