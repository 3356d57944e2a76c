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

// Package memory implements the database interface using an in-memory
// database. It backs tests and single-node deployments without MongoDB.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	gotime "time"

	"github.com/hashicorp/go-memdb"

	"github.com/aozora-team/aozora/api/types"
	"github.com/aozora-team/aozora/pkg/document"
	"github.com/aozora-team/aozora/server/backend/database"
)

// DB is an in-memory database for testing or temporary use.
type DB struct {
	db *memdb.MemDB
}

// New returns a new in-memory database.
func New() (*DB, error) {
	memDB, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("new memdb: %w", err)
	}

	return &DB{
		db: memDB,
	}, nil
}

// Begin opens a transaction over the in-memory tables.
func (d *DB) Begin(_ context.Context, update bool) (database.Txn, error) {
	return &Txn{txn: d.db.Txn(update)}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return nil
}

// Txn is one transactional scope over the in-memory tables.
type Txn struct {
	txn  *memdb.Txn
	done bool
}

// Commit makes every write of this transaction durable.
func (t *Txn) Commit() error {
	if t.done {
		return database.ErrTxnDone
	}
	t.done = true
	t.txn.Commit()
	return nil
}

// Abort discards every write of this transaction. Aborting after commit is
// a no-op so it can be deferred unconditionally.
func (t *Txn) Abort() error {
	if t.done {
		return nil
	}
	t.done = true
	t.txn.Abort()
	return nil
}

// FindEntityInfo returns the entity of the given kind and id.
func (t *Txn) FindEntityInfo(
	_ context.Context,
	kind types.EntityKind,
	id types.ID,
) (*database.EntityInfo, error) {
	raw, err := t.txn.First(tblEntities, "id", id.String())
	if err != nil {
		return nil, fmt.Errorf("find entity by id: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%s %s: %w", kind, id, database.ErrEntityNotFound)
	}

	info := raw.(*database.EntityInfo)
	if info.Kind != kind {
		return nil, fmt.Errorf("%s %s: %w", kind, id, database.ErrEntityNotFound)
	}

	return info.DeepCopy(), nil
}

// EntityExists reports whether an entity of the given kind and id exists.
func (t *Txn) EntityExists(
	ctx context.Context,
	kind types.EntityKind,
	id types.ID,
) (bool, error) {
	if _, err := t.FindEntityInfo(ctx, kind, id); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// FindEntityInfoByNaturalKey returns the entity of the given kind whose
// natural key matches.
func (t *Txn) FindEntityInfoByNaturalKey(
	_ context.Context,
	kind types.EntityKind,
	naturalKey string,
) (*database.EntityInfo, error) {
	raw, err := t.txn.First(tblEntities, "kind_natural", kind.String(), naturalKey)
	if err != nil {
		return nil, fmt.Errorf("find entity by natural key: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%s %q: %w", kind, naturalKey, database.ErrEntityNotFound)
	}

	return raw.(*database.EntityInfo).DeepCopy(), nil
}

// CreateEntityInfo inserts the given entity.
func (t *Txn) CreateEntityInfo(
	ctx context.Context,
	info *database.EntityInfo,
) (*database.EntityInfo, error) {
	if info.NaturalKey != "" {
		if _, err := t.FindEntityInfoByNaturalKey(ctx, info.Kind, info.NaturalKey); err == nil {
			return nil, fmt.Errorf("%s %q: %w", info.Kind, info.NaturalKey, database.ErrEntityAlreadyExists)
		} else if !isNotFound(err) {
			return nil, err
		}
	}

	now := gotime.Now()
	stored := info.DeepCopy()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	if err := t.txn.Insert(tblEntities, stored); err != nil {
		return nil, fmt.Errorf("insert entity: %w", err)
	}

	return stored.DeepCopy(), nil
}

// ApplyEntityChanges applies a change-set to the stored document of the
// given entity.
func (t *Txn) ApplyEntityChanges(
	ctx context.Context,
	kind types.EntityKind,
	id types.ID,
	changes document.Document,
	naturalKey string,
) (*database.EntityInfo, error) {
	info, err := t.FindEntityInfo(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	info.Data = info.Data.Apply(changes)
	info.NaturalKey = naturalKey
	info.UpdatedAt = gotime.Now()

	if err := t.txn.Insert(tblEntities, info.DeepCopy()); err != nil {
		return nil, fmt.Errorf("update entity: %w", err)
	}

	return info, nil
}

// SetEntityVerified flips the moderation flag of the given entity.
func (t *Txn) SetEntityVerified(
	ctx context.Context,
	kind types.EntityKind,
	id types.ID,
	verified bool,
) (*database.EntityInfo, error) {
	return t.updateEntity(ctx, kind, id, func(info *database.EntityInfo) {
		info.Verified = verified
	})
}

// SetEntityRemoved flips the soft-delete flag of the given entity.
func (t *Txn) SetEntityRemoved(
	ctx context.Context,
	kind types.EntityKind,
	id types.ID,
	removed bool,
) (*database.EntityInfo, error) {
	return t.updateEntity(ctx, kind, id, func(info *database.EntityInfo) {
		info.Removed = removed
	})
}

func (t *Txn) updateEntity(
	ctx context.Context,
	kind types.EntityKind,
	id types.ID,
	mutate func(info *database.EntityInfo),
) (*database.EntityInfo, error) {
	info, err := t.FindEntityInfo(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	mutate(info)
	info.UpdatedAt = gotime.Now()

	if err := t.txn.Insert(tblEntities, info.DeepCopy()); err != nil {
		return nil, fmt.Errorf("update entity: %w", err)
	}

	return info, nil
}

// CreateRevisionInfo inserts the given revision record.
func (t *Txn) CreateRevisionInfo(
	_ context.Context,
	info *database.RevisionInfo,
) (*database.RevisionInfo, error) {
	now := gotime.Now()
	stored := info.DeepCopy()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	if err := t.txn.Insert(tblRevisions, stored); err != nil {
		return nil, fmt.Errorf("insert revision: %w", err)
	}

	return stored.DeepCopy(), nil
}

// FindRevisionInfo returns the revision of the given id.
func (t *Txn) FindRevisionInfo(
	_ context.Context,
	id types.ID,
) (*database.RevisionInfo, error) {
	raw, err := t.txn.First(tblRevisions, "id", id.String())
	if err != nil {
		return nil, fmt.Errorf("find revision by id: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%s: %w", id, database.ErrRevisionNotFound)
	}

	return raw.(*database.RevisionInfo).DeepCopy(), nil
}

// UpdateRevisionInfo replaces the stored revision with the given one.
func (t *Txn) UpdateRevisionInfo(
	ctx context.Context,
	info *database.RevisionInfo,
) error {
	if _, err := t.FindRevisionInfo(ctx, info.ID); err != nil {
		return err
	}

	stored := info.DeepCopy()
	stored.UpdatedAt = gotime.Now()

	if err := t.txn.Insert(tblRevisions, stored); err != nil {
		return fmt.Errorf("update revision: %w", err)
	}
	return nil
}

// FindRevisionInfosByTarget returns the revisions affecting the given
// entity, oldest first.
func (t *Txn) FindRevisionInfosByTarget(
	_ context.Context,
	kind types.EntityKind,
	id types.ID,
) ([]*database.RevisionInfo, error) {
	it, err := t.txn.Get(tblRevisions, "target", kind.String(), id.String())
	if err != nil {
		return nil, fmt.Errorf("find revisions by target: %w", err)
	}

	var infos []*database.RevisionInfo
	for raw := it.Next(); raw != nil; raw = it.Next() {
		infos = append(infos, raw.(*database.RevisionInfo).DeepCopy())
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})

	return infos, nil
}

// DeleteRevisionInfo removes a revision record.
func (t *Txn) DeleteRevisionInfo(
	ctx context.Context,
	id types.ID,
) error {
	info, err := t.FindRevisionInfo(ctx, id)
	if err != nil {
		return err
	}

	raw, err := t.txn.First(tblRevisions, "id", info.ID.String())
	if err != nil {
		return fmt.Errorf("find revision by id: %w", err)
	}
	if err := t.txn.Delete(tblRevisions, raw); err != nil {
		return fmt.Errorf("delete revision: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, database.ErrEntityNotFound) || errors.Is(err, database.ErrRevisionNotFound)
}
