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

package catalog

import (
	"context"
	"fmt"

	"github.com/aozora-team/aozora/api/types"
	"github.com/aozora-team/aozora/pkg/document"
	"github.com/aozora-team/aozora/server/backend/database"
)

// resolveRelations replaces the relation fields of the given document with
// resolved handles. Entries referencing an existing entity by id are
// verified against the store; entries carrying an inline creation spec
// stage a new sub-entity whose assigned id becomes the handle. Field order
// is preserved.
func (m *Manager) resolveRelations(ctx context.Context, data document.Document) (document.Document, error) {
	for _, field := range m.descriptor.Relations {
		raw, ok := data[field.Name]
		if !ok {
			continue
		}

		if field.Multi {
			elems, ok := document.AsArray(raw)
			if !ok {
				return nil, fmt.Errorf("%s: %w", field.Name, ErrBadEntry)
			}

			handles := make([]any, 0, len(elems))
			for _, elem := range elems {
				handle, err := m.resolveEntry(ctx, field, elem)
				if err != nil {
					return nil, err
				}
				handles = append(handles, handle)
			}
			data[field.Name] = handles
			continue
		}

		handle, err := m.resolveEntry(ctx, field, raw)
		if err != nil {
			return nil, err
		}
		data[field.Name] = handle
	}

	return data, nil
}

// resolveEntry resolves a single relation entry. The entry must carry
// exactly one of an "id" reference or a "new" inline creation spec, plus
// an optional "role".
func (m *Manager) resolveEntry(
	ctx context.Context,
	field RelationField,
	raw any,
) (document.Document, error) {
	entry, ok := document.AsDocument(raw)
	if !ok {
		return nil, fmt.Errorf("%s: %w", field.Name, ErrBadEntry)
	}

	rawID, hasID := entry["id"]
	rawNew, hasNew := entry["new"]
	if hasID == hasNew {
		return nil, fmt.Errorf("%s: exactly one of id or new: %w", field.Name, ErrBadEntry)
	}

	role, _ := entry["role"].(string)

	var id types.ID
	if hasID {
		str, ok := rawID.(string)
		if !ok {
			return nil, fmt.Errorf("%s: id: %w", field.Name, ErrBadEntry)
		}

		id = types.ID(str)
		exists, err := m.txn.EntityExists(ctx, field.Target, id)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%s %s: %w", field.Target, id, database.ErrEntityNotFound)
		}
	} else {
		spec, ok := document.AsDocument(rawNew)
		if !ok {
			return nil, fmt.Errorf("%s: new: %w", field.Name, ErrBadEntry)
		}

		var err error
		if id, err = m.stageSubEntity(ctx, field.Target, spec); err != nil {
			return nil, err
		}
	}

	handle := document.Document{"id": string(id)}
	if role != "" {
		handle["role"] = role
	}
	return handle, nil
}

// stageSubEntity resolves an inline creation spec into an entity staged
// for persistence. When the target kind defines a natural key and an
// entity with the same key already exists, the existing entity is reused
// instead of creating a duplicate.
func (m *Manager) stageSubEntity(
	ctx context.Context,
	target types.EntityKind,
	spec document.Document,
) (types.ID, error) {
	sub, err := m.subManager(target)
	if err != nil {
		return "", err
	}
	if err := sub.prepare(ctx, spec); err != nil {
		return "", err
	}

	key := sub.naturalKeyOf(sub.newData)
	if key != "" {
		existing, err := m.txn.FindEntityInfoByNaturalKey(ctx, target, key)
		if err == nil {
			return existing.ID, nil
		}
		if !database.IsEntityNotFound(err) {
			return "", err
		}

		// A sub-entity staged earlier in the same resolution may
		// already claim the key.
		for _, pending := range *m.toSave {
			if pending.descriptor.Kind == target && pending.naturalKey == key {
				return pending.id, nil
			}
		}
	}

	id := types.NewID()
	*m.toSave = append(*m.toSave, pendingEntity{
		id:         id,
		descriptor: sub.descriptor,
		data:       sub.newData,
		naturalKey: key,
	})
	return id, nil
}
