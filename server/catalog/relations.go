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
	"github.com/aozora-team/aozora/api/types"
	"github.com/aozora-team/aozora/pkg/document"
)

// diffRelations compares the relation fields of the stored document against
// the resolved desired document by handle identity (id plus role, as a
// multiset). The generic engine never sees relation fields; a relation
// field absent from the desired document is left unchanged, not removed.
func (m *Manager) diffRelations(stored document.Document) *document.ChangeSet {
	cs := &document.ChangeSet{Changes: document.Document{}, Before: document.Document{}}

	for _, field := range m.descriptor.Relations {
		desired, ok := m.newData[field.Name]
		if !ok {
			continue
		}

		current, hadCurrent := stored[field.Name]
		if handlesEqual(current, desired) {
			continue
		}

		cs.Changes[field.Name] = desired
		if hadCurrent {
			cs.Before[field.Name] = current
		} else {
			cs.Before[field.Name] = document.Removed
		}
	}

	if len(cs.Changes) == 0 {
		return nil
	}
	return cs
}

// supersededResources returns the ids of owned resources whose handle is
// being replaced or removed by the given change-set. Their backing files
// are released once the parent write succeeds.
func (m *Manager) supersededResources(stored document.Document, changes document.Document) []types.ID {
	var superseded []types.ID
	for _, field := range m.descriptor.Relations {
		if !field.OwnsResource {
			continue
		}
		if _, changed := changes[field.Name]; !changed {
			continue
		}

		old, ok := handleOf(stored[field.Name])
		if !ok {
			continue
		}
		superseded = append(superseded, old.ID)
	}
	return superseded
}

// handleOf reads a stored relation handle value.
func handleOf(v any) (types.RelationHandle, bool) {
	doc, ok := document.AsDocument(v)
	if !ok {
		return types.RelationHandle{}, false
	}
	id, ok := doc["id"].(string)
	if !ok || id == "" {
		return types.RelationHandle{}, false
	}
	role, _ := doc["role"].(string)
	return types.RelationHandle{ID: types.ID(id), Role: role}, true
}

// handlesEqual compares two relation field values: single handles by id and
// role, lists as multisets of id plus role.
func handlesEqual(current, desired any) bool {
	currentList, currentIsList := document.AsArray(current)
	desiredList, desiredIsList := document.AsArray(desired)

	if currentIsList != desiredIsList {
		return false
	}

	if !currentIsList {
		a, aok := handleOf(current)
		b, bok := handleOf(desired)
		if aok != bok {
			return false
		}
		return !aok || a == b
	}

	if len(currentList) != len(desiredList) {
		return false
	}

	counts := make(map[types.RelationHandle]int, len(currentList))
	for _, v := range currentList {
		handle, ok := handleOf(v)
		if !ok {
			return false
		}
		counts[handle]++
	}
	for _, v := range desiredList {
		handle, ok := handleOf(v)
		if !ok {
			return false
		}
		counts[handle]--
		if counts[handle] < 0 {
			return false
		}
	}
	return true
}
