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
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/aozora-team/aozora/api/types"
	"github.com/aozora-team/aozora/pkg/document"
	"github.com/aozora-team/aozora/pkg/validation"
	"github.com/aozora-team/aozora/server/effects"
)

// RelationField describes one relation field of an entity kind.
type RelationField struct {
	// Name is the document field holding the relation input.
	Name string

	// Target is the entity kind the relation points to.
	Target types.EntityKind

	// Multi marks list-valued relations such as an anime's staff.
	Multi bool

	// OwnsResource marks single-valued relations whose referenced entity
	// carries a file resource; replacing the handle supersedes the file.
	OwnsResource bool
}

// Descriptor is the per-kind capability set the generic manager is built
// against, instead of one hand-written manager per entity kind.
type Descriptor struct {
	// Kind is the entity kind this descriptor describes.
	Kind types.EntityKind

	// Relations are the relation fields of the kind, resolved by the
	// relation resolver and diffed by handle identity.
	Relations []RelationField

	// IgnoreKeys are system fields excluded from change detection.
	IgnoreKeys []string

	// NaturalKey derives the kind's uniqueness key from a document, or
	// returns empty when the kind defines none.
	NaturalKey func(data document.Document) string

	// Validate checks a creation spec before resolution.
	Validate func(data document.Document) error

	// Guard rejects changes the acting user may not make.
	Guard func(actor *types.Actor, before document.Document, changes document.Document) error

	// PrepareCreate runs at persist time with the entity's assigned id and
	// may stage side effects, e.g. extracting an image payload into a
	// staged file write.
	PrepareCreate func(id types.ID, data document.Document, batch *effects.Batch) (document.Document, error)
}

// relationNames returns the names of all relation fields.
func (d *Descriptor) relationNames() []string {
	names := make([]string, len(d.Relations))
	for i, rel := range d.Relations {
		names[i] = rel.Name
	}
	return names
}

// descriptors registers the catalog's entity kinds.
var descriptors = map[types.EntityKind]*Descriptor{
	types.KindAnime: {
		Kind: types.KindAnime,
		Relations: []RelationField{
			{Name: "companys", Target: types.KindCompany, Multi: true},
			{Name: "staffs", Target: types.KindPerson, Multi: true},
			{Name: "characters", Target: types.KindCharacter, Multi: true},
			{Name: "tracks", Target: types.KindTrack, Multi: true},
			{Name: "image", Target: types.KindImage, OwnsResource: true},
		},
	},
	types.KindManga: {
		Kind: types.KindManga,
		Relations: []RelationField{
			{Name: "companys", Target: types.KindCompany, Multi: true},
			{Name: "staffs", Target: types.KindPerson, Multi: true},
			{Name: "characters", Target: types.KindCharacter, Multi: true},
			{Name: "image", Target: types.KindImage, OwnsResource: true},
		},
	},
	types.KindCharacter: {
		Kind: types.KindCharacter,
		Relations: []RelationField{
			{Name: "image", Target: types.KindImage, OwnsResource: true},
		},
	},
	types.KindPerson: {
		Kind: types.KindPerson,
		Relations: []RelationField{
			{Name: "image", Target: types.KindImage, OwnsResource: true},
		},
		NaturalKey: func(data document.Document) string {
			first, _ := data["firstName"].(string)
			last, _ := data["lastName"].(string)
			return naturalKey(first, last)
		},
	},
	types.KindCompany: {
		Kind: types.KindCompany,
		NaturalKey: func(data document.Document) string {
			name, _ := data["name"].(string)
			return naturalKey(name)
		},
	},
	types.KindTrack: {
		Kind: types.KindTrack,
		Relations: []RelationField{
			{Name: "artists", Target: types.KindPerson, Multi: true},
		},
	},
	types.KindGroupe: {
		Kind: types.KindGroupe,
		Relations: []RelationField{
			{Name: "members", Target: types.KindUser, Multi: true},
		},
	},
	types.KindUser: {
		Kind: types.KindUser,
		Relations: []RelationField{
			{Name: "avatar", Target: types.KindImage, OwnsResource: true},
		},
		NaturalKey: func(data document.Document) string {
			username, _ := data["username"].(string)
			return naturalKey(username)
		},
		Validate: func(data document.Document) error {
			username, _ := data["username"].(string)
			if err := validation.ValidateValue(strings.TrimSpace(username), "required,slug"); err != nil {
				return fmt.Errorf("username: %w", ErrBadEntry)
			}
			return nil
		},
		// Role elevation is reserved to admins. On creation (before is
		// nil) the whole spec is checked; on patches only changed fields
		// reach the guard.
		Guard: func(actor *types.Actor, before document.Document, changes document.Document) error {
			role, present := changes["role"]
			if !present || actor.IsAdmin() {
				return nil
			}

			if before == nil {
				if r, _ := role.(string); r == "" || r == types.RoleMember {
					return nil
				}
			}
			return fmt.Errorf("change role of user: %w", ErrForbidden)
		},
	},
	types.KindImage: {
		Kind: types.KindImage,
		PrepareCreate: func(id types.ID, data document.Document, batch *effects.Batch) (document.Document, error) {
			payload, err := imagePayload(data)
			if err != nil {
				return nil, err
			}

			batch.Stage(effects.OpCreate, id, payload)

			prepared := data.DeepCopy()
			delete(prepared, "data")
			return prepared, nil
		},
	},
}

// DescriptorFor returns the descriptor of the given kind.
func DescriptorFor(kind types.EntityKind) (*Descriptor, error) {
	descriptor, ok := descriptors[kind]
	if !ok {
		return nil, fmt.Errorf("kind %q: %w", kind, ErrBadEntry)
	}
	return descriptor, nil
}

// naturalKey folds the given parts into a case-insensitive key, empty when
// all parts are blank.
func naturalKey(parts ...string) string {
	trimmed := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			trimmed = append(trimmed, strings.ToLower(p))
		}
	}
	return strings.Join(trimmed, "\x1f")
}

// imagePayload extracts the file content of an image creation spec. The
// payload arrives as raw bytes or as a base64 string.
func imagePayload(data document.Document) ([]byte, error) {
	raw, ok := data["data"]
	if !ok {
		return nil, fmt.Errorf("image payload missing: %w", ErrBadEntry)
	}

	switch payload := raw.(type) {
	case []byte:
		return payload, nil
	case string:
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("image payload: %w", ErrBadEntry)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("image payload: %w", ErrBadEntry)
	}
}
