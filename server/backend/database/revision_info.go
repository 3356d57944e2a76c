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

package database

import (
	"time"

	"github.com/aozora-team/aozora/api/types"
	"github.com/aozora-team/aozora/pkg/document"
)

// RevisionInfo is the database representation of a revision: the durable
// record of a proposed or applied change with its moderation audit trail.
type RevisionInfo struct {
	// ID is the public identifier of the revision.
	ID types.ID `bson:"_id"`

	// Type identifies the kind of change; immutable after creation.
	Type types.RevisionType `bson:"type"`

	// Status is the moderation state of the revision.
	Status types.RevisionStatus `bson:"status"`

	// TargetKind and TargetID reference the affected entity.
	TargetKind types.EntityKind `bson:"target_kind"`
	TargetID   types.ID         `bson:"target_id"`

	// RefID optionally references a causally related revision.
	RefID types.ID `bson:"ref_id,omitempty"`

	// Changes is the change-set payload of update-typed revisions.
	Changes document.Document `bson:"changes,omitempty"`

	// BeforeChanges holds the prior values of every field in Changes.
	BeforeChanges document.Document `bson:"before_changes,omitempty"`

	// AuthorID references the actor who initiated the change.
	AuthorID types.ID `bson:"author_id"`

	// Actions is the append-only moderation audit trail.
	Actions []types.RevisionAction `bson:"actions"`

	// CreatedAt is the time the revision was created.
	CreatedAt time.Time `bson:"created_at"`

	// UpdatedAt is the time the revision was last written.
	UpdatedAt time.Time `bson:"updated_at"`
}

// DeepCopy returns a deep copy of this RevisionInfo.
func (i *RevisionInfo) DeepCopy() *RevisionInfo {
	if i == nil {
		return nil
	}

	clone := *i
	clone.Changes = i.Changes.DeepCopy()
	clone.BeforeChanges = i.BeforeChanges.DeepCopy()
	clone.Actions = make([]types.RevisionAction, len(i.Actions))
	copy(clone.Actions, i.Actions)
	return &clone
}

// AppendAction records one moderation action on this revision. Callers must
// append only after the transition succeeded; failures leave no trace.
func (i *RevisionInfo) AppendAction(user types.ID, label types.ActionLabel, note string) {
	i.Actions = append(i.Actions, types.RevisionAction{
		User:  types.RelationHandle{ID: user},
		Label: label,
		Note:  note,
		At:    time.Now(),
	})
}

// ToRevision converts this RevisionInfo to the public Revision type.
func (i *RevisionInfo) ToRevision() *types.Revision {
	rev := &types.Revision{
		ID:     i.ID,
		Type:   i.Type,
		Status: i.Status,
		Target: types.RevisionTarget{
			ID:   i.TargetID,
			Kind: i.TargetKind,
		},
		Changes:       i.Changes.DeepCopy(),
		BeforeChanges: i.BeforeChanges.DeepCopy(),
		Author:        types.RelationHandle{ID: i.AuthorID},
		Actions:       make([]types.RevisionAction, len(i.Actions)),
		CreatedAt:     i.CreatedAt,
	}
	copy(rev.Actions, i.Actions)

	if i.RefID != "" {
		rev.Ref = &types.RelationHandle{ID: i.RefID}
	}

	return rev
}
