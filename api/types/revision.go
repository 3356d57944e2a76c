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

package types

import (
	"time"

	"github.com/aozora-team/aozora/pkg/document"
)

// RevisionType identifies what kind of change a revision records. The type
// is fixed at creation time and never changes afterwards.
type RevisionType string

// The revision types. The *_REQUEST variants are staged for moderation;
// the plain variants are applied directly by trusted actors.
const (
	RevisionCreate        RevisionType = "CREATE"
	RevisionCreateRequest RevisionType = "CREATE_REQUEST"
	RevisionUpdate        RevisionType = "UPDATE"
	RevisionUpdateRequest RevisionType = "UPDATE_REQUEST"
	RevisionDelete        RevisionType = "DELETE"
	RevisionDeleteRequest RevisionType = "DELETE_REQUEST"
	RevisionDeleteRestore RevisionType = "DELETE_RESTORE"
)

// IsStaged returns true if revisions of this type await moderator action.
func (t RevisionType) IsStaged() bool {
	switch t {
	case RevisionCreateRequest, RevisionUpdateRequest, RevisionDeleteRequest:
		return true
	default:
		return false
	}
}

// RevisionStatus is the moderation state of a revision.
type RevisionStatus string

// The revision statuses. PENDING is the only initial state for staged
// revisions; directly applied revisions are created ACCEPTED.
const (
	RevisionPending    RevisionStatus = "PENDING"
	RevisionInProgress RevisionStatus = "IN_PROGRESS"
	RevisionAccepted   RevisionStatus = "ACCEPTED"
	RevisionRejected   RevisionStatus = "REJECTED"
	RevisionReverted   RevisionStatus = "REVERTED"
)

// ActionLabel names a moderator action applied to a revision.
type ActionLabel string

// The actions recorded in a revision's audit trail. SUBMIT is written once
// at creation time when the author attaches a note; the rest are moderator
// actions driving the state machine.
const (
	ActionSubmit     ActionLabel = "SUBMIT"
	ActionInProgress ActionLabel = "IN_PROGRESS"
	ActionChange     ActionLabel = "CHANGE"
	ActionAccept     ActionLabel = "ACCEPT"
	ActionReject     ActionLabel = "REJECT"
	ActionRevert     ActionLabel = "REVERT"
)

// RevisionAction is one entry of a revision's append-only audit trail.
type RevisionAction struct {
	// User references the actor who performed the action.
	User RelationHandle `json:"user"`

	// Label is the action that was performed.
	Label ActionLabel `json:"label"`

	// Note is the optional free-form note attached by the actor.
	Note string `json:"note,omitempty"`

	// At is the time the action was performed.
	At time.Time `json:"at"`
}

// RevisionTarget references the entity a revision affects.
type RevisionTarget struct {
	ID   ID         `json:"id"`
	Kind EntityKind `json:"kind"`
}

// Revision is the durable record of a proposed or applied change.
type Revision struct {
	// ID is the public identifier of the revision, independent of the
	// storage key.
	ID ID `json:"id"`

	// Type identifies the kind of change; immutable after creation.
	Type RevisionType `json:"type"`

	// Status is the moderation state, mutated only by moderator actions.
	Status RevisionStatus `json:"status"`

	// Target references the affected entity.
	Target RevisionTarget `json:"target"`

	// Ref optionally references a causally related revision, e.g. the
	// creation record of a cascaded sub-entity links to its parent's.
	Ref *RelationHandle `json:"ref,omitempty"`

	// Changes is the change-set payload carried by update-typed revisions.
	Changes document.Document `json:"changes,omitempty"`

	// BeforeChanges holds the prior values of every field in Changes and is
	// what REVERT re-applies.
	BeforeChanges document.Document `json:"before_changes,omitempty"`

	// Author references the actor who initiated the change.
	Author RelationHandle `json:"author"`

	// Actions is the append-only moderation audit trail.
	Actions []RevisionAction `json:"actions"`

	// CreatedAt is the time the revision was created.
	CreatedAt time.Time `json:"created_at"`
}

// ActionInput is a moderator action submitted against a revision.
type ActionInput struct {
	// Label is the action to perform.
	Label ActionLabel `json:"label" validate:"required,oneof=IN_PROGRESS CHANGE ACCEPT REJECT REVERT"`

	// Note is an optional note recorded with the action.
	Note string `json:"note,omitempty" validate:"max=1000"`

	// Changes carries the replacement change-set for the CHANGE action.
	Changes document.Document `json:"changes,omitempty"`
}
