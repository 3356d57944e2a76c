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

// Package revisions provides the moderation workflow over revision records:
// claiming, amending, accepting, rejecting and reverting proposed changes.
package revisions

import (
	"context"
	"fmt"

	"github.com/aozora-team/aozora/api/types"
	"github.com/aozora-team/aozora/pkg/document"
	"github.com/aozora-team/aozora/pkg/errors"
	"github.com/aozora-team/aozora/server/backend/database"
	"github.com/aozora-team/aozora/server/catalog"
	"github.com/aozora-team/aozora/server/effects"
	"github.com/aozora-team/aozora/server/logging"
)

var (
	// ErrInvalidTransition is returned when the requested action is not
	// allowed from the revision's current status.
	ErrInvalidTransition = errors.FailedPrecond(
		"action not allowed from current status",
	).WithCode("ErrInvalidTransition")

	// ErrNotModerator is returned when the acting user lacks the moderator
	// role required for revision actions.
	ErrNotModerator = errors.PermissionDenied(
		"moderator role required",
	).WithCode("ErrNotModerator")

	// ErrNotAdmin is returned when the acting user lacks the admin role
	// required to delete revision records.
	ErrNotAdmin = errors.PermissionDenied(
		"admin role required",
	).WithCode("ErrNotAdmin")
)

// TransitionObserver counts applied revision transitions, keyed by the
// action label. Implemented by the profiling metrics; nil disables it.
type TransitionObserver interface {
	ObserveRevisionTransition(label types.ActionLabel)
}

// Options configures a Handler.
type Options struct {
	// Actor is the authenticated moderator the actions run as.
	Actor *types.Actor

	// ClaimRequiresPending restricts IN_PROGRESS to revisions still in
	// PENDING. When false a moderator may also take over a revision
	// already claimed by someone else.
	ClaimRequiresPending bool

	// Observer receives applied transitions; may be nil.
	Observer TransitionObserver

	// Effects collects side effects staged by entity writes the actions
	// trigger, e.g. releasing a superseded image file on accept. A fresh
	// batch is created when nil.
	Effects *effects.Batch
}

// Handler drives the revision state machine within one transaction.
type Handler struct {
	txn      database.Txn
	actor    *types.Actor
	strict   bool
	observer TransitionObserver
	effects  *effects.Batch
}

// New creates a handler for the given transaction.
func New(txn database.Txn, opts Options) (*Handler, error) {
	if opts.Actor == nil {
		return nil, fmt.Errorf("actor: %w", ErrNotModerator)
	}

	batch := opts.Effects
	if batch == nil {
		batch = effects.NewBatch()
	}

	return &Handler{
		txn:      txn,
		actor:    opts.Actor,
		strict:   opts.ClaimRequiresPending,
		observer: opts.Observer,
		effects:  batch,
	}, nil
}

// Find returns the revision of the given id.
func (h *Handler) Find(ctx context.Context, id types.ID) (*types.Revision, error) {
	info, err := h.txn.FindRevisionInfo(ctx, id)
	if err != nil {
		return nil, err
	}
	return info.ToRevision(), nil
}

// ListByTarget returns the revisions affecting the given entity, oldest
// first.
func (h *Handler) ListByTarget(
	ctx context.Context,
	kind types.EntityKind,
	id types.ID,
) ([]*types.Revision, error) {
	infos, err := h.txn.FindRevisionInfosByTarget(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	revisions := make([]*types.Revision, len(infos))
	for i, info := range infos {
		revisions[i] = info.ToRevision()
	}
	return revisions, nil
}

// Delete removes a revision record. This is the administrative escape
// hatch; moderation itself never deletes history.
func (h *Handler) Delete(ctx context.Context, id types.ID) error {
	if !h.actor.IsAdmin() {
		return fmt.Errorf("delete revision %s: %w", id, ErrNotAdmin)
	}
	return h.txn.DeleteRevisionInfo(ctx, id)
}

// ApplyAction applies one moderator action to the revision of the given id
// and returns the updated revision. The action entry is appended to the
// audit trail only after the transition and its entity writes succeeded.
func (h *Handler) ApplyAction(
	ctx context.Context,
	id types.ID,
	input *types.ActionInput,
) (*types.Revision, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if !h.actor.IsModerator() {
		return nil, fmt.Errorf("revision %s: %w", id, ErrNotModerator)
	}

	info, err := h.txn.FindRevisionInfo(ctx, id)
	if err != nil {
		return nil, err
	}

	switch input.Label {
	case types.ActionInProgress:
		err = h.claim(info)
	case types.ActionChange:
		err = h.change(ctx, info, input.Changes)
	case types.ActionAccept:
		err = h.accept(ctx, info)
	case types.ActionReject:
		err = h.reject(info)
	case types.ActionRevert:
		err = h.revert(ctx, info)
	default:
		err = fmt.Errorf("label %q: %w", input.Label, ErrInvalidTransition)
	}
	if err != nil {
		return nil, fmt.Errorf("revision %s: %w", id, err)
	}

	info.AppendAction(h.actor.ID, input.Label, input.Note)
	if err := h.txn.UpdateRevisionInfo(ctx, info); err != nil {
		return nil, err
	}

	if h.observer != nil {
		h.observer.ObserveRevisionTransition(input.Label)
	}
	logging.From(ctx).Debugw(
		"revision transition applied",
		"revision", info.ID, "label", input.Label, "status", info.Status,
	)

	return info.ToRevision(), nil
}

// claim moves a revision to IN_PROGRESS, marking it as being reviewed.
func (h *Handler) claim(info *database.RevisionInfo) error {
	switch info.Status {
	case types.RevisionPending:
	case types.RevisionInProgress:
		if h.strict {
			return fmt.Errorf("claim from %s: %w", info.Status, ErrInvalidTransition)
		}
	default:
		return fmt.Errorf("claim from %s: %w", info.Status, ErrInvalidTransition)
	}

	info.Status = types.RevisionInProgress
	return nil
}

// change lays the submitted fields over the revision's staged change-set
// and recomputes the effective difference against the live target. The
// merge is shallow: submitted fields replace staged fields wholesale.
func (h *Handler) change(
	ctx context.Context,
	info *database.RevisionInfo,
	submitted document.Document,
) error {
	switch info.Status {
	case types.RevisionPending, types.RevisionInProgress:
	default:
		return fmt.Errorf("change from %s: %w", info.Status, ErrInvalidTransition)
	}

	merged := document.Merge(info.Changes, submitted)

	target, err := h.txn.FindEntityInfo(ctx, info.TargetKind, info.TargetID)
	if err != nil {
		return err
	}

	desired := target.Data.Apply(merged)
	cs, err := document.Diff(target.Data, desired, nil)
	if err != nil {
		return err
	}
	if cs == nil {
		return catalog.ErrEmptyChanges
	}

	info.Changes = cs.Changes
	info.BeforeChanges = cs.Before
	return nil
}

// accept applies the revision to its target and moves it to ACCEPTED. A
// creation request flips the verified flag and applies any change-set
// staged since creation; an update request re-applies its change-set
// through the entity manager; a deletion request soft-removes the target.
func (h *Handler) accept(ctx context.Context, info *database.RevisionInfo) error {
	switch info.Status {
	case types.RevisionAccepted, types.RevisionRejected:
		return fmt.Errorf("accept from %s: %w", info.Status, ErrInvalidTransition)
	}

	manager, err := h.managerFor(info.TargetKind)
	if err != nil {
		return err
	}

	switch info.Type {
	case types.RevisionCreateRequest:
		if err := manager.SetVerified(ctx, info.TargetID, true); err != nil {
			return err
		}
		if len(info.Changes) > 0 {
			if _, err := manager.ApplyStored(ctx, info.TargetID, info.Changes); err != nil {
				return err
			}
		}
	case types.RevisionUpdateRequest:
		if _, err := manager.ApplyStored(ctx, info.TargetID, info.Changes); err != nil {
			return err
		}
	case types.RevisionDeleteRequest:
		if _, err := h.txn.SetEntityRemoved(ctx, info.TargetKind, info.TargetID, true); err != nil {
			return err
		}
	default:
		return fmt.Errorf("accept %s revision: %w", info.Type, ErrInvalidTransition)
	}

	info.Status = types.RevisionAccepted
	return nil
}

// reject closes a revision without applying it.
func (h *Handler) reject(info *database.RevisionInfo) error {
	switch info.Status {
	case types.RevisionAccepted, types.RevisionRejected, types.RevisionReverted:
		return fmt.Errorf("reject from %s: %w", info.Status, ErrInvalidTransition)
	}

	info.Status = types.RevisionRejected
	return nil
}

// revert undoes an accepted revision: an update's prior values are
// re-applied, a creation is un-verified, a deletion is restored. Directly
// applied revisions are synthesized accepted, so they are revertible the
// same way their staged counterparts are.
func (h *Handler) revert(ctx context.Context, info *database.RevisionInfo) error {
	if info.Status != types.RevisionAccepted {
		return fmt.Errorf("revert from %s: %w", info.Status, ErrInvalidTransition)
	}

	manager, err := h.managerFor(info.TargetKind)
	if err != nil {
		return err
	}

	switch info.Type {
	case types.RevisionCreate, types.RevisionCreateRequest:
		if len(info.BeforeChanges) > 0 {
			if _, err := manager.ApplyStored(ctx, info.TargetID, info.BeforeChanges); err != nil {
				return err
			}
		}
		if err := manager.SetVerified(ctx, info.TargetID, false); err != nil {
			return err
		}
	case types.RevisionUpdate, types.RevisionUpdateRequest:
		if _, err := manager.ApplyStored(ctx, info.TargetID, info.BeforeChanges); err != nil {
			return err
		}
	case types.RevisionDelete, types.RevisionDeleteRequest:
		if _, err := h.txn.SetEntityRemoved(ctx, info.TargetKind, info.TargetID, false); err != nil {
			return err
		}
	case types.RevisionDeleteRestore:
		if _, err := h.txn.SetEntityRemoved(ctx, info.TargetKind, info.TargetID, true); err != nil {
			return err
		}
	default:
		return fmt.Errorf("revert %s revision: %w", info.Type, ErrInvalidTransition)
	}

	info.Status = types.RevisionReverted
	return nil
}

// managerFor builds an entity manager of the given kind sharing the
// handler's transaction, actor and effect batch.
func (h *Handler) managerFor(kind types.EntityKind) (*catalog.Manager, error) {
	return catalog.NewManager(h.txn, kind, catalog.Options{
		Actor:   h.actor,
		Effects: h.effects,
	})
}
