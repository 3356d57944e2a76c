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

// Package catalog provides the generic entity manager orchestrating writes
// to the moderated catalog: relation resolution with cascading sub-entity
// creation, change detection against the stored snapshot, and the revision
// records every write leaves behind.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/aozora-team/aozora/api/types"
	"github.com/aozora-team/aozora/pkg/document"
	"github.com/aozora-team/aozora/pkg/errors"
	"github.com/aozora-team/aozora/server/backend/database"
	"github.com/aozora-team/aozora/server/effects"
)

var (
	// ErrEmptyChanges is returned when a write resolves to no difference
	// against the stored snapshot.
	ErrEmptyChanges = errors.FailedPrecond("no changes detected").WithCode("ErrEmptyChanges")

	// ErrBadEntry is returned when a relation entry or creation spec is
	// malformed.
	ErrBadEntry = errors.InvalidArgument("malformed entry").WithCode("ErrBadEntry")

	// ErrForbidden is returned when the acting user may not make the
	// requested change.
	ErrForbidden = errors.PermissionDenied("operation not allowed").WithCode("ErrForbidden")
)

// Options configures a Manager for one logical operation.
type Options struct {
	// Actor is the authenticated user the operation runs as.
	Actor *types.Actor

	// Effects collects side effects to run after the transaction commits.
	// A fresh batch is created when nil.
	Effects *effects.Batch
}

// pendingEntity is a sub-entity staged by the relation resolver, persisted
// together with its parent.
type pendingEntity struct {
	id         types.ID
	descriptor *Descriptor
	data       document.Document
	naturalKey string
}

// Manager orchestrates writes for one entity kind within one transaction.
// A single descriptor-driven implementation serves every kind; inline
// relation specs spawn sub-managers of the target kind sharing this
// manager's staging state.
type Manager struct {
	txn        database.Txn
	descriptor *Descriptor
	actor      *types.Actor
	effects    *effects.Batch

	// newData is the resolved desired document, set by Init.
	newData document.Document

	// toSave collects sub-entities staged during relation resolution.
	// Shared with sub-managers so one persist pass covers the cascade.
	toSave *[]pendingEntity
}

// NewManager creates a manager for the given kind.
func NewManager(txn database.Txn, kind types.EntityKind, opts Options) (*Manager, error) {
	descriptor, err := DescriptorFor(kind)
	if err != nil {
		return nil, err
	}
	if opts.Actor == nil {
		return nil, fmt.Errorf("actor: %w", ErrForbidden)
	}

	batch := opts.Effects
	if batch == nil {
		batch = effects.NewBatch()
	}

	pending := make([]pendingEntity, 0)
	return &Manager{
		txn:        txn,
		descriptor: descriptor,
		actor:      opts.Actor,
		effects:    batch,
		toSave:     &pending,
	}, nil
}

// subManager creates a manager of the target kind sharing this manager's
// transaction, actor, effect batch and staging list.
func (m *Manager) subManager(kind types.EntityKind) (*Manager, error) {
	descriptor, err := DescriptorFor(kind)
	if err != nil {
		return nil, err
	}

	return &Manager{
		txn:        m.txn,
		descriptor: descriptor,
		actor:      m.actor,
		effects:    m.effects,
		toSave:     m.toSave,
	}, nil
}

// Init validates the raw input document and resolves its relation fields.
// It must be called before Create, CreateRequest, Patch or UpdateRequest.
// On failure every staged side effect is discarded before the error is
// returned.
func (m *Manager) Init(ctx context.Context, data document.Document) error {
	if err := m.prepare(ctx, data); err != nil {
		m.compensate()
		return err
	}
	return nil
}

// prepare is Init without compensation, reused by sub-managers whose parent
// compensates for the whole cascade.
func (m *Manager) prepare(ctx context.Context, data document.Document) error {
	input := data.DeepCopy()
	if input == nil {
		input = document.Document{}
	}

	if m.descriptor.Validate != nil {
		if err := m.descriptor.Validate(input); err != nil {
			return err
		}
	}

	resolved, err := m.resolveRelations(ctx, input)
	if err != nil {
		return err
	}

	// Creation specs pass the guard too, so e.g. a member cannot mint an
	// admin user through an inline spec.
	if err := m.guard(nil, resolved); err != nil {
		return err
	}

	m.newData = resolved
	return nil
}

// compensate discards staged sub-entities and side effects after a failed
// operation. The surrounding transaction is aborted by the caller.
func (m *Manager) compensate() {
	*m.toSave = (*m.toSave)[:0]
	m.effects.Discard()
}

// naturalKeyOf returns the kind's natural key for the given document.
func (m *Manager) naturalKeyOf(data document.Document) string {
	if m.descriptor.NaturalKey == nil {
		return ""
	}
	return m.descriptor.NaturalKey(data)
}

// Create persists the resolved document as a verified entity and records
// an accepted creation revision. Sub-entities staged during resolution are
// persisted first, each with its own creation revision referencing the
// parent's.
func (m *Manager) Create(ctx context.Context, note string) (*types.Entity, error) {
	return m.create(ctx, note, false)
}

// CreateRequest persists the resolved document as an unverified entity and
// records a pending creation-request revision awaiting moderation.
func (m *Manager) CreateRequest(ctx context.Context, note string) (*types.Entity, error) {
	return m.create(ctx, note, true)
}

func (m *Manager) create(ctx context.Context, note string, staged bool) (*types.Entity, error) {
	if m.newData == nil {
		return nil, fmt.Errorf("manager not initialized: %w", ErrBadEntry)
	}

	entity, err := m.doCreate(ctx, note, staged)
	if err != nil {
		m.compensate()
		return nil, err
	}
	return entity, nil
}

func (m *Manager) doCreate(ctx context.Context, note string, staged bool) (*types.Entity, error) {
	id := types.NewID()

	data := m.newData
	if m.descriptor.PrepareCreate != nil {
		prepared, err := m.descriptor.PrepareCreate(id, data, m.effects)
		if err != nil {
			return nil, err
		}
		data = prepared
	}

	now := time.Now()
	info, err := m.txn.CreateEntityInfo(ctx, &database.EntityInfo{
		ID:         id,
		Kind:       m.descriptor.Kind,
		NaturalKey: m.naturalKeyOf(data),
		Verified:   !staged,
		Data:       data,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return nil, err
	}

	revision, err := m.recordRevision(ctx, revisionSpec{
		staged:   staged,
		onDirect: types.RevisionCreate,
		onStaged: types.RevisionCreateRequest,
		targetID: id,
		note:     note,
	})
	if err != nil {
		return nil, err
	}

	if err := m.persistPending(ctx, revision.ID, staged, note); err != nil {
		return nil, err
	}

	return info.ToEntity(), nil
}

// persistPending writes every staged sub-entity and its creation revision.
// Sub-entity revisions carry a reference to the parent revision so the
// cascade stays traceable.
func (m *Manager) persistPending(ctx context.Context, refID types.ID, staged bool, note string) error {
	pending := *m.toSave
	*m.toSave = (*m.toSave)[:0]

	for _, sub := range pending {
		data := sub.data
		if sub.descriptor.PrepareCreate != nil {
			prepared, err := sub.descriptor.PrepareCreate(sub.id, data, m.effects)
			if err != nil {
				return err
			}
			data = prepared
		}

		now := time.Now()
		if _, err := m.txn.CreateEntityInfo(ctx, &database.EntityInfo{
			ID:         sub.id,
			Kind:       sub.descriptor.Kind,
			NaturalKey: sub.naturalKey,
			Verified:   !staged,
			Data:       data,
			CreatedAt:  now,
			UpdatedAt:  now,
		}); err != nil {
			return err
		}

		if _, err := m.recordRevision(ctx, revisionSpec{
			staged:     staged,
			onDirect:   types.RevisionCreate,
			onStaged:   types.RevisionCreateRequest,
			targetKind: sub.descriptor.Kind,
			targetID:   sub.id,
			refID:      refID,
			note:       note,
		}); err != nil {
			return err
		}
	}

	return nil
}

// Patch applies the difference between the stored snapshot and the
// resolved document directly to the target and records an accepted update
// revision. It returns the applied change-set.
func (m *Manager) Patch(ctx context.Context, targetID types.ID, note string) (*document.ChangeSet, error) {
	cs, err := m.doPatch(ctx, targetID, note)
	if err != nil {
		m.compensate()
		return nil, err
	}
	return cs, nil
}

func (m *Manager) doPatch(ctx context.Context, targetID types.ID, note string) (*document.ChangeSet, error) {
	if m.newData == nil {
		return nil, fmt.Errorf("manager not initialized: %w", ErrBadEntry)
	}

	info, err := m.txn.FindEntityInfo(ctx, m.descriptor.Kind, targetID)
	if err != nil {
		return nil, err
	}

	cs, err := m.changesAgainst(info.Data)
	if err != nil {
		return nil, err
	}
	if cs == nil {
		return nil, ErrEmptyChanges
	}
	if err := m.guard(info.Data, cs.Changes); err != nil {
		return nil, err
	}

	superseded := m.supersededResources(info.Data, cs.Changes)

	applied := info.Data.Apply(cs.Changes)
	if _, err := m.txn.ApplyEntityChanges(
		ctx, m.descriptor.Kind, targetID, cs.Changes, m.naturalKeyOf(applied),
	); err != nil {
		return nil, err
	}

	revision, err := m.recordRevision(ctx, revisionSpec{
		onDirect:  types.RevisionUpdate,
		targetID:  targetID,
		changes:   cs.Changes,
		before:    cs.Before,
		note:      note,
	})
	if err != nil {
		return nil, err
	}

	if err := m.persistPending(ctx, revision.ID, false, note); err != nil {
		return nil, err
	}

	// Superseded files are released only once the parent write is in.
	for _, id := range superseded {
		m.effects.Stage(effects.OpDelete, id, nil)
	}

	return cs, nil
}

// UpdateRequest stages the difference between the stored snapshot and the
// resolved document as a pending update-request revision. The target is
// left untouched until moderation accepts the request; inline sub-entities
// are persisted unverified so their handles stay resolvable.
func (m *Manager) UpdateRequest(ctx context.Context, targetID types.ID, note string) (*types.Revision, error) {
	rev, err := m.doUpdateRequest(ctx, targetID, note)
	if err != nil {
		m.compensate()
		return nil, err
	}
	return rev, nil
}

func (m *Manager) doUpdateRequest(ctx context.Context, targetID types.ID, note string) (*types.Revision, error) {
	if m.newData == nil {
		return nil, fmt.Errorf("manager not initialized: %w", ErrBadEntry)
	}

	info, err := m.txn.FindEntityInfo(ctx, m.descriptor.Kind, targetID)
	if err != nil {
		return nil, err
	}

	cs, err := m.changesAgainst(info.Data)
	if err != nil {
		return nil, err
	}
	if cs == nil {
		return nil, ErrEmptyChanges
	}
	if err := m.guard(info.Data, cs.Changes); err != nil {
		return nil, err
	}

	revision, err := m.recordRevision(ctx, revisionSpec{
		staged:   true,
		onStaged: types.RevisionUpdateRequest,
		targetID: targetID,
		changes:  cs.Changes,
		before:   cs.Before,
		note:     note,
	})
	if err != nil {
		return nil, err
	}

	if err := m.persistPending(ctx, revision.ID, true, note); err != nil {
		return nil, err
	}

	return revision.ToRevision(), nil
}

// GetChanges returns the change-set the resolved document would apply to
// the given entity, without writing anything. extraIgnoreKeys are excluded
// from detection in addition to the kind's system fields. A nil change-set
// means no difference.
func (m *Manager) GetChanges(
	ctx context.Context,
	sourceID types.ID,
	extraIgnoreKeys []string,
) (*document.ChangeSet, error) {
	if m.newData == nil {
		return nil, fmt.Errorf("manager not initialized: %w", ErrBadEntry)
	}

	info, err := m.txn.FindEntityInfo(ctx, m.descriptor.Kind, sourceID)
	if err != nil {
		return nil, err
	}

	ignore := append(m.ignoreKeys(), extraIgnoreKeys...)
	generic, err := document.Diff(info.Data, m.newData, ignore)
	if err != nil {
		return nil, err
	}

	relations := m.diffRelations(info.Data)
	if relations != nil {
		for _, key := range extraIgnoreKeys {
			delete(relations.Changes, key)
			delete(relations.Before, key)
		}
		if len(relations.Changes) == 0 {
			relations = nil
		}
	}
	return mergeChangeSets(generic, relations), nil
}

// ApplyStored applies a stored change-set to the target entity, recomputing
// the effective difference against the live snapshot first. It returns nil
// when the target already matches. Used by moderation when accepting or
// reverting revisions; no new revision record is written, but owned
// resources the change-set supersedes are staged for release like on the
// direct patch path.
func (m *Manager) ApplyStored(
	ctx context.Context,
	targetID types.ID,
	changes document.Document,
) (*document.ChangeSet, error) {
	info, err := m.txn.FindEntityInfo(ctx, m.descriptor.Kind, targetID)
	if err != nil {
		return nil, err
	}

	desired := info.Data.Apply(changes)
	cs, err := document.Diff(info.Data, desired, m.descriptor.IgnoreKeys)
	if err != nil {
		return nil, err
	}
	if cs == nil {
		return nil, nil
	}

	superseded := m.supersededResources(info.Data, cs.Changes)

	if _, err := m.txn.ApplyEntityChanges(
		ctx, m.descriptor.Kind, targetID, cs.Changes, m.naturalKeyOf(desired),
	); err != nil {
		return nil, err
	}

	for _, id := range superseded {
		m.effects.Stage(effects.OpDelete, id, nil)
	}
	return cs, nil
}

// SetVerified flips the moderation flag of the target entity.
func (m *Manager) SetVerified(ctx context.Context, targetID types.ID, verified bool) error {
	_, err := m.txn.SetEntityVerified(ctx, m.descriptor.Kind, targetID, verified)
	return err
}

// Delete soft-removes the target entity and records an accepted deletion
// revision. The entity and its revision history stay in the store.
func (m *Manager) Delete(ctx context.Context, targetID types.ID, note string) error {
	if _, err := m.txn.SetEntityRemoved(ctx, m.descriptor.Kind, targetID, true); err != nil {
		return err
	}
	_, err := m.recordRevision(ctx, revisionSpec{
		onDirect: types.RevisionDelete,
		targetID: targetID,
		note:     note,
	})
	return err
}

// DeleteRequest records a pending deletion-request revision without
// touching the target.
func (m *Manager) DeleteRequest(ctx context.Context, targetID types.ID, note string) (*types.Revision, error) {
	if _, err := m.txn.FindEntityInfo(ctx, m.descriptor.Kind, targetID); err != nil {
		return nil, err
	}
	revision, err := m.recordRevision(ctx, revisionSpec{
		staged:   true,
		onStaged: types.RevisionDeleteRequest,
		targetID: targetID,
		note:     note,
	})
	if err != nil {
		return nil, err
	}
	return revision.ToRevision(), nil
}

// Restore lifts the soft-delete flag of the target entity and records an
// accepted restore revision.
func (m *Manager) Restore(ctx context.Context, targetID types.ID, note string) error {
	if _, err := m.txn.SetEntityRemoved(ctx, m.descriptor.Kind, targetID, false); err != nil {
		return err
	}
	_, err := m.recordRevision(ctx, revisionSpec{
		onDirect: types.RevisionDeleteRestore,
		targetID: targetID,
		note:     note,
	})
	return err
}

// guard applies the kind's change guard, if any.
func (m *Manager) guard(before document.Document, changes document.Document) error {
	if m.descriptor.Guard == nil {
		return nil
	}
	return m.descriptor.Guard(m.actor, before, changes)
}

// ignoreKeys returns the keys excluded from generic change detection:
// the kind's system fields plus its relation fields, which are compared by
// handle identity instead.
func (m *Manager) ignoreKeys() []string {
	keys := make([]string, 0, len(m.descriptor.IgnoreKeys)+len(m.descriptor.Relations))
	keys = append(keys, m.descriptor.IgnoreKeys...)
	keys = append(keys, m.descriptor.relationNames()...)
	return keys
}

// changesAgainst computes the full change-set between the stored document
// and the resolved desired document: the generic field diff merged with
// the relation-handle comparison.
func (m *Manager) changesAgainst(stored document.Document) (*document.ChangeSet, error) {
	generic, err := document.Diff(stored, m.newData, m.ignoreKeys())
	if err != nil {
		return nil, err
	}
	return mergeChangeSets(generic, m.diffRelations(stored)), nil
}

// revisionSpec describes one revision record to write.
type revisionSpec struct {
	staged     bool
	onDirect   types.RevisionType
	onStaged   types.RevisionType
	targetKind types.EntityKind
	targetID   types.ID
	refID      types.ID
	changes    document.Document
	before     document.Document
	note       string
}

func (m *Manager) recordRevision(ctx context.Context, spec revisionSpec) (*database.RevisionInfo, error) {
	revType := spec.onDirect
	status := types.RevisionAccepted
	if spec.staged {
		revType = spec.onStaged
		status = types.RevisionPending
	}

	kind := spec.targetKind
	if kind == "" {
		kind = m.descriptor.Kind
	}

	now := time.Now()
	info := &database.RevisionInfo{
		ID:            types.NewID(),
		Type:          revType,
		Status:        status,
		TargetKind:    kind,
		TargetID:      spec.targetID,
		RefID:         spec.refID,
		Changes:       spec.changes,
		BeforeChanges: spec.before,
		AuthorID:      m.actor.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if spec.note != "" {
		info.AppendAction(m.actor.ID, types.ActionSubmit, spec.note)
	}

	return m.txn.CreateRevisionInfo(ctx, info)
}

// mergeChangeSets folds the relation change-set into the generic one.
// Returns nil when both are empty.
func mergeChangeSets(generic, relations *document.ChangeSet) *document.ChangeSet {
	if relations == nil {
		return generic
	}
	if generic == nil {
		return relations
	}

	for key, value := range relations.Changes {
		generic.Changes[key] = value
	}
	for key, value := range relations.Before {
		generic.Before[key] = value
	}
	return generic
}
