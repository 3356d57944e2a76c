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

// Package effects stages side effects that live outside the transactional
// scope, such as image file writes. The core only records what should
// happen; the caller executes the batch strictly after the transaction
// committed and discards it on abort. A crash between commit and execution
// is an accepted inconsistency window reconciled out of band.
package effects

import (
	"context"

	"github.com/rs/xid"

	"github.com/aozora-team/aozora/api/types"
	"github.com/aozora-team/aozora/server/logging"
)

// Op is the kind of a staged effect.
type Op string

// The staged effect kinds.
const (
	OpCreate Op = "create"
	OpDelete Op = "delete"
)

// Effect is one staged side effect.
type Effect struct {
	// Op is what should happen to the resource.
	Op Op

	// ResourceID identifies the resource, e.g. the image entity's id.
	ResourceID types.ID

	// Payload is the resource content for OpCreate; nil for OpDelete.
	Payload []byte
}

// Executor performs staged effects against the outside world.
type Executor interface {
	// Execute performs one effect.
	Execute(ctx context.Context, effect Effect) error
}

// Batch collects the pending effects of one logical operation, keyed by a
// session id so overlapping requests stay separate.
type Batch struct {
	session string
	pending []Effect
}

// NewBatch creates an empty batch with a fresh session key.
func NewBatch() *Batch {
	return &Batch{session: xid.New().String()}
}

// Session returns the session key of this batch.
func (b *Batch) Session() string {
	return b.session
}

// Stage records one effect to run after commit.
func (b *Batch) Stage(op Op, resourceID types.ID, payload []byte) {
	b.pending = append(b.pending, Effect{
		Op:         op,
		ResourceID: resourceID,
		Payload:    payload,
	})
}

// Pending returns the staged effects in staging order.
func (b *Batch) Pending() []Effect {
	return b.pending
}

// Discard drops every staged effect. Called when the transaction aborts or
// when an operation compensates a failed init.
func (b *Batch) Discard() {
	b.pending = nil
}

// Run executes every staged effect against the given executor. Failures are
// logged and do not stop the remaining effects: the transaction is already
// committed, so the only option left is out-of-band reconciliation.
func (b *Batch) Run(ctx context.Context, executor Executor) {
	for _, effect := range b.pending {
		if err := executor.Execute(ctx, effect); err != nil {
			logging.From(ctx).Warnw(
				"post-commit effect failed",
				"session", b.session,
				"op", effect.Op,
				"resource", effect.ResourceID,
				"error", err,
			)
		}
	}
	b.pending = nil
}
