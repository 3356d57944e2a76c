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

package effects

import (
	"context"
	"sync"

	"github.com/aozora-team/aozora/api/types"
)

// MemExecutor stores resources in memory. It backs tests and single-node
// deployments without an object store.
type MemExecutor struct {
	mu        sync.Mutex
	resources map[types.ID][]byte
}

// NewMemExecutor creates an empty in-memory executor.
func NewMemExecutor() *MemExecutor {
	return &MemExecutor{resources: map[types.ID][]byte{}}
}

// Execute performs one effect against the in-memory store.
func (m *MemExecutor) Execute(_ context.Context, effect Effect) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch effect.Op {
	case OpCreate:
		m.resources[effect.ResourceID] = effect.Payload
	case OpDelete:
		delete(m.resources, effect.ResourceID)
	}
	return nil
}

// Get returns the stored resource content and whether it exists.
func (m *MemExecutor) Get(id types.ID) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	payload, ok := m.resources[id]
	return payload, ok
}
