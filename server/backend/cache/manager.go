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

// Package cache provides the central cache manager of the backend.
package cache

import (
	"time"

	"github.com/aozora-team/aozora/api/types"
	"github.com/aozora-team/aozora/pkg/cache"
)

// Options holds the sizes and TTLs of the backend caches.
type Options struct {
	// ActorCacheSize is the maximum number of resolved actors kept.
	ActorCacheSize int

	// ActorCacheTTL is how long a resolved actor stays valid.
	ActorCacheTTL time.Duration
}

// Manager holds the in-memory caches shared across requests.
type Manager struct {
	options Options

	// Actor caches user entities resolved into actors, so permission
	// checks do not hit the store on every request.
	Actor *cache.LRUExpireCache[*types.Actor]
}

// New creates a cache manager with the given options.
func New(options Options) (*Manager, error) {
	actorCache, err := cache.NewLRUExpireCache[*types.Actor](options.ActorCacheSize)
	if err != nil {
		return nil, err
	}

	return &Manager{
		options: options,
		Actor:   actorCache,
	}, nil
}

// AddActor caches a resolved actor under its user id.
func (m *Manager) AddActor(actor *types.Actor) {
	m.Actor.Add(actor.ID.String(), actor, m.options.ActorCacheTTL)
}

// GetActor returns the cached actor of the given user id, if still valid.
func (m *Manager) GetActor(id types.ID) (*types.Actor, bool) {
	return m.Actor.Get(id.String())
}

// RemoveActor drops the cached actor of the given user id, e.g. after a
// role change.
func (m *Manager) RemoveActor(id types.ID) {
	m.Actor.Remove(id.String())
}
