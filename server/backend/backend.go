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

// Package backend provides the backend of the catalog server: the database,
// caches, side-effect executor and metrics, assembled from configuration.
package backend

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aozora-team/aozora/api/types"
	"github.com/aozora-team/aozora/pkg/document"
	"github.com/aozora-team/aozora/server/backend/cache"
	"github.com/aozora-team/aozora/server/backend/database"
	"github.com/aozora-team/aozora/server/backend/database/memory"
	"github.com/aozora-team/aozora/server/backend/database/mongo"
	"github.com/aozora-team/aozora/server/catalog"
	"github.com/aozora-team/aozora/server/effects"
	"github.com/aozora-team/aozora/server/logging"
	"github.com/aozora-team/aozora/server/profiling/prometheus"
)

// bootstrapActorID is the author recorded on revisions written before any
// real user exists.
const bootstrapActorID = types.ID("system")

// Backend manages the server's backend such as Database, Cache and the
// side-effect executor.
type Backend struct {
	Config *Config

	// Cache is the central cache manager for all caches.
	Cache *cache.Manager
	// Metrics is used to expose metrics.
	Metrics *prometheus.Metrics
	// DB is the database instance.
	DB database.Database
	// Effects executes post-commit side effects such as file writes.
	Effects effects.Executor
}

// New creates a new instance of Backend.
func New(
	conf *Config,
	mongoConf *mongo.Config,
	storeConf *effects.ObjectStoreConfig,
	metrics *prometheus.Metrics,
) (*Backend, error) {
	// 01. Build the server info with the given hostname or the hostname of
	// the current machine.
	if conf.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("os.Hostname: %w", err)
		}
		conf.Hostname = hostname
	}

	// 02. Create the cache manager.
	cacheManager, err := cache.New(cache.Options{
		ActorCacheSize: conf.ActorCacheSize,
		ActorCacheTTL:  conf.ParseActorCacheTTL(),
	})
	if err != nil {
		return nil, err
	}

	// 03. Create the database instance. If the MongoDB configuration is
	// given, create a MongoDB instance. Otherwise, create a memory database.
	var db database.Database
	if mongoConf != nil {
		db, err = mongo.Dial(mongoConf)
		if err != nil {
			return nil, err
		}
	} else {
		db, err = memory.New()
		if err != nil {
			return nil, err
		}
	}

	// 04. Create the side-effect executor. Without an object store the
	// in-memory executor backs single-node deployments.
	var executor effects.Executor
	if storeConf != nil {
		executor, err = effects.NewObjectStore(storeConf)
		if err != nil {
			return nil, err
		}
	} else {
		executor = effects.NewMemExecutor()
	}
	if metrics != nil {
		executor = effects.Instrument(executor, metrics.AddEffectRun)
	}

	logging.DefaultLogger().Infof(
		"backend created: db: %t, object store: %t",
		mongoConf != nil,
		storeConf != nil,
	)

	return &Backend{
		Config:  conf,
		Cache:   cacheManager,
		Metrics: metrics,
		DB:      db,
		Effects: executor,
	}, nil
}

// Shutdown closes all resources of this instance.
func (b *Backend) Shutdown() error {
	return b.DB.Close()
}

// ResolveActor turns a user id into the actor permission checks run
// against. Resolved actors are cached with a TTL so hot users skip the
// store.
func (b *Backend) ResolveActor(
	ctx context.Context,
	txn database.Txn,
	id types.ID,
) (*types.Actor, error) {
	if actor, ok := b.Cache.GetActor(id); ok {
		return actor, nil
	}

	info, err := txn.FindEntityInfo(ctx, types.KindUser, id)
	if err != nil {
		return nil, err
	}

	actor := actorOf(info.ID, info.Data)
	b.Cache.AddActor(actor)
	return actor, nil
}

// EnsureDefaultAdmin creates the default admin user if it does not exist.
func (b *Backend) EnsureDefaultAdmin(ctx context.Context) error {
	txn, err := b.DB.Begin(ctx, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := txn.Abort(); err != nil {
			logging.From(ctx).Error(err)
		}
	}()

	username := b.Config.AdminUser
	_, err = txn.FindEntityInfoByNaturalKey(ctx, types.KindUser, strings.ToLower(username))
	if err == nil {
		return nil
	}
	if !database.IsEntityNotFound(err) {
		return err
	}

	manager, err := catalog.NewManager(txn, types.KindUser, catalog.Options{
		Actor: &types.Actor{
			ID:       bootstrapActorID,
			Username: username,
			Roles:    []string{types.RoleAdmin},
		},
	})
	if err != nil {
		return err
	}

	if err := manager.Init(ctx, document.Document{
		"username": username,
		"role":     types.RoleAdmin,
	}); err != nil {
		return err
	}
	if _, err := manager.Create(ctx, "initial admin user"); err != nil {
		return err
	}

	if err := txn.Commit(); err != nil {
		return err
	}

	logging.From(ctx).Infof("default admin user created: %s", username)
	return nil
}

// actorOf builds an actor from a stored user document. Users without an
// explicit role are plain members.
func actorOf(id types.ID, data document.Document) *types.Actor {
	username, _ := data["username"].(string)
	role, _ := data["role"].(string)
	if role == "" {
		role = types.RoleMember
	}

	return &types.Actor{
		ID:       id,
		Username: username,
		Roles:    []string{role},
	}
}
