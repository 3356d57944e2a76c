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

// Package server provides the Aozora catalog server assembled from its
// backend, profiling server and configuration.
package server

import (
	"context"
	gosync "sync"

	"github.com/aozora-team/aozora/server/backend"
	"github.com/aozora-team/aozora/server/profiling"
	"github.com/aozora-team/aozora/server/profiling/prometheus"
)

// Aozora is a catalog server. It accepts entity writes from its services,
// stores them with the revision records moderation runs on, and executes
// the side effects of committed writes.
type Aozora struct {
	lock gosync.Mutex

	conf            *Config
	backend         *backend.Backend
	profilingServer *profiling.Server

	shutdown   bool
	shutdownCh chan struct{}
}

// New creates a new instance of Aozora.
func New(conf *Config) (*Aozora, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	metrics, err := prometheus.NewMetrics()
	if err != nil {
		return nil, err
	}

	be, err := backend.New(conf.Backend, conf.Mongo, conf.ObjectStore, metrics)
	if err != nil {
		return nil, err
	}

	var profilingServer *profiling.Server
	if conf.Profiling != nil {
		profilingServer = profiling.NewServer(conf.Profiling, metrics)
	}

	return &Aozora{
		conf:            conf,
		backend:         be,
		profilingServer: profilingServer,
		shutdownCh:      make(chan struct{}),
	}, nil
}

// Start starts the server: bootstraps the default admin and opens the
// profiling port.
func (r *Aozora) Start() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if err := r.backend.EnsureDefaultAdmin(context.Background()); err != nil {
		return err
	}

	if r.profilingServer != nil {
		return r.profilingServer.Start()
	}
	return nil
}

// Shutdown shuts down this Aozora server.
func (r *Aozora) Shutdown(graceful bool) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.shutdown {
		return nil
	}

	if r.profilingServer != nil {
		r.profilingServer.Shutdown(graceful)
	}

	if err := r.backend.Shutdown(); err != nil {
		return err
	}

	close(r.shutdownCh)
	r.shutdown = true
	return nil
}

// ShutdownCh returns the shutdown channel.
func (r *Aozora) ShutdownCh() <-chan struct{} {
	return r.shutdownCh
}

// Backend returns the backend of this server.
func (r *Aozora) Backend() *backend.Backend {
	return r.backend
}
