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

// Package prometheus provides a Prometheus metrics exporter.
package prometheus

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aozora-team/aozora/api/types"
	"github.com/aozora-team/aozora/internal/version"
)

const (
	namespace   = "aozora"
	kindLabel   = "kind"
	opLabel     = "op"
	actionLabel = "action"
	resultLabel = "result"
)

// Metrics manages the metric information the server measures.
type Metrics struct {
	registry *prometheus.Registry

	serverVersion *prometheus.GaugeVec

	entityWritesTotal        *prometheus.CounterVec
	revisionTransitionsTotal *prometheus.CounterVec
	effectRunsTotal          *prometheus.CounterVec
}

// NewMetrics creates a new instance of Metrics.
func NewMetrics() (*Metrics, error) {
	reg := prometheus.NewRegistry()

	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("register process collector: %w", err)
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}

	metrics := &Metrics{
		registry: reg,
		serverVersion: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "version",
			Help:      "Which version is running. 1 for 'server_version' label with current version.",
		}, []string{"server_version"}),
		entityWritesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "entity_writes_total",
			Help:      "Total number of entity writes, per kind and operation.",
		}, []string{kindLabel, opLabel}),
		revisionTransitionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "revisions",
			Name:      "transitions_total",
			Help:      "Total number of applied revision state transitions, per action.",
		}, []string{actionLabel}),
		effectRunsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "effects",
			Name:      "runs_total",
			Help:      "Total number of executed post-commit side effects, per operation and result.",
		}, []string{opLabel, resultLabel}),
	}

	metrics.serverVersion.With(prometheus.Labels{
		"server_version": version.Version,
	}).Set(1)

	return metrics, nil
}

// AddEntityWrite adds one entity write of the given kind and operation.
func (m *Metrics) AddEntityWrite(kind types.EntityKind, op string) {
	m.entityWritesTotal.With(prometheus.Labels{
		kindLabel: string(kind),
		opLabel:   op,
	}).Inc()
}

// ObserveRevisionTransition adds one applied revision transition.
func (m *Metrics) ObserveRevisionTransition(label types.ActionLabel) {
	m.revisionTransitionsTotal.With(prometheus.Labels{
		actionLabel: string(label),
	}).Inc()
}

// AddEffectRun adds one executed side effect with its result.
func (m *Metrics) AddEffectRun(op string, succeeded bool) {
	result := "ok"
	if !succeeded {
		result = "error"
	}
	m.effectRunsTotal.With(prometheus.Labels{
		opLabel:     op,
		resultLabel: result,
	}).Inc()
}

// Registry returns the registry of this metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
