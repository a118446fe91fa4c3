/*
SPDX-License-Identifier: Apache-2.0

Copyright 2026 SakDb

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics provides OpenTelemetry-based instrumentation for
// gitbackend and syncengine operations, bridged to a caller-supplied
// Prometheus registry.
package metrics

import (
	"context"
	"fmt"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Recorder holds the OTel instruments used across the module. Adapted
// from the teacher's InitOTLPExporter: the teacher hard-wires
// controller-runtime's global Prometheus registry; a library has no
// such global, so the registry is a parameter here instead.
type Recorder struct {
	provider *sdkmetric.MeterProvider
	meter    metric.Meter

	gitOperationsTotal    metric.Int64Counter
	commitsTotal          metric.Int64Counter
	syncConflictsResolved metric.Int64Counter
	syncDurationSeconds   metric.Float64Histogram
}

// New builds a Recorder whose counters are exported through reg. Pass
// promclient.NewRegistry() for an isolated registry, or
// promclient.DefaultRegisterer's underlying registry to publish
// alongside an embedding application's own metrics.
func New(reg *promclient.Registry) (*Recorder, error) {
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("metrics: create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("sakdb")

	r := &Recorder{provider: provider, meter: meter}

	if r.gitOperationsTotal, err = meter.Int64Counter("sakdb_git_operations_total"); err != nil {
		return nil, err
	}
	if r.commitsTotal, err = meter.Int64Counter("sakdb_commits_total"); err != nil {
		return nil, err
	}
	if r.syncConflictsResolved, err = meter.Int64Counter("sakdb_sync_conflicts_resolved_total"); err != nil {
		return nil, err
	}
	if r.syncDurationSeconds, err = meter.Float64Histogram("sakdb_sync_duration_seconds"); err != nil {
		return nil, err
	}

	return r, nil
}

// CountGitOperation increments sakdb_git_operations_total for op. Safe
// to call on a nil *Recorder (no-op), so callers don't need to guard
// every call site.
func (r *Recorder) CountGitOperation(op string) {
	if r == nil {
		return
	}
	r.gitOperationsTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("op", op)))
}

// CountCommit increments sakdb_commits_total.
func (r *Recorder) CountCommit() {
	if r == nil {
		return
	}
	r.commitsTotal.Add(context.Background(), 1)
}

// CountSyncConflictsResolved increments sakdb_sync_conflicts_resolved_total by n.
func (r *Recorder) CountSyncConflictsResolved(n int64) {
	if r == nil || n == 0 {
		return
	}
	r.syncConflictsResolved.Add(context.Background(), n)
}

// ObserveSyncDuration records one sample of sakdb_sync_duration_seconds.
func (r *Recorder) ObserveSyncDuration(seconds float64) {
	if r == nil {
		return
	}
	r.syncDurationSeconds.Record(context.Background(), seconds)
}
