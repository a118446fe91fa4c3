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

package metrics

import (
	"testing"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCounters(t *testing.T) {
	reg := promclient.NewRegistry()
	rec, err := New(reg)
	require.NoError(t, err)
	require.NotNil(t, rec)

	rec.CountGitOperation("commit")
	rec.CountCommit()
	rec.CountSyncConflictsResolved(3)
	rec.ObserveSyncDuration(0.5)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestNilRecorderMethodsAreNoOps(t *testing.T) {
	var rec *Recorder
	require.NotPanics(t, func() {
		rec.CountGitOperation("commit")
		rec.CountCommit()
		rec.CountSyncConflictsResolved(1)
		rec.ObserveSyncDuration(1.0)
	})
}
