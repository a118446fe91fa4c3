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

// Package session implements C4's in-memory write-through staging
// cache for a scoped group of writes, with timestamp sanitization. It
// does not touch git itself: graph drains the staged writes into each
// namespace backend's session branch and drives commit, rollback and
// close there.
package session

import (
	"errors"
	"sort"
	"sync"

	"github.com/sakdb/sakdb/field"
	"github.com/sakdb/sakdb/merge"
)

// SessionError kind (spec §7), raised at the Graph/Session layer.
var (
	ErrNoActiveSession = errors.New("session: no active session")
	ErrAlreadyActive   = errors.New("session: already active")
)

// Session groups writes into a per-path staging map (§4.4's
// SessionChanges), keyed by the full NodePath (which already embeds the
// owning namespace's name, so one flat map suffices in place of one map
// per namespace).
type Session struct {
	Name    string
	Message string

	mu     sync.Mutex
	staged map[string]*field.FieldRecord
}

// New creates a Session. Graph.Session is the usual entry point;
// constructing a Session directly is only useful in tests.
func New(name, message string) *Session {
	return &Session{Name: name, Message: message, staged: map[string]*field.FieldRecord{}}
}

// Get returns the staged FieldRecord at path, if any.
func (s *Session) Get(path string) (*field.FieldRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fr, ok := s.staged[path]
	return fr, ok
}

// Put stages next at path, applying timestamp sanitization (IV-9)
// against whatever is already staged there, then merging the
// sanitized write atop the prior staged value (§4.4 steps 2-3).
func (s *Session) Put(path string, next *field.FieldRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prior := s.staged[path]
	s.staged[path] = ApplyWrite(prior, next)
}

// Discard drops paths from staging, for a mid-session rollback: reads
// of those paths afterward fall through to the backend, observing
// whatever the namespace branch held before the session started.
func (s *Session) Discard(paths []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range paths {
		delete(s.staged, p)
	}
}

// Paths returns every staged path, sorted for deterministic draining.
func (s *Session) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.staged))
	for p := range s.staged {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// ApplyWrite implements §4.4 steps 2-3: for every field in next whose
// key is present in existing with the same crc, next's field inherits
// existing's ts (IV-9, P6); the result is merge(nil, sanitized-next,
// existing), favoring the new write on any field that actually
// changed. existing may be nil (first write to this path).
func ApplyWrite(existing, next *field.FieldRecord) *field.FieldRecord {
	sanitized := sanitizeTimestamps(existing, next)
	return merge.Merge(nil, sanitized, existing)
}

func sanitizeTimestamps(existing, next *field.FieldRecord) *field.FieldRecord {
	if next == nil || existing == nil {
		return next
	}
	out := make([]field.Field, len(next.Fields))
	for i, f := range next.Fields {
		if ef, ok := existing.GetByKey(f.Key); ok && ef.CRC == f.CRC {
			f.TS = ef.TS
		}
		out[i] = f
	}
	return &field.FieldRecord{Fields: out}
}
