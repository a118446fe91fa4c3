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

// Package graph implements C6: the top-level value owning namespace and
// class registries plus the single active-Session slot, and the scoped
// Session lifecycle that drains staged writes into git commits.
package graph

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sakdb/sakdb/field"
	"github.com/sakdb/sakdb/gitbackend"
	"github.com/sakdb/sakdb/namespace"
	"github.com/sakdb/sakdb/session"
)

// GraphError / SessionError kinds (spec §7).
var (
	ErrAlreadyActive      = errors.New("graph: session already active")
	ErrDuplicateClass     = errors.New("graph: class already registered")
	ErrDuplicateNamespace = errors.New("graph: namespace already registered")
	ErrObjectNotFound     = errors.New("graph: object not found in any namespace")
)

// Class is the type token Graph hands back to collaborators building
// the typed-object surface (C8); the core treats it opaquely.
type Class interface{}

// Graph owns a set of Namespaces (by name), a class registry, and at
// most one active Session (IV-2).
type Graph struct {
	mu sync.Mutex

	namespaceOrder []string
	namespaces     map[string]*namespace.Namespace
	classes        map[string]Class

	current *session.Session
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{
		namespaces: map[string]*namespace.Namespace{},
		classes:    map[string]Class{},
	}
}

// CurrentSession implements namespace.SessionProvider: the Session
// active on this Graph, or nil.
func (g *Graph) CurrentSession() *session.Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// AddNamespace registers ns under name, in namespace-construction
// order (iteration order for GetObject's scan). Duplicate names fail.
func (g *Graph) AddNamespace(name string, ns *namespace.Namespace) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.namespaces[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateNamespace, name)
	}
	g.namespaces[name] = ns
	g.namespaceOrder = append(g.namespaceOrder, name)
	return nil
}

// Namespace returns the registered namespace by name, or nil.
func (g *Graph) Namespace(name string) *namespace.Namespace {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.namespaces[name]
}

// RegisterClass installs name → class in the registry (IV-3: names
// must be unique within a Graph).
func (g *Graph) RegisterClass(name string, class Class) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.classes[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateClass, name)
	}
	g.classes[name] = class
	return nil
}

// LookupClass returns the registered class for name, if any.
func (g *Graph) LookupClass(name string) (Class, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.classes[name]
	return c, ok
}

// GetObjectClass scans namespaces in registration order and returns
// the first one where objectKey's _cl blob resolves, along with the
// class name and namespace it was found in.
func (g *Graph) GetObjectClass(objectKey string) (namespaceName, className string, err error) {
	g.mu.Lock()
	order := append([]string(nil), g.namespaceOrder...)
	namespaces := g.namespaces
	g.mu.Unlock()

	for _, name := range order {
		ns := namespaces[name]
		cls, ok, err := ns.GetObjectClass(objectKey)
		if err != nil {
			return "", "", err
		}
		if ok {
			return name, cls, nil
		}
	}
	return "", "", fmt.Errorf("%w: %q", ErrObjectNotFound, objectKey)
}

// Session brackets a scoped Session (§4.6/§5): it fails with
// ErrAlreadyActive if one is already active, otherwise installs a new
// Session, runs fn, and on fn's return either commits-and-closes every
// namespace touched (success) or rolls back every namespace touched
// (error) before clearing the slot (IV-4). fn is passed the Graph
// itself so it can call Namespace(...).Write/Read.
func (g *Graph) Session(name, message string, fn func(*Graph) error) (err error) {
	g.mu.Lock()
	if g.current != nil {
		g.mu.Unlock()
		return ErrAlreadyActive
	}
	sess := session.New(name, message)
	g.current = sess
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.current = nil
		g.mu.Unlock()
	}()

	fnErr := fn(g)

	touched := g.namespacesTouchedBy(sess)
	if fnErr != nil {
		g.rollbackAll(touched)
		return fnErr
	}
	if err := g.drainAll(sess, touched); err != nil {
		g.rollbackAll(touched)
		return err
	}
	return nil
}

// Commit applies the active Session's currently staged writes into
// each touched namespace's backend session as a mid-session checkpoint
// (the backend's Commit, §4.3) — distinct from CloseSession's merge
// into the namespace branch. The Session stays open and its staging
// cache is untouched, so subsequent writes and reads continue as
// before; the checkpointed content is visible to a direct read through
// the same backend (an empty-ref ReadBlob reads the active session
// branch), while the namespace branch, and so any other Backend opened
// on the repository, does not see it until the Session closes.
func (g *Graph) Commit(message string) error {
	g.mu.Lock()
	sess := g.current
	namespaces := g.namespaces
	g.mu.Unlock()
	if sess == nil {
		return session.ErrNoActiveSession
	}

	for name, paths := range g.namespacesTouchedBy(sess) {
		ns := namespaces[name]
		backend := ns.Backend()
		if _, err := backend.StartSession(sess.Name); err != nil && !errors.Is(err, gitbackend.ErrAlreadyActive) {
			return fmt.Errorf("graph: commit namespace %q: %w", name, err)
		}
		for _, path := range paths {
			fr, ok := sess.Get(path)
			if !ok {
				continue
			}
			encoded, err := field.Encode(fr)
			if err != nil {
				return err
			}
			if err := backend.WriteBlob(path, []byte(encoded)); err != nil {
				return err
			}
		}
		if err := backend.Commit(message); err != nil {
			return fmt.Errorf("graph: commit namespace %q: %w", name, err)
		}
	}
	return nil
}

// Rollback discards the active Session's staged writes for every
// namespace it has touched (P9): any namespace with a mid-session
// checkpoint (from Commit) has its backend session reset to the
// namespace branch tip, and the Session's staging cache for those
// paths is cleared so subsequent reads fall through to the unchanged
// namespace branch. The Session itself stays open; callers typically
// continue writing or simply let the Session exit afterward.
func (g *Graph) Rollback() error {
	g.mu.Lock()
	sess := g.current
	namespaces := g.namespaces
	g.mu.Unlock()
	if sess == nil {
		return session.ErrNoActiveSession
	}

	for name, paths := range g.namespacesTouchedBy(sess) {
		ns := namespaces[name]
		if err := ns.Backend().Rollback(); err != nil && !errors.Is(err, gitbackend.ErrNoActiveSession) {
			return fmt.Errorf("graph: rollback namespace %q: %w", name, err)
		}
		sess.Discard(paths)
	}
	return nil
}

// namespacesTouchedBy partitions sess's staged paths by the owning
// namespace, determined by matching the "<namespace-name>/" prefix.
func (g *Graph) namespacesTouchedBy(sess *session.Session) map[string][]string {
	g.mu.Lock()
	namespaces := g.namespaces
	g.mu.Unlock()

	touched := map[string][]string{}
	for _, path := range sess.Paths() {
		for name := range namespaces {
			if strings.HasPrefix(path, name+"/") {
				touched[name] = append(touched[name], path)
				break
			}
		}
	}
	return touched
}

// drainAll opens one backend session per touched namespace, writes
// every staged path into it, commits, and closes — at most one git
// commit per touched namespace for this Graph.Session call. A failure
// partway through leaves earlier namespaces committed: the spec's
// Non-goal explicitly allows best-effort partial multi-namespace
// commit, since there is no cross-namespace transactional isolation.
func (g *Graph) drainAll(sess *session.Session, touched map[string][]string) error {
	for name, paths := range touched {
		ns := g.namespaces[name]
		if err := g.drainNamespace(ns, sess, paths, sess.Message); err != nil {
			return fmt.Errorf("graph: drain namespace %q: %w", name, err)
		}
	}
	return nil
}

func (g *Graph) drainNamespace(ns *namespace.Namespace, sess *session.Session, paths []string, message string) error {
	backend := ns.Backend()
	if _, err := backend.StartSession(sess.Name); err != nil && !errors.Is(err, gitbackend.ErrAlreadyActive) {
		return err
	}
	for _, path := range paths {
		fr, ok := sess.Get(path)
		if !ok {
			continue
		}
		encoded, err := field.Encode(fr)
		if err != nil {
			_ = backend.Rollback()
			return err
		}
		if err := backend.WriteBlob(path, []byte(encoded)); err != nil {
			_ = backend.Rollback()
			return err
		}
	}
	return backend.CloseSession(message)
}

// rollbackAll rolls back any backend session opened for a touched
// namespace. Namespaces whose backend never entered an Active state
// (the common case: drainAll failed before reaching them, or fn
// returned an error before any backend session was opened) are
// unaffected by Rollback's ErrNoActiveSession, which callers here
// intentionally ignore.
func (g *Graph) rollbackAll(touched map[string][]string) {
	for name := range touched {
		ns := g.namespaces[name]
		_ = ns.Backend().Rollback()
	}
}
