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

// Package namespace implements C5: path construction from ObjectKey and
// data-key, object key enumeration, metadata, and version compatibility,
// layered over the git namespace backend and the active Session.
package namespace

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sakdb/sakdb/field"
	"github.com/sakdb/sakdb/gitbackend"
	"github.com/sakdb/sakdb/session"
)

// NamespaceError kind (spec §7).
var (
	ErrObjectKeyTooShort = errors.New("namespace: object key must have at least four characters")
	ErrNoActiveSession   = errors.New("namespace: no active session")
)

// SessionProvider is the narrow view of Graph (C6) that Namespace needs:
// the currently active Session, if any. Defined here rather than
// imported from graph to avoid a namespace↔graph import cycle (Graph
// owns Namespaces; Namespaces need to see Graph's session slot).
type SessionProvider interface {
	CurrentSession() *session.Session
}

// Namespace owns a git backend and exposes the logical read/write
// surface over ObjectKey/data-key pairs and metadata keys.
type Namespace struct {
	Name     string
	backend  *gitbackend.Backend
	sessions SessionProvider
}

// New opens (or initializes) the namespace's version metadata and
// returns a ready Namespace. currentVersion is the software's own
// MAJOR.MINOR.PATCH string, used both to seed a fresh namespace and to
// gate an existing one (IV-10).
func New(name string, backend *gitbackend.Backend, sessions SessionProvider, currentVersion string) (*Namespace, error) {
	ns := &Namespace{Name: name, backend: backend, sessions: sessions}
	if err := ns.ensureVersion(currentVersion); err != nil {
		return nil, err
	}
	return ns, nil
}

// Backend exposes the underlying git namespace backend, for the sync
// engine and for tests.
func (ns *Namespace) Backend() *gitbackend.Backend { return ns.backend }

// ObjectPath returns the NodePath for (objectKey, dataKey):
// <namespace>/objects/<k0>/<k1>/<k2>/<k3>/<k>/<dataKey>.
func (ns *Namespace) ObjectPath(objectKey, dataKey string) (string, error) {
	if len(objectKey) < 4 {
		return "", fmt.Errorf("%w: got %q", ErrObjectKeyTooShort, objectKey)
	}
	return fmt.Sprintf("%s/objects/%c/%c/%c/%c/%s/%s",
		ns.Name, objectKey[0], objectKey[1], objectKey[2], objectKey[3], objectKey, dataKey), nil
}

// MetadataPath returns the path for a metadata blob: <namespace>/metadata/<key>.
func (ns *Namespace) MetadataPath(key string) string {
	return ns.Name + "/metadata/" + key
}

// Read consults the active session's staging first, then the backend,
// and returns the FieldRecord at (objectKey, dataKey). A nil result
// with a nil error means absent.
func (ns *Namespace) Read(objectKey, dataKey string) (*field.FieldRecord, error) {
	path, err := ns.ObjectPath(objectKey, dataKey)
	if err != nil {
		return nil, err
	}
	return ns.readPath(path)
}

// Write stages fr at (objectKey, dataKey) through the active Session.
// It fails with ErrNoActiveSession if none is active.
func (ns *Namespace) Write(objectKey, dataKey string, fr *field.FieldRecord) error {
	path, err := ns.ObjectPath(objectKey, dataKey)
	if err != nil {
		return err
	}
	sess := ns.sessions.CurrentSession()
	if sess == nil {
		return ErrNoActiveSession
	}
	sess.Put(path, fr)
	return nil
}

func (ns *Namespace) readPath(path string) (*field.FieldRecord, error) {
	if sess := ns.sessions.CurrentSession(); sess != nil {
		if fr, ok := sess.Get(path); ok {
			return fr, nil
		}
	}
	data, ok, err := ns.backend.ReadBlob("", path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return field.Decode(string(data))
}

// GetObjectClass reads <namespace>/objects/.../<key>/_cl and returns
// the stored class name. ok is false if the blob is absent.
func (ns *Namespace) GetObjectClass(objectKey string) (name string, ok bool, err error) {
	fr, err := ns.Read(objectKey, "_cl")
	if err != nil {
		return "", false, err
	}
	if fr == nil {
		return "", false, nil
	}
	f, found := fr.GetByKey("_cl")
	if !found {
		return "", false, fmt.Errorf("namespace: %s/_cl missing _cl field", objectKey)
	}
	return f.Payload, true, nil
}

// NodeKeys enumerates every object key under <namespace>/objects/ by
// walking the four-level shard tree (spec's object-discovery
// convention; object keys shorter than four characters are
// unreachable by construction, per §9's open question).
func (ns *Namespace) NodeKeys() ([]string, error) {
	base := ns.Name + "/objects"
	var keys []string

	var walk func(path string, depth int) error
	walk = func(path string, depth int) error {
		names, err := ns.backend.ListDir("", path)
		if err != nil {
			return err
		}
		if depth == 4 {
			keys = append(keys, names...)
			return nil
		}
		for _, n := range names {
			if err := walk(path+"/"+n, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(base, 0); err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}
