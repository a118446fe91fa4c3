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

package namespace

import (
	"encoding/json"
	"fmt"

	"github.com/sakdb/sakdb/field"
)

// metadataTypeField is the fixed key every metadata FR carries to
// describe the payload's declared type, per §4.5.
const metadataTypeField = "_type"

// GetMetadata reads the metadata blob at <namespace>/metadata/<key>.
func (ns *Namespace) GetMetadata(key string) (*field.FieldRecord, error) {
	return ns.readPath(ns.MetadataPath(key))
}

// SetMetadata stages a two-field FR at <namespace>/metadata/<key>: one
// field "_type" with payload typeName, and one field <key> with
// payload the JSON encoding of value. Requires an active Session.
func (ns *Namespace) SetMetadata(key, typeName string, value interface{}) error {
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("namespace: marshal metadata %q: %w", key, err)
	}
	fr := field.NewFieldRecord(
		field.NewField(metadataTypeField, typeName, "", 0),
		field.NewField(key, string(valueJSON), "", 0),
	)
	return ns.writeMetadata(key, fr)
}

func (ns *Namespace) writeMetadata(key string, fr *field.FieldRecord) error {
	path := ns.MetadataPath(key)
	sess := ns.sessions.CurrentSession()
	if sess == nil {
		return ErrNoActiveSession
	}
	sess.Put(path, fr)
	return nil
}
