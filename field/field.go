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

// Package field implements the field-record format: the ordered
// collection of (ts, key, crc, payload) tuples that make up a blob's
// content, and its line-oriented encoding. The three-way merge that
// operates on field records lives in package merge.
package field

import (
	"crypto/md5" //nolint:gosec // content identity, not a security boundary
	"fmt"
	"time"
)

// Field is an immutable record identifying one named value inside a
// FieldRecord. Equality is by all four attributes.
type Field struct {
	TS      float64
	Key     string
	CRC     string
	Payload string
}

// PayloadMD5 returns the "md5:"-prefixed lower-hex digest of payload,
// matching the convention stored in Field.CRC.
func PayloadMD5(payload string) string {
	sum := md5.Sum([]byte(payload)) //nolint:gosec
	return fmt.Sprintf("md5:%x", sum)
}

// NewField constructs a Field. If crc is empty, it is derived from
// payload (IV-1). If ts is zero, the current wall-clock time is used.
func NewField(key, payload, crc string, ts float64) Field {
	if crc == "" {
		crc = PayloadMD5(payload)
	}
	if ts == 0 {
		ts = float64(time.Now().UTC().UnixNano()) / 1e9
	}
	return Field{TS: ts, Key: key, CRC: crc, Payload: payload}
}

// FieldRecord is an ordered sequence of Fields, the on-blob payload.
// Uniqueness of keys is expected by merge and by callers, not enforced
// by the type itself.
type FieldRecord struct {
	Fields []Field
}

// NewFieldRecord wraps fields into a FieldRecord, preserving order.
func NewFieldRecord(fields ...Field) *FieldRecord {
	return &FieldRecord{Fields: fields}
}

// GetByKey returns the first field matching key, if any.
func (fr *FieldRecord) GetByKey(key string) (Field, bool) {
	if fr == nil {
		return Field{}, false
	}
	for _, f := range fr.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// Keys returns the keys of every field, in order.
func (fr *FieldRecord) Keys() []string {
	if fr == nil {
		return nil
	}
	keys := make([]string, 0, len(fr.Fields))
	for _, f := range fr.Fields {
		keys = append(keys, f.Key)
	}
	return keys
}

// DropPrefix returns a copy of fr with every field whose key begins
// with prefix removed, preserving the order of the remainder.
func (fr *FieldRecord) DropPrefix(prefix string) *FieldRecord {
	if fr == nil {
		return nil
	}
	out := make([]Field, 0, len(fr.Fields))
	for _, f := range fr.Fields {
		if len(f.Key) >= len(prefix) && f.Key[:len(prefix)] == prefix {
			continue
		}
		out = append(out, f)
	}
	return &FieldRecord{Fields: out}
}
