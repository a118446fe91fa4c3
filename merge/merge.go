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

// Package merge implements the three-way, field-keyed, timestamp-
// ordered reconciliation that lets two divergent blobs converge without
// a textual diff.
package merge

import (
	"errors"
	"sort"

	"github.com/sakdb/sakdb/field"
)

// ErrUnresolvedConflict is reserved for a conflict the merge policy
// cannot settle. The current algorithm always produces a result, so
// this is never returned; it exists for forward compatibility with the
// MergeError taxonomy kind.
var ErrUnresolvedConflict = errors.New("merge: unresolved conflict")

// Merge reconciles base, ours, and theirs (any of which may be nil)
// into a single FieldRecord.
//
//   - Exactly one of ours/theirs present, no base: that side, verbatim,
//     field order preserved.
//   - Both present (with or without base): union over keys, processed in
//     ascending lexicographic order for determinism. For each key, the
//     side with the strictly greater ts wins; ties favor theirs. If only
//     one side has the key, that field is used.
//   - Only base present (or nothing present): empty result.
func Merge(base, ours, theirs *field.FieldRecord) *field.FieldRecord {
	switch {
	case ours != nil && theirs != nil:
		return mergeBothSides(ours, theirs)
	case ours != nil:
		return &field.FieldRecord{Fields: append([]field.Field(nil), ours.Fields...)}
	case theirs != nil:
		return &field.FieldRecord{Fields: append([]field.Field(nil), theirs.Fields...)}
	default:
		return &field.FieldRecord{}
	}
}

func mergeBothSides(ours, theirs *field.FieldRecord) *field.FieldRecord {
	keySet := make(map[string]struct{})
	for _, k := range ours.Keys() {
		keySet[k] = struct{}{}
	}
	for _, k := range theirs.Keys() {
		keySet[k] = struct{}{}
	}

	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]field.Field, 0, len(keys))
	for _, k := range keys {
		o, hasOurs := ours.GetByKey(k)
		th, hasTheirs := theirs.GetByKey(k)

		switch {
		case hasOurs && hasTheirs:
			if o.TS > th.TS {
				out = append(out, o)
			} else {
				out = append(out, th)
			}
		case hasOurs:
			out = append(out, o)
		case hasTheirs:
			out = append(out, th)
		}
	}
	return &field.FieldRecord{Fields: out}
}
