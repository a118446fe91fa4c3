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

// Package object implements C8's encoding-convention helpers: building
// and parsing the "_cl" and "meta" FieldRecords, and the
// "_<attr>:type" / "<attr>:<idx|key>" prefix convention that makes
// list and dict attribute writes commute at the field level. The
// typed-object API itself (struct tags, reflection-based attribute
// access) is a collaborator's concern, not this package's.
package object

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sakdb/sakdb/field"
)

const (
	classDataKey = "_cl"
	metaDataKey  = "meta"
)

// AttrType is the JSON type-name tag stored in a "_<attr>:type" field.
type AttrType string

const (
	TypeScalar AttrType = "scalar"
	TypeList   AttrType = "list"
	TypeDict   AttrType = "dict"
)

// ErrUnknownClass / ErrNoSuchAttribute kinds (§7's ClassRegistryError /
// ObjectError taxonomy).
var (
	ErrUnknownClass    = errors.New("object: unknown class")
	ErrNoSuchAttribute = errors.New("object: no such attribute")
)

// Store is the narrow read/write surface object needs from Namespace;
// namespace.Namespace satisfies it directly.
type Store interface {
	Read(objectKey, dataKey string) (*field.FieldRecord, error)
	Write(objectKey, dataKey string, fr *field.FieldRecord) error
}

// NewClassRecord builds the "_cl" FR for a freshly-instantiated object.
func NewClassRecord(className string) *field.FieldRecord {
	return field.NewFieldRecord(field.NewField(classDataKey, className, "", 0))
}

// ClassOf extracts the class name from a "_cl" FR. ok is false if fr
// is nil or missing the _cl field.
func ClassOf(fr *field.FieldRecord) (string, bool) {
	f, ok := fr.GetByKey(classDataKey)
	if !ok {
		return "", false
	}
	return f.Payload, true
}

// WriteClass stages objectKey's _cl blob in store.
func WriteClass(store Store, objectKey, className string) error {
	return store.Write(objectKey, classDataKey, NewClassRecord(className))
}

// ReadClass reads and decodes objectKey's _cl blob.
func ReadClass(store Store, objectKey string) (string, error) {
	fr, err := store.Read(objectKey, classDataKey)
	if err != nil {
		return "", err
	}
	name, ok := ClassOf(fr)
	if !ok {
		return "", fmt.Errorf("%w: object %q has no _cl blob", ErrUnknownClass, objectKey)
	}
	return name, nil
}

func typeFieldKey(attr string) string { return "_" + attr + ":type" }

func dataFieldPrefix(attr string) string { return attr + ":" }

// dropAttribute removes every field belonging to attr (its type
// descriptor and every data field) from meta, per §4.8's "on
// reassignment ... all fields with key prefix _<attr>:type or <attr>:
// are dropped before the new fields are merged in".
func dropAttribute(meta *field.FieldRecord, attr string) *field.FieldRecord {
	if meta == nil {
		return field.NewFieldRecord()
	}
	out := make([]field.Field, 0, len(meta.Fields))
	typeKey := typeFieldKey(attr)
	prefix := dataFieldPrefix(attr)
	for _, f := range meta.Fields {
		if f.Key == typeKey || f.Key == attr || strings.HasPrefix(f.Key, prefix) {
			continue
		}
		out = append(out, f)
	}
	return &field.FieldRecord{Fields: out}
}

func withFields(meta *field.FieldRecord, extra ...field.Field) *field.FieldRecord {
	out := append([]field.Field(nil), meta.Fields...)
	out = append(out, extra...)
	return &field.FieldRecord{Fields: out}
}

// SetScalarAttribute drops attr's existing fields from meta and stages
// a single scalar data field in their place.
func SetScalarAttribute(meta *field.FieldRecord, attr, payload string) *field.FieldRecord {
	meta = dropAttribute(meta, attr)
	return withFields(meta,
		field.NewField(typeFieldKey(attr), string(TypeScalar), "", 0),
		field.NewField(attr, payload, "", 0),
	)
}

// SetListAttribute drops attr's existing fields from meta and stages
// one data field per element at key "<attr>:<index>".
func SetListAttribute(meta *field.FieldRecord, attr string, items []string) *field.FieldRecord {
	meta = dropAttribute(meta, attr)
	extra := make([]field.Field, 0, len(items)+1)
	extra = append(extra, field.NewField(typeFieldKey(attr), string(TypeList), "", 0))
	for i, item := range items {
		extra = append(extra, field.NewField(fmt.Sprintf("%s:%d", attr, i), item, "", 0))
	}
	return withFields(meta, extra...)
}

// SetDictAttribute drops attr's existing fields from meta and stages
// one data field per entry at key "<attr>:<dict-key>". Concurrent
// writes of <attr>:foo on one side and <attr>:bar on the other merge
// to a dict containing both, since merge.Merge unions disjoint keys.
func SetDictAttribute(meta *field.FieldRecord, attr string, entries map[string]string) *field.FieldRecord {
	meta = dropAttribute(meta, attr)
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	extra := make([]field.Field, 0, len(entries)+1)
	extra = append(extra, field.NewField(typeFieldKey(attr), string(TypeDict), "", 0))
	for _, k := range keys {
		extra = append(extra, field.NewField(fmt.Sprintf("%s:%s", attr, k), entries[k], "", 0))
	}
	return withFields(meta, extra...)
}

// AttributeType returns the declared type of attr, if meta has one.
func AttributeType(meta *field.FieldRecord, attr string) (AttrType, bool) {
	f, ok := meta.GetByKey(typeFieldKey(attr))
	if !ok {
		return "", false
	}
	switch f.Payload {
	case "list":
		return TypeList, true
	case "dict":
		return TypeDict, true
	default:
		return TypeScalar, true
	}
}

// ScalarAttribute returns attr's scalar payload.
func ScalarAttribute(meta *field.FieldRecord, attr string) (string, bool) {
	f, ok := meta.GetByKey(attr)
	if !ok {
		return "", false
	}
	return f.Payload, true
}

// ListAttribute reassembles attr's list from its "<attr>:<index>"
// fields, ordered by index.
func ListAttribute(meta *field.FieldRecord, attr string) ([]string, error) {
	prefix := dataFieldPrefix(attr)
	type indexed struct {
		idx     int
		payload string
	}
	var items []indexed
	for _, f := range meta.Fields {
		if !strings.HasPrefix(f.Key, prefix) {
			continue
		}
		idxStr := f.Key[len(prefix):]
		idx, err := strconv.Atoi(idxStr)
		if err != nil {
			return nil, fmt.Errorf("object: list attribute %q has non-numeric index %q: %w", attr, idxStr, err)
		}
		items = append(items, indexed{idx: idx, payload: f.Payload})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].idx < items[j].idx })

	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.payload
	}
	return out, nil
}

// DictAttribute reassembles attr's dict from its "<attr>:<key>" fields.
func DictAttribute(meta *field.FieldRecord, attr string) map[string]string {
	prefix := dataFieldPrefix(attr)
	out := map[string]string{}
	for _, f := range meta.Fields {
		if !strings.HasPrefix(f.Key, prefix) {
			continue
		}
		out[f.Key[len(prefix):]] = f.Payload
	}
	return out
}

// WriteMeta stages objectKey's meta blob in store.
func WriteMeta(store Store, objectKey string, meta *field.FieldRecord) error {
	return store.Write(objectKey, metaDataKey, meta)
}

// ReadMeta reads objectKey's meta blob, returning an empty FR if absent.
func ReadMeta(store Store, objectKey string) (*field.FieldRecord, error) {
	fr, err := store.Read(objectKey, metaDataKey)
	if err != nil {
		return nil, err
	}
	if fr == nil {
		return field.NewFieldRecord(), nil
	}
	return fr, nil
}
