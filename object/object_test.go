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

package object

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sakdb/sakdb/field"
	"github.com/sakdb/sakdb/merge"
)

func TestClassRoundTrip(t *testing.T) {
	fr := NewClassRecord("Widget")
	name, ok := ClassOf(fr)
	require.True(t, ok)
	require.Equal(t, "Widget", name)
}

func TestClassOfNilIsAbsent(t *testing.T) {
	_, ok := ClassOf(nil)
	require.False(t, ok)
}

func TestSetScalarAttribute(t *testing.T) {
	meta := SetScalarAttribute(field.NewFieldRecord(), "count", "42")

	typ, ok := AttributeType(meta, "count")
	require.True(t, ok)
	require.Equal(t, TypeScalar, typ)

	payload, ok := ScalarAttribute(meta, "count")
	require.True(t, ok)
	require.Equal(t, "42", payload)

	tf, ok := meta.GetByKey(typeFieldKey("count"))
	require.True(t, ok)
	require.Equal(t, "scalar", tf.Payload) // raw, not JSON-quoted
}

func TestSetListAttributeRoundTrip(t *testing.T) {
	meta := SetListAttribute(field.NewFieldRecord(), "tags", []string{"a", "b", "c"})

	typ, ok := AttributeType(meta, "tags")
	require.True(t, ok)
	require.Equal(t, TypeList, typ)

	items, err := ListAttribute(meta, "tags")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, items)
}

func TestSetDictAttributeRoundTrip(t *testing.T) {
	meta := SetDictAttribute(field.NewFieldRecord(), "props", map[string]string{"x": "1", "y": "2"})

	typ, ok := AttributeType(meta, "props")
	require.True(t, ok)
	require.Equal(t, TypeDict, typ)

	entries := DictAttribute(meta, "props")
	require.Equal(t, map[string]string{"x": "1", "y": "2"}, entries)
}

// Reassigning an attribute drops every previously staged field for it,
// including stale list indices beyond the new length.
func TestSetListAttributeDropsStaleFields(t *testing.T) {
	meta := SetListAttribute(field.NewFieldRecord(), "tags", []string{"a", "b", "c"})
	meta = SetListAttribute(meta, "tags", []string{"x"})

	items, err := ListAttribute(meta, "tags")
	require.NoError(t, err)
	require.Equal(t, []string{"x"}, items)
}

// Reassigning one attribute leaves other attributes' fields untouched.
func TestSetAttributeIsolatesOtherAttributes(t *testing.T) {
	meta := SetScalarAttribute(field.NewFieldRecord(), "name", "widget")
	meta = SetListAttribute(meta, "tags", []string{"a"})
	meta = SetScalarAttribute(meta, "name", "gadget")

	payload, ok := ScalarAttribute(meta, "name")
	require.True(t, ok)
	require.Equal(t, "gadget", payload)

	items, err := ListAttribute(meta, "tags")
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, items)
}

// S5: a concurrent dict write on two sides (via independent
// SetDictAttribute calls merged by merge.Merge) commutes to a union.
func TestDictAttributesCommuteUnderMerge(t *testing.T) {
	base := field.NewFieldRecord()
	ours := SetDictAttribute(base, "props", map[string]string{"foo": "1"})
	theirs := SetDictAttribute(base, "props", map[string]string{"bar": "2"})

	merged := merge.Merge(base, ours, theirs)
	entries := DictAttribute(merged, "props")
	require.Equal(t, map[string]string{"foo": "1", "bar": "2"}, entries)
}
