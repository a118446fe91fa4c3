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

package gitbackend

import (
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/require"

	"github.com/sakdb/sakdb/field"
)

func TestOpenInitializesNamespaceBranch(t *testing.T) {
	b, err := Open(t.TempDir(), "master")
	require.NoError(t, err)
	_, err = b.branchTip("master")
	require.NoError(t, err)
}

func TestReadBlobMissingPathIsNotError(t *testing.T) {
	b, err := Open(t.TempDir(), "master")
	require.NoError(t, err)

	content, ok, err := b.ReadBlob("", "does/not/exist")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, content)
}

func TestSessionWriteCommitClose(t *testing.T) {
	b, err := Open(t.TempDir(), "master")
	require.NoError(t, err)

	name, err := b.StartSession("txn1")
	require.NoError(t, err)
	require.Equal(t, "session/txn1", name)

	require.NoError(t, b.WriteBlob("ns/objects/a/b/c/d/abcd/field", []byte("hello")))
	require.NoError(t, b.CloseSession("write field"))

	content, ok, err := b.ReadBlob("", "ns/objects/a/b/c/d/abcd/field")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello", string(content))

	_, err = b.repo.Reference(plumbing.NewBranchReferenceName("session/txn1"), true)
	require.Error(t, err) // session branch deleted on close
}

func TestStartSessionDisambiguatesWithSuffix(t *testing.T) {
	b, err := Open(t.TempDir(), "master")
	require.NoError(t, err)

	_, err = b.StartSession("txn1")
	require.NoError(t, err)
	require.NoError(t, b.Rollback()) // leaves the branch in place, per the open-question resolution

	name2, err := b.StartSession("txn1")
	require.NoError(t, err)
	require.NotEqual(t, "session/txn1", name2)
	require.Contains(t, name2, "session/txn1.")
}

func TestStartSessionFailsWhenAlreadyActive(t *testing.T) {
	b, err := Open(t.TempDir(), "master")
	require.NoError(t, err)

	_, err = b.StartSession("txn1")
	require.NoError(t, err)

	_, err = b.StartSession("txn2")
	require.ErrorIs(t, err, ErrAlreadyActive)
}

func TestWriteBlobWithoutSessionFails(t *testing.T) {
	b, err := Open(t.TempDir(), "master")
	require.NoError(t, err)

	err = b.WriteBlob("ns/objects/a/b/c/d/abcd/field", []byte("x"))
	require.ErrorIs(t, err, ErrNoActiveSession)
}

func TestCloseSessionFastForwardsWhenNamespaceUnchanged(t *testing.T) {
	b, err := Open(t.TempDir(), "master")
	require.NoError(t, err)

	_, err = b.StartSession("txn1")
	require.NoError(t, err)
	require.NoError(t, b.WriteBlob("ns/a", []byte("1")))
	require.NoError(t, b.CloseSession("write a"))

	tip, err := b.branchTip("master")
	require.NoError(t, err)
	commit, err := b.commitTree(tip)
	require.NoError(t, err)
	require.NotNil(t, commit)
}

func TestCloseSessionMergesConcurrentNamespaceAdvance(t *testing.T) {
	dir := t.TempDir()
	b1, err := Open(dir, "master")
	require.NoError(t, err)

	// The MergeTrees path decodes blobs as field records, so both sides
	// write encoded records rather than raw bytes.
	encodedA, err := field.Encode(field.NewFieldRecord(field.NewField("v", "1", "", 1)))
	require.NoError(t, err)
	encodedB, err := field.Encode(field.NewFieldRecord(field.NewField("v", "2", "", 1)))
	require.NoError(t, err)

	_, err = b1.StartSession("txn1")
	require.NoError(t, err)
	require.NoError(t, b1.WriteBlob("ns/a", []byte(encodedA)))

	// A second Backend bound to the same on-disk repository advances
	// master out from under b1's still-open session, forcing b1's
	// CloseSession down the MergeTrees path (two Backends on one
	// repository is permitted; §5's shared-resource policy only
	// forbids concurrent mutation within a single one).
	b2, err := Open(dir, "master")
	require.NoError(t, err)
	_, err = b2.StartSession("txn2")
	require.NoError(t, err)
	require.NoError(t, b2.WriteBlob("ns/b", []byte(encodedB)))
	require.NoError(t, b2.CloseSession("write b"))

	require.NoError(t, b1.CloseSession("write a"))

	contentA, ok, err := b1.ReadBlob("", "ns/a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, encodedA, string(contentA))

	contentB, ok, err := b1.ReadBlob("", "ns/b")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, encodedB, string(contentB))
}

func TestListDirEnumeratesEntries(t *testing.T) {
	b, err := Open(t.TempDir(), "master")
	require.NoError(t, err)

	_, err = b.StartSession("txn1")
	require.NoError(t, err)
	require.NoError(t, b.WriteBlob("ns/objects/a/b/c/d/abcd/field", []byte("1")))
	require.NoError(t, b.WriteBlob("ns/objects/a/b/c/d/zzzz/field", []byte("1")))
	require.NoError(t, b.CloseSession("seed"))

	names, err := b.ListDir("", "ns/objects/a/b/c/d")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"abcd", "zzzz"}, names)
}

func TestListDirMissingDirIsNotError(t *testing.T) {
	b, err := Open(t.TempDir(), "master")
	require.NoError(t, err)

	names, err := b.ListDir("", "does/not/exist")
	require.NoError(t, err)
	require.Nil(t, names)
}
