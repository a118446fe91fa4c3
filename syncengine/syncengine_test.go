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

package syncengine

import (
	"sort"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/stretchr/testify/require"

	"github.com/sakdb/sakdb/field"
	"github.com/sakdb/sakdb/gitbackend"
)

func TestMajorOfParsesLeadingComponent(t *testing.T) {
	major, err := majorOf("2.3.4")
	require.NoError(t, err)
	require.Equal(t, 2, major)
}

func TestMajorOfMalformedFails(t *testing.T) {
	_, err := majorOf("notaversion")
	require.Error(t, err)
}

func TestLocalBranchesExcludesSyncedPrefix(t *testing.T) {
	b, err := gitbackend.Open(t.TempDir(), "master")
	require.NoError(t, err)

	tip, err := b.BranchTip("master")
	require.NoError(t, err)
	require.NoError(t, b.SetBranchRef("synced/master", tip))

	e := New(b.Repo(), nil, "1.0.0")
	branches, err := e.localBranches()
	require.NoError(t, err)
	require.Equal(t, []string{"master"}, branches)
}

// When synced/<B> is a strict ancestor of B, syncing fast-forwards
// synced/<B> onto B without invoking the tree merge at all.
func TestSyncBranchFastForwardsSyncedMirror(t *testing.T) {
	b, err := gitbackend.Open(t.TempDir(), "master")
	require.NoError(t, err)

	rootTip, err := b.BranchTip("master")
	require.NoError(t, err)
	require.NoError(t, b.SetBranchRef("synced/master", rootTip))

	_, err = b.StartSession("txn1")
	require.NoError(t, err)
	require.NoError(t, b.WriteBlob("ns/a", []byte("1")))
	require.NoError(t, b.CloseSession("write a"))

	newTip, err := b.BranchTip("master")
	require.NoError(t, err)
	require.NotEqual(t, rootTip, newTip)

	e := New(b.Repo(), nil, "1.0.0")
	require.NoError(t, e.Sync())

	syncedTip, err := b.BranchTip("synced/master")
	require.NoError(t, err)
	require.Equal(t, newTip, syncedTip)

	masterTip, err := b.BranchTip("master")
	require.NoError(t, err)
	require.Equal(t, syncedTip, masterTip)
}

// flatTree builds a single-level tree (no subdirectories) from
// name→blob-hash entries, git-sorted, for tests that only need
// top-level paths.
func flatTree(t *testing.T, st storer.EncodedObjectStorer, blobs map[string]plumbing.Hash) plumbing.Hash {
	t.Helper()
	names := make([]string, 0, len(blobs))
	for name := range blobs {
		names = append(names, name)
	}
	sort.Strings(names)

	tree := &object.Tree{}
	for _, name := range names {
		tree.Entries = append(tree.Entries, object.TreeEntry{
			Name: name,
			Mode: filemode.Regular,
			Hash: blobs[name],
		})
	}
	obj := st.NewEncodedObject()
	obj.SetType(plumbing.TreeObject)
	require.NoError(t, tree.Encode(obj))
	hash, err := st.SetEncodedObject(obj)
	require.NoError(t, err)
	return hash
}

func writeBlob(t *testing.T, st storer.EncodedObjectStorer, content []byte) plumbing.Hash {
	t.Helper()
	obj := st.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	hash, err := st.SetEncodedObject(obj)
	require.NoError(t, err)
	return hash
}

// Two independent histories (no common ancestor) resolve via
// MergeTrees per field timestamp, producing a two-parent merge commit
// on synced/<B>, which then fast-forwards B.
func TestSyncBranchMergesIndependentHistories(t *testing.T) {
	b, err := gitbackend.Open(t.TempDir(), "master")
	require.NoError(t, err)
	st := b.Repo().Storer

	fr1 := field.NewFieldRecord(field.NewField("my_int", "1", "", 100))
	encoded1, err := field.Encode(fr1)
	require.NoError(t, err)
	blob1 := writeBlob(t, st, []byte(encoded1))
	tree1 := flatTree(t, st, map[string]plumbing.Hash{"a": blob1})
	commit1, err := b.CreateCommit(tree1, nil, "root A")
	require.NoError(t, err)

	fr2 := field.NewFieldRecord(field.NewField("my_int", "2", "", 200))
	encoded2, err := field.Encode(fr2)
	require.NoError(t, err)
	blob2 := writeBlob(t, st, []byte(encoded2))
	tree2 := flatTree(t, st, map[string]plumbing.Hash{"a": blob2})
	commit2, err := b.CreateCommit(tree2, nil, "root B")
	require.NoError(t, err)

	require.NoError(t, b.SetBranchRef("master", commit2))
	require.NoError(t, b.SetBranchRef("synced/master", commit1))

	e := New(b.Repo(), nil, "1.0.0")
	require.NoError(t, e.Sync())

	masterTip, err := b.BranchTip("master")
	require.NoError(t, err)
	content, ok, err := b.ReadBlob("master", "a")
	require.NoError(t, err)
	require.True(t, ok)

	decoded, err := field.Decode(string(content))
	require.NoError(t, err)
	f, ok := decoded.GetByKey("my_int")
	require.True(t, ok)
	require.Equal(t, "2", f.Payload) // higher ts (200) wins

	syncedTip, err := b.BranchTip("synced/master")
	require.NoError(t, err)
	require.Equal(t, masterTip, syncedTip)
}

// checkRemoteVersion must read the remote's metadata/version blob
// under the namespace's own name, not the git branch's short name,
// since the two are not required to match (spec's S1 scenario puts
// namespace "data" on branch "master").
func TestCheckRemoteVersionUsesNamespaceNameNotBranchName(t *testing.T) {
	b, err := gitbackend.Open(t.TempDir(), "master")
	require.NoError(t, err)

	fr := field.NewFieldRecord(field.NewField("version", `"1.0.0"`, "", 0))
	encoded, err := field.Encode(fr)
	require.NoError(t, err)
	// Seed through a backend session so the blob sits in nested
	// data/metadata/ subtrees, where tree.File can reach it.
	_, err = b.StartSession("seed")
	require.NoError(t, err)
	require.NoError(t, b.WriteBlob("data/metadata/version", []byte(encoded)))
	require.NoError(t, b.CloseSession("seed remote version"))
	commitHash, err := b.BranchTip("master")
	require.NoError(t, err)
	require.NoError(t, b.SetBranchRef("remote-fixture", commitHash))

	e := New(b.Repo(), nil, "1.0.0", WithNamespaceName("master", "data"))
	require.NoError(t, e.checkRemoteVersion(plumbing.NewBranchReferenceName("remote-fixture"), e.namespaceName("master")))

	// Without the override, the branch's own short name ("master") does
	// not match the tree's "data/" prefix, so the version blob is
	// treated as absent and the gate no-ops rather than erroring.
	e2 := New(b.Repo(), nil, "1.0.0")
	require.NoError(t, e2.checkRemoteVersion(plumbing.NewBranchReferenceName("remote-fixture"), e2.namespaceName("master")))
}

func TestCountDifferingCountsOnlyChangedOrOneSidedPaths(t *testing.T) {
	b, err := gitbackend.Open(t.TempDir(), "master")
	require.NoError(t, err)
	st := b.Repo().Storer

	same := writeBlob(t, st, []byte("same"))
	left := writeBlob(t, st, []byte("left"))
	right := writeBlob(t, st, []byte("right"))

	treeA := flatTree(t, st, map[string]plumbing.Hash{"x": same, "only-a": left})
	treeB := flatTree(t, st, map[string]plumbing.Hash{"x": same, "only-b": right})

	commitHashA, err := b.CreateCommit(treeA, nil, "a")
	require.NoError(t, err)
	commitHashB, err := b.CreateCommit(treeB, nil, "b")
	require.NoError(t, err)

	commitA, err := b.CommitTree(commitHashA)
	require.NoError(t, err)
	commitB, err := b.CommitTree(commitHashB)
	require.NoError(t, err)

	require.Equal(t, 2, countDiffering(commitA, commitB))
}
