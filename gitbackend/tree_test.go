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

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/require"
)

func TestBuildTreeFromPathsRoundTrip(t *testing.T) {
	repo, err := git.PlainInit(t.TempDir(), true)
	require.NoError(t, err)

	blobA, err := writeBlobBytes(repo.Storer, []byte("a"))
	require.NoError(t, err)
	blobB, err := writeBlobBytes(repo.Storer, []byte("b"))
	require.NoError(t, err)

	paths := map[string]plumbing.Hash{
		"ns/objects/a/b/c/d/abcd/field": blobA,
		"ns/objects/z/y/x/w/zyxw/field": blobB,
		"ns/metadata/version":           blobB,
	}

	treeHash, err := buildTreeFromPaths(repo.Storer, paths)
	require.NoError(t, err)

	tree, err := repo.TreeObject(treeHash)
	require.NoError(t, err)

	flattened, err := flattenTree(tree)
	require.NoError(t, err)
	require.Equal(t, paths, flattened)
}

func TestBuildTreeFromEmptyPaths(t *testing.T) {
	repo, err := git.PlainInit(t.TempDir(), true)
	require.NoError(t, err)

	treeHash, err := buildTreeFromPaths(repo.Storer, map[string]plumbing.Hash{})
	require.NoError(t, err)

	tree, err := repo.TreeObject(treeHash)
	require.NoError(t, err)
	require.Empty(t, tree.Entries)
}
