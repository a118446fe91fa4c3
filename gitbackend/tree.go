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
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// treeNode is an in-memory trie used to turn a flat path→blob map into
// a nested tree of object.Tree values. go-git has no TreeBuilder
// utility (unlike pygit2's Index), so this is hand-rolled, following
// the blob/tree/commit construction pattern of
// ec7aedf4_kptdev-kpt__porch-repository-pkg-git-git_test.go.go's
// initRepo, generalized to arbitrary depth.
type treeNode struct {
	blobs map[string]plumbing.Hash
	dirs  map[string]*treeNode
}

func newTreeNode() *treeNode {
	return &treeNode{blobs: map[string]plumbing.Hash{}, dirs: map[string]*treeNode{}}
}

// insert adds path (slash-separated, no leading slash) pointing at hash.
func (n *treeNode) insert(path string, hash plumbing.Hash) {
	parts := strings.Split(path, "/")
	cur := n
	for _, dir := range parts[:len(parts)-1] {
		sub, ok := cur.dirs[dir]
		if !ok {
			sub = newTreeNode()
			cur.dirs[dir] = sub
		}
		cur = sub
	}
	cur.blobs[parts[len(parts)-1]] = hash
}

// buildTree writes the nested tree objects for n (and descendants) into
// storer and returns the hash of n's own tree object.
func buildTree(st storer.EncodedObjectStorer, n *treeNode) (plumbing.Hash, error) {
	entries := make([]object.TreeEntry, 0, len(n.blobs)+len(n.dirs))

	for name, hash := range n.blobs {
		entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Regular, Hash: hash})
	}
	for name, sub := range n.dirs {
		hash, err := buildTree(st, sub)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: hash})
	}

	sort.Slice(entries, func(i, j int) bool {
		return treeEntryLess(entries[i], entries[j])
	})

	tree := object.Tree{Entries: entries}
	obj := st.NewEncodedObject()
	obj.SetType(plumbing.TreeObject)
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("gitbackend: encode tree: %w", err)
	}
	hash, err := st.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("gitbackend: store tree: %w", err)
	}
	return hash, nil
}

// treeEntryLess orders entries the way git compares tree entries:
// directory names sort as if suffixed with "/".
func treeEntryLess(a, b object.TreeEntry) bool {
	nameA, nameB := a.Name, b.Name
	if a.Mode == filemode.Dir {
		nameA += "/"
	}
	if b.Mode == filemode.Dir {
		nameB += "/"
	}
	return nameA < nameB
}

// buildTreeFromPaths builds a full nested tree from a flat path→hash
// map and returns the root tree's hash.
func buildTreeFromPaths(st storer.EncodedObjectStorer, paths map[string]plumbing.Hash) (plumbing.Hash, error) {
	root := newTreeNode()
	for path, hash := range paths {
		root.insert(path, hash)
	}
	return buildTree(st, root)
}

// flattenTree walks tree and returns every blob path it reaches, mapped
// to its blob hash.
func flattenTree(tree *object.Tree) (map[string]plumbing.Hash, error) {
	out := map[string]plumbing.Hash{}
	walker := object.NewTreeWalker(tree, true, nil)
	defer walker.Close()
	for {
		name, entry, err := walker.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gitbackend: walk tree: %w", err)
		}
		if entry.Mode == filemode.Dir {
			continue
		}
		out[name] = entry.Hash
	}
	return out, nil
}
