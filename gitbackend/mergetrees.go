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
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/sakdb/sakdb/field"
	"github.com/sakdb/sakdb/merge"
)

// MergeTrees performs the field-level three-way merge of §4.7 between
// two tree tips, given their (possibly absent) common base tree. Paths
// whose blob hash agrees on both sides are copied through unchanged;
// every other path is decoded as a FieldRecord (absent blob ⇒ absent
// FR), reconciled with merge.Merge, and re-encoded as a new blob. It
// returns the hash of the resulting merged tree.
//
// This is the one piece of merge-conflict-resolution machinery in the
// module; both the session's close_session (merging a session branch
// into its namespace branch) and the sync engine (merging synced/<B>
// mirrors) call through it, matching the "reusing the merge logic of
// §4.7" requirement for C3's close_session.
func MergeTrees(st storer.EncodedObjectStorer, baseHash, oursHash, theirsHash plumbing.Hash) (plumbing.Hash, error) {
	baseFiles, err := filesOf(st, baseHash)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	oursFiles, err := filesOf(st, oursHash)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	theirsFiles, err := filesOf(st, theirsHash)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	paths := map[string]struct{}{}
	for p := range oursFiles {
		paths[p] = struct{}{}
	}
	for p := range theirsFiles {
		paths[p] = struct{}{}
	}

	merged := map[string]plumbing.Hash{}
	for path := range paths {
		oursBlob, hasOurs := oursFiles[path]
		theirsBlob, hasTheirs := theirsFiles[path]

		if hasOurs && hasTheirs && oursBlob == theirsBlob {
			merged[path] = oursBlob
			continue
		}

		resolved, err := resolvePath(st, baseFiles[path], oursBlob, theirsBlob, hasOurs, hasTheirs)
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("gitbackend: resolve %s: %w", path, err)
		}
		merged[path] = resolved
	}

	return buildTreeFromPaths(st, merged)
}

func resolvePath(
	st storer.EncodedObjectStorer,
	baseBlob, oursBlob, theirsBlob plumbing.Hash,
	hasOurs, hasTheirs bool,
) (plumbing.Hash, error) {
	baseFR, err := decodeBlobOrNil(st, baseBlob, baseBlob != plumbing.ZeroHash)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	oursFR, err := decodeBlobOrNil(st, oursBlob, hasOurs)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	theirsFR, err := decodeBlobOrNil(st, theirsBlob, hasTheirs)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	mergedFR := merge.Merge(baseFR, oursFR, theirsFR)
	encoded, err := field.Encode(mergedFR)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encode merged field record: %w", err)
	}
	return writeBlobBytes(st, []byte(encoded))
}

func decodeBlobOrNil(st storer.EncodedObjectStorer, hash plumbing.Hash, present bool) (*field.FieldRecord, error) {
	if !present {
		return nil, nil
	}
	data, err := readBlobBytes(st, hash)
	if err != nil {
		return nil, err
	}
	return field.Decode(string(data))
}

// filesOf flattens the tree at hash into a path→blob-hash map. A zero
// hash (no tree / no base) yields an empty map.
func filesOf(st storer.EncodedObjectStorer, hash plumbing.Hash) (map[string]plumbing.Hash, error) {
	if hash == plumbing.ZeroHash {
		return map[string]plumbing.Hash{}, nil
	}
	tree, err := object.GetTree(st, hash)
	if err != nil {
		return nil, fmt.Errorf("gitbackend: get tree %s: %w", hash, err)
	}
	return flattenTree(tree)
}
