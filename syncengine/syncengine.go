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

// Package syncengine implements C7: the fetch/synced-branch/merge/push
// algorithm that propagates local commits to remotes and incorporates
// remote commits, resolving blob-level conflicts via the field-level
// merge (§4.2) shared with the session's close_session.
package syncengine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-logr/logr"

	"github.com/sakdb/sakdb/field"
	"github.com/sakdb/sakdb/gitbackend"
	"github.com/sakdb/sakdb/internal/metrics"
)

const syncedPrefix = "synced/"

// VersionIncompatible kind (§4.7c): a remote synced/<B> branch's
// stored major version exceeds the local software's major.
var ErrVersionIncompatible = errors.New("syncengine: remote version incompatible")

// Engine drives the sync algorithm for one repository.
type Engine struct {
	repo    *git.Repository
	auth    transport.AuthMethod
	log     logr.Logger
	metrics *metrics.Recorder

	currentVersion string

	// namespaceNames maps a git branch short name to the namespace
	// name rooted at that branch, for branches where the two differ
	// (§4.5: a namespace's top-level tree prefix is its own name, not
	// necessarily the branch it lives on). Branches absent from this
	// map are assumed to use their own name as the namespace name.
	namespaceNames map[string]string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger attaches a logr.Logger.
func WithLogger(log logr.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithMetrics attaches a metrics recorder; nil disables instrumentation.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = rec }
}

// WithNamespaceName records that branch carries the namespace named
// name at its tree root, so checkRemoteVersion can find its
// metadata/version blob even when the namespace name and the branch's
// own short name diverge.
func WithNamespaceName(branch, name string) Option {
	return func(e *Engine) {
		if e.namespaceNames == nil {
			e.namespaceNames = map[string]string{}
		}
		e.namespaceNames[branch] = name
	}
}

// New returns an Engine bound to repo, authenticating remote
// fetch/push with auth (nil for anonymous transports), gating remote
// version compatibility against currentVersion (MAJOR.MINOR.PATCH).
func New(repo *git.Repository, auth transport.AuthMethod, currentVersion string, opts ...Option) *Engine {
	e := &Engine{repo: repo, auth: auth, currentVersion: currentVersion, log: logr.Discard()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// namespaceName returns the namespace name rooted on branch, defaulting
// to branch's own short name when no WithNamespaceName override applies.
func (e *Engine) namespaceName(branch string) string {
	if name, ok := e.namespaceNames[branch]; ok {
		return name
	}
	return branch
}

// Sync runs one full pass of §4.7's algorithm: fetch every remote,
// then for every local branch not under synced/*, merge it onto its
// synced/<B> mirror, merge in every remote's synced/<B> (version
// gated), fast-forward B, and push synced/<B> back out.
func (e *Engine) Sync() error {
	start := time.Now()
	e.log.Info("sync starting")
	if err := e.fetchAll(); err != nil {
		return err
	}

	branches, err := e.localBranches()
	if err != nil {
		return err
	}

	var resolved int64
	for _, branch := range branches {
		n, err := e.syncBranch(branch)
		if err != nil {
			return fmt.Errorf("syncengine: sync branch %s: %w", branch, err)
		}
		resolved += n
	}

	if e.metrics != nil {
		e.metrics.CountSyncConflictsResolved(resolved)
		e.metrics.ObserveSyncDuration(time.Since(start).Seconds())
	}
	e.log.Info("sync completed", "branches", len(branches), "conflictsResolved", resolved)
	return nil
}

func (e *Engine) fetchAll() error {
	remotes, err := e.repo.Remotes()
	if err != nil {
		return fmt.Errorf("syncengine: list remotes: %w", err)
	}
	for _, remote := range remotes {
		err := e.repo.Fetch(&git.FetchOptions{RemoteName: remote.Config().Name, Auth: e.auth})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return fmt.Errorf("syncengine: fetch %s: %w", remote.Config().Name, err)
		}
		e.log.V(1).Info("fetched remote", "remote", remote.Config().Name)
		if e.metrics != nil {
			e.metrics.CountGitOperation("fetch")
		}
	}
	return nil
}

// localBranches returns every local branch short name not under
// synced/*.
func (e *Engine) localBranches() ([]string, error) {
	refs, err := e.repo.Branches()
	if err != nil {
		return nil, fmt.Errorf("syncengine: list branches: %w", err)
	}
	var names []string
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		short := ref.Name().Short()
		if !strings.HasPrefix(short, syncedPrefix) {
			names = append(names, short)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// syncBranch runs steps (a)-(e) of §4.7 for one local branch B,
// returning the number of conflicting paths resolved, counting both the
// merge of B onto synced/<B> and the merges of every remote synced/<B>.
func (e *Engine) syncBranch(branch string) (int64, error) {
	syncedName := syncedPrefix + branch
	branchRef := plumbing.NewBranchReferenceName(branch)
	syncedRef := plumbing.NewBranchReferenceName(syncedName)

	branchTip, err := e.resolve(branchRef)
	if err != nil {
		return 0, err
	}

	if _, err := e.repo.Reference(syncedRef, true); errors.Is(err, plumbing.ErrReferenceNotFound) {
		if err := e.setRef(syncedRef, branchTip); err != nil {
			return 0, err
		}
	} else if err != nil {
		return 0, fmt.Errorf("syncengine: resolve %s: %w", syncedRef, err)
	}

	var resolved int64

	n, err := e.mergeOnto(branchRef, syncedRef, syncedRef)
	if err != nil {
		return resolved, err
	}
	resolved += n

	remotes, err := e.repo.Remotes()
	if err != nil {
		return resolved, fmt.Errorf("syncengine: list remotes: %w", err)
	}
	for _, remote := range remotes {
		remoteSyncedRef := plumbing.NewRemoteReferenceName(remote.Config().Name, syncedName)
		if _, err := e.repo.Reference(remoteSyncedRef, true); errors.Is(err, plumbing.ErrReferenceNotFound) {
			continue
		} else if err != nil {
			return resolved, fmt.Errorf("syncengine: resolve %s: %w", remoteSyncedRef, err)
		}

		if err := e.checkRemoteVersion(remoteSyncedRef, e.namespaceName(branch)); err != nil {
			return resolved, err
		}

		n, err := e.mergeOnto(remoteSyncedRef, syncedRef, syncedRef)
		if err != nil {
			return resolved, err
		}
		resolved += n
	}

	newSyncedTip, err := e.resolve(syncedRef)
	if err != nil {
		return resolved, err
	}
	if err := e.setRef(branchRef, newSyncedTip); err != nil {
		return resolved, err
	}

	if err := e.pushSynced(syncedName); err != nil {
		return resolved, err
	}
	e.log.Info("synced branch", "branch", branch, "conflictsResolved", resolved)
	return resolved, e.fetchAll()
}

// checkRemoteVersion enforces §4.5's policy (the remote's major must not
// exceed the local major; an older major is accepted) on the
// remote's namespace metadata before merging it in, keyed by
// <namespace>/metadata/version under the remote synced branch's tree.
// namespaceName is the namespace's own top-level tree prefix, which the
// caller resolves via namespaceName(branch): it need not equal the git
// branch short name (§4.5's S1 scenario puts namespace "data" on branch
// "master").
func (e *Engine) checkRemoteVersion(remoteRef plumbing.ReferenceName, namespaceName string) error {
	tip, err := e.resolve(remoteRef)
	if err != nil {
		return err
	}
	tree, err := e.commitTree(tip)
	if err != nil {
		return err
	}
	f, err := tree.File(namespaceName + "/metadata/version")
	if errors.Is(err, object.ErrFileNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("syncengine: read remote version blob: %w", err)
	}
	data, err := f.Contents()
	if err != nil {
		return fmt.Errorf("syncengine: read remote version blob: %w", err)
	}
	fr, err := field.Decode(data)
	if err != nil {
		return fmt.Errorf("syncengine: decode remote version blob: %w", err)
	}
	vf, ok := fr.GetByKey("version")
	if !ok {
		return nil
	}
	var remoteVersion string
	if err := json.Unmarshal([]byte(vf.Payload), &remoteVersion); err != nil {
		return fmt.Errorf("syncengine: decode remote version %q: %w", vf.Payload, err)
	}
	remoteMajor, err := majorOf(remoteVersion)
	if err != nil {
		return err
	}
	localMajor, err := majorOf(e.currentVersion)
	if err != nil {
		return err
	}
	if remoteMajor > localMajor {
		e.log.Info("rejecting incompatible remote version", "namespace", namespaceName, "remoteMajor", remoteMajor, "localMajor", localMajor)
		return fmt.Errorf("%w: remote major %d exceeds local major %d", ErrVersionIncompatible, remoteMajor, localMajor)
	}
	return nil
}

func majorOf(version string) (int, error) {
	parts := strings.SplitN(version, ".", 2)
	var major int
	if _, err := fmt.Sscanf(parts[0], "%d", &major); err != nil {
		return 0, fmt.Errorf("syncengine: malformed version %q: %w", version, err)
	}
	return major, nil
}

// mergeOnto merges theirsRef onto oursRef, writing the result (fast
// forward or a two-parent merge commit) to targetRef. It returns the
// number of conflicting paths that required field-level resolution.
func (e *Engine) mergeOnto(theirsRef, oursRef, targetRef plumbing.ReferenceName) (int64, error) {
	oursTip, err := e.resolve(oursRef)
	if err != nil {
		return 0, err
	}
	theirsTip, err := e.resolve(theirsRef)
	if err != nil {
		return 0, err
	}
	if oursTip == theirsTip {
		return 0, nil
	}

	baseTip, ancestorOk, err := e.mergeBase(oursTip, theirsTip)
	if err != nil {
		return 0, err
	}
	if ancestorOk && baseTip == theirsTip {
		// ours already contains theirs.
		return 0, nil
	}
	if ancestorOk && baseTip == oursTip {
		// fast-forward: theirs strictly descends from ours.
		return 0, e.setRef(targetRef, theirsTip)
	}

	oursTree, err := e.commitTree(oursTip)
	if err != nil {
		return 0, err
	}
	theirsTree, err := e.commitTree(theirsTip)
	if err != nil {
		return 0, err
	}
	var baseHash plumbing.Hash
	if baseTip != plumbing.ZeroHash {
		baseTree, err := e.commitTree(baseTip)
		if err != nil {
			return 0, err
		}
		baseHash = hashOf(baseTree)
	}

	conflicts := countDiffering(oursTree, theirsTree)

	mergedTreeHash, err := gitbackend.MergeTrees(e.repo.Storer, baseHash, hashOf(oursTree), hashOf(theirsTree))
	if err != nil {
		return 0, fmt.Errorf("syncengine: merge trees: %w", err)
	}

	sig := object.Signature{Name: "sakdb", Email: "sakdb@localhost", When: time.Now()}
	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      fmt.Sprintf("sakdb: sync merge %s into %s", theirsRef.Short(), oursRef.Short()),
		TreeHash:     mergedTreeHash,
		ParentHashes: []plumbing.Hash{oursTip, theirsTip},
	}
	obj := e.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.CommitObject)
	if err := commit.Encode(obj); err != nil {
		return 0, fmt.Errorf("syncengine: encode merge commit: %w", err)
	}
	mergeHash, err := e.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return 0, fmt.Errorf("syncengine: store merge commit: %w", err)
	}
	if e.metrics != nil {
		e.metrics.CountGitOperation("merge_commit")
	}
	return int64(conflicts), e.setRef(targetRef, mergeHash)
}

// mergeBase returns the nearest common ancestor of a and b. ok is
// false if no common ancestor exists (independent histories, per
// §4.7's "no-common-base" case already handled by merge.Merge itself
// when the resulting base tree is empty).
func (e *Engine) mergeBase(a, b plumbing.Hash) (base plumbing.Hash, ok bool, err error) {
	if a == plumbing.ZeroHash {
		return b, true, nil
	}
	if b == plumbing.ZeroHash {
		return a, true, nil
	}
	commitA, err := object.GetCommit(e.repo.Storer, a)
	if err != nil {
		return plumbing.ZeroHash, false, fmt.Errorf("syncengine: get commit %s: %w", a, err)
	}
	commitB, err := object.GetCommit(e.repo.Storer, b)
	if err != nil {
		return plumbing.ZeroHash, false, fmt.Errorf("syncengine: get commit %s: %w", b, err)
	}
	bases, err := commitA.MergeBase(commitB)
	if err != nil {
		return plumbing.ZeroHash, false, fmt.Errorf("syncengine: merge-base: %w", err)
	}
	if len(bases) == 0 {
		return plumbing.ZeroHash, false, nil
	}
	return bases[0].Hash, true, nil
}

func (e *Engine) resolve(ref plumbing.ReferenceName) (plumbing.Hash, error) {
	r, err := e.repo.Reference(ref, true)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("syncengine: resolve %s: %w", ref, err)
	}
	return r.Hash(), nil
}

func (e *Engine) setRef(ref plumbing.ReferenceName, hash plumbing.Hash) error {
	return e.repo.Storer.SetReference(plumbing.NewHashReference(ref, hash))
}

func (e *Engine) commitTree(hash plumbing.Hash) (*object.Tree, error) {
	commit, err := object.GetCommit(e.repo.Storer, hash)
	if err != nil {
		return nil, fmt.Errorf("syncengine: get commit %s: %w", hash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("syncengine: get tree for commit %s: %w", hash, err)
	}
	return tree, nil
}

func hashOf(tree *object.Tree) plumbing.Hash {
	if tree == nil {
		return plumbing.ZeroHash
	}
	return tree.Hash
}

// countDiffering counts paths whose blob hash differs (or is present
// on only one side) between two trees, for the sync-conflicts metric.
func countDiffering(a, b *object.Tree) int {
	filesA := map[string]plumbing.Hash{}
	_ = a.Files().ForEach(func(f *object.File) error {
		filesA[f.Name] = f.Hash
		return nil
	})
	filesB := map[string]plumbing.Hash{}
	_ = b.Files().ForEach(func(f *object.File) error {
		filesB[f.Name] = f.Hash
		return nil
	})

	count := 0
	seen := map[string]struct{}{}
	for p, h := range filesA {
		seen[p] = struct{}{}
		if hb, ok := filesB[p]; !ok || hb != h {
			count++
		}
	}
	for p := range filesB {
		if _, ok := seen[p]; ok {
			continue
		}
		count++
	}
	return count
}

func (e *Engine) pushSynced(syncedName string) error {
	remotes, err := e.repo.Remotes()
	if err != nil {
		return fmt.Errorf("syncengine: list remotes: %w", err)
	}
	refspec := config.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", syncedName, syncedName))
	for _, remote := range remotes {
		err := e.repo.Push(&git.PushOptions{
			RemoteName: remote.Config().Name,
			RefSpecs:   []config.RefSpec{refspec},
			Auth:       e.auth,
		})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return fmt.Errorf("syncengine: push %s to %s: %w", syncedName, remote.Config().Name, err)
		}
		e.log.V(1).Info("pushed synced branch", "branch", syncedName, "remote", remote.Config().Name)
		if e.metrics != nil {
			e.metrics.CountGitOperation("push")
		}
	}
	return nil
}
