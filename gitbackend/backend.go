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

// Package gitbackend implements C3, the git namespace backend: blob
// read/write against a named ref, commit creation, an in-memory
// staging index, and branch management, on top of a bare repository
// with no working tree.
package gitbackend

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-logr/logr"

	"github.com/sakdb/sakdb/internal/metrics"
)

// state is the backend's session state machine (§4.3): Idle → Active
// on StartSession, Active → Idle on CloseSession or Rollback.
type state int

const (
	stateIdle state = iota
	stateActive
)

const rand7Chars = "abcdefghijklmnopqrstuvwxyz0123456789"

// Backend is the git namespace backend for a single namespace branch
// in a single bare repository.
type Backend struct {
	mu sync.Mutex

	repo   *git.Repository
	branch string // namespace branch short name, e.g. "master"

	log     logr.Logger
	metrics *metrics.Recorder

	st state

	sessionBranch string                  // full short name, e.g. "session/foo.ab12cd3"
	sessionBase   plumbing.Hash           // commit the session branch forked from
	index         map[string]plumbing.Hash
}

// Option configures Open.
type Option func(*Backend)

// WithLogger attaches a logr.Logger used for backend-level diagnostics.
func WithLogger(log logr.Logger) Option {
	return func(b *Backend) { b.log = log }
}

// WithMetrics attaches a metrics recorder; nil is valid and disables
// instrumentation.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(b *Backend) { b.metrics = rec }
}

// Repo exposes the underlying *git.Repository, for the sync engine's
// fetch/push/remote-branch operations, which operate at a lower level
// than the per-namespace session lifecycle this type provides.
func (b *Backend) Repo() *git.Repository { return b.repo }

// Branch returns the namespace branch short name.
func (b *Backend) Branch() string { return b.branch }

// CreateCommit is the exported form of createCommit, for callers (the
// sync engine) that build commits outside the session lifecycle.
func (b *Backend) CreateCommit(treeHash plumbing.Hash, parents []plumbing.Hash, message string) (plumbing.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.createCommit(treeHash, parents, message)
}

// SetBranchRef points branch at hash, creating the ref if absent.
func (b *Backend) SetBranchRef(shortName string, hash plumbing.Hash) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName(shortName), hash))
}

// BranchTip is the exported form of branchTip.
func (b *Backend) BranchTip(shortName string) (plumbing.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.branchTip(shortName)
}

// CommitTree is the exported form of commitTree.
func (b *Backend) CommitTree(hash plumbing.Hash) (*object.Tree, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.commitTree(hash)
}

// Open opens the bare repository at path, initializing it if absent,
// and ensures the namespace ref refs/heads/<branch> exists, creating an
// empty initial commit under the repository's default signature if
// not.
func Open(path, branch string, opts ...Option) (*Backend, error) {
	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(path, true)
	}
	if err != nil {
		return nil, fmt.Errorf("gitbackend: open %s: %w", path, err)
	}

	b := &Backend{repo: repo, branch: branch, log: logr.Discard(), st: stateIdle}
	for _, opt := range opts {
		opt(b)
	}

	if err := b.ensureNamespaceBranch(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Backend) ensureNamespaceBranch() error {
	refName := plumbing.NewBranchReferenceName(b.branch)
	if _, err := b.repo.Reference(refName, true); err == nil {
		return nil
	} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return fmt.Errorf("gitbackend: resolve %s: %w", refName, err)
	}

	treeHash, err := buildTreeFromPaths(b.repo.Storer, map[string]plumbing.Hash{})
	if err != nil {
		return err
	}
	commitHash, err := b.createCommit(treeHash, nil, "sakdb: initialize namespace")
	if err != nil {
		return err
	}
	return b.repo.Storer.SetReference(plumbing.NewHashReference(refName, commitHash))
}

func (b *Backend) defaultSignature() object.Signature {
	name, email := "sakdb", "sakdb@localhost"
	if cfg, err := b.repo.Config(); err == nil {
		if cfg.User.Name != "" {
			name = cfg.User.Name
		}
		if cfg.User.Email != "" {
			email = cfg.User.Email
		}
	}
	return object.Signature{Name: name, Email: email, When: time.Now()}
}

func (b *Backend) createCommit(treeHash plumbing.Hash, parents []plumbing.Hash, message string) (plumbing.Hash, error) {
	sig := b.defaultSignature()
	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      message,
		TreeHash:     treeHash,
		ParentHashes: parents,
	}
	obj := b.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.CommitObject)
	if err := commit.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("gitbackend: encode commit: %w", err)
	}
	hash, err := b.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("gitbackend: store commit: %w", err)
	}
	if b.metrics != nil {
		b.metrics.CountGitOperation("commit")
	}
	return hash, nil
}

// branchTip returns the commit hash a branch currently points at.
func (b *Backend) branchTip(shortName string) (plumbing.Hash, error) {
	ref, err := b.repo.Reference(plumbing.NewBranchReferenceName(shortName), true)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("gitbackend: resolve branch %s: %w", shortName, err)
	}
	return ref.Hash(), nil
}

func (b *Backend) commitTree(hash plumbing.Hash) (*object.Tree, error) {
	commit, err := object.GetCommit(b.repo.Storer, hash)
	if err != nil {
		return nil, fmt.Errorf("gitbackend: get commit %s: %w", hash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("gitbackend: get tree for commit %s: %w", hash, err)
	}
	return tree, nil
}

// activeRefShortName returns the branch the backend currently reads
// from: the session branch if Active, else the namespace branch.
func (b *Backend) activeRefShortName() string {
	if b.st == stateActive {
		return b.sessionBranch
	}
	return b.branch
}

// ReadBlob walks the tree at ref (a branch short name; empty string
// means the currently active ref) by path components and returns its
// content. ok is false if the path does not resolve to a blob.
func (b *Backend) ReadBlob(ref, path string) (content []byte, ok bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ref == "" {
		ref = b.activeRefShortName()
	}

	tip, err := b.branchTip(ref)
	if err != nil {
		return nil, false, err
	}
	tree, err := b.commitTree(tip)
	if err != nil {
		return nil, false, err
	}

	f, err := tree.File(path)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("gitbackend: find %s: %w", path, err)
	}
	data, err := f.Contents()
	if err != nil {
		return nil, false, fmt.Errorf("gitbackend: read %s: %w", path, err)
	}
	return []byte(data), true, nil
}

// ListDir returns the immediate entry names (files and subdirectories)
// under path in the tree at ref (empty string means the currently
// active ref). A missing directory yields (nil, nil), not an error,
// matching the rest of the backend's absent-is-not-an-error reads.
func (b *Backend) ListDir(ref, path string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ref == "" {
		ref = b.activeRefShortName()
	}
	tip, err := b.branchTip(ref)
	if err != nil {
		return nil, err
	}
	tree, err := b.commitTree(tip)
	if err != nil {
		return nil, err
	}

	if path == "" {
		names := make([]string, 0, len(tree.Entries))
		for _, e := range tree.Entries {
			names = append(names, e.Name)
		}
		return names, nil
	}

	entry, err := tree.FindEntry(path)
	if err != nil {
		return nil, nil //nolint:nilerr // absent directory is not an error condition here
	}
	subTree, err := object.GetTree(b.repo.Storer, entry.Hash)
	if err != nil {
		return nil, fmt.Errorf("gitbackend: get subtree %s: %w", path, err)
	}
	names := make([]string, 0, len(subTree.Entries))
	for _, e := range subTree.Entries {
		names = append(names, e.Name)
	}
	return names, nil
}

// WriteBlob stages value at path in the current session index. If the
// path already holds identical content, the write is a no-op (IV-8).
func (b *Backend) WriteBlob(path string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st != stateActive {
		return ErrNoActiveSession
	}
	if b.index == nil {
		return ErrIndexMissing
	}

	hash, err := writeBlobBytes(b.repo.Storer, value)
	if err != nil {
		return err
	}
	if existing, ok := b.index[path]; ok && existing == hash {
		return nil
	}
	b.index[path] = hash
	return nil
}

// StartSession creates branch session/<name> (or session/<name>.<rand7>
// if taken), pointed at the namespace branch tip, and initializes the
// staging index from the namespace branch's tree.
func (b *Backend) StartSession(name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st == stateActive {
		return "", ErrAlreadyActive
	}

	nsTip, err := b.branchTip(b.branch)
	if err != nil {
		return "", err
	}

	branchName := "session/" + name
	if _, err := b.repo.Reference(plumbing.NewBranchReferenceName(branchName), true); err == nil {
		branchName = fmt.Sprintf("session/%s.%s", name, randSuffix(7))
	} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", fmt.Errorf("gitbackend: probe session branch: %w", err)
	}

	if err := b.repo.Storer.SetReference(
		plumbing.NewHashReference(plumbing.NewBranchReferenceName(branchName), nsTip),
	); err != nil {
		return "", fmt.Errorf("gitbackend: create session branch: %w", err)
	}

	tree, err := b.commitTree(nsTip)
	if err != nil {
		return "", err
	}
	index, err := flattenTree(tree)
	if err != nil {
		return "", err
	}

	b.sessionBranch = branchName
	b.sessionBase = nsTip
	b.index = index
	b.st = stateActive
	b.log.Info("started session", "branch", b.branch, "session", branchName)
	return branchName, nil
}

func randSuffix(n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = rand7Chars[rand.Intn(len(rand7Chars))] //nolint:gosec // branch-name disambiguator, not security-sensitive
	}
	return string(out)
}

// Commit creates a commit on the session branch from the current
// staging index if its tree differs from the branch tip's tree;
// otherwise it is a no-op.
func (b *Backend) Commit(msg string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.commitLocked(msg)
}

func (b *Backend) commitLocked(msg string) error {
	if b.st != stateActive {
		return ErrNoActiveSession
	}

	tip, err := b.branchTip(b.sessionBranch)
	if err != nil {
		return err
	}
	tipCommit, err := object.GetCommit(b.repo.Storer, tip)
	if err != nil {
		return fmt.Errorf("gitbackend: get session tip commit: %w", err)
	}

	newTreeHash, err := buildTreeFromPaths(b.repo.Storer, b.index)
	if err != nil {
		return err
	}
	if newTreeHash == tipCommit.TreeHash {
		return nil
	}

	newCommit, err := b.createCommit(newTreeHash, []plumbing.Hash{tip}, msg)
	if err != nil {
		return err
	}
	if b.metrics != nil {
		b.metrics.CountCommit()
	}
	b.log.V(1).Info("checkpointed session", "branch", b.sessionBranch, "commit", newCommit.String())
	return b.repo.Storer.SetReference(
		plumbing.NewHashReference(plumbing.NewBranchReferenceName(b.sessionBranch), newCommit),
	)
}

// CloseSession performs a final Commit, merges the session branch into
// the namespace branch (via MergeTrees, reusing §4.7's merge logic),
// and deletes the session branch.
func (b *Backend) CloseSession(msg string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st != stateActive {
		return ErrNoActiveSession
	}
	if err := b.commitLocked(msg); err != nil {
		return err
	}

	sessionTip, err := b.branchTip(b.sessionBranch)
	if err != nil {
		return err
	}
	nsTip, err := b.branchTip(b.branch)
	if err != nil {
		return err
	}

	var mergedCommit plumbing.Hash
	if nsTip == b.sessionBase {
		// Fast-forward: nothing else has advanced the namespace branch
		// since this session started.
		mergedCommit = sessionTip
	} else {
		baseTree, err := b.commitTree(b.sessionBase)
		if err != nil {
			return err
		}
		nsTree, err := b.commitTree(nsTip)
		if err != nil {
			return err
		}
		sessionTree, err := b.commitTree(sessionTip)
		if err != nil {
			return err
		}
		mergedTree, err := MergeTrees(b.repo.Storer, hashOf(baseTree), hashOf(nsTree), hashOf(sessionTree))
		if err != nil {
			return err
		}
		mergedCommit, err = b.createCommit(mergedTree, []plumbing.Hash{nsTip, sessionTip}, msg)
		if err != nil {
			return err
		}
	}

	if err := b.repo.Storer.SetReference(
		plumbing.NewHashReference(plumbing.NewBranchReferenceName(b.branch), mergedCommit),
	); err != nil {
		return fmt.Errorf("gitbackend: advance namespace branch: %w", err)
	}

	if err := b.repo.Storer.RemoveReference(plumbing.NewBranchReferenceName(b.sessionBranch)); err != nil {
		return fmt.Errorf("gitbackend: remove session branch: %w", err)
	}

	b.log.Info("closed session", "branch", b.branch, "commit", mergedCommit.String())
	b.clearSession()
	return nil
}

// Rollback resets the session branch ref and staging index to the
// namespace branch tip without deleting the session branch.
func (b *Backend) Rollback() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st != stateActive {
		return ErrNoActiveSession
	}

	nsTip, err := b.branchTip(b.branch)
	if err != nil {
		return err
	}
	if err := b.repo.Storer.SetReference(
		plumbing.NewHashReference(plumbing.NewBranchReferenceName(b.sessionBranch), nsTip),
	); err != nil {
		return fmt.Errorf("gitbackend: reset session branch: %w", err)
	}

	tree, err := b.commitTree(nsTip)
	if err != nil {
		return err
	}
	index, err := flattenTree(tree)
	if err != nil {
		return err
	}

	b.index = index
	b.sessionBase = nsTip
	b.st = stateIdle
	b.sessionBranch = ""
	b.log.Info("rolled back session", "branch", b.branch)
	return nil
}

func (b *Backend) clearSession() {
	b.st = stateIdle
	b.sessionBranch = ""
	b.sessionBase = plumbing.ZeroHash
	b.index = nil
}

// hashOf returns tree's own hash, which object.Tree carries on itself
// once loaded from storage.
func hashOf(tree *object.Tree) plumbing.Hash {
	if tree == nil {
		return plumbing.ZeroHash
	}
	return tree.Hash
}
