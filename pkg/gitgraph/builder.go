package gitgraph

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/metastore/pkg/fileset"
	"github.com/odvcencio/metastore/pkg/logging"
	"github.com/odvcencio/metastore/pkg/metastore"
	"github.com/odvcencio/metastore/pkg/object"
)

// DefaultCommitMessage is used when a commit request has no message.
const DefaultCommitMessage = "Add new package"

const defaultBlobConcurrency = 8

// CommitSigner signs canonical commit payload bytes and returns an armored
// signature to be stored in the commit's gpgsig header.
type CommitSigner func(payload []byte) (string, error)

// Builder writes one commit per Commit call. It holds no state between calls;
// every call re-reads the branch tip.
type Builder struct {
	Store        ObjectStore
	LFSServerURL string

	// Signer, when set, signs each commit. Signed commits carry explicit
	// author and committer lines so the signed payload matches the stored
	// commit byte for byte.
	Signer CommitSigner

	// BlobConcurrency caps concurrent blob uploads. Zero means 8.
	BlobConcurrency int

	Now    func() time.Time
	Logger *zap.Logger
}

// CommitRequest is the input of Builder.Commit.
type CommitRequest struct {
	Repo    Repository
	Branch  string
	Files   fileset.FileSet
	Message string
	// Author is recorded as both author and committer when set.
	Author *metastore.Author
}

// Result describes a published commit.
type Result struct {
	Ref    CommitRef
	Commit object.Hash
	Paths  []string
	Blobs  []object.Hash
}

// Commit publishes req.Files as a new commit on req.Branch:
//
//  1. Resolve the branch tip and its tree
//  2. Materialize the file set (LFS classification included)
//  3. Create one blob per file, concurrently; all must succeed
//  4. Create a tree over the previous tree
//  5. Create a commit with the tip as its only parent
//  6. Move the branch ref to the new commit
//
// Only step 6 is visible to readers. A failure at any step is returned as is;
// objects created before the failure are left unreferenced.
func (b *Builder) Commit(ctx context.Context, req CommitRequest) (*Result, error) {
	log := b.logger().With(
		zap.String("repo", req.Repo.String()),
		zap.String("branch", req.Branch),
	)

	// 1. Resolve branch tip.
	parent, err := b.Store.GetRef(ctx, req.Repo, req.Branch)
	if err != nil {
		return nil, fmt.Errorf("commit: resolve branch %q: %w", req.Branch, err)
	}
	tip, err := b.Store.GetCommit(ctx, req.Repo, parent)
	if err != nil {
		return nil, fmt.Errorf("commit: read tip %s: %w", parent, err)
	}
	ref := CommitRef{Parent: parent, Tree: tip.Tree, Branch: req.Branch}
	log.Debug("resolved branch tip", zap.String("parent", string(parent)), zap.String("base_tree", string(tip.Tree)))

	// 2. Materialize files.
	entries, err := fileset.Materialize(req.Files, b.LFSServerURL)
	if err != nil {
		return nil, err
	}

	// 3. Create blobs.
	blobs, err := b.createBlobs(ctx, req.Repo, entries)
	if err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	log.Debug("created blobs", zap.Int("count", len(blobs)))

	// 4. Create tree.
	treeEntries := make([]TreeEntry, len(entries))
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.Path
		treeEntries[i] = TreeEntry{
			Path: e.Path,
			Mode: object.TreeModeFile,
			Type: object.TypeBlob,
			SHA:  blobs[i],
		}
	}
	treeHash, err := b.Store.CreateTree(ctx, req.Repo, treeEntries, ref.Tree)
	if err != nil {
		return nil, fmt.Errorf("commit: create tree: %w", err)
	}
	log.Debug("created tree", zap.String("tree", string(treeHash)))

	// 5. Create commit.
	newCommit, err := b.newCommit(req, treeHash, parent)
	if err != nil {
		return nil, err
	}
	commitHash, err := b.Store.CreateCommit(ctx, req.Repo, newCommit)
	if err != nil {
		return nil, fmt.Errorf("commit: create commit: %w", err)
	}

	// 6. Update ref.
	if err := b.Store.UpdateRef(ctx, req.Repo, req.Branch, commitHash); err != nil {
		return nil, fmt.Errorf("commit: update ref %q: %w", req.Branch, err)
	}
	log.Debug("updated branch", zap.String("commit", string(commitHash)))

	return &Result{
		Ref:    CommitRef{Parent: parent, Tree: treeHash, Branch: req.Branch},
		Commit: commitHash,
		Paths:  paths,
		Blobs:  blobs,
	}, nil
}

// createBlobs uploads every entry and returns the blob ids in entry order.
// The first failure cancels the remaining uploads.
func (b *Builder) createBlobs(ctx context.Context, repo Repository, entries []fileset.Entry) ([]object.Hash, error) {
	blobs := make([]object.Hash, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	limit := b.BlobConcurrency
	if limit <= 0 {
		limit = defaultBlobConcurrency
	}
	g.SetLimit(limit)

	for i, e := range entries {
		g.Go(func() error {
			raw, err := fileset.Decode(e)
			if err != nil {
				return fmt.Errorf("decode %s: %w", e.Path, err)
			}
			want := object.HashObject(object.TypeBlob, raw)
			got, err := b.Store.CreateBlob(gctx, repo, e.Content, "base64")
			if err != nil {
				return fmt.Errorf("create blob for %s: %w", e.Path, err)
			}
			if got != want {
				return fmt.Errorf("%w: create blob for %s: host returned %s, expected %s", metastore.ErrTransport, e.Path, got, want)
			}
			blobs[i] = got
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return blobs, nil
}

func (b *Builder) newCommit(req CommitRequest, tree, parent object.Hash) (NewCommit, error) {
	message := req.Message
	if message == "" {
		message = DefaultCommitMessage
	}
	c := NewCommit{
		Message: message,
		Tree:    tree,
		Parents: []object.Hash{parent},
	}
	if req.Author != nil && (req.Author.Name != "" || req.Author.Email != "") {
		sig := &object.Signature{Name: req.Author.Name, Email: req.Author.Email, When: b.now()}
		c.Author, c.Committer = sig, sig
	}
	if b.Signer == nil {
		return c, nil
	}
	if c.Author == nil {
		return NewCommit{}, fmt.Errorf("%w: commit signing requires an author", metastore.ErrValidation)
	}

	payload := object.CommitSigningPayload(&object.CommitObj{
		TreeHash:  tree,
		Parents:   c.Parents,
		Author:    *c.Author,
		Committer: *c.Committer,
		Message:   message,
	})
	sig, err := b.Signer(payload)
	if err != nil {
		return NewCommit{}, fmt.Errorf("commit: sign commit: %w", err)
	}
	c.Signature = sig
	return c, nil
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now().UTC().Truncate(time.Second)
	}
	return time.Now().UTC().Truncate(time.Second)
}

func (b *Builder) logger() *zap.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return logging.L()
}
