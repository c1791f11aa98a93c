// Package memhost is an in-process Git host. It serves the same object, ref
// and repository calls as a remote host, backed by one object.Store per
// repository.
package memhost

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/odvcencio/metastore/pkg/gitgraph"
	"github.com/odvcencio/metastore/pkg/metastore"
	"github.com/odvcencio/metastore/pkg/object"
)

// maxTextSize caps the blob size returned as text in snapshots.
const maxTextSize = 512 << 10

// DefaultIdentity signs commits created without an author.
var DefaultIdentity = object.Signature{Name: "metastore", Email: "metastore@localhost"}

type repository struct {
	store       *object.Store
	description string
	private     bool
	created     time.Time
	updated     time.Time
}

// Host is safe for concurrent use.
type Host struct {
	mu    sync.RWMutex
	repos map[string]*repository

	// Now stamps repository timestamps and default signatures.
	Now func() time.Time
	// DefaultBranch is the branch created by CreateRepo. Empty means "main".
	DefaultBranch string
	// Identity is used for commits that carry no author.
	Identity object.Signature

	blobs     atomic.Int64
	failAfter atomic.Int64
}

// New returns an empty host.
func New() *Host {
	h := &Host{
		repos:    make(map[string]*repository),
		Identity: DefaultIdentity,
	}
	h.failAfter.Store(-1)
	return h
}

// FailBlobAfter makes every blob creation after the first n succeed fail with
// metastore.ErrTransport. A negative n disables the failure.
func (h *Host) FailBlobAfter(n int) {
	h.blobs.Store(0)
	h.failAfter.Store(int64(n))
}

// BlobCount returns the number of blob creations attempted.
func (h *Host) BlobCount() int {
	return int(h.blobs.Load())
}

func (h *Host) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC().Truncate(time.Second)
	}
	return time.Now().UTC().Truncate(time.Second)
}

func (h *Host) defaultBranch() string {
	if h.DefaultBranch == "" {
		return "main"
	}
	return h.DefaultBranch
}

func headRef(branch string) string {
	return "refs/heads/" + branch
}

func (h *Host) repo(r gitgraph.Repository) (*repository, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rp, ok := h.repos[r.String()]
	if !ok {
		return nil, fmt.Errorf("%w: repository %s", metastore.ErrNotFound, r)
	}
	return rp, nil
}

func (h *Host) touch(rp *repository) {
	h.mu.Lock()
	rp.updated = h.now()
	h.mu.Unlock()
}

// CreateRepo creates a repository with an initial commit holding README.md on
// the default branch. Creating an existing repository is a no-op.
func (h *Host) CreateRepo(_ context.Context, r gitgraph.Repository, opts gitgraph.RepoOptions) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.repos[r.String()]; ok {
		return nil
	}

	store := object.NewStore()
	readme, err := store.WriteBlob(&object.Blob{Data: []byte("# " + r.Name + "\n")})
	if err != nil {
		return err
	}
	tree, err := store.BuildTree([]object.TreeFileEntry{{Path: metastore.ReadMeFile, Hash: readme}})
	if err != nil {
		return err
	}
	now := h.now()
	sig := h.Identity
	sig.When = now
	commit, err := store.WriteCommit(&object.CommitObj{
		TreeHash:  tree,
		Author:    sig,
		Committer: sig,
		Message:   "Initial commit",
	})
	if err != nil {
		return err
	}
	if err := store.UpdateRefCAS(headRef(h.defaultBranch()), commit, ""); err != nil {
		return err
	}
	h.repos[r.String()] = &repository{
		store:       store,
		description: opts.Description,
		private:     opts.Private,
		created:     now,
		updated:     now,
	}
	return nil
}

// DeleteRepo removes a repository and all of its objects.
func (h *Host) DeleteRepo(_ context.Context, r gitgraph.Repository) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.repos[r.String()]; !ok {
		return fmt.Errorf("%w: repository %s", metastore.ErrNotFound, r)
	}
	delete(h.repos, r.String())
	return nil
}

// DeleteFile commits the removal of req.Path on req.Branch.
func (h *Host) DeleteFile(ctx context.Context, r gitgraph.Repository, req gitgraph.DeleteFileRequest) error {
	rp, err := h.repo(r)
	if err != nil {
		return err
	}
	tip, err := h.GetRef(ctx, r, req.Branch)
	if err != nil {
		return err
	}
	commit, err := rp.store.ReadCommit(tip)
	if err != nil {
		return err
	}
	files, err := rp.store.FlattenTree(commit.TreeHash)
	if err != nil {
		return err
	}
	kept := files[:0]
	found := false
	for _, f := range files {
		if f.Path == req.Path {
			found = true
			continue
		}
		kept = append(kept, f)
	}
	if !found {
		return fmt.Errorf("%w: %s has no file %q on branch %q", metastore.ErrNotFound, r, req.Path, req.Branch)
	}
	tree, err := rp.store.BuildTree(kept)
	if err != nil {
		return err
	}
	message := req.Message
	if message == "" {
		message = "Delete " + req.Path
	}
	sha, err := h.CreateCommit(ctx, r, gitgraph.NewCommit{
		Message: message,
		Tree:    tree,
		Parents: []object.Hash{tip},
		Author:  req.Author,
	})
	if err != nil {
		return err
	}
	return h.UpdateRef(ctx, r, req.Branch, sha)
}

// GetRef resolves a branch to its tip commit.
func (h *Host) GetRef(_ context.Context, r gitgraph.Repository, branch string) (object.Hash, error) {
	rp, err := h.repo(r)
	if err != nil {
		return "", err
	}
	sha, ok := rp.store.ResolveRef(headRef(branch))
	if !ok {
		return "", fmt.Errorf("%w: %s has no branch %q", metastore.ErrRefNotFound, r, branch)
	}
	return sha, nil
}

// GetCommit returns a commit's tree and parents.
func (h *Host) GetCommit(_ context.Context, r gitgraph.Repository, sha object.Hash) (*gitgraph.CommitInfo, error) {
	rp, err := h.repo(r)
	if err != nil {
		return nil, err
	}
	c, err := rp.store.ReadCommit(sha)
	if err != nil {
		return nil, notFound(err)
	}
	return &gitgraph.CommitInfo{SHA: sha, Tree: c.TreeHash, Parents: c.Parents}, nil
}

// CreateBlob stores content, which is base64 or utf-8 encoded.
func (h *Host) CreateBlob(ctx context.Context, r gitgraph.Repository, content, encoding string) (object.Hash, error) {
	n := h.blobs.Add(1)
	if limit := h.failAfter.Load(); limit >= 0 && n > limit {
		return "", fmt.Errorf("%w: blob %d rejected", metastore.ErrTransport, n)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rp, err := h.repo(r)
	if err != nil {
		return "", err
	}

	var data []byte
	switch encoding {
	case "base64":
		data, err = base64.StdEncoding.DecodeString(content)
		if err != nil {
			return "", fmt.Errorf("%w: blob content: %v", metastore.ErrValidation, err)
		}
	case "utf-8", "":
		data = []byte(content)
	default:
		return "", fmt.Errorf("%w: unsupported blob encoding %q", metastore.ErrValidation, encoding)
	}
	return rp.store.WriteBlob(&object.Blob{Data: data})
}

// CreateTree writes entries over baseTree. Entries with nested paths create
// or replace the intermediate trees.
func (h *Host) CreateTree(_ context.Context, r gitgraph.Repository, entries []gitgraph.TreeEntry, baseTree object.Hash) (object.Hash, error) {
	rp, err := h.repo(r)
	if err != nil {
		return "", err
	}

	var files []object.TreeFileEntry
	if baseTree != "" {
		files, err = rp.store.FlattenTree(baseTree)
		if err != nil {
			return "", notFound(err)
		}
	}
	index := make(map[string]int, len(files))
	for i, f := range files {
		index[f.Path] = i
	}
	for _, e := range entries {
		if e.Type != object.TypeBlob {
			return "", fmt.Errorf("%w: tree entry %q: unsupported type %q", metastore.ErrValidation, e.Path, e.Type)
		}
		if !validTreePath(e.Path) {
			return "", fmt.Errorf("%w: tree entry %q: invalid path", metastore.ErrValidation, e.Path)
		}
		if !rp.store.Has(e.SHA) {
			return "", fmt.Errorf("%w: tree entry %q: blob %s", metastore.ErrNotFound, e.Path, e.SHA)
		}
		f := object.TreeFileEntry{Path: e.Path, Mode: e.Mode, Hash: e.SHA}
		if i, ok := index[e.Path]; ok {
			files[i] = f
			continue
		}
		index[e.Path] = len(files)
		files = append(files, f)
	}
	sha, err := rp.store.BuildTree(files)
	if err != nil {
		return "", fmt.Errorf("%w: %v", metastore.ErrValidation, err)
	}
	return sha, nil
}

func validTreePath(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." || seg == ".git" {
			return false
		}
	}
	return true
}

// CreateCommit writes a commit object. A nil author or committer is filled in
// with the host identity.
func (h *Host) CreateCommit(_ context.Context, r gitgraph.Repository, c gitgraph.NewCommit) (object.Hash, error) {
	rp, err := h.repo(r)
	if err != nil {
		return "", err
	}
	if _, err := rp.store.ReadTree(c.Tree); err != nil {
		return "", notFound(err)
	}
	for _, p := range c.Parents {
		if _, err := rp.store.ReadCommit(p); err != nil {
			return "", notFound(err)
		}
	}

	identity := h.Identity
	identity.When = h.now()
	author, committer := identity, identity
	if c.Author != nil {
		author = *c.Author
	}
	if c.Committer != nil {
		committer = *c.Committer
	}
	return rp.store.WriteCommit(&object.CommitObj{
		TreeHash:  c.Tree,
		Parents:   c.Parents,
		Author:    author,
		Committer: committer,
		Signature: c.Signature,
		Message:   c.Message,
	})
}

// UpdateRef moves a branch to sha. The move must be a fast-forward.
func (h *Host) UpdateRef(_ context.Context, r gitgraph.Repository, branch string, sha object.Hash) error {
	rp, err := h.repo(r)
	if err != nil {
		return err
	}
	name := headRef(branch)
	cur, ok := rp.store.ResolveRef(name)
	if !ok {
		return fmt.Errorf("%w: %s has no branch %q", metastore.ErrRefNotFound, r, branch)
	}
	if !isAncestor(rp.store, cur, sha) {
		return fmt.Errorf("%w: update %s: %s is not a fast-forward of %s", metastore.ErrConflict, name, sha, cur)
	}
	if err := rp.store.UpdateRefCAS(name, sha, cur); err != nil {
		if errors.Is(err, object.ErrRefMismatch) {
			return fmt.Errorf("%w: %v", metastore.ErrConflict, err)
		}
		return notFound(err)
	}
	h.touch(rp)
	return nil
}

// isAncestor reports whether anc is reachable from tip through parents.
func isAncestor(s *object.Store, anc, tip object.Hash) bool {
	seen := make(map[object.Hash]bool)
	queue := []object.Hash{tip}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if h == anc {
			return true
		}
		if seen[h] {
			continue
		}
		seen[h] = true
		c, err := s.ReadCommit(h)
		if err != nil {
			continue
		}
		queue = append(queue, c.Parents...)
	}
	return false
}

// GetRepository returns the repository's state on branch. Only root-level
// entries are listed; text is included for small UTF-8 blobs.
func (h *Host) GetRepository(ctx context.Context, r gitgraph.Repository, branch string) (*gitgraph.Snapshot, error) {
	rp, err := h.repo(r)
	if err != nil {
		return nil, err
	}
	tip, err := h.GetRef(ctx, r, branch)
	if err != nil {
		return nil, err
	}
	head, err := rp.store.ReadCommit(tip)
	if err != nil {
		return nil, err
	}
	tree, err := rp.store.ReadTree(head.TreeHash)
	if err != nil {
		return nil, err
	}

	entries := make([]gitgraph.SnapshotEntry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		se := gitgraph.SnapshotEntry{Name: e.Name, Path: e.Name, SHA: e.Hash, Type: object.TypeBlob}
		if e.IsDir() {
			se.Type = object.TypeTree
		} else if blob, err := rp.store.ReadBlob(e.Hash); err == nil && len(blob.Data) <= maxTextSize && utf8.Valid(blob.Data) {
			text := string(blob.Data)
			se.Text = &text
		}
		entries = append(entries, se)
	}

	h.mu.RLock()
	snap := &gitgraph.Snapshot{
		Repository:  r,
		Branch:      branch,
		Description: rp.description,
		CreatedAt:   rp.created,
		UpdatedAt:   rp.updated,
		Head: gitgraph.HeadCommit{
			SHA:     tip,
			Message: head.Message,
			Author: gitgraph.Person{
				Name:  head.Author.Name,
				Email: head.Author.Email,
				Date:  head.Author.When,
			},
		},
		Entries: entries,
	}
	h.mu.RUnlock()
	return snap, nil
}

// ReadFile returns the contents of path at the tip of branch.
func (h *Host) ReadFile(ctx context.Context, r gitgraph.Repository, branch, path string) ([]byte, error) {
	rp, err := h.repo(r)
	if err != nil {
		return nil, err
	}
	tip, err := h.GetRef(ctx, r, branch)
	if err != nil {
		return nil, err
	}
	c, err := rp.store.ReadCommit(tip)
	if err != nil {
		return nil, err
	}
	files, err := rp.store.FlattenTree(c.TreeHash)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if f.Path == path {
			blob, err := rp.store.ReadBlob(f.Hash)
			if err != nil {
				return nil, err
			}
			return blob.Data, nil
		}
	}
	return nil, fmt.Errorf("%w: %s has no file %q on branch %q", metastore.ErrNotFound, r, path, branch)
}

// ReadCommit returns the full commit object at sha.
func (h *Host) ReadCommit(_ context.Context, r gitgraph.Repository, sha object.Hash) (*object.CommitObj, error) {
	rp, err := h.repo(r)
	if err != nil {
		return nil, err
	}
	c, err := rp.store.ReadCommit(sha)
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func notFound(err error) error {
	if errors.Is(err, object.ErrObjectNotFound) {
		return fmt.Errorf("%w: %v", metastore.ErrNotFound, err)
	}
	return err
}
