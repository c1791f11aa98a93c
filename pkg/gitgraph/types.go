// Package gitgraph publishes a data package revision to a remote Git object
// store without a local clone: blobs, a tree overlaid on the previous tree, a
// single-parent commit and a branch ref update. It also models the snapshot
// a host returns when the current revision is read back.
package gitgraph

import (
	"context"
	"time"

	"github.com/odvcencio/metastore/pkg/object"
)

// Repository names a repository on a Git host.
type Repository struct {
	Owner string
	Name  string
}

func (r Repository) String() string {
	return r.Owner + "/" + r.Name
}

// TreeEntry is one path written by a tree creation, relative to the root.
type TreeEntry struct {
	Path string
	Mode string
	Type object.ObjectType
	SHA  object.Hash
}

// CommitInfo is the part of an existing commit the builder needs.
type CommitInfo struct {
	SHA     object.Hash
	Tree    object.Hash
	Parents []object.Hash
}

// CommitRef describes the single linear step from the branch tip to the new
// commit.
type CommitRef struct {
	Parent object.Hash
	Tree   object.Hash
	Branch string
}

// NewCommit is a commit creation request. Author and Committer are optional;
// hosts fill them in from the authenticated user when nil.
type NewCommit struct {
	Message   string
	Tree      object.Hash
	Parents   []object.Hash
	Author    *object.Signature
	Committer *object.Signature
	Signature string
}

// ObjectStore is the remote object database a commit is built against.
type ObjectStore interface {
	GetRef(ctx context.Context, repo Repository, branch string) (object.Hash, error)
	GetCommit(ctx context.Context, repo Repository, sha object.Hash) (*CommitInfo, error)
	CreateBlob(ctx context.Context, repo Repository, content, encoding string) (object.Hash, error)
	CreateTree(ctx context.Context, repo Repository, entries []TreeEntry, baseTree object.Hash) (object.Hash, error)
	CreateCommit(ctx context.Context, repo Repository, c NewCommit) (object.Hash, error)
	UpdateRef(ctx context.Context, repo Repository, branch string, sha object.Hash) error
}

// Person is a commit author as reported by a host.
type Person struct {
	Name  string
	Email string
	Date  time.Time
}

// HeadCommit is the most recent commit on the snapshot's branch.
type HeadCommit struct {
	SHA     object.Hash
	Message string
	Author  Person
}

// SnapshotEntry is one entry of the branch's root tree. Text is only
// populated for small text blobs.
type SnapshotEntry struct {
	Name string
	Path string
	Type object.ObjectType
	SHA  object.Hash
	Text *string
}

// Snapshot is a repository's state on one branch.
type Snapshot struct {
	Repository  Repository
	Branch      string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Head        HeadCommit
	Entries     []SnapshotEntry
}

// SnapshotReader reads the current state of a branch.
type SnapshotReader interface {
	GetRepository(ctx context.Context, repo Repository, branch string) (*Snapshot, error)
}

// RepoOptions configures repository creation.
type RepoOptions struct {
	Description string
	Private     bool
}

// DeleteFileRequest removes one file from a branch in a new commit.
type DeleteFileRequest struct {
	Branch  string
	Path    string
	Message string
	Author  *object.Signature
}
