// Package metastore defines the data-package metadata store: the Backend
// interface implemented by every storage backend, the ObjectInfo view they
// return, and the error kinds they fail with.
package metastore

import (
	"context"
	"time"
)

// Author identifies who wrote a revision.
type Author struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ObjectInfo is the normalized result of a create, fetch or update call. It is
// a view projected from backend state and is never persisted on its own.
type ObjectInfo struct {
	ObjectID    string    `json:"objectId"`
	RevisionID  string    `json:"revision"`
	Created     time.Time `json:"created"`
	Author      Author    `json:"author"`
	Description string    `json:"description"`
	Metadata    Metadata  `json:"metadata"`
}

// CreateOptions carries the optional arguments of Backend.Create.
type CreateOptions struct {
	Author      *Author
	Message     string
	Description string
	ReadMe      *string
}

// FetchOptions carries the optional arguments of Backend.Fetch. Branch is
// used by Git backends, RevisionRef by backends that keep revision snapshots.
type FetchOptions struct {
	Branch      string
	RevisionRef string
}

// UpdateOptions carries the optional arguments of Backend.Update.
type UpdateOptions struct {
	Author  *Author
	Branch  string
	Message string
	ReadMe  *string
}

// DeleteOptions selects what Backend.Delete removes. With IsResource set only
// the file at Path is removed; otherwise the whole object goes.
type DeleteOptions struct {
	Path       string
	Branch     string
	IsResource bool
}

// DeleteResult reports the outcome of Backend.Delete.
type DeleteResult struct {
	Success bool `json:"success"`
}

// Backend is a data-package metadata store.
type Backend interface {
	Create(ctx context.Context, objectID string, metadata Metadata, opts CreateOptions) (*ObjectInfo, error)
	Fetch(ctx context.Context, objectID string, opts FetchOptions) (*ObjectInfo, error)
	Update(ctx context.Context, objectID string, patch Metadata, opts UpdateOptions) (*ObjectInfo, error)
	Delete(ctx context.Context, objectID string, opts DeleteOptions) (*DeleteResult, error)
	Name() string
}

// Well-known file names inside a stored object.
const (
	MetadataFile = "datapackage.json"
	ReadMeFile   = "README.md"
)
