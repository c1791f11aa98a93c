// Package gitbackend stores data packages as Git repositories on a Git host:
// one repository per object, datapackage.json and README.md at the root, and
// one commit per create or update.
package gitbackend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/odvcencio/metastore/pkg/fileset"
	"github.com/odvcencio/metastore/pkg/gitgraph"
	"github.com/odvcencio/metastore/pkg/logging"
	"github.com/odvcencio/metastore/pkg/metastore"
	"github.com/odvcencio/metastore/pkg/metrics"
	"github.com/odvcencio/metastore/pkg/object"
)

const (
	DefaultBranch        = "main"
	DefaultCommitMessage = "Add Datapackage"
	DefaultDescription   = "### This is a datapackage repository created using metastore"
	DefaultReadMe        = "# ¯\\_(ツ)_/¯\nThis is a datapackage repository created by `metastore`"
)

// Host is a Git host that can manage repositories and accept commits built
// from individual objects.
type Host interface {
	gitgraph.ObjectStore
	gitgraph.SnapshotReader
	CreateRepo(ctx context.Context, repo gitgraph.Repository, opts gitgraph.RepoOptions) error
	DeleteRepo(ctx context.Context, repo gitgraph.Repository) error
	DeleteFile(ctx context.Context, repo gitgraph.Repository, req gitgraph.DeleteFileRequest) error
}

// Config holds the repository settings of a Git backend.
type Config struct {
	// Name is reported by Backend.Name.
	Name string
	// Org owns repositories for object ids without an owner part.
	Org           string
	DefaultAuthor metastore.Author
	DefaultBranch string
	DefaultReadMe string
	LFSServerURL  string
	Private       bool
}

// Option customizes a Backend.
type Option func(*Backend)

// WithRevisionIDs replaces the revision id generator.
func WithRevisionIDs(f metastore.RevisionIDFunc) Option {
	return func(b *Backend) { b.newRevisionID = f }
}

// WithSigner signs every commit.
func WithSigner(s gitgraph.CommitSigner) Option {
	return func(b *Backend) { b.builder.Signer = s }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		b.now = now
		b.builder.Now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Backend) {
		b.logger = l
		b.builder.Logger = l
	}
}

// Backend implements metastore.Backend on a Git host.
type Backend struct {
	host          Host
	cfg           Config
	builder       *gitgraph.Builder
	newRevisionID metastore.RevisionIDFunc
	now           func() time.Time
	logger        *zap.Logger
}

var _ metastore.Backend = (*Backend)(nil)

// New creates a Backend publishing to host.
func New(host Host, cfg Config, opts ...Option) *Backend {
	if cfg.Name == "" {
		cfg.Name = "git"
	}
	if cfg.DefaultBranch == "" {
		cfg.DefaultBranch = DefaultBranch
	}
	if cfg.DefaultReadMe == "" {
		cfg.DefaultReadMe = DefaultReadMe
	}
	b := &Backend{
		host:          host,
		cfg:           cfg,
		builder:       &gitgraph.Builder{Store: host, LFSServerURL: cfg.LFSServerURL},
		newRevisionID: metastore.NewRevisionID,
		now:           time.Now,
		logger:        logging.L(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the configured backend name.
func (b *Backend) Name() string {
	return b.cfg.Name
}

// parseID maps an object id to a repository: "owner/name", or "name" under
// the configured organization.
func (b *Backend) parseID(objectID string) (gitgraph.Repository, error) {
	if err := metastore.ValidateObjectID(objectID); err != nil {
		return gitgraph.Repository{}, err
	}
	if owner, name, ok := strings.Cut(objectID, "/"); ok {
		return gitgraph.Repository{Owner: owner, Name: name}, nil
	}
	if b.cfg.Org == "" {
		return gitgraph.Repository{}, fmt.Errorf("%w: object id %q has no owner and no organization is configured", metastore.ErrValidation, objectID)
	}
	return gitgraph.Repository{Owner: b.cfg.Org, Name: objectID}, nil
}

func (b *Backend) author(a *metastore.Author) metastore.Author {
	if a != nil && (a.Name != "" || a.Email != "") {
		return *a
	}
	return b.cfg.DefaultAuthor
}

func (b *Backend) branch(branch string) string {
	if branch == "" {
		return b.cfg.DefaultBranch
	}
	return branch
}

func (b *Backend) commit(ctx context.Context, req gitgraph.CommitRequest) error {
	res, err := b.builder.Commit(ctx, req)
	if err != nil {
		metrics.RecordCommit(0, 0, false)
		return err
	}
	pointers := 0
	for _, p := range res.Paths {
		switch p {
		case metastore.MetadataFile, metastore.ReadMeFile, fileset.GitAttributesFile, fileset.LFSConfigFile:
		default:
			pointers++
		}
	}
	metrics.RecordCommit(len(res.Blobs), pointers, true)
	return nil
}

// Create creates the repository and commits the metadata at revision 0
// together with a README.
func (b *Backend) Create(ctx context.Context, objectID string, metadata metastore.Metadata, opts metastore.CreateOptions) (*metastore.ObjectInfo, error) {
	repo, err := b.parseID(objectID)
	if err != nil {
		return nil, err
	}
	md, err := metadata.Clone()
	if err != nil {
		return nil, err
	}
	revisionID := b.newRevisionID()
	md[metastore.KeyRevision] = 0
	md[metastore.KeyRevisionID] = revisionID

	message := opts.Message
	if message == "" {
		message = DefaultCommitMessage
	}
	description := opts.Description
	if description == "" {
		description = DefaultDescription
	}
	readme := b.cfg.DefaultReadMe
	if opts.ReadMe != nil && *opts.ReadMe != "" {
		readme = *opts.ReadMe
	}
	author := b.author(opts.Author)

	if err := b.host.CreateRepo(ctx, repo, gitgraph.RepoOptions{Description: description, Private: b.cfg.Private}); err != nil {
		return nil, fmt.Errorf("create %s: %w", objectID, err)
	}
	err = b.commit(ctx, gitgraph.CommitRequest{
		Repo:    repo,
		Branch:  b.cfg.DefaultBranch,
		Files:   fileset.FileSet{Metadata: md, ReadMe: &readme},
		Message: message,
		Author:  &author,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", objectID, err)
	}

	b.logger.Info("created object",
		zap.String("backend", b.Name()),
		zap.String("object_id", objectID),
		zap.String("revision_id", revisionID),
	)
	return &metastore.ObjectInfo{
		ObjectID:    objectID,
		RevisionID:  revisionID,
		Created:     b.now().UTC(),
		Author:      author,
		Description: description,
		Metadata:    md,
	}, nil
}

// Fetch reads the metadata at the tip of the branch.
func (b *Backend) Fetch(ctx context.Context, objectID string, opts metastore.FetchOptions) (*metastore.ObjectInfo, error) {
	if opts.RevisionRef != "" {
		return nil, fmt.Errorf("%w: %s backend does not support revision references", metastore.ErrValidation, b.Name())
	}
	repo, err := b.parseID(objectID)
	if err != nil {
		return nil, err
	}
	snap, md, err := b.read(ctx, repo, b.branch(opts.Branch))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", objectID, err)
	}
	return &metastore.ObjectInfo{
		ObjectID:    objectID,
		RevisionID:  md.RevisionID(),
		Created:     snap.CreatedAt,
		Author:      metastore.Author{Name: snap.Head.Author.Name, Email: snap.Head.Author.Email},
		Description: snap.Description,
		Metadata:    md,
	}, nil
}

func (b *Backend) read(ctx context.Context, repo gitgraph.Repository, branch string) (*gitgraph.Snapshot, metastore.Metadata, error) {
	snap, err := b.host.GetRepository(ctx, repo, branch)
	if err != nil {
		return nil, nil, err
	}
	md, err := gitgraph.ReadMetadata(snap)
	if err != nil {
		return nil, nil, err
	}
	return snap, md, nil
}

// Update merges patch into the stored metadata, bumps the revision and
// commits the result. The README is rewritten only when one is supplied.
func (b *Backend) Update(ctx context.Context, objectID string, patch metastore.Metadata, opts metastore.UpdateOptions) (*metastore.ObjectInfo, error) {
	repo, err := b.parseID(objectID)
	if err != nil {
		return nil, err
	}
	branch := b.branch(opts.Branch)
	snap, existing, err := b.read(ctx, repo, branch)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", objectID, err)
	}
	md, err := existing.Merge(patch)
	if err != nil {
		return nil, err
	}
	revisionID := b.newRevisionID()
	md[metastore.KeyRevision] = existing.NextRevision()
	md[metastore.KeyRevisionID] = revisionID

	message := opts.Message
	if message == "" {
		message = DefaultCommitMessage
	}
	files := fileset.FileSet{Metadata: md}
	if opts.ReadMe != nil && *opts.ReadMe != "" {
		files.ReadMe = opts.ReadMe
	}
	author := b.author(opts.Author)

	err = b.commit(ctx, gitgraph.CommitRequest{
		Repo:    repo,
		Branch:  branch,
		Files:   files,
		Message: message,
		Author:  &author,
	})
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", objectID, err)
	}

	b.logger.Info("updated object",
		zap.String("backend", b.Name()),
		zap.String("object_id", objectID),
		zap.String("revision_id", revisionID),
		zap.Any("revision", md[metastore.KeyRevision]),
	)
	return &metastore.ObjectInfo{
		ObjectID:    objectID,
		RevisionID:  revisionID,
		Created:     snap.CreatedAt,
		Author:      author,
		Description: message,
		Metadata:    md,
	}, nil
}

// Delete removes one resource file from the branch, or the whole repository.
func (b *Backend) Delete(ctx context.Context, objectID string, opts metastore.DeleteOptions) (*metastore.DeleteResult, error) {
	repo, err := b.parseID(objectID)
	if err != nil {
		return nil, err
	}

	if opts.IsResource {
		if opts.Path == "" {
			return nil, fmt.Errorf("%w: resource path is required", metastore.ErrValidation)
		}
		if opts.Path == metastore.MetadataFile {
			return nil, fmt.Errorf("%w: resource path %q is reserved", metastore.ErrValidation, opts.Path)
		}
		author := b.author(nil)
		req := gitgraph.DeleteFileRequest{
			Branch:  b.branch(opts.Branch),
			Path:    opts.Path,
			Message: "Delete " + opts.Path,
		}
		if author.Name != "" || author.Email != "" {
			req.Author = &object.Signature{Name: author.Name, Email: author.Email, When: b.now().UTC().Truncate(time.Second)}
		}
		if err := b.host.DeleteFile(ctx, repo, req); err != nil {
			return nil, fmt.Errorf("delete %s: %w", objectID, err)
		}
		b.logger.Info("deleted resource",
			zap.String("backend", b.Name()),
			zap.String("object_id", objectID),
			zap.String("path", opts.Path),
		)
		return &metastore.DeleteResult{Success: true}, nil
	}

	if err := b.host.DeleteRepo(ctx, repo); err != nil {
		return nil, fmt.Errorf("delete %s: %w", objectID, err)
	}
	b.logger.Info("deleted object", zap.String("backend", b.Name()), zap.String("object_id", objectID))
	return &metastore.DeleteResult{Success: true}, nil
}
