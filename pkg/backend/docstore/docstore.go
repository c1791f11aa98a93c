// Package docstore stores data packages as documents in a key/value object
// store. Each object lives under its id:
//
//	<id>/datapackage.json
//	<id>/README.md
//	<id>/.revisions/<revisionId>.json.zst
//
// Every write also stores a zstd-compressed snapshot of the revision so
// earlier revisions stay readable by revision id. The layout gives no
// consistency guarantees and does no locking; concurrent writers to the same
// object can lose updates.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/odvcencio/metastore/pkg/logging"
	"github.com/odvcencio/metastore/pkg/metastore"
)

// RevisionsDir holds the revision snapshots of an object.
const RevisionsDir = ".revisions"

const snapshotExt = ".json.zst"

// Store is raw object I/O under slash-separated keys.
type Store interface {
	// GetObject returns the object at key, or an error matching
	// metastore.ErrNotFound.
	GetObject(ctx context.Context, key string) ([]byte, error)

	// PutObject replaces the object at key.
	PutObject(ctx context.Context, key string, data []byte) error

	// DeleteObject removes the object at key, or fails with
	// metastore.ErrNotFound.
	DeleteObject(ctx context.Context, key string) error

	// DeletePrefix removes every object under prefix, or fails with
	// metastore.ErrNotFound when there is none.
	DeletePrefix(ctx context.Context, prefix string) error

	// ObjectExists reports whether key holds an object.
	ObjectExists(ctx context.Context, key string) (bool, error)
}

// Config holds the settings shared by document backends.
type Config struct {
	// Name is reported by Backend.Name.
	Name          string
	DefaultAuthor metastore.Author
}

// Option customizes a Backend.
type Option func(*Backend)

// WithRevisionIDs replaces the revision id generator.
func WithRevisionIDs(f metastore.RevisionIDFunc) Option {
	return func(b *Backend) { b.newRevisionID = f }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// Backend implements metastore.Backend over a Store.
type Backend struct {
	store         Store
	cfg           Config
	newRevisionID metastore.RevisionIDFunc
	now           func() time.Time
	logger        *zap.Logger
}

var _ metastore.Backend = (*Backend)(nil)

// New creates a Backend writing to store.
func New(store Store, cfg Config, opts ...Option) *Backend {
	if cfg.Name == "" {
		cfg.Name = "docstore"
	}
	b := &Backend{
		store:         store,
		cfg:           cfg,
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

func metadataKey(objectID string) string {
	return objectID + "/" + metastore.MetadataFile
}

func readMeKey(objectID string) string {
	return objectID + "/" + metastore.ReadMeFile
}

func snapshotKey(objectID, revisionID string) string {
	return objectID + "/" + RevisionsDir + "/" + revisionID + snapshotExt
}

// resourceKey maps a resource path to its key. Absolute paths, parent
// segments, the metadata file and the snapshot directory are rejected.
func resourceKey(objectID, p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("%w: resource path is required", metastore.ErrValidation)
	}
	clean := path.Clean(p)
	if strings.HasPrefix(p, "/") || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: unsafe resource path %q", metastore.ErrValidation, p)
	}
	if clean == metastore.MetadataFile || clean == RevisionsDir || strings.HasPrefix(clean, RevisionsDir+"/") {
		return "", fmt.Errorf("%w: resource path %q is reserved", metastore.ErrValidation, p)
	}
	return objectID + "/" + clean, nil
}

func validRevisionRef(ref string) error {
	if ref == "." || ref == ".." || strings.ContainsAny(ref, "/\\") {
		return fmt.Errorf("%w: invalid revision reference %q", metastore.ErrValidation, ref)
	}
	return nil
}

func (b *Backend) author(a *metastore.Author) metastore.Author {
	if a != nil && (a.Name != "" || a.Email != "") {
		return *a
	}
	return b.cfg.DefaultAuthor
}

// write stores one revision: snapshot first, then README, then the metadata
// file that makes the revision current.
func (b *Backend) write(ctx context.Context, rec *record, md metastore.Metadata, readme *string) error {
	raw, err := metastore.MarshalPretty(md)
	if err != nil {
		return fmt.Errorf("%w: %v", metastore.ErrValidation, err)
	}
	rec.Metadata = raw
	snap, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if err := b.store.PutObject(ctx, snapshotKey(rec.ObjectID, rec.RevisionID), snap); err != nil {
		return err
	}
	if readme != nil && *readme != "" {
		if err := b.store.PutObject(ctx, readMeKey(rec.ObjectID), []byte(*readme)); err != nil {
			return err
		}
	}
	return b.store.PutObject(ctx, metadataKey(rec.ObjectID), raw)
}

// Create stores new metadata at revision 0. An object whose metadata file
// already exists is ErrConflict.
func (b *Backend) Create(ctx context.Context, objectID string, metadata metastore.Metadata, opts metastore.CreateOptions) (*metastore.ObjectInfo, error) {
	if err := metastore.ValidateObjectID(objectID); err != nil {
		return nil, err
	}
	exists, err := b.store.ObjectExists(ctx, metadataKey(objectID))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", objectID, err)
	}
	if exists {
		return nil, fmt.Errorf("create %s: %w: object already exists", objectID, metastore.ErrConflict)
	}

	md, err := metadata.Clone()
	if err != nil {
		return nil, err
	}
	revisionID := b.newRevisionID()
	md[metastore.KeyRevision] = 0
	md[metastore.KeyRevisionID] = revisionID

	description := opts.Description
	if description == "" {
		description = opts.Message
	}
	now := b.now().UTC()
	rec := &record{
		ObjectID:    objectID,
		RevisionID:  revisionID,
		Created:     now,
		Updated:     now,
		Author:      b.author(opts.Author),
		Description: description,
	}
	if err := b.write(ctx, rec, md, opts.ReadMe); err != nil {
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
		Created:     now,
		Author:      rec.Author,
		Description: description,
		Metadata:    md,
	}, nil
}

// Fetch reads the current metadata, or the snapshot named by
// opts.RevisionRef.
func (b *Backend) Fetch(ctx context.Context, objectID string, opts metastore.FetchOptions) (*metastore.ObjectInfo, error) {
	if err := metastore.ValidateObjectID(objectID); err != nil {
		return nil, err
	}
	if opts.RevisionRef != "" {
		if err := validRevisionRef(opts.RevisionRef); err != nil {
			return nil, err
		}
		rec, err := b.snapshot(ctx, objectID, opts.RevisionRef)
		if err != nil {
			return nil, fmt.Errorf("fetch %s@%s: %w", objectID, opts.RevisionRef, err)
		}
		return rec.info()
	}

	md, rec, err := b.current(ctx, objectID)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", objectID, err)
	}
	info := &metastore.ObjectInfo{
		ObjectID:   objectID,
		RevisionID: md.RevisionID(),
		Metadata:   md,
	}
	if rec != nil {
		info.Created = rec.Created
		info.Author = rec.Author
		info.Description = rec.Description
	}
	return info, nil
}

func (b *Backend) snapshot(ctx context.Context, objectID, revisionID string) (*record, error) {
	data, err := b.store.GetObject(ctx, snapshotKey(objectID, revisionID))
	if err != nil {
		return nil, err
	}
	return decodeRecord(data)
}

// current reads the metadata file and the snapshot of the revision it names.
// A metadata file written by hand has no snapshot; rec is nil then.
func (b *Backend) current(ctx context.Context, objectID string) (metastore.Metadata, *record, error) {
	data, err := b.store.GetObject(ctx, metadataKey(objectID))
	if err != nil {
		return nil, nil, err
	}
	md, err := metastore.DecodeMetadata(data)
	if err != nil {
		return nil, nil, err
	}
	revisionID := md.RevisionID()
	if revisionID == "" || validRevisionRef(revisionID) != nil {
		return md, nil, nil
	}
	rec, err := b.snapshot(ctx, objectID, revisionID)
	if errors.Is(err, metastore.ErrNotFound) {
		return md, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return md, rec, nil
}

// Update merges patch into the stored metadata and bumps the revision.
func (b *Backend) Update(ctx context.Context, objectID string, patch metastore.Metadata, opts metastore.UpdateOptions) (*metastore.ObjectInfo, error) {
	if err := metastore.ValidateObjectID(objectID); err != nil {
		return nil, err
	}
	existing, prev, err := b.current(ctx, objectID)
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

	now := b.now().UTC()
	rec := &record{
		ObjectID:    objectID,
		RevisionID:  revisionID,
		Created:     now,
		Updated:     now,
		Author:      b.author(opts.Author),
		Description: opts.Message,
	}
	if prev != nil {
		rec.Created = prev.Created
	}
	if err := b.write(ctx, rec, md, opts.ReadMe); err != nil {
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
		Created:     rec.Created,
		Author:      rec.Author,
		Description: rec.Description,
		Metadata:    md,
	}, nil
}

// Delete removes one resource file, or the object with all its revisions.
func (b *Backend) Delete(ctx context.Context, objectID string, opts metastore.DeleteOptions) (*metastore.DeleteResult, error) {
	if err := metastore.ValidateObjectID(objectID); err != nil {
		return nil, err
	}
	if opts.IsResource {
		key, err := resourceKey(objectID, opts.Path)
		if err != nil {
			return nil, err
		}
		if err := b.store.DeleteObject(ctx, key); err != nil {
			return nil, fmt.Errorf("delete %s: %w", objectID, err)
		}
		b.logger.Info("deleted resource",
			zap.String("backend", b.Name()),
			zap.String("object_id", objectID),
			zap.String("path", opts.Path),
		)
		return &metastore.DeleteResult{Success: true}, nil
	}

	if err := b.store.DeletePrefix(ctx, objectID+"/"); err != nil {
		return nil, fmt.Errorf("delete %s: %w", objectID, err)
	}
	b.logger.Info("deleted object", zap.String("backend", b.Name()), zap.String("object_id", objectID))
	return &metastore.DeleteResult{Success: true}, nil
}
