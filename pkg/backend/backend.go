// Package backend builds the configured metastore backend.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/odvcencio/metastore/pkg/backend/docstore"
	"github.com/odvcencio/metastore/pkg/backend/filesystem"
	"github.com/odvcencio/metastore/pkg/backend/gitbackend"
	"github.com/odvcencio/metastore/pkg/backend/s3store"
	"github.com/odvcencio/metastore/pkg/config"
	"github.com/odvcencio/metastore/pkg/github"
	"github.com/odvcencio/metastore/pkg/logging"
	"github.com/odvcencio/metastore/pkg/memhost"
	"github.com/odvcencio/metastore/pkg/metastore"
	"github.com/odvcencio/metastore/pkg/signing"
)

// ErrBackendNotFound is returned for an unknown backend name.
var ErrBackendNotFound = errors.New("backend not found")

// DefaultMemoryOrg owns git-memory repositories when no organization is set.
const DefaultMemoryOrg = "metastore"

type options struct {
	logger      *zap.Logger
	revisionIDs metastore.RevisionIDFunc
	now         func() time.Time
	httpClient  *http.Client
	host        *memhost.Host
	userAgent   string
	bare        bool
}

// Option customizes New.
type Option func(*options)

// WithLogger sets the logger handed to the backend.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRevisionIDs replaces the revision id generator.
func WithRevisionIDs(f metastore.RevisionIDFunc) Option {
	return func(o *options) { o.revisionIDs = f }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithHTTPClient sets the HTTP client used by the github backend.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithUserAgent sets the User-Agent sent to GitHub.
func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

// WithMemoryHost makes the git-memory backend use host instead of a fresh
// one.
func WithMemoryHost(h *memhost.Host) Option {
	return func(o *options) { o.host = h }
}

// WithoutInstrumentation returns the bare backend.
func WithoutInstrumentation() Option {
	return func(o *options) { o.bare = true }
}

// New builds the backend named by cfg.Backend. An empty name selects the
// filesystem backend.
func New(ctx context.Context, cfg config.Config, opts ...Option) (metastore.Backend, error) {
	o := options{logger: logging.L()}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		b   metastore.Backend
		err error
	)
	switch cfg.Backend {
	case "", config.BackendFilesystem:
		b, err = filesystem.New(cfg.Filesystem.Root, docstore.Config{Name: config.BackendFilesystem}, o.docstoreOptions()...)
	case config.BackendS3:
		b, err = s3store.New(ctx, s3store.Config{
			Endpoint:  cfg.S3.Endpoint,
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		}, docstore.Config{Name: config.BackendS3}, o.docstoreOptions()...)
	case config.BackendGitHub:
		b, err = newGitHub(cfg.GitHub, o)
	case config.BackendGitMemory:
		b, err = newGitMemory(cfg.GitHub, o)
	default:
		return nil, fmt.Errorf("%w: %q", ErrBackendNotFound, cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s backend: %w", cfg.Backend, err)
	}

	o.logger.Info("backend ready", zap.String("backend", b.Name()))
	if o.bare {
		return b, nil
	}
	return Instrument(b, o.logger), nil
}

func (o options) docstoreOptions() []docstore.Option {
	out := []docstore.Option{docstore.WithLogger(o.logger)}
	if o.revisionIDs != nil {
		out = append(out, docstore.WithRevisionIDs(o.revisionIDs))
	}
	if o.now != nil {
		out = append(out, docstore.WithClock(o.now))
	}
	return out
}

func (o options) gitOptions(gh config.GitHub) ([]gitbackend.Option, error) {
	out := []gitbackend.Option{gitbackend.WithLogger(o.logger)}
	if o.revisionIDs != nil {
		out = append(out, gitbackend.WithRevisionIDs(o.revisionIDs))
	}
	if o.now != nil {
		out = append(out, gitbackend.WithClock(o.now))
	}
	if gh.SigningKey != "" {
		signer, path, err := signing.LoadSigner(gh.SigningKey)
		if err != nil {
			return nil, err
		}
		o.logger.Debug("signing commits", zap.String("key", path))
		out = append(out, gitbackend.WithSigner(signer.Sign))
	}
	return out, nil
}

func gitConfig(name string, gh config.GitHub) gitbackend.Config {
	return gitbackend.Config{
		Name:          name,
		Org:           gh.Org,
		DefaultAuthor: metastore.Author{Name: gh.AuthorName, Email: gh.AuthorEmail},
		DefaultBranch: gh.DefaultBranch,
		LFSServerURL:  gh.LFSServerURL,
		Private:       gh.Private,
	}
}

func newGitHub(gh config.GitHub, o options) (metastore.Backend, error) {
	client, err := github.NewClient(github.ClientOptions{
		BaseURL:     gh.APIURL,
		GraphQLURL:  gh.GraphQLURL,
		Token:       gh.Token,
		Timeout:     gh.Timeout,
		MaxAttempts: gh.MaxAttempts,
		UserAgent:   o.userAgent,
		HTTPClient:  o.httpClient,
	})
	if err != nil {
		return nil, err
	}
	gopts, err := o.gitOptions(gh)
	if err != nil {
		return nil, err
	}
	return gitbackend.New(client, gitConfig(config.BackendGitHub, gh), gopts...), nil
}

func newGitMemory(gh config.GitHub, o options) (metastore.Backend, error) {
	host := o.host
	if host == nil {
		host = memhost.New()
	}
	if gh.DefaultBranch != "" {
		host.DefaultBranch = gh.DefaultBranch
	}
	if o.now != nil {
		host.Now = o.now
	}
	if gh.Org == "" {
		gh.Org = DefaultMemoryOrg
	}
	gopts, err := o.gitOptions(gh)
	if err != nil {
		return nil, err
	}
	return gitbackend.New(host, gitConfig(config.BackendGitMemory, gh), gopts...), nil
}
