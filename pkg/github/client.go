// Package github talks to the GitHub REST git data API and the GraphQL API.
// It implements the object, snapshot and repository calls the Git backend
// publishes through.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/odvcencio/metastore/pkg/gitgraph"
	"github.com/odvcencio/metastore/pkg/metastore"
	"github.com/odvcencio/metastore/pkg/object"
)

const (
	DefaultBaseURL    = "https://api.github.com"
	DefaultGraphQLURL = "https://api.github.com/graphql"

	apiVersion = "2022-11-28"
)

// Response limits per endpoint type.
const (
	responseLimitDefault = 2 << 20  // 2MB
	responseLimitGraphQL = 16 << 20 // 16MB
)

// ClientOptions configures the API client.
type ClientOptions struct {
	BaseURL     string        // REST root (default https://api.github.com)
	GraphQLURL  string        // GraphQL endpoint (default BaseURL + "/graphql")
	Token       string        // sent as a Bearer token when set
	Timeout     time.Duration // HTTP client timeout (default 60s)
	MaxAttempts int           // retry attempts (default 3)
	UserAgent   string
	HTTPClient  *http.Client
}

// Client is a GitHub API client.
type Client struct {
	baseURL     string
	graphqlURL  string
	token       string
	userAgent   string
	httpClient  *http.Client
	maxAttempts int
}

// NewClient creates a client. Zero-value or negative fields in opts receive
// defaults (60s timeout, 3 attempts).
func NewClient(opts ClientOptions) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse api URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("api URL must include scheme and host: %q", base)
	}
	gql := strings.TrimSpace(opts.GraphQLURL)
	if gql == "" {
		if base == DefaultBaseURL {
			gql = DefaultGraphQLURL
		} else {
			gql = base + "/graphql"
		}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "metastore"
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		baseURL:     base,
		graphqlURL:  gql,
		token:       strings.TrimSpace(opts.Token),
		userAgent:   opts.UserAgent,
		httpClient:  hc,
		maxAttempts: opts.MaxAttempts,
	}, nil
}

func repoPath(r gitgraph.Repository) string {
	return "/repos/" + url.PathEscape(r.Owner) + "/" + url.PathEscape(r.Name)
}

// escapePath escapes each segment of a slash-separated path.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

// GetRef resolves a branch to its tip commit.
func (c *Client) GetRef(ctx context.Context, r gitgraph.Repository, branch string) (object.Hash, error) {
	var resp struct {
		Object struct {
			SHA  string `json:"sha"`
			Type string `json:"type"`
		} `json:"object"`
	}
	err := c.doJSON(ctx, http.MethodGet, repoPath(r)+"/git/ref/heads/"+escapePath(branch), nil, &resp, http.StatusOK)
	if re, ok := hasStatus(err, http.StatusNotFound); ok {
		return "", fmt.Errorf("%w: %s has no branch %q: %v", metastore.ErrRefNotFound, r, branch, re)
	}
	if err != nil {
		return "", err
	}
	return validHash(resp.Object.SHA)
}

// GetCommit returns a commit's tree and parents.
func (c *Client) GetCommit(ctx context.Context, r gitgraph.Repository, sha object.Hash) (*gitgraph.CommitInfo, error) {
	var resp struct {
		SHA  string `json:"sha"`
		Tree struct {
			SHA string `json:"sha"`
		} `json:"tree"`
		Parents []struct {
			SHA string `json:"sha"`
		} `json:"parents"`
	}
	err := c.doJSON(ctx, http.MethodGet, repoPath(r)+"/git/commits/"+url.PathEscape(string(sha)), nil, &resp, http.StatusOK)
	if re, ok := hasStatus(err, http.StatusNotFound); ok {
		return nil, fmt.Errorf("%w: commit %s: %v", metastore.ErrNotFound, sha, re)
	}
	if err != nil {
		return nil, err
	}
	tree, err := validHash(resp.Tree.SHA)
	if err != nil {
		return nil, err
	}
	info := &gitgraph.CommitInfo{SHA: sha, Tree: tree}
	for _, p := range resp.Parents {
		h, err := validHash(p.SHA)
		if err != nil {
			return nil, err
		}
		info.Parents = append(info.Parents, h)
	}
	return info, nil
}

// CreateBlob uploads one blob. encoding is "base64" or "utf-8".
func (c *Client) CreateBlob(ctx context.Context, r gitgraph.Repository, content, encoding string) (object.Hash, error) {
	req := struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}{content, encoding}
	var resp struct {
		SHA string `json:"sha"`
	}
	if err := c.doJSON(ctx, http.MethodPost, repoPath(r)+"/git/blobs", req, &resp, http.StatusCreated); err != nil {
		return "", err
	}
	return validHash(resp.SHA)
}

type treeEntryPayload struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

// CreateTree creates a tree from entries layered over baseTree.
func (c *Client) CreateTree(ctx context.Context, r gitgraph.Repository, entries []gitgraph.TreeEntry, baseTree object.Hash) (object.Hash, error) {
	req := struct {
		BaseTree string             `json:"base_tree,omitempty"`
		Tree     []treeEntryPayload `json:"tree"`
	}{
		BaseTree: string(baseTree),
		Tree:     make([]treeEntryPayload, 0, len(entries)),
	}
	for _, e := range entries {
		req.Tree = append(req.Tree, treeEntryPayload{
			Path: e.Path,
			Mode: e.Mode,
			Type: string(e.Type),
			SHA:  string(e.SHA),
		})
	}
	var resp struct {
		SHA string `json:"sha"`
	}
	if err := c.doJSON(ctx, http.MethodPost, repoPath(r)+"/git/trees", req, &resp, http.StatusCreated); err != nil {
		return "", err
	}
	return validHash(resp.SHA)
}

type identityPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Date  string `json:"date,omitempty"`
}

func identity(s *object.Signature) *identityPayload {
	if s == nil {
		return nil
	}
	p := &identityPayload{Name: s.Name, Email: s.Email}
	if !s.When.IsZero() {
		p.Date = s.When.Format(time.RFC3339)
	}
	return p
}

// CreateCommit creates a commit object.
func (c *Client) CreateCommit(ctx context.Context, r gitgraph.Repository, nc gitgraph.NewCommit) (object.Hash, error) {
	req := struct {
		Message   string           `json:"message"`
		Tree      string           `json:"tree"`
		Parents   []string         `json:"parents"`
		Author    *identityPayload `json:"author,omitempty"`
		Committer *identityPayload `json:"committer,omitempty"`
		Signature string           `json:"signature,omitempty"`
	}{
		Message:   nc.Message,
		Tree:      string(nc.Tree),
		Parents:   make([]string, 0, len(nc.Parents)),
		Author:    identity(nc.Author),
		Committer: identity(nc.Committer),
		Signature: nc.Signature,
	}
	for _, p := range nc.Parents {
		req.Parents = append(req.Parents, string(p))
	}
	var resp struct {
		SHA string `json:"sha"`
	}
	if err := c.doJSON(ctx, http.MethodPost, repoPath(r)+"/git/commits", req, &resp, http.StatusCreated); err != nil {
		return "", err
	}
	return validHash(resp.SHA)
}

// UpdateRef moves a branch to sha. The update is not forced, so the host
// rejects moves that are not fast-forwards.
func (c *Client) UpdateRef(ctx context.Context, r gitgraph.Repository, branch string, sha object.Hash) error {
	req := struct {
		SHA   string `json:"sha"`
		Force bool   `json:"force"`
	}{SHA: string(sha)}
	err := c.doJSON(ctx, http.MethodPatch, repoPath(r)+"/git/refs/heads/"+escapePath(branch), req, nil, http.StatusOK)
	if re, ok := hasStatus(err, http.StatusUnprocessableEntity); ok && re.contains("fast forward") {
		return fmt.Errorf("%w: %v", metastore.ErrConflict, re)
	}
	return err
}

// CreateRepo creates an organization repository initialized with a README.
// A repository that already exists is not an error.
func (c *Client) CreateRepo(ctx context.Context, r gitgraph.Repository, opts gitgraph.RepoOptions) error {
	req := struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Private     bool   `json:"private"`
		AutoInit    bool   `json:"auto_init"`
	}{r.Name, opts.Description, opts.Private, true}
	err := c.doJSON(ctx, http.MethodPost, "/orgs/"+url.PathEscape(r.Owner)+"/repos", req, nil, http.StatusCreated)
	if re, ok := hasStatus(err, http.StatusUnprocessableEntity); ok && re.contains("already exists") {
		return nil
	}
	return err
}

// DeleteRepo deletes a repository.
func (c *Client) DeleteRepo(ctx context.Context, r gitgraph.Repository) error {
	err := c.doJSON(ctx, http.MethodDelete, repoPath(r), nil, nil, http.StatusNoContent)
	if re, ok := hasStatus(err, http.StatusNotFound); ok {
		return fmt.Errorf("%w: repository %s: %v", metastore.ErrNotFound, r, re)
	}
	return err
}

// DeleteFile removes one file through the contents API, which commits the
// removal on the branch.
func (c *Client) DeleteFile(ctx context.Context, r gitgraph.Repository, req gitgraph.DeleteFileRequest) error {
	contentsPath := repoPath(r) + "/contents/" + escapePath(req.Path)

	var file struct {
		SHA  string `json:"sha"`
		Type string `json:"type"`
	}
	err := c.doJSON(ctx, http.MethodGet, contentsPath+"?ref="+url.QueryEscape(req.Branch), nil, &file, http.StatusOK)
	if re, ok := hasStatus(err, http.StatusNotFound); ok {
		return fmt.Errorf("%w: %s has no file %q on branch %q: %v", metastore.ErrNotFound, r, req.Path, req.Branch, re)
	}
	if err != nil {
		return err
	}
	if file.Type != "" && file.Type != "file" {
		return fmt.Errorf("%w: %q is a %s, not a file", metastore.ErrValidation, req.Path, file.Type)
	}

	message := req.Message
	if message == "" {
		message = "Delete " + req.Path
	}
	body := struct {
		Message string           `json:"message"`
		SHA     string           `json:"sha"`
		Branch  string           `json:"branch,omitempty"`
		Author  *identityPayload `json:"author,omitempty"`
	}{message, file.SHA, req.Branch, identity(req.Author)}
	return c.doJSON(ctx, http.MethodDelete, contentsPath, body, nil, http.StatusOK)
}

// doJSON sends in as a JSON body (when non-nil) and decodes the response into
// out (when non-nil). Unexpected statuses become *RemoteError.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any, expectedStatus int) error {
	return c.doURL(ctx, method, c.baseURL+path, in, out, expectedStatus, responseLimitDefault)
}

func (c *Client) doURL(ctx context.Context, method, rawURL string, in, out any, expectedStatus int, maxBytes int64) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", method, err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.applyHeaders(req)

	resp, err := retryDo(c.httpClient, req, c.maxAttempts)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", metastore.ErrTransport, method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return fmt.Errorf("%w: read %s %s: %v", metastore.ErrTransport, method, req.URL.Path, err)
	}
	if resp.StatusCode != expectedStatus {
		return parseRemoteError(resp.StatusCode, method, req.URL.Path, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s %s response: %v", metastore.ErrTransport, method, req.URL.Path, err)
	}
	return nil
}

func (c *Client) applyHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func validHash(s string) (object.Hash, error) {
	h := object.Hash(strings.TrimSpace(s))
	if err := object.ValidateHash(h); err != nil {
		return "", fmt.Errorf("%w: invalid object id in response: %v", metastore.ErrTransport, err)
	}
	return h, nil
}
