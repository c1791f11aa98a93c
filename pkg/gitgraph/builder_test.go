package gitgraph_test

import (
	"context"
	"encoding/base64"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/odvcencio/metastore/pkg/fileset"
	"github.com/odvcencio/metastore/pkg/gitgraph"
	"github.com/odvcencio/metastore/pkg/memhost"
	"github.com/odvcencio/metastore/pkg/metastore"
	"github.com/odvcencio/metastore/pkg/object"
)

const (
	oidA = "0f1128046248f83dc9b9ab187e16fad0ff596128f1524d05a9a77c4ad932f10a"
	oidB = "b5bb9d8014a0f9b1d61e21e796d78dccdf1352f23cd32812f4850b878ae4944c"
)

var testRepo = gitgraph.Repository{Owner: "datopian", Name: "pkg"}

func fixedNow() time.Time {
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}

func newHost(t *testing.T) *memhost.Host {
	t.Helper()
	h := memhost.New()
	h.Now = fixedNow
	if err := h.CreateRepo(context.Background(), testRepo, gitgraph.RepoOptions{Description: "test"}); err != nil {
		t.Fatalf("CreateRepo: %v", err)
	}
	return h
}

func tip(t *testing.T, h *memhost.Host) object.Hash {
	t.Helper()
	sha, err := h.GetRef(context.Background(), testRepo, "main")
	if err != nil {
		t.Fatalf("GetRef: %v", err)
	}
	return sha
}

func readFile(t *testing.T, h *memhost.Host, path string) string {
	t.Helper()
	data, err := h.ReadFile(context.Background(), testRepo, "main", path)
	if err != nil {
		t.Fatalf("ReadFile(%s): %v", path, err)
	}
	return string(data)
}

func lfsPackage() metastore.Metadata {
	return metastore.Metadata{
		"name": "Test Package",
		"resources": []any{
			map[string]any{"path": "data/a.csv", "hash": oidA, "bytes": 1234},
			map[string]any{"path": "data/b.csv", "hash": oidB, "bytes": 99},
			map[string]any{"path": "https://example.com/remote.csv", "hash": oidA, "bytes": 1},
		},
	}
}

func strPtr(s string) *string { return &s }

func TestCommitPublishesFileSet(t *testing.T) {
	ctx := context.Background()
	host := newHost(t)
	before := tip(t, host)

	b := &gitgraph.Builder{Store: host, LFSServerURL: "https://lfs.example.com/datopian/pkg", Now: fixedNow}
	res, err := b.Commit(ctx, gitgraph.CommitRequest{
		Repo:   testRepo,
		Branch: "main",
		Files:  fileset.FileSet{Metadata: lfsPackage(), ReadMe: strPtr("# Test\n")},
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	wantPaths := []string{"datapackage.json", ".gitattributes", ".lfsconfig", "README.md", "data/a.csv", "data/b.csv"}
	if !reflect.DeepEqual(res.Paths, wantPaths) {
		t.Errorf("Paths = %v, want %v", res.Paths, wantPaths)
	}
	if len(res.Blobs) != 6 {
		t.Errorf("Blobs = %d, want 6", len(res.Blobs))
	}
	if res.Ref.Parent != before {
		t.Errorf("Parent = %s, want %s", res.Ref.Parent, before)
	}

	after := tip(t, host)
	if after != res.Commit {
		t.Fatalf("branch at %s, want %s", after, res.Commit)
	}
	commit, err := host.ReadCommit(ctx, testRepo, after)
	if err != nil {
		t.Fatalf("ReadCommit: %v", err)
	}
	if !reflect.DeepEqual(commit.Parents, []object.Hash{before}) {
		t.Errorf("Parents = %v, want [%s]", commit.Parents, before)
	}
	if commit.Message != gitgraph.DefaultCommitMessage {
		t.Errorf("Message = %q", commit.Message)
	}
	if commit.TreeHash != res.Ref.Tree {
		t.Errorf("TreeHash = %s, want %s", commit.TreeHash, res.Ref.Tree)
	}

	if got, want := readFile(t, host, "data/a.csv"), "version https://git-lfs.github.com/spec/v1\noid sha256:"+oidA+"\nsize 1234\n"; got != want {
		t.Errorf("pointer = %q, want %q", got, want)
	}
	if got, want := readFile(t, host, ".gitattributes"),
		"data/a.csv filter=lfs diff=lfs merge=lfs -text\ndata/b.csv filter=lfs diff=lfs merge=lfs -text\n"; got != want {
		t.Errorf(".gitattributes = %q, want %q", got, want)
	}
	if got, want := readFile(t, host, ".lfsconfig"), "[remote \"origin\"]\n\tlfsurl = https://lfs.example.com/datopian/pkg"; got != want {
		t.Errorf(".lfsconfig = %q, want %q", got, want)
	}
}

func TestCommitOverlaysPreviousTree(t *testing.T) {
	ctx := context.Background()
	host := newHost(t)
	b := &gitgraph.Builder{Store: host}

	if _, err := b.Commit(ctx, gitgraph.CommitRequest{
		Repo:   testRepo,
		Branch: "main",
		Files:  fileset.FileSet{Metadata: metastore.Metadata{"name": "x"}},
	}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// README.md from the initial commit is untouched.
	if got := readFile(t, host, "README.md"); got != "# pkg\n" {
		t.Errorf("README.md = %q", got)
	}

	snap, err := host.GetRepository(ctx, testRepo, "main")
	if err != nil {
		t.Fatalf("GetRepository: %v", err)
	}
	md, err := gitgraph.ReadMetadata(snap)
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if md["name"] != "x" {
		t.Errorf("name = %v", md["name"])
	}
}

func TestCommitUsesMessageAndAuthor(t *testing.T) {
	ctx := context.Background()
	host := newHost(t)
	b := &gitgraph.Builder{Store: host, Now: fixedNow}

	res, err := b.Commit(ctx, gitgraph.CommitRequest{
		Repo:    testRepo,
		Branch:  "main",
		Files:   fileset.FileSet{Metadata: metastore.Metadata{"name": "x"}},
		Message: "Update package",
		Author:  &metastore.Author{Name: "Jane", Email: "jane@example.com"},
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	commit, err := host.ReadCommit(ctx, testRepo, res.Commit)
	if err != nil {
		t.Fatalf("ReadCommit: %v", err)
	}
	if commit.Message != "Update package" {
		t.Errorf("Message = %q", commit.Message)
	}
	if commit.Author.Name != "Jane" || commit.Committer.Email != "jane@example.com" {
		t.Errorf("author = %+v, committer = %+v", commit.Author, commit.Committer)
	}
	if !commit.Author.When.Equal(fixedNow()) {
		t.Errorf("When = %v, want %v", commit.Author.When, fixedNow())
	}
}

func TestCommitMissingBranch(t *testing.T) {
	host := newHost(t)
	b := &gitgraph.Builder{Store: host}

	_, err := b.Commit(context.Background(), gitgraph.CommitRequest{
		Repo:   testRepo,
		Branch: "does-not-exist",
		Files:  fileset.FileSet{Metadata: metastore.Metadata{}},
	})
	if !errors.Is(err, metastore.ErrRefNotFound) {
		t.Fatalf("err = %v, want ErrRefNotFound", err)
	}
	if n := host.BlobCount(); n != 0 {
		t.Errorf("BlobCount = %d, want 0", n)
	}
}

func TestCommitMaterializeErrorBeforeAnyWrite(t *testing.T) {
	ctx := context.Background()
	host := newHost(t)
	b := &gitgraph.Builder{Store: host, LFSServerURL: "https://lfs.example.com"}

	cases := []struct {
		second string
		want   error
	}{
		{"data/a.csv", metastore.ErrConflict},
		{"../escape.csv", metastore.ErrValidation},
		{"data//a.csv", metastore.ErrValidation},
		{"data/./a.csv", metastore.ErrValidation},
		{"./data/a.csv", metastore.ErrValidation},
		{"data/a.csv/", metastore.ErrValidation},
	}
	for _, tc := range cases {
		md := metastore.Metadata{"resources": []any{
			map[string]any{"path": "data/a.csv", "hash": oidA, "bytes": 1},
			map[string]any{"path": tc.second, "hash": oidB, "bytes": 2},
		}}
		_, err := b.Commit(ctx, gitgraph.CommitRequest{Repo: testRepo, Branch: "main", Files: fileset.FileSet{Metadata: md}})
		if !errors.Is(err, tc.want) {
			t.Errorf("%q: err = %v, want %v", tc.second, err, tc.want)
		}
	}
	if n := host.BlobCount(); n != 0 {
		t.Errorf("BlobCount = %d, want 0", n)
	}
	if _, err := host.ReadFile(ctx, testRepo, "main", "data/a.csv"); !errors.Is(err, metastore.ErrNotFound) {
		t.Errorf("data/a.csv was written: %v", err)
	}
}

func TestCommitBlobFailureLeavesBranchUntouched(t *testing.T) {
	host := newHost(t)
	before := tip(t, host)

	host.FailBlobAfter(2)
	b := &gitgraph.Builder{Store: host, LFSServerURL: "https://lfs.example.com", BlobConcurrency: 1}
	_, err := b.Commit(context.Background(), gitgraph.CommitRequest{
		Repo:   testRepo,
		Branch: "main",
		Files:  fileset.FileSet{Metadata: lfsPackage()},
	})
	if !errors.Is(err, metastore.ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
	if after := tip(t, host); after != before {
		t.Errorf("branch moved from %s to %s", before, after)
	}
}

// wrongBlobStore returns a bogus id for every blob.
type wrongBlobStore struct {
	*memhost.Host
}

func (s wrongBlobStore) CreateBlob(ctx context.Context, repo gitgraph.Repository, content, encoding string) (object.Hash, error) {
	if _, err := s.Host.CreateBlob(ctx, repo, content, encoding); err != nil {
		return "", err
	}
	return object.HashObject(object.TypeBlob, []byte("something else")), nil
}

func TestCommitRejectsMismatchedBlobID(t *testing.T) {
	b := &gitgraph.Builder{Store: wrongBlobStore{newHost(t)}}

	_, err := b.Commit(context.Background(), gitgraph.CommitRequest{
		Repo:   testRepo,
		Branch: "main",
		Files:  fileset.FileSet{Metadata: metastore.Metadata{"name": "x"}},
	})
	if !errors.Is(err, metastore.ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
}

// recordingStore counts calls per step.
type recordingStore struct {
	*memhost.Host
	mu    sync.Mutex
	calls []string
}

func (s *recordingStore) record(name string) {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	s.mu.Unlock()
}

func (s *recordingStore) CreateTree(ctx context.Context, repo gitgraph.Repository, entries []gitgraph.TreeEntry, base object.Hash) (object.Hash, error) {
	s.record("tree")
	return s.Host.CreateTree(ctx, repo, entries, base)
}

func (s *recordingStore) CreateCommit(ctx context.Context, repo gitgraph.Repository, c gitgraph.NewCommit) (object.Hash, error) {
	s.record("commit")
	return s.Host.CreateCommit(ctx, repo, c)
}

func (s *recordingStore) UpdateRef(ctx context.Context, repo gitgraph.Repository, branch string, sha object.Hash) error {
	s.record("ref")
	return s.Host.UpdateRef(ctx, repo, branch, sha)
}

func TestCommitStepOrder(t *testing.T) {
	store := &recordingStore{Host: newHost(t)}
	b := &gitgraph.Builder{Store: store}

	_, err := b.Commit(context.Background(), gitgraph.CommitRequest{
		Repo:   testRepo,
		Branch: "main",
		Files:  fileset.FileSet{Metadata: metastore.Metadata{"name": "x"}, ReadMe: strPtr("hi")},
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if want := []string{"tree", "commit", "ref"}; !reflect.DeepEqual(store.calls, want) {
		t.Errorf("calls = %v, want %v", store.calls, want)
	}
	if n := store.BlobCount(); n != 2 {
		t.Errorf("BlobCount = %d, want 2", n)
	}
}

func TestCommitSignsPayload(t *testing.T) {
	ctx := context.Background()
	host := newHost(t)

	var payload []byte
	b := &gitgraph.Builder{
		Store: host,
		Now:   fixedNow,
		Signer: func(p []byte) (string, error) {
			payload = append([]byte(nil), p...)
			return "-----BEGIN SSH SIGNATURE-----\nabc\n-----END SSH SIGNATURE-----", nil
		},
	}
	res, err := b.Commit(ctx, gitgraph.CommitRequest{
		Repo:   testRepo,
		Branch: "main",
		Files:  fileset.FileSet{Metadata: metastore.Metadata{"name": "x"}},
		Author: &metastore.Author{Name: "Jane", Email: "jane@example.com"},
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	commit, err := host.ReadCommit(ctx, testRepo, res.Commit)
	if err != nil {
		t.Fatalf("ReadCommit: %v", err)
	}
	if !strings.Contains(commit.Signature, "BEGIN SSH SIGNATURE") {
		t.Errorf("Signature = %q", commit.Signature)
	}
	if got := string(object.CommitSigningPayload(commit)); got != string(payload) {
		t.Errorf("signed payload mismatch:\n got %q\nwant %q", payload, got)
	}
}

func TestCommitSignerNeedsAuthor(t *testing.T) {
	ctx := context.Background()
	b := &gitgraph.Builder{
		Store:  newHost(t),
		Signer: func([]byte) (string, error) { return "sig", nil },
	}
	_, err := b.Commit(ctx, gitgraph.CommitRequest{
		Repo:   testRepo,
		Branch: "main",
		Files:  fileset.FileSet{Metadata: metastore.Metadata{}},
	})
	if !errors.Is(err, metastore.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}

	b.Signer = func([]byte) (string, error) { return "", errors.New("agent unavailable") }
	_, err = b.Commit(ctx, gitgraph.CommitRequest{
		Repo:   testRepo,
		Branch: "main",
		Files:  fileset.FileSet{Metadata: metastore.Metadata{}},
		Author: &metastore.Author{Name: "Jane"},
	})
	if err == nil || !strings.Contains(err.Error(), "agent unavailable") {
		t.Fatalf("err = %v, want signer failure", err)
	}
}

func TestReadMetadataErrors(t *testing.T) {
	snap := &gitgraph.Snapshot{Repository: testRepo, Branch: "main"}
	if _, err := gitgraph.ReadMetadata(snap); !errors.Is(err, metastore.ErrMetadataNotFound) {
		t.Errorf("missing entry: err = %v, want ErrMetadataNotFound", err)
	}

	snap.Entries = []gitgraph.SnapshotEntry{{Name: "datapackage.json", Type: object.TypeBlob}}
	_, err := gitgraph.ReadMetadata(snap)
	if !errors.Is(err, metastore.ErrMalformedMetadata) || errors.Is(err, metastore.ErrMetadataNotFound) {
		t.Errorf("entry without text: err = %v, want ErrMalformedMetadata", err)
	}

	bad := "{not json"
	snap.Entries[0].Text = &bad
	if _, err := gitgraph.ReadMetadata(snap); !errors.Is(err, metastore.ErrMalformedMetadata) {
		t.Errorf("bad json: err = %v, want ErrMalformedMetadata", err)
	}

	good := `{"name":"ok","revision":3}`
	snap.Entries[0].Text = &good
	md, err := gitgraph.ReadMetadata(snap)
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if rev, ok := md.Revision(); !ok || rev != 3 {
		t.Errorf("Revision = %d, %v; want 3, true", rev, ok)
	}
}

func TestReadMetadataBinaryBlob(t *testing.T) {
	ctx := context.Background()
	host := newHost(t)
	parent := tip(t, host)
	base, err := host.GetCommit(ctx, testRepo, parent)
	if err != nil {
		t.Fatalf("GetCommit: %v", err)
	}

	blob, err := host.CreateBlob(ctx, testRepo, base64.StdEncoding.EncodeToString([]byte("\xff\xfe{")), "base64")
	if err != nil {
		t.Fatalf("CreateBlob: %v", err)
	}
	tree, err := host.CreateTree(ctx, testRepo, []gitgraph.TreeEntry{
		{Path: "datapackage.json", Mode: object.TreeModeFile, Type: object.TypeBlob, SHA: blob},
	}, base.Tree)
	if err != nil {
		t.Fatalf("CreateTree: %v", err)
	}
	commit, err := host.CreateCommit(ctx, testRepo, gitgraph.NewCommit{Message: "binary", Tree: tree, Parents: []object.Hash{parent}})
	if err != nil {
		t.Fatalf("CreateCommit: %v", err)
	}
	if err := host.UpdateRef(ctx, testRepo, "main", commit); err != nil {
		t.Fatalf("UpdateRef: %v", err)
	}

	snap, err := host.GetRepository(ctx, testRepo, "main")
	if err != nil {
		t.Fatalf("GetRepository: %v", err)
	}
	if _, err := gitgraph.ReadMetadata(snap); !errors.Is(err, metastore.ErrMalformedMetadata) {
		t.Fatalf("err = %v, want ErrMalformedMetadata", err)
	}
}
