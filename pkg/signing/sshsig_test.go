package signing

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/odvcencio/metastore/pkg/fileset"
	"github.com/odvcencio/metastore/pkg/gitgraph"
	"github.com/odvcencio/metastore/pkg/memhost"
	"github.com/odvcencio/metastore/pkg/metastore"
	"github.com/odvcencio/metastore/pkg/object"
)

func newTestKey(t *testing.T) (ed25519.PrivateKey, ssh.Signer) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return priv, signer
}

func TestSignVerifyRoundTrip(t *testing.T) {
	_, key := newTestKey(t)
	s := NewSigner(key)

	payload := []byte("tree 4b825dc642cb6eb9a060e54bf8d69288fbee4904\n\nmsg")
	armored, err := s.Sign(payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !strings.HasPrefix(armored, armorBegin+"\n") || !strings.HasSuffix(armored, armorEnd+"\n") {
		t.Fatalf("unexpected armor:\n%s", armored)
	}
	for _, line := range strings.Split(strings.TrimSpace(armored), "\n") {
		if len(line) > armorWidth {
			t.Fatalf("armor line longer than %d: %q", armorWidth, line)
		}
	}

	pub, err := Verify(armored, payload)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if string(pub.Marshal()) != string(key.PublicKey().Marshal()) {
		t.Fatal("verified key differs from signing key")
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	_, key := newTestKey(t)
	armored, err := NewSigner(key).Sign([]byte("payload"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if _, err := Verify(armored, []byte("payload!")); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("tampered payload: err = %v, want ErrBadSignature", err)
	}
	if _, err := Verify("not armored", []byte("payload")); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("bad armor: err = %v, want ErrBadSignature", err)
	}
}

func TestLoadSigner(t *testing.T) {
	priv, key := newTestKey(t)
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	s, resolved, err := LoadSigner(path)
	if err != nil {
		t.Fatalf("LoadSigner: %v", err)
	}
	if resolved != path {
		t.Fatalf("resolved = %q, want %q", resolved, path)
	}
	if string(s.PublicKey().Marshal()) != string(key.PublicKey().Marshal()) {
		t.Fatal("loaded key differs")
	}

	if _, _, err := LoadSigner(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing key")
	}
}

func TestSignedCommitVerifies(t *testing.T) {
	ctx := context.Background()
	_, key := newTestKey(t)
	host := memhost.New()
	repo := gitgraph.Repository{Owner: "org", Name: "signed"}
	if err := host.CreateRepo(ctx, repo, gitgraph.RepoOptions{}); err != nil {
		t.Fatalf("CreateRepo: %v", err)
	}

	b := &gitgraph.Builder{Store: host, Signer: NewSigner(key).Sign}
	res, err := b.Commit(ctx, gitgraph.CommitRequest{
		Repo:   repo,
		Branch: "main",
		Files:  fileset.FileSet{Metadata: metastore.Metadata{"name": "signed"}},
		Author: &metastore.Author{Name: "Jane", Email: "jane@example.com"},
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	commit, err := host.ReadCommit(ctx, repo, res.Commit)
	if err != nil {
		t.Fatalf("ReadCommit: %v", err)
	}
	if _, err := Verify(commit.Signature, object.CommitSigningPayload(commit)); err != nil {
		t.Fatalf("stored signature does not verify: %v", err)
	}
}
