package object

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestMarshalUnmarshalBlob(t *testing.T) {
	orig := &Blob{Data: []byte("hello world\nline two")}
	data := MarshalBlob(orig)
	got, err := UnmarshalBlob(data)
	if err != nil {
		t.Fatalf("UnmarshalBlob: %v", err)
	}
	if !bytes.Equal(got.Data, orig.Data) {
		t.Errorf("Blob round-trip mismatch: got %q, want %q", got.Data, orig.Data)
	}
}

func TestMarshalTreeGitOrder(t *testing.T) {
	h := HashObject(TypeBlob, []byte("x"))
	tr := &TreeObj{Entries: []TreeEntry{
		{Name: "a", Mode: TreeModeDir, Hash: h},
		{Name: "a.txt", Mode: TreeModeFile, Hash: h},
		{Name: "README.md", Mode: TreeModeFile, Hash: h},
	}}
	data, err := MarshalTree(tr)
	if err != nil {
		t.Fatalf("MarshalTree: %v", err)
	}
	got, err := UnmarshalTree(data)
	if err != nil {
		t.Fatalf("UnmarshalTree: %v", err)
	}
	var names []string
	for _, e := range got.Entries {
		names = append(names, e.Name)
	}
	// "a.txt" sorts before the directory "a" because Git compares it as "a/".
	want := "README.md,a.txt,a"
	if strings.Join(names, ",") != want {
		t.Fatalf("order = %v, want %s", names, want)
	}
	if !got.Entries[2].IsDir() {
		t.Fatalf("entry %q should be a directory", got.Entries[2].Name)
	}
}

func TestMarshalTreeRejectsBadHash(t *testing.T) {
	_, err := MarshalTree(&TreeObj{Entries: []TreeEntry{{Name: "f", Mode: TreeModeFile, Hash: "nothex"}}})
	if err == nil {
		t.Fatal("expected error for invalid hash")
	}
}

func TestEmptyTreeHash(t *testing.T) {
	data, err := MarshalTree(&TreeObj{})
	if err != nil {
		t.Fatalf("MarshalTree: %v", err)
	}
	if got := HashObject(TypeTree, data); got != "4b825dc642cb6eb9a060e54bf8d69288fbee4904" {
		t.Fatalf("empty tree hash = %s", got)
	}
}

func TestMarshalUnmarshalCommit(t *testing.T) {
	when := time.Unix(1700000000, 0).UTC()
	orig := &CommitObj{
		TreeHash:  "4b825dc642cb6eb9a060e54bf8d69288fbee4904",
		Parents:   []Hash{"ce013625030ba8dba906f756967f9e9ca394464a"},
		Author:    Signature{Name: "Jane Doe", Email: "jane@example.com", When: when},
		Committer: Signature{Name: "Jane Doe", Email: "jane@example.com", When: when},
		Signature: "-----BEGIN SSH SIGNATURE-----\nAAAA\n-----END SSH SIGNATURE-----",
		Message:   "Add new package\n",
	}
	data := MarshalCommit(orig)
	if !bytes.Contains(data, []byte("author Jane Doe <jane@example.com> 1700000000 +0000\n")) {
		t.Fatalf("author line missing from:\n%s", data)
	}
	if !bytes.Contains(data, []byte("gpgsig -----BEGIN SSH SIGNATURE-----\n AAAA\n -----END SSH SIGNATURE-----\n")) {
		t.Fatalf("gpgsig header not folded:\n%s", data)
	}

	got, err := UnmarshalCommit(data)
	if err != nil {
		t.Fatalf("UnmarshalCommit: %v", err)
	}
	if got.TreeHash != orig.TreeHash || len(got.Parents) != 1 || got.Parents[0] != orig.Parents[0] {
		t.Fatalf("tree/parents mismatch: %+v", got)
	}
	if got.Author.Name != "Jane Doe" || got.Author.Email != "jane@example.com" || got.Author.When.Unix() != when.Unix() {
		t.Fatalf("author mismatch: %+v", got.Author)
	}
	if got.Signature != orig.Signature {
		t.Fatalf("signature = %q, want %q", got.Signature, orig.Signature)
	}
	if got.Message != orig.Message {
		t.Fatalf("message = %q, want %q", got.Message, orig.Message)
	}
}

func TestCommitSigningPayloadExcludesSignature(t *testing.T) {
	c := &CommitObj{
		TreeHash:  "4b825dc642cb6eb9a060e54bf8d69288fbee4904",
		Signature: "sig",
		Message:   "m",
	}
	payload := CommitSigningPayload(c)
	if bytes.Contains(payload, []byte("gpgsig")) {
		t.Fatalf("payload contains signature:\n%s", payload)
	}
	if c.Signature != "sig" {
		t.Fatal("CommitSigningPayload mutated its input")
	}
}

func TestParseSignatureErrors(t *testing.T) {
	for _, in := range []string{"no email 123 +0000", "A <a@b> notanumber +0000", "A <a@b> 12"} {
		if _, err := ParseSignature(in); err == nil {
			t.Errorf("ParseSignature(%q): expected error", in)
		}
	}
}
