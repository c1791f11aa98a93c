package diff

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/odvcencio/metastore/pkg/backend/docstore"
	"github.com/odvcencio/metastore/pkg/backend/filesystem"
	"github.com/odvcencio/metastore/pkg/metastore"
)

func TestMetadataChanges(t *testing.T) {
	before := metastore.Metadata{
		"name":       "pkg",
		"title":      "Old",
		"homepage":   "https://example.com",
		"revision":   0,
		"revisionId": "rev-1",
	}
	after := metastore.Metadata{
		"name":       "pkg",
		"title":      "New",
		"keywords":   []any{"a", "b"},
		"revision":   1,
		"revisionId": "rev-2",
	}

	changes, err := Metadata(before, after)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	got := describe(changes)
	want := "removed:homepage modified:title added:keywords"
	if got != want {
		t.Fatalf("changes = %q, want %q", got, want)
	}
	if string(changes[1].Before) != `"Old"` || string(changes[1].After) != `"New"` {
		t.Fatalf("title values = %s -> %s", changes[1].Before, changes[1].After)
	}
}

func TestMetadataUnchanged(t *testing.T) {
	md := metastore.Metadata{"name": "pkg", "resources": []any{map[string]any{"path": "a.csv"}}}
	changes, err := Metadata(md, md)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if len(changes) != 0 {
		t.Fatalf("expected no changes, got %s", describe(changes))
	}
}

func TestLines(t *testing.T) {
	lines := Lines([]byte("a\nb\nc\n"), []byte("a\nx\nc\nd\n"))
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(map[LineType]string{Equal: " ", Insert: "+", Delete: "-"}[l.Type] + l.Content + "|")
	}
	if got, want := b.String(), " a|-b|+x| c|+d|"; got != want {
		t.Fatalf("Lines = %q, want %q", got, want)
	}

	if got := Lines(nil, []byte("x\n")); len(got) != 1 || got[0].Type != Insert {
		t.Fatalf("Lines(empty, x) = %+v", got)
	}
	if got := Lines([]byte("x\n"), nil); len(got) != 1 || got[0].Type != Delete {
		t.Fatalf("Lines(x, empty) = %+v", got)
	}
	if got := Lines(nil, nil); got != nil {
		t.Fatalf("Lines(empty, empty) = %+v", got)
	}
}

func TestFormat(t *testing.T) {
	d, err := Objects(
		&metastore.ObjectInfo{ObjectID: "owner/pkg", RevisionID: "rev-1", Metadata: metastore.Metadata{"title": "Old", "homepage": "h"}},
		&metastore.ObjectInfo{ObjectID: "owner/pkg", RevisionID: "rev-2", Metadata: metastore.Metadata{"title": "New", "version": "1.0"}},
	)
	if err != nil {
		t.Fatalf("Objects: %v", err)
	}

	summary := FormatSummary(d)
	for _, want := range []string{
		"owner/pkg rev-1..rev-2:",
		"  - homepage     (removed)",
		"  ~ title     (modified)",
		"  + version     (added)",
	} {
		if !strings.Contains(summary, want) {
			t.Fatalf("summary missing %q:\n%s", want, summary)
		}
	}

	lines := FormatLines(d)
	want := "--- a/datapackage.json::title\n+++ b/datapackage.json::title\n-\"Old\"\n+\"New\"\n"
	if !strings.Contains(lines, want) {
		t.Fatalf("line diff missing title hunk:\n%s", lines)
	}
	if !strings.Contains(lines, "+++ b/datapackage.json::version\n+\"1.0\"\n") {
		t.Fatalf("line diff missing added key:\n%s", lines)
	}
	if strings.Contains(lines, "--- a/datapackage.json::version") {
		t.Fatalf("added key must not have a --- header:\n%s", lines)
	}

	if FormatSummary(&MetadataDiff{}) != "" {
		t.Fatal("empty diff should format as empty string")
	}
}

func describe(changes []KeyChange) string {
	parts := make([]string, 0, len(changes))
	for _, c := range changes {
		parts = append(parts, c.Type.String()+":"+c.Key)
	}
	return strings.Join(parts, " ")
}

func TestRevisions(t *testing.T) {
	ctx := context.Background()
	b, err := filesystem.New(t.TempDir(), docstore.Config{})
	if err != nil {
		t.Fatal(err)
	}
	created, err := b.Create(ctx, "pkg", metastore.Metadata{"title": "Old"}, metastore.CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Update(ctx, "pkg", metastore.Metadata{"title": "New"}, metastore.UpdateOptions{}); err != nil {
		t.Fatal(err)
	}

	d, err := Revisions(ctx, b, "pkg", created.RevisionID, "")
	if err != nil {
		t.Fatalf("Revisions: %v", err)
	}
	if got := describe(d.Changes); got != "modified:title" {
		t.Fatalf("changes = %q", got)
	}
	if d.From != created.RevisionID || d.To == "" || d.To == d.From {
		t.Fatalf("revisions = %s..%s", d.From, d.To)
	}

	if _, err := Revisions(ctx, b, "pkg", "", ""); !errors.Is(err, metastore.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if _, err := Revisions(ctx, b, "pkg", "missing", ""); !errors.Is(err, metastore.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}
