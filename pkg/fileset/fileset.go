// Package fileset turns a data package's metadata, README and LFS
// side-channel files into the ordered list of transport-encoded files that a
// single commit writes.
package fileset

import (
	"encoding/base64"
	"fmt"
	"path"

	"github.com/odvcencio/metastore/pkg/lfs"
	"github.com/odvcencio/metastore/pkg/metastore"
)

// Side-channel file names written next to the metadata.
const (
	GitAttributesFile = ".gitattributes"
	LFSConfigFile     = ".lfsconfig"
)

// ContentType tags how a value is serialized before transport encoding.
type ContentType string

const (
	JSON ContentType = "json"
	Text ContentType = "string"
)

// FileSet is the unit submitted for a commit.
type FileSet struct {
	Metadata metastore.Metadata
	ReadMe   *string
}

// Entry is one file to commit. Content is base64 encoded.
type Entry struct {
	Path    string
	Content string
}

// Encode serializes value according to ct and base64-encodes the bytes. JSON
// values are pretty-printed with two-space indentation.
func Encode(value any, ct ContentType) (string, error) {
	switch ct {
	case JSON:
		raw, err := metastore.MarshalPretty(value)
		if err != nil {
			return "", fmt.Errorf("%w: encode json: %v", metastore.ErrValidation, err)
		}
		return base64.StdEncoding.EncodeToString(raw), nil
	case Text:
		s, ok := value.(string)
		if !ok {
			return "", fmt.Errorf("%w: %s content must be a string, got %T", metastore.ErrUnsupportedContentType, ct, value)
		}
		return base64.StdEncoding.EncodeToString([]byte(s)), nil
	default:
		return "", fmt.Errorf("%w: %q", metastore.ErrUnsupportedContentType, ct)
	}
}

// Decode returns the raw bytes of an entry.
func Decode(e Entry) ([]byte, error) {
	return base64.StdEncoding.DecodeString(e.Content)
}

// Materialize produces the files for fs in commit order: datapackage.json,
// then (when LFS is in play) .gitattributes and .lfsconfig, then README.md if
// supplied, then one pointer file per LFS resource.
func Materialize(fs FileSet, lfsServerURL string) ([]Entry, error) {
	metadata := fs.Metadata
	if metadata == nil {
		metadata = metastore.Metadata{}
	}

	classification, err := lfs.Classify(metadata, lfsServerURL)
	if err != nil {
		return nil, err
	}

	b := &builder{seen: make(map[string]struct{})}
	b.add(metastore.MetadataFile, metadata, JSON)

	if classification == lfs.NoLFSFiles {
		if fs.ReadMe != nil {
			b.add(metastore.ReadMeFile, *fs.ReadMe, Text)
		}
		return b.finish()
	}

	b.add(GitAttributesFile, classification.GitAttributes, Text)
	b.add(LFSConfigFile, classification.LFSConfig, Text)
	if fs.ReadMe != nil {
		b.add(metastore.ReadMeFile, *fs.ReadMe, Text)
	}
	for _, pf := range classification.PointerFiles {
		b.add(pf.Path, pf.Content, Text)
	}
	return b.finish()
}

type builder struct {
	entries []Entry
	seen    map[string]struct{}
	err     error
}

func (b *builder) add(name string, value any, ct ContentType) {
	if b.err != nil {
		return
	}
	if name != path.Clean(name) || path.IsAbs(name) {
		b.err = fmt.Errorf("%w: file path is not canonical: %q", metastore.ErrValidation, name)
		return
	}
	if _, dup := b.seen[name]; dup {
		b.err = fmt.Errorf("%w: more than one file would be written to %q", metastore.ErrConflict, name)
		return
	}
	content, err := Encode(value, ct)
	if err != nil {
		b.err = fmt.Errorf("encode %s: %w", name, err)
		return
	}
	b.seen[name] = struct{}{}
	b.entries = append(b.entries, Entry{Path: name, Content: content})
}

func (b *builder) finish() ([]Entry, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.entries, nil
}
