// Package lfs decides which data-package resources are stored through Git LFS
// and generates the files that make Git track them there: .gitattributes,
// .lfsconfig and one pointer file per resource.
package lfs

import (
	"fmt"
	"strings"

	"github.com/odvcencio/metastore/pkg/metastore"
)

// Resource attribute names, as data-package descriptors spell them.
const (
	attrPath  = "path"
	attrHash  = "hash"
	attrBytes = "bytes"
)

var remoteSchemes = []string{"http://", "https://", "ftp://", "s3://", "gs://"}

// IsTrackableResource reports whether res points at a local file: its path is
// a string and not a remote URL. Inline data, URL resources and multi-part
// paths are not trackable.
func IsTrackableResource(res map[string]any) bool {
	p, ok := res[attrPath].(string)
	if !ok {
		return false
	}
	lower := strings.ToLower(p)
	for _, scheme := range remoteSchemes {
		if strings.HasPrefix(lower, scheme) {
			return false
		}
	}
	return true
}

// HasStorageAttributes reports whether res carries the content hash and the
// integer byte size needed to write a pointer file.
func HasStorageAttributes(res map[string]any) bool {
	if _, ok := res[attrHash].(string); !ok {
		return false
	}
	_, ok := metastore.AsInt(res[attrBytes])
	return ok
}

// PointerFile is a pointer committed at Path in place of the resource bytes.
type PointerFile struct {
	Path    string
	Content string
}

// Classification holds the side-channel files for a write that has LFS
// resources. PointerFiles follow the order of the metadata's resource list.
type Classification struct {
	PointerFiles  []PointerFile
	GitAttributes string
	LFSConfig     string
}

// NoLFSFiles is the result of Classify when nothing goes through LFS.
var NoLFSFiles *Classification

// Classify selects the resources to store through LFS at serverURL and builds
// their side-channel files. It returns NoLFSFiles when serverURL is empty or
// no resource qualifies. metadata is not modified.
func Classify(metadata metastore.Metadata, serverURL string) (*Classification, error) {
	if strings.TrimSpace(serverURL) == "" {
		return NoLFSFiles, nil
	}

	var tracked []map[string]any
	for _, res := range metadata.Resources() {
		if IsTrackableResource(res) && HasStorageAttributes(res) {
			tracked = append(tracked, res)
		}
	}
	if len(tracked) == 0 {
		return NoLFSFiles, nil
	}

	paths := make([]string, 0, len(tracked))
	seen := make(map[string]struct{}, len(tracked))
	for _, res := range tracked {
		p := res[attrPath].(string)
		if err := checkPath(p); err != nil {
			return nil, err
		}
		if _, dup := seen[p]; dup {
			return nil, fmt.Errorf("%w: data package contains resources with conflicting file names (%s)", metastore.ErrConflict, p)
		}
		seen[p] = struct{}{}
		paths = append(paths, p)
	}

	out := &Classification{
		PointerFiles:  make([]PointerFile, 0, len(tracked)),
		GitAttributes: BuildGitAttributes(paths),
		LFSConfig:     BuildLFSConfig(serverURL, ""),
	}
	for i, res := range tracked {
		size, _ := metastore.AsInt(res[attrBytes])
		content, err := BuildPointerFile(Pointer{OID: res[attrHash].(string), Size: size})
		if err != nil {
			return nil, fmt.Errorf("resource %q: %w", paths[i], err)
		}
		out.PointerFiles = append(out.PointerFiles, PointerFile{Path: paths[i], Content: content})
	}
	return out, nil
}

// checkPath accepts only canonical relative paths; two spellings of one file
// would otherwise both pass the duplicate check.
func checkPath(p string) error {
	if p == "" || strings.HasPrefix(p, "/") || strings.HasPrefix(p, `\`) {
		return fmt.Errorf("%w: resource path is empty or absolute: %q", metastore.ErrValidation, p)
	}
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return fmt.Errorf("%w: resource path contains parent dir references: %q", metastore.ErrValidation, p)
		}
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." {
			return fmt.Errorf("%w: resource path is not canonical: %q", metastore.ErrValidation, p)
		}
	}
	return nil
}
