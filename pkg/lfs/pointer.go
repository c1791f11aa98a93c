package lfs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/odvcencio/metastore/pkg/metastore"
	"github.com/odvcencio/metastore/pkg/object"
)

// PointerVersion is the version URL on the first line of every pointer.
const PointerVersion = "https://git-lfs.github.com/spec/v1"

// DefaultRemote is the remote named in .lfsconfig.
const DefaultRemote = "origin"

// Pointer identifies an LFS object by its SHA-256 oid and byte size.
type Pointer struct {
	OID  string
	Size int64
}

// BuildGitAttributes renders one LFS filter line per path, in order.
func BuildGitAttributes(paths []string) string {
	var b strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&b, "%s filter=lfs diff=lfs merge=lfs -text\n", p)
	}
	return b.String()
}

// BuildLFSConfig renders a .lfsconfig pointing remote at serverURL.
func BuildLFSConfig(serverURL, remote string) string {
	if remote == "" {
		remote = DefaultRemote
	}
	return fmt.Sprintf("[remote \"%s\"]\n\tlfsurl = %s", remote, serverURL)
}

// BuildPointerFile renders the pointer file for p. The oid must be a 64
// character hex string, optionally prefixed with "sha256:".
func BuildPointerFile(p Pointer) (string, error) {
	oid := strings.TrimPrefix(p.OID, "sha256:")
	if err := object.ValidateOID(oid); err != nil {
		return "", fmt.Errorf("%w: resource sha256 value does not seem to be a valid sha256 hex string: %v", metastore.ErrValidation, err)
	}
	if p.Size < 0 {
		return "", fmt.Errorf("%w: negative resource size %d", metastore.ErrValidation, p.Size)
	}
	return fmt.Sprintf("version %s\noid sha256:%s\nsize %d\n", PointerVersion, strings.ToLower(oid), p.Size), nil
}

// ParsePointerFile parses the three-line pointer format written by
// BuildPointerFile.
func ParsePointerFile(text string) (Pointer, error) {
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	if len(lines) != 3 {
		return Pointer{}, fmt.Errorf("%w: pointer file has %d lines, want 3", metastore.ErrValidation, len(lines))
	}
	if lines[0] != "version "+PointerVersion {
		return Pointer{}, fmt.Errorf("%w: unknown pointer version line %q", metastore.ErrValidation, lines[0])
	}
	oid, ok := strings.CutPrefix(lines[1], "oid sha256:")
	if !ok {
		return Pointer{}, fmt.Errorf("%w: malformed oid line %q", metastore.ErrValidation, lines[1])
	}
	if err := object.ValidateOID(oid); err != nil {
		return Pointer{}, fmt.Errorf("%w: %v", metastore.ErrValidation, err)
	}
	sizeText, ok := strings.CutPrefix(lines[2], "size ")
	if !ok {
		return Pointer{}, fmt.Errorf("%w: malformed size line %q", metastore.ErrValidation, lines[2])
	}
	size, err := strconv.ParseInt(sizeText, 10, 64)
	if err != nil || size < 0 {
		return Pointer{}, fmt.Errorf("%w: bad size %q", metastore.ErrValidation, sizeText)
	}
	return Pointer{OID: oid, Size: size}, nil
}
