// Package object models the subset of Git's object format needed to publish
// a revision: blobs, trees and single-parent commits addressed by SHA-1.
package object

import (
	"fmt"
	"time"
)

// Hash is a 40-character hex-encoded Git object id.
type Hash string

// ObjectType identifies the kind of object stored.
type ObjectType string

const (
	TypeBlob   ObjectType = "blob"
	TypeTree   ObjectType = "tree"
	TypeCommit ObjectType = "commit"
)

const (
	// Tree mode constants, Git's canonical mode strings.
	TreeModeDir        = "40000"
	TreeModeFile       = "100644"
	TreeModeExecutable = "100755"
)

// Blob holds raw file data.
type Blob struct {
	Data []byte
}

// TreeEntry is one entry in a tree object.
type TreeEntry struct {
	Name string
	Mode string
	Hash Hash
}

// IsDir reports whether the entry points at a subtree.
func (e TreeEntry) IsDir() bool {
	return e.Mode == TreeModeDir
}

// TreeObj holds the entries of one directory level.
type TreeObj struct {
	Entries []TreeEntry
}

// Signature is an author or committer line.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// String renders the signature as Git writes it: "Name <email> unix tz".
func (s Signature) String() string {
	return fmt.Sprintf("%s <%s> %d %s", s.Name, s.Email, s.When.Unix(), s.When.Format("-0700"))
}

// CommitObj represents a commit pointing to a tree with metadata.
type CommitObj struct {
	TreeHash  Hash
	Parents   []Hash
	Author    Signature
	Committer Signature
	Signature string // armored signature stored in the gpgsig header
	Message   string
}
