package object

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Blob
// ---------------------------------------------------------------------------

// MarshalBlob serializes a Blob to raw bytes (identity).
func MarshalBlob(b *Blob) []byte {
	out := make([]byte, len(b.Data))
	copy(out, b.Data)
	return out
}

// UnmarshalBlob deserializes raw bytes into a Blob.
func UnmarshalBlob(data []byte) (*Blob, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return &Blob{Data: out}, nil
}

// ---------------------------------------------------------------------------
// TreeObj
// ---------------------------------------------------------------------------

// MarshalTree serializes a TreeObj in Git's binary tree format. Each entry is
//
//	<mode> <name>\0<20 raw hash bytes>
//
// and entries are sorted the way Git sorts them: by name, with directory
// names compared as if they ended in "/".
func MarshalTree(tr *TreeObj) ([]byte, error) {
	sorted := make([]TreeEntry, len(tr.Entries))
	copy(sorted, tr.Entries)
	sort.Slice(sorted, func(i, j int) bool {
		return treeSortKey(sorted[i]) < treeSortKey(sorted[j])
	})

	var buf bytes.Buffer
	for _, e := range sorted {
		raw, err := hex.DecodeString(string(e.Hash))
		if err != nil || len(raw) != 20 {
			return nil, fmt.Errorf("marshal tree: entry %q has invalid hash %q", e.Name, e.Hash)
		}
		mode := e.Mode
		if strings.TrimSpace(mode) == "" {
			mode = TreeModeFile
		}
		fmt.Fprintf(&buf, "%s %s\x00", mode, e.Name)
		buf.Write(raw)
	}
	return buf.Bytes(), nil
}

func treeSortKey(e TreeEntry) string {
	if e.IsDir() {
		return e.Name + "/"
	}
	return e.Name
}

// UnmarshalTree parses a TreeObj from Git's binary tree format.
func UnmarshalTree(data []byte) (*TreeObj, error) {
	tr := &TreeObj{}
	for len(data) > 0 {
		sp := bytes.IndexByte(data, ' ')
		if sp < 0 {
			return nil, fmt.Errorf("unmarshal tree: missing mode separator")
		}
		mode := string(data[:sp])
		if err := checkTreeMode(mode); err != nil {
			return nil, fmt.Errorf("unmarshal tree: %w", err)
		}
		data = data[sp+1:]
		nul := bytes.IndexByte(data, 0)
		if nul < 0 {
			return nil, fmt.Errorf("unmarshal tree: missing name terminator")
		}
		name := string(data[:nul])
		data = data[nul+1:]
		if len(data) < 20 {
			return nil, fmt.Errorf("unmarshal tree: truncated hash for %q", name)
		}
		tr.Entries = append(tr.Entries, TreeEntry{
			Name: name,
			Mode: mode,
			Hash: Hash(hex.EncodeToString(data[:20])),
		})
		data = data[20:]
	}
	return tr, nil
}

func checkTreeMode(mode string) error {
	switch mode {
	case TreeModeDir, TreeModeFile, TreeModeExecutable:
		return nil
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

// ---------------------------------------------------------------------------
// CommitObj
// ---------------------------------------------------------------------------

// MarshalCommit serializes a CommitObj in Git's commit format:
//
//	tree H
//	parent H       (zero or more)
//	author A
//	committer C
//	gpgsig S       (optional, continuation lines indented by one space)
//
//	message
func MarshalCommit(c *CommitObj) []byte {
	return marshalCommit(c, true)
}

// CommitSigningPayload is the commit as it is serialized before signing,
// with any gpgsig header left out. A nil commit has no payload.
func CommitSigningPayload(c *CommitObj) []byte {
	if c == nil {
		return nil
	}
	return marshalCommit(c, false)
}

func marshalCommit(c *CommitObj, withSig bool) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", string(c.TreeHash))
	for _, p := range c.Parents {
		fmt.Fprintf(&buf, "parent %s\n", string(p))
	}
	fmt.Fprintf(&buf, "author %s\n", c.Author)
	fmt.Fprintf(&buf, "committer %s\n", c.Committer)
	if sig := strings.TrimRight(c.Signature, "\n"); withSig && strings.TrimSpace(sig) != "" {
		fmt.Fprintf(&buf, "gpgsig %s\n", strings.ReplaceAll(sig, "\n", "\n "))
	}
	buf.WriteByte('\n')
	buf.WriteString(c.Message)
	return buf.Bytes()
}

// UnmarshalCommit parses a CommitObj from its serialized form.
func UnmarshalCommit(data []byte) (*CommitObj, error) {
	idx := bytes.Index(data, []byte("\n\n"))
	if idx < 0 {
		return nil, fmt.Errorf("unmarshal commit: missing header/message separator")
	}
	header := string(data[:idx])
	message := string(data[idx+2:])

	c := &CommitObj{Message: message}
	var lastKey string
	for _, line := range strings.Split(header, "\n") {
		if strings.HasPrefix(line, " ") && lastKey == "gpgsig" {
			c.Signature += "\n" + line[1:]
			continue
		}
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("unmarshal commit: malformed header line %q", line)
		}
		lastKey = key
		switch key {
		case "tree":
			c.TreeHash = Hash(val)
		case "parent":
			c.Parents = append(c.Parents, Hash(val))
		case "author", "committer":
			sig, err := ParseSignature(val)
			if err != nil {
				return nil, fmt.Errorf("unmarshal commit: %s: %w", key, err)
			}
			if key == "author" {
				c.Author = sig
			} else {
				c.Committer = sig
			}
		case "gpgsig":
			c.Signature = val
		default:
			return nil, fmt.Errorf("unmarshal commit: unknown header key %q", key)
		}
	}
	return c, nil
}

// ParseSignature parses "Name <email> unix tz".
func ParseSignature(s string) (Signature, error) {
	open := strings.LastIndexByte(s, '<')
	end := strings.LastIndexByte(s, '>')
	if open < 0 || end < open {
		return Signature{}, fmt.Errorf("malformed signature %q", s)
	}
	sig := Signature{
		Name:  strings.TrimSpace(s[:open]),
		Email: s[open+1 : end],
	}
	fields := strings.Fields(s[end+1:])
	if len(fields) != 2 {
		return Signature{}, fmt.Errorf("malformed signature time %q", s[end+1:])
	}
	ts, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Signature{}, fmt.Errorf("bad timestamp %q: %w", fields[0], err)
	}
	tz, err := time.Parse("-0700", fields[1])
	if err != nil {
		return Signature{}, fmt.Errorf("bad timezone %q: %w", fields[1], err)
	}
	sig.When = time.Unix(ts, 0).In(tz.Location())
	return sig, nil
}
