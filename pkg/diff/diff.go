// Package diff compares two revisions of a data package's metadata: a
// key-level summary of what was added, removed or changed, and a line diff of
// the pretty-printed values.
package diff

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/odvcencio/metastore/pkg/metastore"
)

// ChangeType classifies what happened to a metadata key between revisions.
type ChangeType int

const (
	Added    ChangeType = iota // Key exists only in the newer revision.
	Removed                    // Key exists only in the older revision.
	Modified                   // Key exists in both with different values.
)

func (t ChangeType) String() string {
	switch t {
	case Added:
		return "added"
	case Removed:
		return "removed"
	default:
		return "modified"
	}
}

// KeyChange is one changed top-level key. Before and After hold the
// pretty-printed JSON value; nil when the key is absent on that side.
type KeyChange struct {
	Type   ChangeType
	Key    string
	Before []byte
	After  []byte
}

// MetadataDiff holds the changes between two revisions of one object.
type MetadataDiff struct {
	ObjectID string
	From, To string
	Changes  []KeyChange
}

// storeKeys change on every write and are left out of diffs.
var storeKeys = map[string]bool{
	metastore.KeyRevision:   true,
	metastore.KeyRevisionID: true,
}

// Metadata diffs before against after. Removed and modified keys come first
// in key order, followed by added keys in key order.
func Metadata(before, after metastore.Metadata) ([]KeyChange, error) {
	var changes []KeyChange
	for _, key := range sortedKeys(before) {
		b, err := metastore.MarshalPretty(before[key])
		if err != nil {
			return nil, err
		}
		v, ok := after[key]
		if !ok {
			changes = append(changes, KeyChange{Type: Removed, Key: key, Before: b})
			continue
		}
		a, err := metastore.MarshalPretty(v)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(a, b) {
			changes = append(changes, KeyChange{Type: Modified, Key: key, Before: b, After: a})
		}
	}
	for _, key := range sortedKeys(after) {
		if _, ok := before[key]; ok {
			continue
		}
		a, err := metastore.MarshalPretty(after[key])
		if err != nil {
			return nil, err
		}
		changes = append(changes, KeyChange{Type: Added, Key: key, After: a})
	}
	return changes, nil
}

// Objects diffs two fetched revisions of the same object.
func Objects(from, to *metastore.ObjectInfo) (*MetadataDiff, error) {
	changes, err := Metadata(from.Metadata, to.Metadata)
	if err != nil {
		return nil, err
	}
	return &MetadataDiff{
		ObjectID: to.ObjectID,
		From:     from.RevisionID,
		To:       to.RevisionID,
		Changes:  changes,
	}, nil
}

// Revisions fetches two revisions of objectID from b and diffs them. An
// empty to compares against the current revision.
func Revisions(ctx context.Context, b metastore.Backend, objectID, from, to string) (*MetadataDiff, error) {
	if from == "" {
		return nil, fmt.Errorf("%w: a starting revision is required", metastore.ErrValidation)
	}
	older, err := b.Fetch(ctx, objectID, metastore.FetchOptions{RevisionRef: from})
	if err != nil {
		return nil, err
	}
	newer, err := b.Fetch(ctx, objectID, metastore.FetchOptions{RevisionRef: to})
	if err != nil {
		return nil, err
	}
	return Objects(older, newer)
}

func sortedKeys(m metastore.Metadata) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if !storeKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
