package gitgraph

import (
	"fmt"

	"github.com/odvcencio/metastore/pkg/metastore"
)

// FindEntry returns the snapshot entry at path.
func (s *Snapshot) FindEntry(path string) (SnapshotEntry, bool) {
	for _, e := range s.Entries {
		p := e.Path
		if p == "" {
			p = e.Name
		}
		if p == path {
			return e, true
		}
	}
	return SnapshotEntry{}, false
}

// ReadMetadata extracts and parses datapackage.json from the snapshot.
func ReadMetadata(s *Snapshot) (metastore.Metadata, error) {
	entry, ok := s.FindEntry(metastore.MetadataFile)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no %s on branch %q", metastore.ErrMetadataNotFound, s.Repository, metastore.MetadataFile, s.Branch)
	}
	if entry.Text == nil {
		return nil, fmt.Errorf("%w: %s: %s is binary or not a file", metastore.ErrMalformedMetadata, s.Repository, metastore.MetadataFile)
	}
	md, err := metastore.DecodeMetadata([]byte(*entry.Text))
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", s.Repository, metastore.MetadataFile, err)
	}
	return md, nil
}
