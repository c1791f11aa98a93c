package object

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// TreeFileEntry represents a single file in a flattened tree.
type TreeFileEntry struct {
	Path string
	Mode string
	Hash Hash
}

// FlattenTree walks a tree object recursively, returning all file entries
// with their full slash-separated paths.
func (s *Store) FlattenTree(h Hash) ([]TreeFileEntry, error) {
	return s.flattenTreeRec(h, "")
}

func (s *Store) flattenTreeRec(h Hash, prefix string) ([]TreeFileEntry, error) {
	treeObj, err := s.ReadTree(h)
	if err != nil {
		return nil, fmt.Errorf("flatten tree: read %s: %w", h, err)
	}

	var result []TreeFileEntry
	for _, entry := range treeObj.Entries {
		fullPath := entry.Name
		if prefix != "" {
			fullPath = path.Join(prefix, entry.Name)
		}

		if entry.IsDir() {
			sub, err := s.flattenTreeRec(entry.Hash, fullPath)
			if err != nil {
				return nil, err
			}
			result = append(result, sub...)
		} else {
			result = append(result, TreeFileEntry{
				Path: fullPath,
				Mode: entry.Mode,
				Hash: entry.Hash,
			})
		}
	}
	return result, nil
}

// BuildTree converts flat file entries into a hierarchical tree, writing the
// tree objects to the store and returning the root hash.
func (s *Store) BuildTree(files []TreeFileEntry) (Hash, error) {
	byPath := make(map[string]TreeFileEntry, len(files))
	for _, f := range files {
		byPath[f.Path] = f
	}
	return s.buildTreeDir(byPath, "")
}

func (s *Store) buildTreeDir(files map[string]TreeFileEntry, prefix string) (Hash, error) {
	direct := make(map[string]TreeFileEntry)
	subdirs := make(map[string]struct{})

	for p, entry := range files {
		var rel string
		if prefix == "" {
			rel = p
		} else {
			if !strings.HasPrefix(p, prefix+"/") {
				continue
			}
			rel = p[len(prefix)+1:]
		}

		slash := strings.IndexByte(rel, '/')
		if slash < 0 {
			direct[rel] = entry
		} else {
			subdirs[rel[:slash]] = struct{}{}
		}
	}

	names := make([]string, 0, len(direct)+len(subdirs))
	for name := range direct {
		names = append(names, name)
	}
	for name := range subdirs {
		if _, isFile := direct[name]; isFile {
			return "", fmt.Errorf("build tree: %q is both a file and a directory", path.Join(prefix, name))
		}
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]TreeEntry, 0, len(names))
	for _, name := range names {
		if entry, isFile := direct[name]; isFile {
			mode := entry.Mode
			if mode == "" {
				mode = TreeModeFile
			}
			entries = append(entries, TreeEntry{Name: name, Mode: mode, Hash: entry.Hash})
			continue
		}
		childPrefix := name
		if prefix != "" {
			childPrefix = prefix + "/" + name
		}
		subHash, err := s.buildTreeDir(files, childPrefix)
		if err != nil {
			return "", fmt.Errorf("build tree %q: %w", childPrefix, err)
		}
		entries = append(entries, TreeEntry{Name: name, Mode: TreeModeDir, Hash: subHash})
	}

	h, err := s.WriteTree(&TreeObj{Entries: entries})
	if err != nil {
		return "", fmt.Errorf("write tree (prefix=%q): %w", prefix, err)
	}
	return h, nil
}
