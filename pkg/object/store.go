package object

import (
	"errors"
	"fmt"
	"sync"
)

// ErrObjectNotFound is returned when a hash is not present in the store.
var ErrObjectNotFound = errors.New("object not found")

// ErrRefMismatch is returned by UpdateRefCAS when the ref moved.
var ErrRefMismatch = errors.New("ref compare-and-swap mismatch")

type record struct {
	objType ObjectType
	data    []byte
}

// Store is an in-memory content-addressed object store with named refs. It
// is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	objects map[Hash]record
	refs    map[string]Hash
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		objects: make(map[Hash]record),
		refs:    make(map[string]Hash),
	}
}

// Has reports whether the store contains an object with the given hash.
func (s *Store) Has(h Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[h]
	return ok
}

// Len returns the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Write stores an object and returns its content hash. Writing an object that
// already exists is a no-op.
func (s *Store) Write(objType ObjectType, data []byte) (Hash, error) {
	switch objType {
	case TypeBlob, TypeTree, TypeCommit:
	default:
		return "", fmt.Errorf("object write: unsupported type %q", objType)
	}
	h := HashObject(objType, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[h]; ok {
		return h, nil
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.objects[h] = record{objType: objType, data: buf}
	return h, nil
}

// Read retrieves an object by hash, returning its type and raw content.
func (s *Store) Read(h Hash) (ObjectType, []byte, error) {
	s.mu.RLock()
	rec, ok := s.objects[h]
	s.mu.RUnlock()
	if !ok {
		return "", nil, fmt.Errorf("object read %s: %w", h, ErrObjectNotFound)
	}
	out := make([]byte, len(rec.data))
	copy(out, rec.data)
	return rec.objType, out, nil
}

// ---------------------------------------------------------------------------
// Typed convenience methods
// ---------------------------------------------------------------------------

// WriteBlob serializes and stores a Blob.
func (s *Store) WriteBlob(b *Blob) (Hash, error) {
	return s.Write(TypeBlob, MarshalBlob(b))
}

// ReadBlob reads and deserializes a Blob.
func (s *Store) ReadBlob(h Hash) (*Blob, error) {
	data, err := s.readTyped(h, TypeBlob)
	if err != nil {
		return nil, err
	}
	return UnmarshalBlob(data)
}

// WriteTree serializes and stores a TreeObj.
func (s *Store) WriteTree(tr *TreeObj) (Hash, error) {
	data, err := MarshalTree(tr)
	if err != nil {
		return "", err
	}
	return s.Write(TypeTree, data)
}

// ReadTree reads and deserializes a TreeObj.
func (s *Store) ReadTree(h Hash) (*TreeObj, error) {
	data, err := s.readTyped(h, TypeTree)
	if err != nil {
		return nil, err
	}
	return UnmarshalTree(data)
}

// WriteCommit serializes and stores a CommitObj.
func (s *Store) WriteCommit(c *CommitObj) (Hash, error) {
	return s.Write(TypeCommit, MarshalCommit(c))
}

// ReadCommit reads and deserializes a CommitObj.
func (s *Store) ReadCommit(h Hash) (*CommitObj, error) {
	data, err := s.readTyped(h, TypeCommit)
	if err != nil {
		return nil, err
	}
	return UnmarshalCommit(data)
}

func (s *Store) readTyped(h Hash, want ObjectType) ([]byte, error) {
	objType, data, err := s.Read(h)
	if err != nil {
		return nil, err
	}
	if objType != want {
		return nil, fmt.Errorf("object %s: type mismatch: got %q, want %q", h, objType, want)
	}
	return data, nil
}

// ---------------------------------------------------------------------------
// Refs
// ---------------------------------------------------------------------------

// ResolveRef returns the hash a ref points at.
func (s *Store) ResolveRef(name string) (Hash, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.refs[name]
	return h, ok
}

// UpdateRefCAS points name at newHash. When expectedOld is given the update
// only succeeds if the ref currently points at expectedOld[0]; an empty
// expected hash means the ref must not exist yet.
func (s *Store) UpdateRefCAS(name string, newHash Hash, expectedOld ...Hash) error {
	if !s.Has(newHash) {
		return fmt.Errorf("update ref %q: target %s: %w", name, newHash, ErrObjectNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(expectedOld) > 0 {
		cur, ok := s.refs[name]
		want := expectedOld[0]
		if (want == "" && ok) || (want != "" && cur != want) {
			return fmt.Errorf("update ref %q: expected %s, found %s: %w", name, want, cur, ErrRefMismatch)
		}
	}
	s.refs[name] = newHash
	return nil
}

// DeleteRef removes a ref. Deleting a missing ref is a no-op.
func (s *Store) DeleteRef(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refs, name)
}
