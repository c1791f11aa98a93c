package metastore

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// RevisionIDFunc produces a new revision identifier. Backends take one as a
// dependency so tests can pin ids.
type RevisionIDFunc func() string

// NewRevisionID returns a random UUID string.
func NewRevisionID() string {
	return uuid.NewString()
}

// ValidateObjectID rejects ids that cannot name a stored object: empty ids,
// ids with surrounding whitespace, ids with more than one "/" and ids with an
// empty owner or name part.
func ValidateObjectID(objectID string) error {
	if objectID == "" {
		return fmt.Errorf("%w: object id cannot be empty", ErrValidation)
	}
	if strings.TrimSpace(objectID) != objectID {
		return fmt.Errorf("%w: object id %q has surrounding whitespace", ErrValidation, objectID)
	}
	parts := strings.Split(objectID, "/")
	if len(parts) > 2 {
		return fmt.Errorf("%w: object id %q has too many path segments", ErrValidation, objectID)
	}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			return fmt.Errorf("%w: invalid object id %q", ErrValidation, objectID)
		}
	}
	return nil
}
