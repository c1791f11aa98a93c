package metastore

import "errors"

// Error kinds returned by backends and the write pipeline. Callers match them
// with errors.Is; the wrapped message carries the detail.
var (
	ErrValidation             = errors.New("validation error")
	ErrConflict               = errors.New("conflict")
	ErrNotFound               = errors.New("not found")
	ErrRefNotFound            = errors.New("ref not found")
	ErrMetadataNotFound       = errors.New("metadata not found")
	ErrMalformedMetadata      = errors.New("malformed metadata")
	ErrUnsupportedContentType = errors.New("content type not supported")
	ErrTransport              = errors.New("transport error")
)
