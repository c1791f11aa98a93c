package metastore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Metadata is a data-package descriptor: an arbitrary JSON object. Numbers
// decoded by this package are json.Number so integers survive round trips.
type Metadata map[string]any

// Metadata keys maintained by the store itself.
const (
	KeyRevision   = "revision"
	KeyRevisionID = "revisionId"
	KeyResources  = "resources"
)

// DecodeMetadata parses a JSON object. Anything that is not a JSON object is
// ErrMalformedMetadata.
func DecodeMetadata(data []byte) (Metadata, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m Metadata
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMetadata, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after JSON object", ErrMalformedMetadata)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: metadata is not a JSON object", ErrMalformedMetadata)
	}
	return m, nil
}

// MarshalPretty renders metadata as 2-space indented JSON without HTML
// escaping and without a trailing newline.
func MarshalPretty(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Clone returns a deep copy.
func (m Metadata) Clone() (Metadata, error) {
	if m == nil {
		return Metadata{}, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return DecodeMetadata(raw)
}

// Merge returns a copy of m with the top-level keys of patch applied over it.
func (m Metadata) Merge(patch Metadata) (Metadata, error) {
	out, err := m.Clone()
	if err != nil {
		return nil, err
	}
	p, err := patch.Clone()
	if err != nil {
		return nil, err
	}
	for k, v := range p {
		out[k] = v
	}
	return out, nil
}

// Revision returns the integer revision counter and whether it was present.
func (m Metadata) Revision() (int64, bool) {
	v, ok := m[KeyRevision]
	if !ok {
		return 0, false
	}
	return AsInt(v)
}

// NextRevision returns the counter for the revision after m: previous + 1, or
// 0 when m carries none.
func (m Metadata) NextRevision() int64 {
	if rev, ok := m.Revision(); ok {
		return rev + 1
	}
	return 0
}

// RevisionID returns the revisionId string, or "" when absent.
func (m Metadata) RevisionID() string {
	s, _ := m[KeyRevisionID].(string)
	return s
}

// Resources returns the resource descriptors. Items that are not JSON
// objects are skipped.
func (m Metadata) Resources() []map[string]any {
	raw, ok := m[KeyResources].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if res, ok := item.(map[string]any); ok {
			out = append(out, res)
		}
	}
	return out
}

// AsInt converts a decoded JSON number to int64. Fractional values, values
// out of range and non-numbers report false.
func AsInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := strconv.ParseInt(string(n), 10, 64)
		if err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil || f != float64(int64(f)) {
			return 0, false
		}
		return int64(f), true
	default:
		return 0, false
	}
}
