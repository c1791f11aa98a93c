package docstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/odvcencio/metastore/pkg/metastore"
)

// record is the body of a revision snapshot: everything needed to rebuild
// the ObjectInfo of that revision.
type record struct {
	ObjectID    string           `json:"objectId"`
	RevisionID  string           `json:"revisionId"`
	Created     time.Time        `json:"created"`
	Updated     time.Time        `json:"updated"`
	Author      metastore.Author `json:"author"`
	Description string           `json:"description"`
	Metadata    json.RawMessage  `json:"metadata"`
}

func (r *record) info() (*metastore.ObjectInfo, error) {
	md, err := metastore.DecodeMetadata(r.Metadata)
	if err != nil {
		return nil, err
	}
	return &metastore.ObjectInfo{
		ObjectID:    r.ObjectID,
		RevisionID:  r.RevisionID,
		Created:     r.Created,
		Author:      r.Author,
		Description: r.Description,
		Metadata:    md,
	}, nil
}

func encodeRecord(r *record) ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return compressZstd(raw)
}

func decodeRecord(data []byte) (*record, error) {
	raw, err := decompressZstd(data)
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot: %v", metastore.ErrMalformedMetadata, err)
	}
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: snapshot: %v", metastore.ErrMalformedMetadata, err)
	}
	return &r, nil
}

func compressZstd(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, nil), nil
}

func decompressZstd(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer decoder.Close()
	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decode zstd payload: %w", err)
	}
	return out, nil
}
