package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when no document has been saved
var ErrNotFound = errors.New("document not found")

// DocumentStore persists a single serialized document, replacing it whole
// on every Save.
type DocumentStore interface {
	Save(ctx context.Context, payload []byte) error
	Load(ctx context.Context) ([]byte, error)
	Reset(ctx context.Context) error
	Close() error
}

// Archiver uploads a copy of a document to long-term storage
type Archiver interface {
	Archive(ctx context.Context, payload []byte) error
}
