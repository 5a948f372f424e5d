// Package storage provides the object-storage capability used for uploaded
// document bytes. The pipeline only ever sees URIs; byte I/O stays behind this
// interface so backends can be swapped without touching the stages.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no object exists at the given URI.
var ErrNotFound = errors.New("object not found")

// ObjectStore is the byte-storage capability: put bytes under a key, get them
// back by the returned URI, delete them when the owning document goes away.
type ObjectStore interface {
	// Put stores data under the given key (workspace-prefixed by callers) and
	// returns a URI usable with Get and Delete.
	Put(ctx context.Context, key string, data []byte) (string, error)

	// Get returns the bytes stored at uri, or ErrNotFound.
	Get(ctx context.Context, uri string) ([]byte, error)

	// Delete removes the object at uri. Deleting a missing object is a no-op.
	Delete(ctx context.Context, uri string) error

	// DeletePrefix removes every object whose key starts with prefix. Used by
	// the workspace deletion saga to release the storage prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}
