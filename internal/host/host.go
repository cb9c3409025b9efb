// Package host defines the capability surface adapters and the conversation
// server depend on: outbound HTTP, secret lookup, and versioned state.
package host

import (
	"context"
	"errors"
	"net/http"
)

// ErrNotFound reports a missing secret.
var ErrNotFound = errors.New("host: not found")

// ErrConflict reports a compare-and-swap write that lost to a concurrent
// writer. Callers re-read and retry.
var ErrConflict = errors.New("host: state version conflict")

// HTTPClient is the outbound HTTP capability. *http.Client satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// SecretStore resolves named secrets such as signing keys and client
// credentials.
type SecretStore interface {
	// Get returns the secret value, or ErrNotFound.
	Get(ctx context.Context, name string) (string, error)
}

// StateStore is versioned key-value state with optimistic concurrency.
//
// Read on a missing key returns (nil, 0, nil); writing that key back with
// expectedVersion 0 creates it. Write returns the new version, or ErrConflict
// when expectedVersion no longer matches the stored version.
type StateStore interface {
	Read(ctx context.Context, key string) (value []byte, version uint64, err error)
	Write(ctx context.Context, key string, value []byte, expectedVersion uint64) (uint64, error)
	Delete(ctx context.Context, key string) error
}
