// Package store provides the flat key-value collections the gateway reads
// provider records and caller tokens from.
//
// A Collection is a single named field collection: one hash in Redis, one map
// in memory. Values are opaque bytes; callers own the encoding.
//
// Two backends are available:
//   - Redis:  a Redis hash (HGETALL / HGET / HSET / HDEL). Use in production;
//     all replicas and the admin tooling see the same data.
//   - Memory: an in-process map. Local development and tests only.
package store

import (
	"context"
	"errors"
)

// ErrUnavailable is returned (wrapped) when the backing store cannot be reached.
var ErrUnavailable = errors.New("store: unavailable")

// Collection is the capability every backend satisfies.
type Collection interface {
	// GetAll returns every field in the collection. An empty collection
	// returns an empty, non-nil map.
	GetAll(ctx context.Context) (map[string][]byte, error)

	// Get returns the value stored under id. ok is false when the field does
	// not exist.
	Get(ctx context.Context, id string) (value []byte, ok bool, err error)

	// Set stores value under id, replacing any previous value.
	Set(ctx context.Context, id string, value []byte) error

	// Delete removes id. Deleting a missing field is not an error.
	Delete(ctx context.Context, id string) error
}

// Pinger is implemented by backends that can report their own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
