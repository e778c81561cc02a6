// Package engine implements the storage-engine contract and the fan-out
// proxy that drives it.
package engine

import "context"

// ReservedMemoryEngine is the name every cache instance must register a
// memory engine under.
const ReservedMemoryEngine = "memory"

// Descriptor identifies a record independent of its flavor manager:
// (flavor, scope, key).
type Descriptor struct {
	Flavor string
	Scope  string
	Key    string
}

// Engine is the storage-backend contract implemented by the in-memory engine,
// the Badger-backed Disk engine, and any third-party remote engine (Redis,
// S3, ...). Only the interface contract lives here for remote engines;
// concrete remote drivers are external collaborators.
type Engine interface {
	// Name returns the engine's registered name.
	Name() string

	// Set stores value under the descriptor.
	Set(ctx context.Context, d Descriptor, value []byte) error

	// Read returns the stored value. ok is false when the key is absent,
	// which is distinct from err != nil (a genuine failure).
	Read(ctx context.Context, d Descriptor) (value []byte, ok bool, err error)

	// Remove deletes the descriptor's value, if any.
	Remove(ctx context.Context, d Descriptor) error
}

// Codec converts between an opaque Go value and the bytes an Engine stores.
// KV records may use any codec; file records always use RawBytesCodec.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
}
