package engine

import (
	"context"

	"github.com/nasriyasoftware/cachify/internal/shardmap"
)

// Memory is the mandatory in-memory engine, reserved under
// ReservedMemoryEngine. Storage is semantically {flavor -> {scope -> {key ->
// value}}}; it is implemented as one sharded map keyed by the NUL-separated
// composite flavor, scope, key, since that preserves the same lookups without three
// nested map layers of locking.
type Memory struct {
	data *shardmap.Map[[]byte]
}

// NewMemory creates a new in-memory engine.
func NewMemory() *Memory {
	return &Memory{data: shardmap.New[[]byte]()}
}

func (m *Memory) Name() string { return ReservedMemoryEngine }

func compositeKey(d Descriptor) string {
	return d.Flavor + "\x00" + d.Scope + "\x00" + d.Key
}

func (m *Memory) Set(_ context.Context, d Descriptor, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data.Set(compositeKey(d), cp)
	return nil
}

func (m *Memory) Read(_ context.Context, d Descriptor) ([]byte, bool, error) {
	v, ok := m.data.Get(compositeKey(d))
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (m *Memory) Remove(_ context.Context, d Descriptor) error {
	m.data.Delete(compositeKey(d))
	return nil
}

// Count returns the number of values currently resident, for tests and
// memory-pressure accounting fallbacks.
func (m *Memory) Count() int { return m.data.Count() }
