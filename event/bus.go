// Package event implements a per-flavor event bus: a fixed event set, three
// ordered phases, and a wildcard subscription.
package event

import (
	"context"
	"sort"
	"sync"
)

// Type is one of the fixed event names a Bus emits.
type Type string

const (
	Create                 Type = "create"
	Read                   Type = "read"
	Update                 Type = "update"
	Touch                  Type = "touch"
	Hit                    Type = "hit"
	Miss                   Type = "miss"
	Evict                  Type = "evict"
	Expire                 Type = "expire"
	Remove                 Type = "remove"
	BulkRemove             Type = "bulkRemove"
	Clear                  Type = "clear"
	FileContentSizeChange  Type = "fileContentSizeChange"
	FileRenameChange       Type = "fileRenameChange"

	// Any is the wildcard subscription: handlers registered against Any
	// receive every event regardless of Type.
	Any Type = "*"
)

// Phase orders handler execution within a single emission.
type Phase int

const (
	BeforeAll Phase = iota
	Normal
	AfterAll
)

var phaseOrder = [...]Phase{BeforeAll, Normal, AfterAll}

// Payload is the data carried by an emission. Flavor-specific fields live
// in Extra.
type Payload struct {
	Type   Type
	Flavor string
	Item   any // record export, or nil for bulk events
	Reason string
	Status string
	Delta  int64
	Paths  [2]string // [old, new], used by fileRenameChange
	Extra  map[string]any
}

// Handler observes one emission. Handlers may return an error; the bus logs
// it (via the owner) but a failing handler never blocks subsequent handlers
// or phases other than by taking time, since every handler in a phase is
// awaited sequentially before the next one starts.
type Handler func(ctx context.Context, p Payload) error

type subscription struct {
	seq     uint64
	handler Handler
}

// Bus is a typed, ordered, phase-aware event emitter for one cache flavor.
type Bus struct {
	mu   sync.Mutex
	subs map[Type]map[Phase][]subscription
	seq  uint64

	// onHandlerError, if set, is invoked whenever a handler returns an
	// error, instead of the error being swallowed.
	onHandlerError func(t Type, phase Phase, err error)
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[Type]map[Phase][]subscription)}
}

// OnHandlerError installs a callback invoked whenever a subscribed handler
// returns an error.
func (b *Bus) OnHandlerError(fn func(t Type, phase Phase, err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onHandlerError = fn
}

// Subscribe registers handler for t at phase, in insertion order within
// that phase. Subscribing to Any receives every emitted event.
func (b *Bus) Subscribe(t Type, phase Phase, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[t] == nil {
		b.subs[t] = make(map[Phase][]subscription)
	}
	b.seq++
	b.subs[t][phase] = append(b.subs[t][phase], subscription{seq: b.seq, handler: handler})
}

// Emit runs every matching handler in phase order (BeforeAll, Normal,
// AfterAll); within a phase, handlers run in subscription order, and the
// bus awaits each handler before starting the next.
func (b *Bus) Emit(ctx context.Context, p Payload) {
	for _, phase := range phaseOrder {
		for _, h := range b.handlersFor(p.Type, phase) {
			if err := h(ctx, p); err != nil && b.onHandlerError != nil {
				b.onHandlerError(p.Type, phase, err)
			}
		}
	}
}

// handlersFor returns the handlers for (t, phase), direct subscribers merged
// with Any-subscribers, ordered by subscription sequence.
func (b *Bus) handlersFor(t Type, phase Phase) []Handler {
	b.mu.Lock()
	defer b.mu.Unlock()

	var all []subscription
	if m, ok := b.subs[t]; ok {
		all = append(all, m[phase]...)
	}
	if t != Any {
		if m, ok := b.subs[Any]; ok {
			all = append(all, m[phase]...)
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })

	out := make([]Handler, len(all))
	for i, s := range all {
		out[i] = s.handler
	}
	return out
}

// Dispose clears every subscription, used by Manager.clear() once its scope
// map is empty.
func (b *Bus) Dispose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[Type]map[Phase][]subscription)
}
