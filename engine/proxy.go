package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/nasriyasoftware/cachify/cerrors"
)

// Ref is what the proxy needs to know about a record to fan its operations
// out across engines: its descriptor plus the ordered list of engines it
// lives in.
type Ref struct {
	Descriptor
	Engines []string
}

func (r Ref) key() string { return compositeKey(r.Descriptor) }

// ReadResult is returned by Proxy.Read.
type ReadResult struct {
	Value  []byte
	Source string // engine name that produced the value, or "proxy" for the absent sentinel
	Absent bool
}

// EngineError is the per-engine cause wrapped into the proxy's aggregate
// errors, which list a cause per failed engine.
type EngineError struct {
	Engine string
	Err    error
}

func (e *EngineError) Error() string { return fmt.Sprintf("%s: %v", e.Engine, e.Err) }
func (e *EngineError) Unwrap() error { return e.Err }

// Proxy fans operations out across the engines a record lives in, coalescing
// concurrent identical operations on the same key and serializing all
// operations on a key through a per-key task queue.
type Proxy struct {
	engines map[string]Engine

	mu       sync.Mutex
	keyLocks map[string]*keyState
}

type keyState struct {
	mu       sync.Mutex // serializes ops on this key (the "task queue")
	refCount int

	// inflight coalesces concurrent identical read/remove calls: at most
	// one physical read (or remove) per key is ever in flight; everyone
	// else waits on done and reuses the result.
	inflightOp   string // "read" or "remove"; empty when idle
	done         chan struct{}
	resultValue  []byte
	resultSource string
	resultAbsent bool
	resultErr    error
}

// NewProxy creates a Proxy over the given named engines. The memory engine,
// if present, must be registered under ReservedMemoryEngine.
func NewProxy(engines ...Engine) *Proxy {
	m := make(map[string]Engine, len(engines))
	for _, e := range engines {
		m[e.Name()] = e
	}
	return &Proxy{engines: m, keyLocks: make(map[string]*keyState)}
}

// Register adds or replaces an engine.
func (p *Proxy) Register(e Engine) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.engines[e.Name()] = e
}

// Lookup returns a registered engine by name.
func (p *Proxy) Lookup(name string) (Engine, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.engines[name]
	return e, ok
}

func (p *Proxy) acquireKey(key string) *keyState {
	p.mu.Lock()
	ks, ok := p.keyLocks[key]
	if !ok {
		ks = &keyState{}
		p.keyLocks[key] = ks
	}
	ks.refCount++
	p.mu.Unlock()
	return ks
}

func (p *Proxy) releaseKey(key string, ks *keyState) {
	p.mu.Lock()
	ks.refCount--
	if ks.refCount <= 0 {
		delete(p.keyLocks, key)
	}
	p.mu.Unlock()
}

func (p *Proxy) resolve(ref Ref) ([]Engine, error) {
	if len(ref.Engines) == 0 {
		return nil, cerrors.ErrInvariantViolation.WithDetails("record has no engines")
	}
	out := make([]Engine, 0, len(ref.Engines))
	for _, name := range ref.Engines {
		e, ok := p.Lookup(name)
		if !ok {
			return nil, cerrors.ErrUnknownEngine.WithDetails(name)
		}
		out = append(out, e)
	}
	return out, nil
}

// Set writes value to every engine in ref.Engines in parallel. If any engine
// fails, successful writes are compensated (removed) and a composite error
// listing every per-engine cause is returned.
func (p *Proxy) Set(ctx context.Context, ref Ref, value []byte) error {
	engines, err := p.resolve(ref)
	if err != nil {
		return err
	}

	key := ref.key()
	ks := p.acquireKey(key)
	defer p.releaseKey(key, ks)
	ks.mu.Lock()
	defer ks.mu.Unlock()

	type outcome struct {
		engine Engine
		err    error
	}
	results := make([]outcome, len(engines))
	var wg sync.WaitGroup
	wg.Add(len(engines))
	for i, e := range engines {
		go func(i int, e Engine) {
			defer wg.Done()
			results[i] = outcome{engine: e, err: e.Set(ctx, ref.Descriptor, value)}
		}(i, e)
	}
	wg.Wait()

	var merr *multierror.Error
	var succeeded []Engine
	for _, r := range results {
		if r.err != nil {
			merr = multierror.Append(merr, &EngineError{Engine: r.engine.Name(), Err: r.err})
		} else {
			succeeded = append(succeeded, r.engine)
		}
	}

	if merr == nil {
		return nil
	}

	// Compensate: remove from every engine that did succeed.
	var cwg sync.WaitGroup
	cwg.Add(len(succeeded))
	for _, e := range succeeded {
		go func(e Engine) {
			defer cwg.Done()
			_ = e.Remove(ctx, ref.Descriptor)
		}(e)
	}
	cwg.Wait()

	return fmt.Errorf("%w: %v", cerrors.ErrEngineSetFailed, merr)
}

// Remove deletes ref from every engine in parallel. It succeeds if at least
// one engine cleared the key and fails only when every engine fails.
// Concurrent identical removes on the same key are coalesced.
func (p *Proxy) Remove(ctx context.Context, ref Ref) error {
	engines, err := p.resolve(ref)
	if err != nil {
		return err
	}

	key := ref.key()
	ks := p.acquireKey(key)
	defer p.releaseKey(key, ks)

	if done, ok := p.joinInflight(ks, "remove"); ok {
		<-done
		return ks.resultErr
	}

	ks.mu.Lock()
	var merr *multierror.Error
	var anyOK bool
	var wg sync.WaitGroup
	wg.Add(len(engines))
	errs := make([]error, len(engines))
	for i, e := range engines {
		go func(i int, e Engine) {
			defer wg.Done()
			errs[i] = e.Remove(ctx, ref.Descriptor)
		}(i, e)
	}
	wg.Wait()

	for i, e := range engines {
		if errs[i] != nil {
			merr = multierror.Append(merr, &EngineError{Engine: e.Name(), Err: errs[i]})
		} else {
			anyOK = true
		}
	}

	var resultErr error
	if !anyOK && merr != nil {
		resultErr = fmt.Errorf("%w: %v", cerrors.ErrEngineRemoveFailed, merr)
	}
	ks.mu.Unlock()

	p.finishInflight(ks, nil, "", false, resultErr)
	return resultErr
}

// Read tries the memory engine first (if present) for read-your-writes
// consistency; a defined value short-circuits. Otherwise every remaining
// engine races with first-defined-wins semantics. If every engine reports
// absent, a {"proxy", absent} sentinel is returned. Concurrent identical
// reads on the same key are coalesced.
func (p *Proxy) Read(ctx context.Context, ref Ref) (ReadResult, error) {
	engines, err := p.resolve(ref)
	if err != nil {
		return ReadResult{}, err
	}

	key := ref.key()
	ks := p.acquireKey(key)
	defer p.releaseKey(key, ks)

	if done, ok := p.joinInflight(ks, "read"); ok {
		<-done
		return ReadResult{Value: ks.resultValue, Source: ks.resultSource, Absent: ks.resultAbsent}, ks.resultErr
	}

	ks.mu.Lock()
	result, resultErr := p.doRead(ctx, ref, engines)
	ks.mu.Unlock()

	p.finishInflight(ks, result.Value, result.Source, result.Absent, resultErr)
	return result, resultErr
}

func (p *Proxy) doRead(ctx context.Context, ref Ref, engines []Engine) (ReadResult, error) {
	var mem Engine
	for _, e := range engines {
		if e.Name() == ReservedMemoryEngine {
			mem = e
			break
		}
	}

	var memErr error
	if mem != nil {
		value, ok, err := mem.Read(ctx, ref.Descriptor)
		switch {
		case err == nil && ok:
			return ReadResult{Value: value, Source: mem.Name()}, nil
		case err != nil:
			memErr = err
		}
		// err == nil && !ok: absent in memory, fall through to the rest.
	}

	remaining := enginesExcept(engines, mem)
	if len(remaining) == 0 {
		if memErr != nil {
			return ReadResult{}, fmt.Errorf("%w: %v", cerrors.ErrEngineReadFailed, &EngineError{Engine: mem.Name(), Err: memErr})
		}
		return ReadResult{Source: "proxy", Absent: true}, nil
	}

	type outcome struct {
		engine Engine
		value  []byte
		ok     bool
		err    error
	}
	results := make([]outcome, len(remaining))
	var wg sync.WaitGroup
	wg.Add(len(remaining))
	for i, e := range remaining {
		go func(i int, e Engine) {
			defer wg.Done()
			v, ok, err := e.Read(ctx, ref.Descriptor)
			results[i] = outcome{engine: e, value: v, ok: ok, err: err}
		}(i, e)
	}
	wg.Wait()

	var merr *multierror.Error
	allFailed := true
	if mem != nil {
		if memErr != nil {
			merr = multierror.Append(merr, &EngineError{Engine: mem.Name(), Err: memErr})
		} else {
			allFailed = false // memory engine responded (absent), not a failure
		}
	}
	for _, r := range results {
		if r.err == nil {
			allFailed = false
			if r.ok {
				return ReadResult{Value: r.value, Source: r.engine.Name()}, nil
			}
		} else {
			merr = multierror.Append(merr, &EngineError{Engine: r.engine.Name(), Err: r.err})
		}
	}

	if allFailed && merr != nil {
		return ReadResult{}, fmt.Errorf("%w: %v", cerrors.ErrEngineReadFailed, merr)
	}

	return ReadResult{Source: "proxy", Absent: true}, nil
}

func enginesExcept(engines []Engine, skip Engine) []Engine {
	out := make([]Engine, 0, len(engines))
	for _, e := range engines {
		if skip != nil && e.Name() == skip.Name() {
			continue
		}
		out = append(out, e)
	}
	return out
}

// joinInflight checks whether an identical operation is already running for
// this key; if so the caller should await the returned channel and reuse
// ks.result*. Must be called without ks.mu held.
func (p *Proxy) joinInflight(ks *keyState, op string) (chan struct{}, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ks.inflightOp == op {
		return ks.done, true
	}
	if ks.inflightOp == "" {
		ks.inflightOp = op
		ks.done = make(chan struct{})
	}
	return nil, false
}

func (p *Proxy) finishInflight(ks *keyState, value []byte, source string, absent bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ks.resultValue, ks.resultSource, ks.resultAbsent, ks.resultErr = value, source, absent, err
	if ks.done != nil {
		close(ks.done)
	}
	ks.inflightOp = ""
	ks.done = nil
}
