package kv

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nasriyasoftware/cachify/cerrors"
	"github.com/nasriyasoftware/cachify/engine"
	"github.com/nasriyasoftware/cachify/event"
	"github.com/nasriyasoftware/cachify/eviction"
	"github.com/nasriyasoftware/cachify/internal/cachifylog"
	"github.com/nasriyasoftware/cachify/internal/cachifymetrics"
	"github.com/nasriyasoftware/cachify/model"
)

const keySep = "\x00"

// Config tunes a Manager.
type Config struct {
	TTL            model.TTL       `koanf:"ttl"`
	Eviction       eviction.Config `koanf:"eviction"`
	MaxTotalSize   int64           `koanf:"max_total_size"` // bytes; memory-pressure threshold, independent of Files
	DefaultEngines []string        `koanf:"default_engines"`
	Codec          engine.Codec    `koanf:"-"`
}

// DefaultConfig returns the numeric defaults for KV.
func DefaultConfig() Config {
	return Config{
		TTL:            model.TTL{Value: 300 * time.Second, Sliding: true, Policy: model.TTLPolicyEvict},
		Eviction:       eviction.DefaultConfig(),
		MaxTotalSize:   1 << 30, // 1 GiB
		DefaultEngines: []string{engine.ReservedMemoryEngine},
		Codec:          engine.JSONCodec{},
	}
}

// stateFlags enforces that at most one of {clearing, backingUp, restoring}
// may be true at a time.
type stateFlags struct {
	mu         sync.Mutex
	clearing   bool
	backingUp  bool
	restoring  bool
}

func (f *stateFlags) tryStart(which *bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clearing || f.backingUp || f.restoring {
		return false
	}
	*which = true
	return true
}

func (f *stateFlags) finish(which *bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	*which = false
}

func (f *stateFlags) isClearing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clearing
}

// Manager is the KV flavor front: set/read/remove/clear, memory-pressure
// eviction, and the backup/restore hooks.
type Manager struct {
	mu     sync.RWMutex
	scopes map[string]map[string]*Record

	proxy    *engine.Proxy
	bus      *event.Bus
	evict    *eviction.Engine
	memPress eviction.MemoryPressure
	flags    stateFlags

	cfg     Config
	logger  cachifylog.Logger
	metrics *cachifymetrics.Registry

	sizeInMemory int64 // guarded by mu
}

// New creates a KV Manager.
func New(cfg Config, proxy *engine.Proxy, logger cachifylog.Logger, metrics *cachifymetrics.Registry) *Manager {
	if logger == nil {
		logger = cachifylog.Noop()
	}
	if cfg.Codec == nil {
		cfg.Codec = engine.JSONCodec{}
	}

	m := &Manager{
		scopes:  make(map[string]map[string]*Record),
		proxy:   proxy,
		bus:     event.New(),
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
	m.evict = eviction.New(cfg.Eviction, m.candidates, m.evictByCompositeKey)
	return m
}

// Bus returns the KV flavor's event bus.
func (m *Manager) Bus() *event.Bus { return m.bus }

// Size returns the total live record count across every scope map.
func (m *Manager) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, scope := range m.scopes {
		n += len(scope)
	}
	return n
}

// SizeInMemory returns the current memory-resident byte estimate.
func (m *Manager) SizeInMemory() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sizeInMemory
}

func resolveScope(scope string) string {
	if scope == "" {
		return model.DefaultScope
	}
	return scope
}

func compositeKey(scope, key string) string { return scope + keySep + key }

func splitComposite(ck string) (scope, key string) {
	idx := strings.Index(ck, keySep)
	if idx < 0 {
		return "", ck
	}
	return ck[:idx], ck[idx+len(keySep):]
}

// SetOptions configures one Set call.
type SetOptions struct {
	TTL       *model.TTL
	Engines   []string
	SessionID string // guards the write if the record is locked

	// Preload/Initiator/Stats are used by the restore path to re-materialize
	// a record with its original stats instead of fresh ones.
	Preload bool
	Initiator string
	Stats     *model.Stats
}

func (m *Manager) inMemory(engines []string) bool {
	for _, e := range engines {
		if e == engine.ReservedMemoryEngine {
			return true
		}
	}
	return false
}

// Set creates or updates a KV record.
func (m *Manager) Set(ctx context.Context, scope, key string, value any, opts SetOptions) error {
	if m.flags.isClearing() {
		return fmt.Errorf("kv: manager is clearing")
	}
	scope = resolveScope(scope)
	if key == "" {
		return cerrors.ErrValidation.WithDetails("key must not be empty")
	}

	encoded, err := m.cfg.Codec.Encode(value)
	if err != nil {
		return cerrors.ErrValidation.WithDetails("encode value: " + err.Error())
	}

	engines := opts.Engines
	if len(engines) == 0 {
		engines = m.cfg.DefaultEngines
	}

	m.mu.Lock()
	byKey, ok := m.scopes[scope]
	if !ok {
		byKey = make(map[string]*Record)
		m.scopes[scope] = byKey
	}
	existing := byKey[key]
	m.mu.Unlock()

	if existing != nil {
		if err := existing.GuardWrite(ctx, opts.SessionID); err != nil {
			return err
		}
	}

	ref := engine.Ref{Descriptor: engine.Descriptor{Flavor: string(model.FlavorKV), Scope: scope, Key: key}, Engines: engines}
	if err := m.proxy.Set(ctx, ref, encoded); err != nil {
		if m.metrics != nil {
			m.metrics.EngineErrors.WithLabelValues(string(model.FlavorKV), "set").Inc()
		}
		return err
	}

	size := int64(len(key) + len(encoded))

	if existing != nil {
		delta := size - existing.MemorySize()
		existing.recordUpdate(value, size)
		if m.inMemory(existing.Engines()) {
			m.adjustSizeInMemory(delta)
		}
		m.emit(ctx, event.Update, scope, existing, "", 0)
	} else {
		ttlCfg := m.cfg.TTL
		if opts.TTL != nil {
			ttlCfg = *opts.TTL
		}
		rec := newRecord(scope, key, engines, value, size, ttlCfg, func(reason model.Reason) {
			m.onRecordExpire(scope, key, reason)
		})
		if opts.Preload && opts.Stats != nil {
			rec.stats = opts.Stats.Clone()
			rec.rescheduleLocked()
		}

		m.mu.Lock()
		byKey[key] = rec
		m.mu.Unlock()

		if m.inMemory(engines) {
			m.adjustSizeInMemory(size)
		}
		m.emit(ctx, event.Create, scope, rec, "", 0)
	}

	if m.metrics != nil {
		m.metrics.RecordsTotal.WithLabelValues(string(model.FlavorKV)).Set(float64(m.Size()))
	}

	m.evict.DebouncedCheck()
	m.maybeRelieveMemoryPressure()
	return nil
}

func (m *Manager) adjustSizeInMemory(delta int64) {
	m.mu.Lock()
	m.sizeInMemory += delta
	if m.sizeInMemory < 0 {
		m.sizeInMemory = 0
	}
	v := m.sizeInMemory
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.SizeInMemory.WithLabelValues(string(model.FlavorKV)).Set(float64(v))
	}
}

// Resolve returns the live record at (scope, key), or nil if absent. The
// session package uses this to resolve record metas during acquire.
func (m *Manager) Resolve(scope, key string) *Record {
	return m.lookup(scope, key)
}

func (m *Manager) lookup(scope, key string) *Record {
	scope = resolveScope(scope)
	m.mu.RLock()
	defer m.mu.RUnlock()
	byKey, ok := m.scopes[scope]
	if !ok {
		return nil
	}
	return byKey[key]
}

// Read returns the record's value, or ok=false if absent. sessionID, if
// non-empty, identifies the caller's session for the read-blocking check.
func (m *Manager) Read(ctx context.Context, scope, key, sessionID string) (any, bool, error) {
	scope = resolveScope(scope)
	rec := m.lookup(scope, key)
	if rec == nil {
		m.emitMiss(ctx, scope)
		return nil, false, nil
	}

	if err := rec.GuardRead(ctx, sessionID); err != nil {
		return nil, false, err
	}

	ref := engine.Ref{Descriptor: engine.Descriptor{Flavor: string(model.FlavorKV), Scope: scope, Key: key}, Engines: rec.Engines()}
	res, err := m.proxy.Read(ctx, ref)
	if err != nil {
		if m.metrics != nil {
			m.metrics.EngineErrors.WithLabelValues(string(model.FlavorKV), "read").Inc()
		}
		return nil, false, err
	}

	if res.Absent {
		rec.touchAccess(func(c *model.Counts) { c.Read++; c.Miss++ })
		m.emit(ctx, event.Miss, scope, rec, "", 0)
		return nil, false, nil
	}

	value, err := m.cfg.Codec.Decode(res.Value)
	if err != nil {
		return nil, false, fmt.Errorf("kv: decode: %w", err)
	}

	rec.touchAccess(func(c *model.Counts) { c.Read++; c.Hit++ })
	if m.metrics != nil {
		m.metrics.Hits.WithLabelValues(string(model.FlavorKV)).Inc()
	}
	m.emit(ctx, event.Read, scope, rec, "", 0)
	m.emit(ctx, event.Hit, scope, rec, "", 0)
	return value, true, nil
}

// Touch refreshes a record's access time (and sliding TTL) without reading
// its value.
func (m *Manager) Touch(ctx context.Context, scope, key string) bool {
	rec := m.lookup(scope, key)
	if rec == nil {
		return false
	}
	rec.touchAccess(func(c *model.Counts) { c.Touch++ })
	m.emit(ctx, event.Touch, resolveScope(scope), rec, "", 0)
	return true
}

func (m *Manager) emitMiss(ctx context.Context, scope string) {
	if m.metrics != nil {
		m.metrics.Misses.WithLabelValues(string(model.FlavorKV)).Inc()
	}
	m.bus.Emit(ctx, event.Payload{Type: event.Miss, Flavor: string(model.FlavorKV)})
}

// Remove deletes a KV record. Returns true if a record was present and
// removed.
func (m *Manager) Remove(ctx context.Context, scope, key, sessionID string) (bool, error) {
	scope = resolveScope(scope)
	rec := m.lookup(scope, key)
	if rec == nil {
		return false, nil
	}
	if err := rec.GuardWrite(ctx, sessionID); err != nil {
		return false, err
	}
	return m.removeRecord(ctx, scope, key, rec, model.ReasonManual)
}

// removeRecord performs the remove cascade: engine cleanup and map
// detachment happen before the remove event is observed by subscribers.
func (m *Manager) removeRecord(ctx context.Context, scope, key string, rec *Record, reason model.Reason) (bool, error) {
	ref := engine.Ref{Descriptor: engine.Descriptor{Flavor: string(model.FlavorKV), Scope: scope, Key: key}, Engines: rec.Engines()}
	if err := m.proxy.Remove(ctx, ref); err != nil {
		if m.metrics != nil {
			m.metrics.EngineErrors.WithLabelValues(string(model.FlavorKV), "remove").Inc()
		}
		return false, err
	}

	m.mu.Lock()
	if byKey, ok := m.scopes[scope]; ok {
		delete(byKey, key)
		if len(byKey) == 0 {
			delete(m.scopes, scope)
		}
	}
	m.mu.Unlock()

	if m.inMemory(rec.Engines()) {
		m.adjustSizeInMemory(-rec.MemorySize())
	}
	rec.Close()

	if m.metrics != nil {
		m.metrics.RecordsTotal.WithLabelValues(string(model.FlavorKV)).Set(float64(m.Size()))
		if reason != model.ReasonManual {
			m.metrics.Evictions.WithLabelValues(string(model.FlavorKV), string(reason)).Inc()
		}
	}

	m.emit(ctx, event.Remove, scope, rec, string(reason), 0)
	return true, nil
}

func (m *Manager) onRecordExpire(scope, key string, reason model.Reason) {
	rec := m.lookup(scope, key)
	if rec == nil {
		return
	}
	ctx := context.Background()
	m.bus.Emit(ctx, event.Payload{Type: event.Expire, Flavor: string(model.FlavorKV), Item: rec.Export(), Reason: string(reason)})
	_, _ = m.removeRecord(ctx, scope, key, rec, reason)
}

func (m *Manager) emit(ctx context.Context, t event.Type, scope string, rec *Record, reason string, delta int64) {
	m.bus.Emit(ctx, event.Payload{Type: t, Flavor: string(model.FlavorKV), Item: rec.Export(), Reason: reason, Delta: delta})
}

// Has reports whether (scope, key) currently has a live record.
func (m *Manager) Has(scope, key string) bool {
	return m.lookup(scope, key) != nil
}

// Clear removes every record in scope (or every scope, if scope is empty),
// in batches of 1,000.
func (m *Manager) Clear(ctx context.Context, scope string) error {
	if !m.flags.tryStart(&m.flags.clearing) {
		return fmt.Errorf("kv: another process (clear/backup/restore) is active")
	}
	defer m.flags.finish(&m.flags.clearing)

	var targets []*Record
	m.mu.RLock()
	if scope == "" {
		for _, byKey := range m.scopes {
			for _, r := range byKey {
				targets = append(targets, r)
			}
		}
	} else if byKey, ok := m.scopes[resolveScope(scope)]; ok {
		for _, r := range byKey {
			targets = append(targets, r)
		}
	}
	m.mu.RUnlock()

	const batchSize = 1000
	for i := 0; i < len(targets); i += batchSize {
		end := i + batchSize
		if end > len(targets) {
			end = len(targets)
		}
		batch := targets[i:end]

		var freed int64
		items := make([]any, 0, len(batch))
		for _, rec := range batch {
			ref := engine.Ref{Descriptor: engine.Descriptor{Flavor: string(model.FlavorKV), Scope: rec.Scope(), Key: rec.Key()}, Engines: rec.Engines()}
			_ = m.proxy.Remove(ctx, ref)
			if m.inMemory(rec.Engines()) {
				freed += rec.MemorySize()
			}
			rec.Close()
			items = append(items, rec.Export())
		}

		m.mu.Lock()
		for _, rec := range batch {
			s := rec.Scope()
			if byKey, ok := m.scopes[s]; ok {
				delete(byKey, rec.Key())
				if len(byKey) == 0 {
					delete(m.scopes, s)
				}
			}
		}
		m.mu.Unlock()

		m.adjustSizeInMemory(-freed)
		m.bus.Emit(ctx, event.Payload{Type: event.BulkRemove, Flavor: string(model.FlavorKV), Item: items, Reason: string(model.ReasonClear)})
	}

	if m.Size() == 0 {
		m.evict.CancelDebounce()
		m.bus.Dispose()
	}

	if m.metrics != nil {
		m.metrics.RecordsTotal.WithLabelValues(string(model.FlavorKV)).Set(0)
	}
	return nil
}

// TryStartBackup/TryStartRestore/FinishBackup/FinishRestore expose the
// blocking-flag-set transitions to the backup package without it needing
// access to Manager's internals.
func (m *Manager) TryStartBackup() bool  { return m.flags.tryStart(&m.flags.backingUp) }
func (m *Manager) FinishBackup()         { m.flags.finish(&m.flags.backingUp) }
func (m *Manager) TryStartRestore() bool { return m.flags.tryStart(&m.flags.restoring) }
func (m *Manager) FinishRestore()        { m.flags.finish(&m.flags.restoring) }

// Records returns every live record, optionally filtered to one scope, for
// backup iteration over every (scope, key) in the manager's map.
func (m *Manager) Records(scope string) []*Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Record
	if scope != "" {
		for _, r := range m.scopes[resolveScope(scope)] {
			out = append(out, r)
		}
		return out
	}
	for _, byKey := range m.scopes {
		for _, r := range byKey {
			out = append(out, r)
		}
	}
	return out
}

// candidates builds the eviction engine's live view of every record.
func (m *Manager) candidates() []eviction.Candidate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]eviction.Candidate, 0, len(m.scopes))
	for scope, byKey := range m.scopes {
		for key, r := range byKey {
			out = append(out, candidateRef{scope: scope, key: key, rec: r})
		}
	}
	return out
}

func (m *Manager) memCandidates() []eviction.MemoryCandidate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]eviction.MemoryCandidate, 0, len(m.scopes))
	for scope, byKey := range m.scopes {
		for key, r := range byKey {
			if m.inMemory(r.Engines()) {
				out = append(out, candidateRef{scope: scope, key: key, rec: r})
			}
		}
	}
	return out
}

func (m *Manager) evictByCompositeKey(ck, reason string) {
	scope, key := splitComposite(ck)
	rec := m.lookup(scope, key)
	if rec == nil {
		return
	}
	_, _ = m.removeRecord(context.Background(), scope, key, rec, model.Reason(reason))
}

// maybeRelieveMemoryPressure runs the memory-pressure single-flight task
// when sizeInMemory exceeds MaxTotalSize.
func (m *Manager) maybeRelieveMemoryPressure() {
	if m.cfg.MaxTotalSize <= 0 {
		return
	}
	overflow := m.SizeInMemory() - m.cfg.MaxTotalSize
	if overflow <= 0 {
		return
	}

	go m.memPress.Run(m.memCandidates(), overflow, func(c eviction.MemoryCandidate) int64 {
		cr := c.(candidateRef)
		freed, _ := m.removeRecord(context.Background(), cr.scope, cr.key, cr.rec, model.ReasonMemoryLimit)
		if freed {
			return cr.rec.MemorySize()
		}
		return 0
	})
}

// candidateRef adapts a (scope,key,*Record) triple to eviction.Candidate /
// eviction.MemoryCandidate, giving it a composite key unique across scopes.
type candidateRef struct {
	scope string
	key   string
	rec   *Record
}

func (c candidateRef) Key() string               { return compositeKey(c.scope, c.key) }
func (c candidateRef) Created() time.Time        { return c.rec.Created() }
func (c candidateRef) LastAccess() time.Time     { return c.rec.LastAccess() }
func (c candidateRef) TouchCount() uint64        { return c.rec.TouchCount() }
func (c candidateRef) ReadCount() uint64         { return c.rec.ReadCount() }
func (c candidateRef) HitCount() uint64          { return c.rec.HitCount() }
func (c candidateRef) MemorySize() int64         { return c.rec.MemorySize() }

// Close stops background eviction timers, for Cache teardown.
func (m *Manager) Close() {
	m.evict.Close()
}
