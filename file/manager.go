package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nasriyasoftware/cachify/cerrors"
	"github.com/nasriyasoftware/cachify/engine"
	"github.com/nasriyasoftware/cachify/event"
	"github.com/nasriyasoftware/cachify/eviction"
	"github.com/nasriyasoftware/cachify/internal/cachifylog"
	"github.com/nasriyasoftware/cachify/internal/cachifymetrics"
	"github.com/nasriyasoftware/cachify/model"
)

// Config tunes a Manager.
type Config struct {
	TTL            model.TTL       `koanf:"ttl"`
	Eviction       eviction.Config `koanf:"eviction"`
	MaxFileSize    int64           `koanf:"max_file_size"`  // bytes; quota enforced at stat time
	MaxTotalSize   int64           `koanf:"max_total_size"` // bytes; memory-pressure threshold for cached content
	DefaultEngines []string        `koanf:"default_engines"`
}

// DefaultConfig returns the numeric defaults for files.
func DefaultConfig() Config {
	return Config{
		TTL:            model.TTL{Value: 300 * time.Second, Sliding: true, Policy: model.TTLPolicyEvict},
		Eviction:       eviction.DefaultConfig(),
		MaxFileSize:    100 << 20, // 100 MiB
		MaxTotalSize:   1 << 30,   // 1 GiB
		DefaultEngines: []string{engine.ReservedMemoryEngine},
	}
}

type stateFlags struct {
	mu        sync.Mutex
	clearing  bool
	backingUp bool
	restoring bool
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

const keySep = "\x00"

func compositeKey(scope, key string) string { return scope + keySep + key }

func splitComposite(ck string) (scope, key string) {
	idx := strings.Index(ck, keySep)
	if idx < 0 {
		return "", ck
	}
	return ck[:idx], ck[idx+len(keySep):]
}

type recordLoc struct {
	scope string
	key   string
}

// Manager is the files flavor front: watch/read/remove/rename, file-quota
// enforcement, and reactive filesystem behavior.
type Manager struct {
	mu     sync.RWMutex
	scopes map[string]map[string]*Record // scope -> key -> record

	watcher    *fsnotify.Watcher
	dirRefs    map[string]int               // watched directory -> reference count
	watchIndex map[string]map[string][]recordLoc // dir -> basename -> records watching it

	proxy    *engine.Proxy
	bus      *event.Bus
	evict    *eviction.Engine
	memPress eviction.MemoryPressure
	flags    stateFlags

	cfg     Config
	logger  cachifylog.Logger
	metrics *cachifymetrics.Registry

	sizeInMemory int64 // guarded by mu; sum of cached content sizes

	stopCh chan struct{}
}

// New creates a files Manager and starts its filesystem-watch loop.
func New(cfg Config, proxy *engine.Proxy, logger cachifylog.Logger, metrics *cachifymetrics.Registry) (*Manager, error) {
	if logger == nil {
		logger = cachifylog.Noop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("file: create watcher: %w", err)
	}

	m := &Manager{
		scopes:     make(map[string]map[string]*Record),
		watcher:    watcher,
		dirRefs:    make(map[string]int),
		watchIndex: make(map[string]map[string][]recordLoc),
		proxy:      proxy,
		bus:        event.New(),
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		stopCh:     make(chan struct{}),
	}
	m.evict = eviction.New(cfg.Eviction, m.candidates, m.evictByCompositeKey)
	go m.watchLoop()
	return m, nil
}

// Bus returns the files flavor's event bus.
func (m *Manager) Bus() *event.Bus { return m.bus }

// Size returns the total live record count.
func (m *Manager) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, byKey := range m.scopes {
		n += len(byKey)
	}
	return n
}

// SizeInMemory returns the current cached-content byte total.
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

func (m *Manager) inMemory(engines []string) bool {
	for _, e := range engines {
		if e == engine.ReservedMemoryEngine {
			return true
		}
	}
	return false
}

// WatchOptions configures Watch/ensureRecord.
type WatchOptions struct {
	TTL       *model.TTL
	Engines   []string
	Preload   bool
	Stats     *model.Stats
}

// Watch registers filePath as a file record under scope: stats it, enforces
// the size quota, and subscribes to filesystem events for its directory.
func (m *Manager) Watch(ctx context.Context, scope, filePath string, opts WatchOptions) error {
	_, err := m.ensureRecord(scope, filePath, opts)
	return err
}

func (m *Manager) ensureRecord(scope, filePath string, opts WatchOptions) (*Record, error) {
	if m.flags.isClearing() {
		return nil, fmt.Errorf("file: manager is clearing")
	}
	scope = resolveScope(scope)
	abs := normalizePath(filePath)
	key := deriveKey(filePath)

	m.mu.RLock()
	if byKey, ok := m.scopes[scope]; ok {
		if rec, ok := byKey[key]; ok {
			m.mu.RUnlock()
			return rec, nil
		}
	}
	m.mu.RUnlock()

	fi, err := os.Stat(abs)
	if err != nil {
		return nil, cerrors.ErrValidation.WithDetails("stat " + abs + ": " + err.Error())
	}
	if fi.Size() > m.cfg.MaxFileSize {
		return nil, cerrors.ErrValidation.WithDetails(fmt.Sprintf("%s exceeds max file size %d", abs, m.cfg.MaxFileSize))
	}

	engines := opts.Engines
	if len(engines) == 0 {
		engines = m.cfg.DefaultEngines
	}
	ttlCfg := m.cfg.TTL
	if opts.TTL != nil {
		ttlCfg = *opts.TTL
	}

	name := filepath.Base(abs)
	rec := newRecord(scope, key, abs, name, engines, fi.Size(), fi.ModTime().UnixMilli(), ttlCfg,
		func(reason model.Reason) { m.onExpireEvict(scope, key, reason) },
		func() { m.onExpireKeep(scope, key) },
	)
	if opts.Preload && opts.Stats != nil {
		rec.stats = opts.Stats.Clone()
		rec.rescheduleLocked()
	}

	m.mu.Lock()
	byKey, ok := m.scopes[scope]
	if !ok {
		byKey = make(map[string]*Record)
		m.scopes[scope] = byKey
	}
	byKey[key] = rec
	m.mu.Unlock()

	if err := m.addWatch(abs, scope, key); err != nil {
		m.logger.Warn("file watch registration failed", "path", abs, "error", err)
	}

	if m.metrics != nil {
		m.metrics.RecordsTotal.WithLabelValues(string(model.FlavorFiles)).Set(float64(m.Size()))
	}
	m.emit(event.Create, scope, rec, "", 0)
	m.evict.DebouncedCheck()
	return rec, nil
}

func (m *Manager) addWatch(absPath, scope, key string) error {
	dir := filepath.Dir(absPath)
	base := filepath.Base(absPath)

	m.mu.Lock()
	defer m.mu.Unlock()

	byBase, ok := m.watchIndex[dir]
	if !ok {
		byBase = make(map[string][]recordLoc)
		m.watchIndex[dir] = byBase
	}
	byBase[base] = append(byBase[base], recordLoc{scope: scope, key: key})

	if m.dirRefs[dir] == 0 {
		if err := m.watcher.Add(dir); err != nil {
			return err
		}
	}
	m.dirRefs[dir]++
	return nil
}

func (m *Manager) removeWatch(absPath, scope, key string) {
	dir := filepath.Dir(absPath)
	base := filepath.Base(absPath)

	m.mu.Lock()
	defer m.mu.Unlock()

	if byBase, ok := m.watchIndex[dir]; ok {
		locs := byBase[base]
		for i, l := range locs {
			if l.scope == scope && l.key == key {
				locs = append(locs[:i], locs[i+1:]...)
				break
			}
		}
		if len(locs) == 0 {
			delete(byBase, base)
		} else {
			byBase[base] = locs
		}
		if len(byBase) == 0 {
			delete(m.watchIndex, dir)
		}
	}

	m.dirRefs[dir]--
	if m.dirRefs[dir] <= 0 {
		delete(m.dirRefs, dir)
		_ = m.watcher.Remove(dir)
	}
}

// watchLoop dispatches fsnotify events to the records watching each
// directory, filtered by basename.
func (m *Manager) watchLoop() {
	for {
		select {
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleEvent(ev)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("file watcher error", "error", err)
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) handleEvent(ev fsnotify.Event) {
	dir := filepath.Dir(ev.Name)
	base := filepath.Base(ev.Name)

	m.mu.RLock()
	locs := append([]recordLoc(nil), m.watchIndex[dir][base]...)
	m.mu.RUnlock()

	for _, loc := range locs {
		rec := m.lookup(loc.scope, loc.key)
		if rec == nil {
			continue
		}
		switch {
		case ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create):
			m.onFileChanged(loc.scope, loc.key, rec)
		case ev.Has(fsnotify.Remove):
			_, _ = m.removeRecord(context.Background(), loc.scope, loc.key, rec, model.ReasonFileDelete)
		case ev.Has(fsnotify.Rename):
			// fsnotify cannot correlate the old path with its destination
			// (no inotify move cookie), so a passively observed rename is
			// treated as a delete; callers that know the destination use
			// Manager.Rename for the full onRename cascade.
			_, _ = m.removeRecord(context.Background(), loc.scope, loc.key, rec, model.ReasonFileDelete)
		}
	}
}

func (m *Manager) onFileChanged(scope, key string, rec *Record) {
	fi, err := os.Stat(rec.Path())
	if err != nil {
		return
	}
	if fi.Size() > m.cfg.MaxFileSize {
		// Grow-after-create over limit invalidates the record rather than
		// rejecting the write outright.
		_, _ = m.removeRecord(context.Background(), scope, key, rec, model.ReasonFileExceedsLimit)
		return
	}
	rec.updateStat(fi.Size(), fi.ModTime().UnixMilli())

	if rec.IsCached() {
		m.reload(context.Background(), scope, key, rec)
	}
}

func (m *Manager) reload(ctx context.Context, scope, key string, rec *Record) {
	data, err := os.ReadFile(rec.Path())
	if err != nil {
		m.logger.Warn("file reload failed", "path", rec.Path(), "error", err)
		return
	}
	ref := engine.Ref{Descriptor: engine.Descriptor{Flavor: string(model.FlavorFiles), Scope: scope, Key: key}, Engines: rec.Engines()}
	if err := m.proxy.Set(ctx, ref, data); err != nil {
		m.logger.Warn("file reload engine write failed", "path", rec.Path(), "error", err)
		return
	}
	prev := rec.MemorySize()
	rec.markCached(int64(len(data)))
	if m.inMemory(rec.Engines()) {
		m.adjustSizeInMemory(int64(len(data)) - prev)
	}
	m.emit(event.FileContentSizeChange, scope, rec, "", int64(len(data))-prev)
	m.maybeRelieveMemoryPressure()
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
		m.metrics.SizeInMemory.WithLabelValues(string(model.FlavorFiles)).Set(float64(v))
	}
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

// Read loads a file's bytes, lazily registering a watch if this is the
// first access. Content is loaded on first read, not on watch
// registration.
func (m *Manager) Read(ctx context.Context, scope, filePath string) ([]byte, bool, error) {
	rec, err := m.ensureRecord(scope, filePath, WatchOptions{})
	if err != nil {
		return nil, false, err
	}
	scope = resolveScope(scope)
	key := deriveKey(filePath)

	_, cached := rec.sizeAndCached()
	ref := engine.Ref{Descriptor: engine.Descriptor{Flavor: string(model.FlavorFiles), Scope: scope, Key: key}, Engines: rec.Engines()}

	if cached {
		res, err := m.proxy.Read(ctx, ref)
		if err == nil && !res.Absent {
			rec.touchAccess(func(c *model.Counts) { c.Read++; c.Hit++ })
			if m.metrics != nil {
				m.metrics.Hits.WithLabelValues(string(model.FlavorFiles)).Inc()
			}
			m.emit(event.Read, scope, rec, "hit", 0)
			return res.Value, true, nil
		}
		// Engine lost the bytes despite the cached flag; fall through and
		// reload from disk rather than surface a hard invariant error.
	}

	data, err := os.ReadFile(rec.Path())
	if err != nil {
		return nil, false, fmt.Errorf("file: read %s: %w", rec.Path(), err)
	}
	if err := m.proxy.Set(ctx, ref, data); err != nil {
		if m.metrics != nil {
			m.metrics.EngineErrors.WithLabelValues(string(model.FlavorFiles), "set").Inc()
		}
		return nil, false, err
	}
	prev := rec.MemorySize()
	rec.markCached(int64(len(data)))
	if m.inMemory(rec.Engines()) {
		m.adjustSizeInMemory(int64(len(data)) - prev)
	}
	m.emit(event.FileContentSizeChange, scope, rec, "", int64(len(data))-prev)

	rec.touchAccess(func(c *model.Counts) { c.Read++; c.Miss++ })
	if m.metrics != nil {
		m.metrics.Misses.WithLabelValues(string(model.FlavorFiles)).Inc()
	}
	m.emit(event.Read, scope, rec, "miss", 0)
	m.maybeRelieveMemoryPressure()
	return data, true, nil
}

// ClearContent drops a record's cached bytes while keeping the record
// alive. It also removes the bytes from the memory engine, so
// sizeInMemory accounting and the "keep" TTL policy stay honest about what
// is actually memory-resident.
func (m *Manager) ClearContent(ctx context.Context, scope, filePath string) error {
	rec := m.lookup(scope, deriveKey(filePath))
	if rec == nil {
		return nil
	}
	return m.clearContentRecord(ctx, resolveScope(scope), deriveKey(filePath), rec)
}

func (m *Manager) clearContentRecord(ctx context.Context, scope, key string, rec *Record) error {
	if !rec.IsCached() {
		return nil
	}
	ref := engine.Ref{Descriptor: engine.Descriptor{Flavor: string(model.FlavorFiles), Scope: scope, Key: key}, Engines: rec.Engines()}
	if err := m.proxy.Remove(ctx, ref); err != nil {
		return err
	}
	prev := rec.clearContent()
	if m.inMemory(rec.Engines()) {
		m.adjustSizeInMemory(-prev)
	}
	m.emit(event.FileContentSizeChange, scope, rec, "", -prev)
	return nil
}

func (m *Manager) onExpireEvict(scope, key string, reason model.Reason) {
	rec := m.lookup(scope, key)
	if rec == nil {
		return
	}
	ctx := context.Background()
	m.bus.Emit(ctx, event.Payload{Type: event.Expire, Flavor: string(model.FlavorFiles), Item: rec.Export(), Reason: string(reason)})
	_, _ = m.removeRecord(ctx, scope, key, rec, reason)
}

func (m *Manager) onExpireKeep(scope, key string) {
	rec := m.lookup(scope, key)
	if rec == nil {
		return
	}
	_ = m.clearContentRecord(context.Background(), scope, key, rec)
}

// Remove deletes a file record and its watch.
func (m *Manager) Remove(ctx context.Context, scope, filePath string) (bool, error) {
	scope = resolveScope(scope)
	key := deriveKey(filePath)
	rec := m.lookup(scope, key)
	if rec == nil {
		return false, nil
	}
	return m.removeRecord(ctx, scope, key, rec, model.ReasonManual)
}

func (m *Manager) removeRecord(ctx context.Context, scope, key string, rec *Record, reason model.Reason) (bool, error) {
	ref := engine.Ref{Descriptor: engine.Descriptor{Flavor: string(model.FlavorFiles), Scope: scope, Key: key}, Engines: rec.Engines()}
	if rec.IsCached() {
		if err := m.proxy.Remove(ctx, ref); err != nil {
			if m.metrics != nil {
				m.metrics.EngineErrors.WithLabelValues(string(model.FlavorFiles), "remove").Inc()
			}
			return false, err
		}
	}

	m.mu.Lock()
	if byKey, ok := m.scopes[scope]; ok {
		delete(byKey, key)
		if len(byKey) == 0 {
			delete(m.scopes, scope)
		}
	}
	m.mu.Unlock()

	freed := rec.MemorySize()
	if m.inMemory(rec.Engines()) && freed > 0 {
		m.adjustSizeInMemory(-freed)
	}
	m.removeWatch(rec.Path(), scope, key)
	rec.Close()

	if m.metrics != nil {
		m.metrics.RecordsTotal.WithLabelValues(string(model.FlavorFiles)).Set(float64(m.Size()))
		if reason != model.ReasonManual {
			m.metrics.Evictions.WithLabelValues(string(model.FlavorFiles), string(reason)).Inc()
		}
	}
	m.emit(event.Remove, scope, rec, string(reason), 0)
	return true, nil
}

// Rename relocates a tracked file explicitly: drops engine entries at the
// old key, re-caches under the new key if it was cached, and emits
// fileRenameChange. This is a caller-driven API rather than purely
// fsnotify-derived, since fsnotify cannot correlate a rename's source and
// destination on its own.
func (m *Manager) Rename(ctx context.Context, scope, oldPath, newPath string) error {
	scope = resolveScope(scope)
	oldKey := deriveKey(oldPath)
	rec := m.lookup(scope, oldKey)
	if rec == nil {
		return cerrors.ErrSessionRecordNotFound
	}

	newAbs := normalizePath(newPath)
	newKey := deriveKey(newPath)
	newName := filepath.Base(newAbs)

	oldRef := engine.Ref{Descriptor: engine.Descriptor{Flavor: string(model.FlavorFiles), Scope: scope, Key: oldKey}, Engines: rec.Engines()}
	newRef := engine.Ref{Descriptor: engine.Descriptor{Flavor: string(model.FlavorFiles), Scope: scope, Key: newKey}, Engines: rec.Engines()}

	if rec.IsCached() {
		res, err := m.proxy.Read(ctx, oldRef)
		if err == nil && !res.Absent {
			if err := m.proxy.Set(ctx, newRef, res.Value); err != nil {
				return err
			}
		}
		_ = m.proxy.Remove(ctx, oldRef)
	}

	m.removeWatch(rec.Path(), scope, oldKey)

	m.mu.Lock()
	if byKey, ok := m.scopes[scope]; ok {
		delete(byKey, oldKey)
		byKey[newKey] = rec
	}
	m.mu.Unlock()

	rec.rename(newAbs, newName, newKey)
	if err := m.addWatch(newAbs, scope, newKey); err != nil {
		m.logger.Warn("file watch registration failed", "path", newAbs, "error", err)
	}

	m.bus.Emit(ctx, event.Payload{Type: event.FileRenameChange, Flavor: string(model.FlavorFiles), Item: rec.Export(), Paths: [2]string{oldPath, newPath}})
	return nil
}

func (m *Manager) emit(t event.Type, scope string, rec *Record, reason string, delta int64) {
	m.bus.Emit(context.Background(), event.Payload{Type: t, Flavor: string(model.FlavorFiles), Item: rec.Export(), Reason: reason, Delta: delta})
}

// Has reports whether (scope, filePath) currently has a live record.
func (m *Manager) Has(scope, filePath string) bool {
	return m.lookup(scope, deriveKey(filePath)) != nil
}

// Records returns every live record, optionally filtered to one scope, for
// backup iteration.
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

// Clear removes every record in scope (or every scope, if scope is empty),
// in batches of 1,000.
func (m *Manager) Clear(ctx context.Context, scope string) error {
	if !m.flags.tryStart(&m.flags.clearing) {
		return fmt.Errorf("file: another process (clear/backup/restore) is active")
	}
	defer m.flags.finish(&m.flags.clearing)

	var targets []struct {
		scope, key string
		rec        *Record
	}
	m.mu.RLock()
	if scope == "" {
		for s, byKey := range m.scopes {
			for k, r := range byKey {
				targets = append(targets, struct {
					scope, key string
					rec        *Record
				}{s, k, r})
			}
		}
	} else if byKey, ok := m.scopes[resolveScope(scope)]; ok {
		for k, r := range byKey {
			targets = append(targets, struct {
				scope, key string
				rec        *Record
			}{resolveScope(scope), k, r})
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

		items := make([]any, 0, len(batch))
		for _, t := range batch {
			ref := engine.Ref{Descriptor: engine.Descriptor{Flavor: string(model.FlavorFiles), Scope: t.scope, Key: t.key}, Engines: t.rec.Engines()}
			if t.rec.IsCached() {
				_ = m.proxy.Remove(ctx, ref)
			}
			m.removeWatch(t.rec.Path(), t.scope, t.key)
			t.rec.Close()
			items = append(items, t.rec.Export())
		}

		m.mu.Lock()
		var freed int64
		for _, t := range batch {
			if byKey, ok := m.scopes[t.scope]; ok {
				freed += t.rec.MemorySize()
				delete(byKey, t.key)
				if len(byKey) == 0 {
					delete(m.scopes, t.scope)
				}
			}
		}
		m.mu.Unlock()
		m.adjustSizeInMemory(-freed)

		m.bus.Emit(ctx, event.Payload{Type: event.BulkRemove, Flavor: string(model.FlavorFiles), Item: items, Reason: string(model.ReasonClear)})
	}

	if m.Size() == 0 {
		m.evict.CancelDebounce()
		m.bus.Dispose()
	}
	if m.metrics != nil {
		m.metrics.RecordsTotal.WithLabelValues(string(model.FlavorFiles)).Set(0)
	}
	return nil
}

func (m *Manager) TryStartBackup() bool  { return m.flags.tryStart(&m.flags.backingUp) }
func (m *Manager) FinishBackup()         { m.flags.finish(&m.flags.backingUp) }
func (m *Manager) TryStartRestore() bool { return m.flags.tryStart(&m.flags.restoring) }
func (m *Manager) FinishRestore()        { m.flags.finish(&m.flags.restoring) }

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
			if r.IsCached() {
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

// maybeRelieveMemoryPressure runs the memory-pressure single-flight task:
// for files, this calls clearContent rather than removing the record.
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
		freed := cr.rec.MemorySize()
		_ = m.clearContentRecord(context.Background(), cr.scope, cr.key, cr.rec)
		return freed
	})
}

type candidateRef struct {
	scope string
	key   string
	rec   *Record
}

func (c candidateRef) Key() string           { return compositeKey(c.scope, c.key) }
func (c candidateRef) Created() time.Time    { return c.rec.Created() }
func (c candidateRef) LastAccess() time.Time { return c.rec.LastAccess() }
func (c candidateRef) TouchCount() uint64    { return c.rec.TouchCount() }
func (c candidateRef) ReadCount() uint64     { return c.rec.ReadCount() }
func (c candidateRef) HitCount() uint64      { return c.rec.HitCount() }
func (c candidateRef) MemorySize() int64     { return c.rec.MemorySize() }

// Close stops the watcher and eviction timers, for Cache teardown.
func (m *Manager) Close() {
	close(m.stopCh)
	_ = m.watcher.Close()
	m.evict.Close()
}
