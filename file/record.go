// Package file implements the files flavor: records and their manager,
// including reactive filesystem-watch behavior and file-quota enforcement.
package file

import (
	"sync"
	"time"

	"github.com/nasriyasoftware/cachify/model"
	"github.com/nasriyasoftware/cachify/ttl"
)

// Record mirrors one on-disk file: its path/name/size/eTag, whether its
// content is currently cached in the engines, and a TTL job. It holds no
// reference to the filesystem watcher or the engine proxy — Manager drives
// both and calls back into Record purely for metadata/state bookkeeping,
// mirroring the kv.Record/kv.Manager split.
type Record struct {
	mu sync.RWMutex

	scope string
	key   string

	path string
	name string
	size int64 // last-known on-disk size
	eTag string

	contentSize int64 // bytes cached in memory; 0 if not cached
	cached      bool

	engines []string
	stats   model.Stats
	ttlCfg  model.TTL
	job     *ttl.Job

	onExpireEvict func(model.Reason) // policy=evict: remove the record entirely
	onExpireKeep  func()             // policy=keep: drop cached content only
}

// newRecord constructs a file Record already stat'd at (size, mtimeMs).
func newRecord(scope, key, path, name string, engines []string, size, mtimeMs int64, ttlCfg model.TTL, onExpireEvict func(model.Reason), onExpireKeep func()) *Record {
	r := &Record{
		scope:         scope,
		key:           key,
		path:          path,
		name:          name,
		size:          size,
		eTag:          computeETag(size, mtimeMs),
		engines:       append([]string(nil), engines...),
		ttlCfg:        ttlCfg,
		onExpireEvict: onExpireEvict,
		onExpireKeep:  onExpireKeep,
		stats:         model.Stats{Dates: model.Dates{Created: time.Now()}},
	}
	r.job = ttl.NewJob(r.fireExpire)
	r.rescheduleLocked()
	return r
}

func (r *Record) fireExpire() {
	r.mu.RLock()
	policy := r.ttlCfg.Policy
	evict, keep := r.onExpireEvict, r.onExpireKeep
	r.mu.RUnlock()

	switch policy {
	case model.TTLPolicyKeep:
		if keep != nil {
			keep()
		}
	case model.TTLPolicyEvict, "":
		if evict != nil {
			evict(model.ReasonExpire)
		}
	default:
		// "refresh" is reserved for a future reload-from-source policy;
		// until implemented it degrades to evict.
		if evict != nil {
			evict(model.ReasonExpire)
		}
	}
}

func (r *Record) rescheduleLocked() {
	settings := ttl.Settings{Value: r.ttlCfg.Value, Sliding: r.ttlCfg.Sliding, Policy: ttl.Policy(r.ttlCfg.Policy)}
	expireAt := r.job.Reschedule(settings, r.stats.Dates.Created, r.stats.Dates.LastAccess)
	r.stats.Dates.ExpireAt = expireAt
}

// Key implements eviction.Candidate.
func (r *Record) Key() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.key
}

// Scope returns the record's scope.
func (r *Record) Scope() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scope
}

// Path returns the file's current absolute path.
func (r *Record) Path() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.path
}

// Name returns the file's current basename.
func (r *Record) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.name
}

// IsCached reports whether content is currently held in the engines.
func (r *Record) IsCached() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cached
}

// Created implements eviction.Candidate.
func (r *Record) Created() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats.Dates.Created
}

// LastAccess implements eviction.Candidate.
func (r *Record) LastAccess() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats.Dates.LastAccess
}

// TouchCount implements eviction.Candidate.
func (r *Record) TouchCount() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats.Counts.Touch
}

// ReadCount implements eviction.Candidate.
func (r *Record) ReadCount() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats.Counts.Read
}

// HitCount implements eviction.MemoryCandidate.
func (r *Record) HitCount() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats.Counts.Hit
}

// MemorySize implements eviction.MemoryCandidate: the content bytes
// currently cached, 0 when the record is "keep"-evicted of its content.
func (r *Record) MemorySize() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.contentSize
}

// Engines returns a copy of the record's engine list.
func (r *Record) Engines() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.engines...)
}

// Stats returns a snapshot of the record's stats.
func (r *Record) Stats() model.Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats.Clone()
}

// TTL returns the record's TTL configuration.
func (r *Record) TTL() model.TTL {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ttlCfg
}

// touchAccess updates lastAccess and the given counter, then reschedules.
func (r *Record) touchAccess(bump func(*model.Counts)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Dates.LastAccess = time.Now()
	bump(&r.stats.Counts)
	r.rescheduleLocked()
}

// markCached records that content.size bytes are now held in the engines.
func (r *Record) markCached(contentSize int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contentSize = contentSize
	r.cached = true
}

// clearContent marks the record's content as evicted and returns the number
// of bytes that were freed, for the caller to adjust sizeInMemory and emit
// fileContentSizeChange(-prev).
func (r *Record) clearContent() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.contentSize
	r.contentSize = 0
	r.cached = false
	return prev
}

// updateStat refreshes size/eTag after an on-disk change (fsnotify Write,
// or a manual re-stat). The quota check is left to the caller.
func (r *Record) updateStat(size, mtimeMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.size = size
	r.eTag = computeETag(size, mtimeMs)
}

func (r *Record) sizeAndCached() (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size, r.cached
}

// rename updates path/name/key in place, preserving every other field.
func (r *Record) rename(newPath, newName, newKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.path = newPath
	r.name = newName
	r.key = newKey
}

// Close stops the record's TTL job. Called once the record is detached.
func (r *Record) Close() {
	r.job.Cancel()
}

// Export renders the record as the JSON-stable shape used for file backup
// lines: {flavor, engines, scope, key, stats, ttl,
// file:{path,name,eTag,size,stats,isCached}}.
func (r *Record) Export() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]any{
		"flavor":  string(model.FlavorFiles),
		"engines": append([]string(nil), r.engines...),
		"scope":   r.scope,
		"key":     r.key,
		"stats":   r.stats.Clone(),
		"ttl":     r.ttlCfg,
		"file": map[string]any{
			"path":     r.path,
			"name":     r.name,
			"eTag":     r.eTag,
			"size":     r.size,
			"stats":    r.stats.Clone(),
			"isCached": r.cached,
		},
	}
}
