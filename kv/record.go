// Package kv implements the KV flavor: records and their manager, plus the
// record-level half of the session locking facility.
package kv

import (
	"sync"
	"time"

	"github.com/nasriyasoftware/cachify/model"
	"github.com/nasriyasoftware/cachify/ttl"
)

// Record is one KV entry: an opaque value, its stats, TTL job, and at most
// one attached session lock.
type Record struct {
	mu sync.RWMutex

	scope   string
	key     string
	engines []string

	value any
	size  int64 // stats.size estimate

	stats  model.Stats
	ttlCfg model.TTL
	job    *ttl.Job

	lock *lockState

	onExpire func(reason model.Reason) // wired by Manager at construction
}

func newRecord(scope, key string, engines []string, value any, size int64, ttlCfg model.TTL, onExpire func(model.Reason)) *Record {
	r := &Record{
		scope:    scope,
		key:      key,
		engines:  append([]string(nil), engines...),
		value:    value,
		size:     size,
		ttlCfg:   ttlCfg,
		onExpire: onExpire,
		stats: model.Stats{
			Dates: model.Dates{Created: time.Now()},
		},
	}
	r.job = ttl.NewJob(r.fireExpire)
	r.rescheduleLocked()
	return r
}

func (r *Record) fireExpire() {
	r.mu.RLock()
	policy := r.ttlCfg.Policy
	onExpire := r.onExpire
	r.mu.RUnlock()

	switch policy {
	case model.TTLPolicyEvict, "":
		if onExpire != nil {
			onExpire(model.ReasonExpire)
		}
	default:
		// KV only supports "evict"; any other configured policy degrades
		// to evict rather than wedging the record in a state nothing will
		// ever clean up.
		if onExpire != nil {
			onExpire(model.ReasonExpire)
		}
	}
}

// rescheduleLocked recomputes the TTL job from the record's current dates.
// Caller must hold r.mu.
func (r *Record) rescheduleLocked() {
	settings := ttl.Settings{Value: r.ttlCfg.Value, Sliding: r.ttlCfg.Sliding, Policy: ttl.Policy(r.ttlCfg.Policy)}
	lastAccess := r.stats.Dates.LastAccess
	expireAt := r.job.Reschedule(settings, r.stats.Dates.Created, lastAccess)
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

// MemorySize implements eviction.MemoryCandidate.
func (r *Record) MemorySize() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
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

// Value returns the record's current in-process value (not necessarily what
// every engine holds at this instant, but what the last successful
// set or restore stored; reads do not update it).
func (r *Record) Value() any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value
}

// touchAccess updates lastAccess and the given counter, then reschedules the
// TTL job if sliding.
func (r *Record) touchAccess(bump func(*model.Counts)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Dates.LastAccess = time.Now()
	bump(&r.stats.Counts)
	r.rescheduleLocked()
}

func (r *Record) recordUpdate(newValue any, newSize int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.value = newValue
	r.size = newSize
	now := time.Now()
	r.stats.Dates.LastAccess = now
	r.stats.Dates.LastUpdate = now
	r.stats.Counts.Update++
	r.rescheduleLocked()
}

// Close stops the record's TTL job. Called once the record is detached.
func (r *Record) Close() {
	r.job.Cancel()
}

// Export renders the record as the JSON-stable shape used for KV backup
// lines: {flavor, engines, scope, key, stats, ttl, value}.
func (r *Record) Export() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]any{
		"flavor":  string(model.FlavorKV),
		"engines": append([]string(nil), r.engines...),
		"scope":   r.scope,
		"key":     r.key,
		"stats":   r.stats.Clone(),
		"ttl":     r.ttlCfg,
		"value":   r.value,
	}
}
