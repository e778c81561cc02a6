package eviction

import (
	"sort"
	"sync"
)

// MemoryCandidate is a record considered for memory-pressure relief; it adds
// a hit count (for the touch+read+hit score) and its in-memory size on top of
// Candidate.
type MemoryCandidate interface {
	Candidate
	HitCount() uint64
	MemorySize() int64
}

// MemoryPressure runs a single-flight "free_memory" task: it sorts
// candidates by ascending (touch+read+hit, lastAccess) and calls
// relieve on each until the overflow is cleared. Safe for concurrent callers;
// only one sweep actually runs at a time, and a Run call made while a sweep
// is in progress returns immediately without doing anything.
type MemoryPressure struct {
	mu      sync.Mutex
	running bool
}

// Run drives relief against overflowBytes (already-exceeded memory over
// maxTotalSize). relieve is called once per candidate, in sorted order,
// and must return how many bytes it actually freed; Run stops once the
// cumulative freed bytes clears overflowBytes or candidates run out.
func (m *MemoryPressure) Run(candidates []MemoryCandidate, overflowBytes int64, relieve func(MemoryCandidate) int64) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	ordered := make([]MemoryCandidate, len(candidates))
	copy(ordered, candidates)
	sort.Slice(ordered, func(i, j int) bool {
		si := ordered[i].TouchCount() + ordered[i].ReadCount() + ordered[i].HitCount()
		sj := ordered[j].TouchCount() + ordered[j].ReadCount() + ordered[j].HitCount()
		if si != sj {
			return si < sj
		}
		return lastActive(ordered[i]).Before(lastActive(ordered[j]))
	})

	var freed int64
	for _, c := range ordered {
		if freed >= overflowBytes {
			return
		}
		freed += relieve(c)
	}
}
