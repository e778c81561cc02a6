// Package eviction implements the size/count-driven eviction engine and idle
// sweep. It is mode-agnostic over "candidate" records supplied by the
// owning flavor manager.
package eviction

import (
	"sort"
	"sync"
	"time"
)

// Mode selects which record is evicted first once the manager is over
// MaxRecords.
type Mode string

const (
	ModeFIFO Mode = "fifo"
	ModeLRU  Mode = "lru"
	ModeLFU  Mode = "lfu"
)

// Unlimited disables count-based eviction.
const Unlimited = -1

// Candidate is the minimal view of a record the eviction engine needs to
// rank it; kv.Record and file.Record both satisfy it.
type Candidate interface {
	Key() string
	Created() time.Time
	LastAccess() time.Time // zero value means "never accessed"
	TouchCount() uint64
	ReadCount() uint64
}

// Config tunes the eviction engine.
type Config struct {
	Enabled     bool          `koanf:"enabled"`
	MaxRecords  int           `koanf:"max_records"` // Unlimited disables count-based eviction
	Mode        Mode          `koanf:"mode"`
	IdleEnabled bool          `koanf:"idle_enabled"`
	MaxIdleTime time.Duration `koanf:"max_idle_time"`
}

// DefaultConfig returns max 500 records, lru, idle disabled with a 60s
// threshold.
func DefaultConfig() Config {
	return Config{Enabled: true, MaxRecords: 500, Mode: ModeLRU, MaxIdleTime: 60 * time.Second}
}

// Engine runs the debounced over-capacity check and periodic idle sweep for
// one flavor manager.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	source func() []Candidate
	evict  func(key string, reason string)

	debounceDelay time.Duration
	debounceTimer *time.Timer

	idleInterval time.Duration
	idleTicker   *time.Ticker
	stopIdle     chan struct{}
}

// New creates an Engine. source returns a live snapshot of the manager's
// records; evict is invoked once per record the engine decides to remove,
// with the eviction reason ("lru", "fifo", "lfu", or "idle").
func New(cfg Config, source func() []Candidate, evict func(key, reason string)) *Engine {
	return &Engine{
		cfg:           cfg,
		source:        source,
		evict:         evict,
		debounceDelay: 100 * time.Millisecond,
		idleInterval:  5 * time.Minute,
	}
}

// SetConfig replaces the tunables; live idle sweeping is started/stopped to
// match.
func (e *Engine) SetConfig(cfg Config) {
	e.mu.Lock()
	wasIdle := e.cfg.IdleEnabled
	e.cfg = cfg
	e.mu.Unlock()

	if cfg.IdleEnabled {
		e.startIdleSweep() // no-op when a sweep is already running
	} else if wasIdle {
		e.stopIdleSweep()
	}
}

// DebouncedCheck schedules (or reschedules) a capacity check ~100ms out,
// coalescing bursts of Set calls into a single pass.
func (e *Engine) DebouncedCheck() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.debounceTimer != nil {
		e.debounceTimer.Stop()
	}
	e.debounceTimer = time.AfterFunc(e.debounceDelay, e.checkCapacity)
}

// CancelDebounce stops any pending debounced check, e.g. on clear().
func (e *Engine) CancelDebounce() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.debounceTimer != nil {
		e.debounceTimer.Stop()
		e.debounceTimer = nil
	}
}

// checkCapacity ranks candidates and evicts the overflow above MaxRecords.
func (e *Engine) checkCapacity() {
	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()

	if !cfg.Enabled || cfg.MaxRecords == Unlimited {
		return
	}

	candidates := e.source()
	if len(candidates) == 0 || len(candidates) <= cfg.MaxRecords {
		return
	}

	ordered := rank(candidates, cfg.Mode)
	overflow := len(candidates) - cfg.MaxRecords
	for i := 0; i < overflow && i < len(ordered); i++ {
		e.evict(ordered[i].Key(), string(cfg.Mode))
	}
}

// rank orders candidates so that index 0 is evicted first.
func rank(candidates []Candidate, mode Mode) []Candidate {
	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)

	switch mode {
	case ModeFIFO:
		sort.Slice(ordered, func(i, j int) bool { return ordered[i].Created().Before(ordered[j].Created()) })
	case ModeLFU:
		sort.Slice(ordered, func(i, j int) bool {
			return ordered[i].TouchCount()+ordered[i].ReadCount() < ordered[j].TouchCount()+ordered[j].ReadCount()
		})
	default: // ModeLRU
		sort.Slice(ordered, func(i, j int) bool {
			return lastActive(ordered[i]).Before(lastActive(ordered[j]))
		})
	}
	return ordered
}

func lastActive(c Candidate) time.Time {
	if la := c.LastAccess(); !la.IsZero() {
		return la
	}
	return c.Created()
}

// startIdleSweep launches the periodic idle sweep goroutine.
func (e *Engine) startIdleSweep() {
	e.mu.Lock()
	if e.idleTicker != nil {
		e.mu.Unlock()
		return
	}
	e.idleTicker = time.NewTicker(e.idleInterval)
	e.stopIdle = make(chan struct{})
	ticker := e.idleTicker
	stop := e.stopIdle
	e.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				e.idleSweep()
			case <-stop:
				return
			}
		}
	}()
}

func (e *Engine) stopIdleSweep() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.idleTicker != nil {
		e.idleTicker.Stop()
		e.idleTicker = nil
	}
	if e.stopIdle != nil {
		close(e.stopIdle)
		e.stopIdle = nil
	}
}

// idleSweep evicts every record idle past MaxIdleTime.
func (e *Engine) idleSweep() {
	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()

	if !cfg.IdleEnabled {
		return
	}

	now := time.Now()
	for _, c := range e.source() {
		if now.Sub(lastActive(c)) > cfg.MaxIdleTime {
			e.evict(c.Key(), "idle")
		}
	}
}

// Close stops every background timer/ticker owned by the engine.
func (e *Engine) Close() {
	e.CancelDebounce()
	e.stopIdleSweep()
}
