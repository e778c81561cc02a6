package eviction

import (
	"testing"
	"time"
)

type fakeCandidate struct {
	key        string
	created    time.Time
	lastAccess time.Time
	touch      uint64
	read       uint64
	hit        uint64
	size       int64
}

func (c fakeCandidate) Key() string           { return c.key }
func (c fakeCandidate) Created() time.Time    { return c.created }
func (c fakeCandidate) LastAccess() time.Time { return c.lastAccess }
func (c fakeCandidate) TouchCount() uint64    { return c.touch }
func (c fakeCandidate) ReadCount() uint64     { return c.read }
func (c fakeCandidate) HitCount() uint64      { return c.hit }
func (c fakeCandidate) MemorySize() int64     { return c.size }

func TestEngine_FIFO_EvictsOldestFirst(t *testing.T) {
	now := time.Now()
	records := []Candidate{
		fakeCandidate{key: "a", created: now.Add(-3 * time.Hour)},
		fakeCandidate{key: "b", created: now.Add(-1 * time.Hour)},
		fakeCandidate{key: "c", created: now.Add(-2 * time.Hour)},
	}

	var evicted []string
	done := make(chan struct{}, 1)
	e := New(Config{Enabled: true, MaxRecords: 2, Mode: ModeFIFO}, func() []Candidate { return records }, func(key, reason string) {
		evicted = append(evicted, key)
		if len(evicted) == 1 {
			done <- struct{}{}
		}
	})
	e.DebouncedCheck()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("eviction never ran")
	}
	if len(evicted) != 1 || evicted[0] != "a" {
		t.Fatalf("expected oldest record 'a' evicted first, got %v", evicted)
	}
}

func TestEngine_Disabled_NeverEvicts(t *testing.T) {
	records := []Candidate{fakeCandidate{key: "a"}, fakeCandidate{key: "b"}, fakeCandidate{key: "c"}}
	called := false
	e := New(Config{Enabled: false, MaxRecords: 1}, func() []Candidate { return records }, func(key, reason string) { called = true })
	e.DebouncedCheck()
	time.Sleep(200 * time.Millisecond)
	if called {
		t.Fatal("a disabled eviction engine must never evict")
	}
}

func TestEngine_Unlimited_NeverEvicts(t *testing.T) {
	records := []Candidate{fakeCandidate{key: "a"}, fakeCandidate{key: "b"}}
	called := false
	e := New(Config{Enabled: true, MaxRecords: Unlimited}, func() []Candidate { return records }, func(key, reason string) { called = true })
	e.DebouncedCheck()
	time.Sleep(200 * time.Millisecond)
	if called {
		t.Fatal("MaxRecords=Unlimited must disable count-based eviction")
	}
}

func TestEngine_IdleSweep_EvictsPastThreshold(t *testing.T) {
	now := time.Now()
	records := []Candidate{
		fakeCandidate{key: "stale", created: now.Add(-time.Hour), lastAccess: now.Add(-time.Hour)},
		fakeCandidate{key: "fresh", created: now, lastAccess: now},
	}
	evicted := make(chan string, 1)
	e := New(Config{IdleEnabled: true, MaxIdleTime: 10 * time.Millisecond, MaxRecords: Unlimited},
		func() []Candidate { return records },
		func(key, reason string) {
			if reason == "idle" {
				evicted <- key
			}
		})
	e.idleInterval = 20 * time.Millisecond
	e.SetConfig(e.cfg)

	select {
	case key := <-evicted:
		if key != "stale" {
			t.Fatalf("expected 'stale' to be idle-evicted, got %q", key)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("idle sweep never evicted the stale record")
	}
	e.Close()
}

func TestMemoryPressure_EvictsAscendingUntilOverflowCleared(t *testing.T) {
	candidates := []MemoryCandidate{
		fakeCandidate{key: "hot", touch: 100, size: 10},
		fakeCandidate{key: "cold", touch: 0, size: 10},
		fakeCandidate{key: "warm", touch: 5, size: 10},
	}

	var mp MemoryPressure
	var freedOrder []string
	mp.Run(candidates, 15, func(c MemoryCandidate) int64 {
		freedOrder = append(freedOrder, c.Key())
		return c.MemorySize()
	})

	if len(freedOrder) != 2 || freedOrder[0] != "cold" || freedOrder[1] != "warm" {
		t.Fatalf("expected ascending-score eviction [cold warm], got %v", freedOrder)
	}
}

func TestMemoryPressure_SingleFlight(t *testing.T) {
	candidates := []MemoryCandidate{fakeCandidate{key: "a", size: 10}}
	var mp MemoryPressure

	blocking := make(chan struct{})
	started := make(chan struct{})
	go mp.Run(candidates, 5, func(c MemoryCandidate) int64 {
		close(started)
		<-blocking
		return c.MemorySize()
	})
	<-started

	ran := false
	mp.Run(candidates, 5, func(c MemoryCandidate) int64 {
		ran = true
		return c.MemorySize()
	})
	close(blocking)
	time.Sleep(50 * time.Millisecond)

	if ran {
		t.Fatal("a concurrent Run call must not execute while a sweep is already in progress")
	}
}
