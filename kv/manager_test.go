package kv

import (
	"context"
	"testing"
	"time"

	"github.com/nasriyasoftware/cachify/engine"
	"github.com/nasriyasoftware/cachify/eviction"
	"github.com/nasriyasoftware/cachify/internal/cachifylog"
	"github.com/nasriyasoftware/cachify/model"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	proxy := engine.NewProxy(engine.NewMemory())
	cfg := DefaultConfig()
	cfg.Eviction.Enabled = false
	m := New(cfg, proxy, cachifylog.Noop(), nil)
	t.Cleanup(m.Close)
	return m
}

func TestManager_SetReadRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.Set(ctx, "", "greeting", "hello", SetOptions{}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v, ok, err := m.Read(ctx, "", "greeting", "")
	if err != nil || !ok {
		t.Fatalf("Read: v=%v ok=%v err=%v", v, ok, err)
	}
	if v != "hello" {
		t.Fatalf("got %v, want hello", v)
	}
}

func TestManager_Read_MissingKey(t *testing.T) {
	m := newTestManager(t)
	_, ok, err := m.Read(context.Background(), "", "nope", "")
	if err != nil {
		t.Fatalf("Read of missing key should not error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a missing key")
	}
}

func TestManager_Remove(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_ = m.Set(ctx, "", "k", "v", SetOptions{})

	removed, err := m.Remove(ctx, "", "k", "")
	if err != nil || !removed {
		t.Fatalf("Remove: removed=%v err=%v", removed, err)
	}
	if _, ok, _ := m.Read(ctx, "", "k", ""); ok {
		t.Fatal("record should be gone after Remove")
	}

	removed, err = m.Remove(ctx, "", "k", "")
	if err != nil || removed {
		t.Fatalf("removing an already-absent key should return removed=false, got %v/%v", removed, err)
	}
}

func TestManager_Size_CountsAcrossScopes(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_ = m.Set(ctx, "tenantA", "k1", "v", SetOptions{})
	_ = m.Set(ctx, "tenantB", "k2", "v", SetOptions{})

	if got := m.Size(); got != 2 {
		t.Fatalf("Size() = %d, want 2", got)
	}
}

func TestManager_TTLExpiry_RemovesRecord(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	ttlCfg := model.TTL{Value: 20 * time.Millisecond, Policy: model.TTLPolicyEvict}
	_ = m.Set(ctx, "", "ephemeral", "v", SetOptions{TTL: &ttlCfg})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !m.Has("", "ephemeral") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("record was never evicted after its TTL elapsed")
}

func TestManager_Clear_RemovesEverything(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_ = m.Set(ctx, "", "a", 1, SetOptions{})
	_ = m.Set(ctx, "", "b", 2, SetOptions{})

	if err := m.Clear(ctx, ""); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if m.Size() != 0 {
		t.Fatalf("Size() after Clear = %d, want 0", m.Size())
	}
}

func TestManager_BlockingFlagSet_RejectsConcurrentBackupAndRestore(t *testing.T) {
	m := newTestManager(t)
	if !m.TryStartBackup() {
		t.Fatal("first TryStartBackup should succeed")
	}
	if m.TryStartRestore() {
		t.Fatal("TryStartRestore must fail while a backup is in progress")
	}
	m.FinishBackup()
	if !m.TryStartRestore() {
		t.Fatal("TryStartRestore should succeed once the backup finishes")
	}
	m.FinishRestore()
}

func TestManager_Eviction_MaxRecords(t *testing.T) {
	proxy := engine.NewProxy(engine.NewMemory())
	cfg := DefaultConfig()
	cfg.Eviction = eviction.Config{Enabled: true, MaxRecords: 2, Mode: eviction.ModeFIFO}
	m := New(cfg, proxy, cachifylog.Noop(), nil)
	t.Cleanup(m.Close)

	ctx := context.Background()
	_ = m.Set(ctx, "", "a", 1, SetOptions{})
	time.Sleep(5 * time.Millisecond)
	_ = m.Set(ctx, "", "b", 2, SetOptions{})
	time.Sleep(5 * time.Millisecond)
	_ = m.Set(ctx, "", "c", 3, SetOptions{})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && m.Size() > 2 {
		time.Sleep(20 * time.Millisecond)
	}
	if m.Size() != 2 {
		t.Fatalf("Size() = %d, want 2 after over-capacity eviction", m.Size())
	}
	if m.Has("", "a") {
		t.Fatal("oldest record 'a' should have been evicted first under FIFO")
	}
}
