package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nasriyasoftware/cachify/engine"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	proxy := engine.NewProxy(engine.NewMemory())
	cfg := DefaultConfig()
	cfg.Eviction.Enabled = false
	m, err := New(cfg, proxy, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestManager_WatchAndRead(t *testing.T) {
	m := newTestManager(t)
	dir := t.TempDir()
	path := writeTempFile(t, dir, "a.txt", "hello world")

	ctx := context.Background()
	if err := m.Watch(ctx, "", path, WatchOptions{}); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if !m.Has("", path) {
		t.Fatal("expected a record to exist after Watch")
	}

	data, ok, err := m.Read(ctx, "", path)
	if err != nil || !ok {
		t.Fatalf("Read: ok=%v err=%v", ok, err)
	}
	if string(data) != "hello world" {
		t.Fatalf("got %q, want %q", data, "hello world")
	}
}

func TestManager_Read_LazilyRegistersRecord(t *testing.T) {
	m := newTestManager(t)
	dir := t.TempDir()
	path := writeTempFile(t, dir, "b.txt", "lazy")

	if m.Has("", path) {
		t.Fatal("record should not exist before any Watch/Read call")
	}
	data, ok, err := m.Read(context.Background(), "", path)
	if err != nil || !ok {
		t.Fatalf("Read: ok=%v err=%v", ok, err)
	}
	if string(data) != "lazy" {
		t.Fatalf("got %q, want %q", data, "lazy")
	}
	if !m.Has("", path) {
		t.Fatal("Read should lazily register the record")
	}
}

func TestManager_Watch_RejectsOversizedFile(t *testing.T) {
	proxy := engine.NewProxy(engine.NewMemory())
	cfg := DefaultConfig()
	cfg.MaxFileSize = 4
	m, err := New(cfg, proxy, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(m.Close)

	dir := t.TempDir()
	path := writeTempFile(t, dir, "big.txt", "this is way more than four bytes")

	if err := m.Watch(context.Background(), "", path, WatchOptions{}); err == nil {
		t.Fatal("expected Watch to reject a file exceeding MaxFileSize")
	}
}

func TestManager_ClearContent_KeepsRecordButDropsBytes(t *testing.T) {
	m := newTestManager(t)
	dir := t.TempDir()
	path := writeTempFile(t, dir, "c.txt", "content to clear")
	ctx := context.Background()

	if _, _, err := m.Read(ctx, "", path); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if m.SizeInMemory() == 0 {
		t.Fatal("expected cached bytes to count toward SizeInMemory after a read")
	}

	if err := m.ClearContent(ctx, "", path); err != nil {
		t.Fatalf("ClearContent: %v", err)
	}
	if !m.Has("", path) {
		t.Fatal("ClearContent must not remove the record itself")
	}
	if m.SizeInMemory() != 0 {
		t.Fatalf("SizeInMemory() = %d, want 0 after ClearContent", m.SizeInMemory())
	}
}

func TestManager_Remove(t *testing.T) {
	m := newTestManager(t)
	dir := t.TempDir()
	path := writeTempFile(t, dir, "d.txt", "to be removed")
	ctx := context.Background()

	if err := m.Watch(ctx, "", path, WatchOptions{}); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	removed, err := m.Remove(ctx, "", path)
	if err != nil || !removed {
		t.Fatalf("Remove: removed=%v err=%v", removed, err)
	}
	if m.Has("", path) {
		t.Fatal("record should be gone after Remove")
	}
}

func TestManager_Rename(t *testing.T) {
	m := newTestManager(t)
	dir := t.TempDir()
	oldPath := writeTempFile(t, dir, "old.txt", "renamed content")
	ctx := context.Background()

	if _, _, err := m.Read(ctx, "", oldPath); err != nil {
		t.Fatalf("Read: %v", err)
	}

	newPath := filepath.Join(dir, "new.txt")
	if err := os.Rename(oldPath, newPath); err != nil {
		t.Fatalf("os.Rename: %v", err)
	}
	if err := m.Rename(ctx, "", oldPath, newPath); err != nil {
		t.Fatalf("Manager.Rename: %v", err)
	}

	if m.Has("", oldPath) {
		t.Fatal("old path should no longer have a record after Rename")
	}
	if !m.Has("", newPath) {
		t.Fatal("new path should have a record after Rename")
	}

	data, ok, err := m.Read(ctx, "", newPath)
	if err != nil || !ok {
		t.Fatalf("Read after rename: ok=%v err=%v", ok, err)
	}
	if string(data) != "renamed content" {
		t.Fatalf("got %q, want %q", data, "renamed content")
	}
}

func TestManager_OnDiskChange_ReloadsCachedContent(t *testing.T) {
	m := newTestManager(t)
	dir := t.TempDir()
	path := writeTempFile(t, dir, "watched.txt", "version one")
	ctx := context.Background()

	data, _, err := m.Read(ctx, "", path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "version one" {
		t.Fatalf("got %q, want %q", data, "version one")
	}

	if err := os.WriteFile(path, []byte("version two"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, ok, err := m.Read(ctx, "", path)
		if err == nil && ok && string(data) == "version two" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("cached content was never reloaded after the watched file changed on disk")
}

func TestManager_Clear_RemovesEveryRecord(t *testing.T) {
	m := newTestManager(t)
	dir := t.TempDir()
	ctx := context.Background()

	p1 := writeTempFile(t, dir, "e1.txt", "one")
	p2 := writeTempFile(t, dir, "e2.txt", "two")
	if err := m.Watch(ctx, "", p1, WatchOptions{}); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := m.Watch(ctx, "", p2, WatchOptions{}); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := m.Clear(ctx, ""); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if m.Size() != 0 {
		t.Fatalf("Size() = %d after Clear, want 0", m.Size())
	}
}

func TestManager_BlockingFlagSet_RejectsConcurrentOps(t *testing.T) {
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
