package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/nasriyasoftware/cachify/cerrors"
	"github.com/nasriyasoftware/cachify/internal/cachifymetrics"
	"github.com/nasriyasoftware/cachify/model"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// memDriver is an in-memory Driver stand-in so Proxy.Backup/Restore can be
// exercised without touching disk.
type memDriver struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemDriver() *memDriver { return &memDriver{data: make(map[string][]byte)} }

func (d *memDriver) Name() string { return "mem" }

func (d *memDriver) Backup(ctx context.Context, flavor string, r io.Reader, args ...string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.data[flavor] = b
	d.mu.Unlock()
	return nil
}

func (d *memDriver) Restore(ctx context.Context, flavor string, args ...string) (io.ReadCloser, error) {
	d.mu.Lock()
	b := d.data[flavor]
	d.mu.Unlock()
	return io.NopCloser(bytes.NewReader(b)), nil
}

type fakeExporter struct{ rec map[string]any }

func (e fakeExporter) Export() map[string]any { return e.rec }

type collectingRestorer struct {
	flavor model.Flavor
	mu     sync.Mutex
	keys   []string
}

func (r *collectingRestorer) Flavor() model.Flavor { return r.flavor }

func (r *collectingRestorer) Restore(ctx context.Context, scope, key string, stats model.Stats, ttl model.TTL, raw map[string]any) error {
	r.mu.Lock()
	r.keys = append(r.keys, key)
	r.mu.Unlock()
	return nil
}

func TestProxy_BackupRestore_RoundTrip(t *testing.T) {
	drv := newMemDriver()
	p := NewProxy(4, nil)
	p.RegisterDriver(drv)

	records := []Exporter{
		fakeExporter{rec: map[string]any{"flavor": "kvs", "scope": "", "key": "a", "value": 1}},
		fakeExporter{rec: map[string]any{"flavor": "kvs", "scope": "", "key": "b", "value": 2}},
		fakeExporter{rec: map[string]any{"flavor": "kvs", "scope": "", "key": "c", "value": 3}},
	}

	if err := p.Backup(context.Background(), "mem", model.FlavorKV, "", records); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	restorer := &collectingRestorer{flavor: model.FlavorKV}
	if err := p.Restore(context.Background(), "mem", model.FlavorKV, "", restorer); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if len(restorer.keys) != 3 {
		t.Fatalf("got %d restored records, want 3: %v", len(restorer.keys), restorer.keys)
	}
}

func TestProxy_Restore_DropsExpiredRecordsSilently(t *testing.T) {
	drv := newMemDriver()
	p := NewProxy(2, nil)
	p.RegisterDriver(drv)

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	records := []Exporter{
		fakeExporter{rec: map[string]any{
			"flavor": "kvs", "scope": "", "key": "expired",
			"stats": map[string]any{"dates": map[string]any{"expireAt": past}},
		}},
		fakeExporter{rec: map[string]any{
			"flavor": "kvs", "scope": "", "key": "alive",
			"stats": map[string]any{"dates": map[string]any{"expireAt": future}},
		}},
	}

	if err := p.Backup(context.Background(), "mem", model.FlavorKV, "", records); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	restorer := &collectingRestorer{flavor: model.FlavorKV}
	if err := p.Restore(context.Background(), "mem", model.FlavorKV, "", restorer); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if len(restorer.keys) != 1 || restorer.keys[0] != "alive" {
		t.Fatalf("expected only the non-expired record to be restored, got %v", restorer.keys)
	}
}

func TestProxy_Restore_SkipsRecordsOfOtherFlavors(t *testing.T) {
	drv := newMemDriver()
	p := NewProxy(2, nil)
	p.RegisterDriver(drv)

	records := []Exporter{
		fakeExporter{rec: map[string]any{"flavor": "kvs", "scope": "", "key": "kv-rec"}},
		fakeExporter{rec: map[string]any{"flavor": "files", "scope": "", "key": "file-rec"}},
	}
	if err := p.Backup(context.Background(), "mem", model.FlavorKV, "", records); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	restorer := &collectingRestorer{flavor: model.FlavorKV}
	if err := p.Restore(context.Background(), "mem", model.FlavorKV, "", restorer); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if len(restorer.keys) != 1 || restorer.keys[0] != "kv-rec" {
		t.Fatalf("expected only the kvs-flavored record, got %v", restorer.keys)
	}
}

func TestProxy_Backup_UnknownDriverFails(t *testing.T) {
	p := NewProxy(2, nil)
	err := p.Backup(context.Background(), "nope", model.FlavorKV, "", nil)
	if err == nil {
		t.Fatal("expected an error for an unregistered driver name")
	}
}

func TestProxy_Backup_UnsupportedFlavorIsWired(t *testing.T) {
	drv := newMemDriver()
	p := NewProxy(2, nil)
	p.RegisterDriver(drv)

	err := p.Backup(context.Background(), "mem", model.Flavor("bogus"), "", nil)
	if !errors.Is(err, cerrors.ErrUnsupportedFlavor) {
		t.Fatalf("expected errors.Is(err, cerrors.ErrUnsupportedFlavor), got %v", err)
	}
}

func TestProxy_BackupRestore_IncrementsBackupRecordsMetric(t *testing.T) {
	drv := newMemDriver()
	metrics := cachifymetrics.New(nil)
	p := NewProxy(2, metrics)
	p.RegisterDriver(drv)

	records := []Exporter{
		fakeExporter{rec: map[string]any{"flavor": "kvs", "scope": "", "key": "a"}},
		fakeExporter{rec: map[string]any{"flavor": "kvs", "scope": "", "key": "b"}},
	}
	if err := p.Backup(context.Background(), "mem", model.FlavorKV, "", records); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if got := testutil.ToFloat64(metrics.BackupRecords.WithLabelValues("kvs", "backup")); got != 2 {
		t.Fatalf("BackupRecords{direction=backup} = %v, want 2", got)
	}

	restorer := &collectingRestorer{flavor: model.FlavorKV}
	if err := p.Restore(context.Background(), "mem", model.FlavorKV, "", restorer); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := testutil.ToFloat64(metrics.BackupRecords.WithLabelValues("kvs", "restore")); got != 2 {
		t.Fatalf("BackupRecords{direction=restore} = %v, want 2", got)
	}
}

func TestProxy_Restore_UnsupportedFlavorIsWired(t *testing.T) {
	drv := newMemDriver()
	p := NewProxy(2, nil)
	p.RegisterDriver(drv)

	restorer := &collectingRestorer{flavor: model.Flavor("bogus")}
	err := p.Restore(context.Background(), "mem", model.Flavor("bogus"), "", restorer)
	if !errors.Is(err, cerrors.ErrUnsupportedFlavor) {
		t.Fatalf("expected errors.Is(err, cerrors.ErrUnsupportedFlavor), got %v", err)
	}
}
