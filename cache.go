// Package cachify is an in-process, multi-tenant cache runtime with two
// record flavors (KV and files), pluggable storage engines, TTL/eviction,
// file-watch reactivity, cooperative session locking, and encrypted
// backup/restore streaming.
package cachify

import (
	"context"
	"fmt"
	"strings"

	"github.com/nasriyasoftware/cachify/backup"
	"github.com/nasriyasoftware/cachify/engine"
	"github.com/nasriyasoftware/cachify/file"
	"github.com/nasriyasoftware/cachify/internal/cachifylog"
	"github.com/nasriyasoftware/cachify/internal/cachifymetrics"
	"github.com/nasriyasoftware/cachify/kv"
	"github.com/nasriyasoftware/cachify/model"
	"github.com/nasriyasoftware/cachify/session"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// Config wires a Cache instance. koanf tags let the optional config
// subpackage (github.com/knadh/koanf/v2) load these from file/env.
type Config struct {
	KV       kv.Config   `koanf:"kv"`
	Files    file.Config `koanf:"files"`
	Logger   cachifylog.Config `koanf:"logger"`
	Disk     *engine.DiskConfig `koanf:"disk"` // optional; registers a badger-backed disk engine under "disk"

	// RestoreWorkers bounds the backup.Proxy's restore task queue;
	// defaults to 8.
	RestoreWorkers int `koanf:"restore_workers"`

	// MetricsRegisterer receives the Prometheus metrics this cache emits;
	// nil leaves them unregistered (used by tests).
	MetricsRegisterer prometheus.Registerer
}

// DefaultConfig returns a Config with sane numeric defaults for both
// flavors.
func DefaultConfig() Config {
	return Config{
		KV:             kv.DefaultConfig(),
		Files:          file.DefaultConfig(),
		Logger:         cachifylog.DefaultConfig(),
		RestoreWorkers: 8,
	}
}

// Cache is the root component: it owns the engine proxy, both flavor
// managers, the session controller, and the persistence proxy. Each Cache is
// an isolated instance — there is no process-wide singleton — and ID
// distinguishes instances sharing a process, e.g. in logs or metrics labels.
type Cache struct {
	ID string

	cfg     Config
	logger  cachifylog.Logger
	metrics *cachifymetrics.Registry

	proxy *engine.Proxy

	KV       *kv.Manager
	Files    *file.Manager
	Sessions *session.Controller
	Backup   *backup.Proxy
}

// New builds a Cache from cfg: registers the mandatory memory engine (and
// the disk engine, if cfg.Disk is set), constructs both flavor managers
// over one shared engine proxy, and wires a persistence proxy. Callers
// register additional storage engines and backup drivers afterwards via
// RegisterEngine/RegisterBackupDriver.
func New(cfg Config) (*Cache, error) {
	id := "cache-" + strings.ToLower(ulid.Make().String())
	logger := cachifylog.New(cfg.Logger).With("cache_id", id)
	metrics := cachifymetrics.New(cfg.MetricsRegisterer)

	mem := engine.NewMemory()
	engines := []engine.Engine{mem}
	if cfg.Disk != nil {
		disk, err := engine.NewDisk(*cfg.Disk)
		if err != nil {
			return nil, fmt.Errorf("cachify: disk engine: %w", err)
		}
		engines = append(engines, disk)
	}
	proxy := engine.NewProxy(engines...)

	kvMgr := kv.New(cfg.KV, proxy, logger.With("component", "kv"), metrics)
	fileMgr, err := file.New(cfg.Files, proxy, logger.With("component", "file"), metrics)
	if err != nil {
		return nil, fmt.Errorf("cachify: file manager: %w", err)
	}

	restoreWorkers := cfg.RestoreWorkers
	if restoreWorkers <= 0 {
		restoreWorkers = 8
	}
	bp := backup.NewProxy(restoreWorkers, metrics)

	c := &Cache{
		ID:       id,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		proxy:    proxy,
		KV:       kvMgr,
		Files:    fileMgr,
		Sessions: session.NewController(kvMgr),
		Backup:   bp,
	}
	return c, nil
}

// RegisterEngine adds a third-party storage engine (Redis, S3, ...) beyond
// the reserved "memory" one, making its name usable in SetOptions.Engines /
// WatchOptions.Engines. Engines are looked up by name at Set/Watch time.
func (c *Cache) RegisterEngine(eng engine.Engine) {
	c.proxy.Register(eng)
}

// RegisterBackupDriver makes a persistence driver available to Backup/Restore
// under its own Name().
func (c *Cache) RegisterBackupDriver(d backup.Driver) {
	c.Backup.RegisterDriver(d)
}

// BackupKV streams every live KV record through driverName. An empty
// passphrase disables encryption.
func (c *Cache) BackupKV(ctx context.Context, driverName, passphrase string, args ...string) error {
	if !c.KV.TryStartBackup() {
		return fmt.Errorf("cachify: kv manager is busy (clear/backup/restore already in progress)")
	}
	defer c.KV.FinishBackup()

	recs := c.KV.Records("")
	exporters := make([]backup.Exporter, len(recs))
	for i, r := range recs {
		exporters[i] = r
	}
	return c.Backup.Backup(ctx, driverName, model.FlavorKV, passphrase, exporters, args...)
}

// RestoreKV re-materializes every non-expired KV record from driverName's
// medium.
func (c *Cache) RestoreKV(ctx context.Context, driverName, passphrase string, args ...string) error {
	if !c.KV.TryStartRestore() {
		return fmt.Errorf("cachify: kv manager is busy (clear/backup/restore already in progress)")
	}
	defer c.KV.FinishRestore()
	return c.Backup.Restore(ctx, driverName, model.FlavorKV, passphrase, kvRestorer{mgr: c.KV}, args...)
}

// BackupFiles streams every live file record's metadata through driverName.
// File content itself is not part of the stream; restore re-watches each
// file's original path on disk.
func (c *Cache) BackupFiles(ctx context.Context, driverName, passphrase string, args ...string) error {
	if !c.Files.TryStartBackup() {
		return fmt.Errorf("cachify: file manager is busy (clear/backup/restore already in progress)")
	}
	defer c.Files.FinishBackup()

	recs := c.Files.Records("")
	exporters := make([]backup.Exporter, len(recs))
	for i, r := range recs {
		exporters[i] = r
	}
	return c.Backup.Backup(ctx, driverName, model.FlavorFiles, passphrase, exporters, args...)
}

// RestoreFiles re-watches every non-expired file record from driverName's
// medium.
func (c *Cache) RestoreFiles(ctx context.Context, driverName, passphrase string, args ...string) error {
	if !c.Files.TryStartRestore() {
		return fmt.Errorf("cachify: file manager is busy (clear/backup/restore already in progress)")
	}
	defer c.Files.FinishRestore()
	return c.Backup.Restore(ctx, driverName, model.FlavorFiles, passphrase, fileRestorer{mgr: c.Files}, args...)
}

// Close tears down background workers: both managers' eviction timers, the
// file watcher, and every outstanding session, releasing each one. Per-record
// TTL timers are not stopped.
func (c *Cache) Close() {
	c.Sessions.Teardown()
	c.KV.Close()
	c.Files.Close()
}
