package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v3"
)

// DiskConfig configures a Badger-backed disk engine: a durable, optional
// storage engine alongside the mandatory in-memory one. Network-backed
// engines (Redis, S3, ...) implement the same Engine contract but live
// outside this package.
type DiskConfig struct {
	// Dir is the Badger data directory.
	Dir string
	// Name is the engine's registered name; defaults to "disk".
	Name string
	// Logger receives Badger's internal log lines.
	Logger *slog.Logger
}

// Disk is a durable storage engine backed by Badger, an embedded
// transactional KV store.
type Disk struct {
	db   *badger.DB
	name string
}

// NewDisk opens (or creates) a Badger database at cfg.Dir.
func NewDisk(cfg DiskConfig) (*Disk, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("engine: disk: dir is required")
	}
	name := cfg.Name
	if name == "" {
		name = "disk"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(cfg.Dir).WithLogger(&badgerLogAdapter{logger: logger})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("engine: disk: open: %w", err)
	}

	return &Disk{db: db, name: name}, nil
}

func (d *Disk) Name() string { return d.name }

func (d *Disk) Set(_ context.Context, desc Descriptor, value []byte) error {
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(compositeKey(desc)), value)
	})
}

func (d *Disk) Read(_ context.Context, desc Descriptor) ([]byte, bool, error) {
	var value []byte
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(compositeKey(desc)))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (d *Disk) Remove(_ context.Context, desc Descriptor) error {
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(compositeKey(desc)))
	})
}

// Close shuts down the underlying Badger database.
func (d *Disk) Close() error { return d.db.Close() }

// badgerLogAdapter adapts *slog.Logger to Badger's Logger interface.
type badgerLogAdapter struct {
	logger *slog.Logger
}

func (l *badgerLogAdapter) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}
func (l *badgerLogAdapter) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}
func (l *badgerLogAdapter) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}
func (l *badgerLogAdapter) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
