package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nasriyasoftware/cachify/cerrors"
	"github.com/nasriyasoftware/cachify/internal/cachifymetrics"
	"github.com/nasriyasoftware/cachify/model"
)

// remarshalInto re-decodes a JSON-ish any value (as produced by
// json.Unmarshal into map[string]any) into a typed struct, routing through
// any custom UnmarshalJSON methods (Dates, TTL) along the way.
func remarshalInto(v any, out any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// Driver is the persistence driver contract: two async operations,
// Backup(flavor, stream, driver-specific args...) and Restore(flavor,
// driver-specific args...) -> bytes. Backup is handed a Reader because
// PersistenceProxy owns stream production; the driver just drains it into
// its medium. Restore hands back a byte source the proxy feeds through a
// RestoreStream.
type Driver interface {
	Name() string
	Backup(ctx context.Context, flavor string, r io.Reader, args ...string) error
	Restore(ctx context.Context, flavor string, args ...string) (io.ReadCloser, error)
}

// Exporter is satisfied by kv.Record and file.Record.
type Exporter interface {
	Export() map[string]any
}

// Restorer re-materializes one decoded record into a flavor manager. raw
// carries the flavor-specific fields (value for kvs, file for files).
type Restorer interface {
	Flavor() model.Flavor
	Restore(ctx context.Context, scope, key string, stats model.Stats, ttl model.TTL, raw map[string]any) error
}

// Proxy routes backup/restore calls from managers to a named driver,
// producing/consuming the record stream concurrently with the driver's I/O.
type Proxy struct {
	mu      sync.RWMutex
	drivers map[string]Driver

	// restoreWorkers bounds the task queue for re-materializing restored
	// records.
	restoreWorkers int

	metrics *cachifymetrics.Registry
}

// NewProxy creates a Proxy with the given restore worker concurrency as a
// bounded task queue; values <= 0 default to 8. metrics may be nil (used by
// tests and by callers that don't register a Prometheus registerer).
func NewProxy(restoreWorkers int, metrics *cachifymetrics.Registry) *Proxy {
	if restoreWorkers <= 0 {
		restoreWorkers = 8
	}
	return &Proxy{drivers: make(map[string]Driver), restoreWorkers: restoreWorkers, metrics: metrics}
}

// RegisterDriver makes a driver available under its own Name().
func (p *Proxy) RegisterDriver(d Driver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drivers[d.Name()] = d
}

func (p *Proxy) driver(name string) (Driver, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	d, ok := p.drivers[name]
	if !ok {
		return nil, cerrors.ErrUnknownDriver.WithDetails(name)
	}
	return d, nil
}

// Backup streams every exporter's record through driverName concurrently:
// the driver drains the stream into its medium while this call produces it.
func (p *Proxy) Backup(ctx context.Context, driverName string, flavor model.Flavor, passphrase string, records []Exporter, args ...string) error {
	if flavor != model.FlavorKV && flavor != model.FlavorFiles {
		return cerrors.ErrUnsupportedFlavor.WithDetails(string(flavor))
	}
	d, err := p.driver(driverName)
	if err != nil {
		return err
	}

	pr, pw := io.Pipe()
	var driverErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		driverErr = d.Backup(ctx, string(flavor), pr, args...)
		io.Copy(io.Discard, pr) // drain on early driver return so the producer never blocks forever
	}()

	stream, err := NewBackupStream(pw, passphrase)
	if err != nil {
		pw.CloseWithError(err)
		wg.Wait()
		return err
	}

	var writeErr error
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			writeErr = err
			break
		}
		if err := stream.WriteRecord(rec.Export()); err != nil {
			writeErr = err
			break
		}
		if p.metrics != nil {
			p.metrics.BackupRecords.WithLabelValues(string(flavor), "backup").Inc()
		}
	}
	if writeErr == nil {
		writeErr = stream.Close()
	}

	if writeErr != nil {
		pw.CloseWithError(writeErr)
	} else {
		pw.Close()
	}
	wg.Wait()

	if writeErr != nil {
		return cerrors.ErrStreamTornDown.WithCause(writeErr)
	}
	if driverErr != nil {
		return cerrors.ErrStreamTornDown.WithCause(driverErr)
	}
	return nil
}

// Restore pulls bytes from driverName's medium and re-materializes each
// record via restorer. Records with expireAt <= now are dropped silently.
func (p *Proxy) Restore(ctx context.Context, driverName string, flavor model.Flavor, passphrase string, restorer Restorer, args ...string) error {
	if flavor != model.FlavorKV && flavor != model.FlavorFiles {
		return cerrors.ErrUnsupportedFlavor.WithDetails(string(flavor))
	}
	d, err := p.driver(driverName)
	if err != nil {
		return err
	}

	src, err := d.Restore(ctx, string(flavor), args...)
	if err != nil {
		return err
	}
	defer src.Close()

	rs, err := NewRestoreStream(src, passphrase)
	if err != nil {
		return err
	}

	type job struct {
		scope, key string
		stats      model.Stats
		ttl        model.TTL
		raw        map[string]any
	}
	jobs := make(chan job)
	var wg sync.WaitGroup
	var restoreErr error
	var errOnce sync.Once

	for i := 0; i < p.restoreWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if err := restorer.Restore(ctx, j.scope, j.key, j.stats, j.ttl, j.raw); err != nil {
					errOnce.Do(func() { restoreErr = err })
				} else if p.metrics != nil {
					p.metrics.BackupRecords.WithLabelValues(string(flavor), "restore").Inc()
				}
			}
		}()
	}

	now := time.Now()
	var streamErr error
	for {
		rec, ok, err := rs.Next()
		if err != nil {
			streamErr = err
			break
		}
		if !ok {
			break
		}
		if recFlavor, _ := rec["flavor"].(string); recFlavor != string(flavor) {
			continue
		}

		scope, _ := rec["scope"].(string)
		key, _ := rec["key"].(string)

		var stats model.Stats
		if sm, ok := rec["stats"]; ok {
			if err := remarshalInto(sm, &stats); err == nil {
				if !stats.Dates.ExpireAt.IsZero() && !stats.Dates.ExpireAt.After(now) {
					continue
				}
			}
		}
		var ttl model.TTL
		if tm, ok := rec["ttl"]; ok {
			_ = remarshalInto(tm, &ttl)
		}

		jobs <- job{scope: scope, key: key, stats: stats, ttl: ttl, raw: rec}
	}
	close(jobs)
	wg.Wait()

	if streamErr != nil {
		return streamErr
	}
	if restoreErr != nil {
		return fmt.Errorf("backup: restore: %w", restoreErr)
	}
	return nil
}
