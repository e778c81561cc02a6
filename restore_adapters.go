package cachify

import (
	"context"

	"github.com/nasriyasoftware/cachify/file"
	"github.com/nasriyasoftware/cachify/kv"
	"github.com/nasriyasoftware/cachify/model"
)

// kvRestorer adapts kv.Manager to backup.Restorer, re-materializing one
// decoded RECORD line as a Set call with its original stats preserved.
type kvRestorer struct{ mgr *kv.Manager }

func (kvRestorer) Flavor() model.Flavor { return model.FlavorKV }

func (r kvRestorer) Restore(ctx context.Context, scope, key string, stats model.Stats, ttl model.TTL, raw map[string]any) error {
	return r.mgr.Set(ctx, scope, key, raw["value"], kv.SetOptions{
		TTL:     &ttl,
		Engines: toStringSlice(raw["engines"]),
		Preload: true,
		Stats:   &stats,
	})
}

// fileRestorer adapts file.Manager to backup.Restorer: it re-watches the
// record's original path rather than replaying file content, since the
// backup stream carries metadata, not bytes.
type fileRestorer struct{ mgr *file.Manager }

func (fileRestorer) Flavor() model.Flavor { return model.FlavorFiles }

func (r fileRestorer) Restore(ctx context.Context, scope, key string, stats model.Stats, ttl model.TTL, raw map[string]any) error {
	fileMeta, _ := raw["file"].(map[string]any)
	path, _ := fileMeta["path"].(string)
	if path == "" {
		return nil
	}
	return r.mgr.Watch(ctx, scope, path, file.WatchOptions{
		TTL:     &ttl,
		Engines: toStringSlice(raw["engines"]),
		Preload: true,
		Stats:   &stats,
	})
}

func toStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
