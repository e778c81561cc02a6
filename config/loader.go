// Package config provides optional file/env configuration loading for
// cachify.Config, layered on top of programmatic construction: koanf with a
// file+yaml provider and an env provider, file before env before defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the default environment variable prefix.
const DefaultEnvPrefix = "CACHIFY_"

// Loader loads configuration from a YAML file and environment variables.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
	loaded    bool
}

// Option configures a Loader.
type Option func(*Loader)

// WithEnvPrefix overrides DefaultEnvPrefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) { l.envPrefix = prefix }
}

// WithConfigFile sets the YAML file to load before environment variables.
func WithConfigFile(path string) Option {
	return func(l *Loader) { l.filePath = path }
}

// NewLoader creates a Loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{k: koanf.New("."), envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads the configured file (if any) then environment variables, and
// unmarshals the merged result into target — typically a *cachify.Config.
// Values already set on target via struct literal remain the defaults;
// file values override them, and env values override the file.
func (l *Loader) Load(target any) error {
	if l.filePath != "" {
		provider := file.Provider(l.filePath)
		if err := l.k.Load(provider, yaml.Parser()); err != nil {
			return fmt.Errorf("config: load file %s: %w", l.filePath, err)
		}
	}

	envTransform := func(s string) string {
		s = strings.TrimPrefix(s, l.envPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "_", ".")
	}
	if err := l.k.Load(env.Provider(l.envPrefix, ".", envTransform), nil); err != nil {
		return fmt.Errorf("config: load env: %w", err)
	}

	if err := l.k.Unmarshal("", target); err != nil {
		return fmt.Errorf("config: unmarshal: %w", err)
	}
	l.loaded = true
	return nil
}

// IsLoaded reports whether Load has run successfully at least once.
func (l *Loader) IsLoaded() bool { return l.loaded }

// All returns every known configuration key/value, for diagnostics.
func (l *Loader) All() map[string]any { return l.k.All() }
