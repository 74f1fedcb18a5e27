package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/customcuts/whisperhost/internal/stitch"
)

// ValidEmbeddingsProviders lists the embeddings providers that ship with the
// host. Used by [Validate] to warn about unrecognised names.
var ValidEmbeddingsProviders = []string{"ollama", "openai"}

// Environment variables that override file values.
const (
	EnvLogLevel        = "WHISPERHOST_LOG_LEVEL"
	EnvLogFile         = "WHISPERHOST_LOG_FILE"
	EnvDiagnosticsAddr = "WHISPERHOST_DIAG_ADDR"
)

// Load reads the YAML configuration file at path, applies defaults and
// environment overrides, and validates the result. An empty path or a
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	var cfg *Config
	f, err := os.Open(path)
	switch {
	case path == "" || errors.Is(err, os.ErrNotExist):
		cfg = &Config{}
	case err != nil:
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	default:
		defer f.Close()
		cfg, err = decode(f)
		if err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	ApplyDefaults(cfg)
	ApplyEnv(cfg, os.LookupEnv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Environment overrides are not applied.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with values found through lookup, which is usually
// os.LookupEnv.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Server.LogLevel = LogLevel(v)
	}
	if v, ok := lookup(EnvLogFile); ok && v != "" {
		cfg.Server.LogFile = v
	}
	if v, ok := lookup(EnvDiagnosticsAddr); ok {
		cfg.Server.DiagnosticsAddr = v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Host.MaxMessageBytes < 0 {
		errs = append(errs, fmt.Errorf("host.max_message_bytes %d must not be negative", cfg.Host.MaxMessageBytes))
	}

	for _, kind := range slices.Sorted(maps.Keys(cfg.Engines)) {
		e := cfg.Engines[kind]
		prefix := fmt.Sprintf("engines.%s", kind)
		if e.Strategy != "" {
			if _, err := stitch.ParseStrategy(e.Strategy); err != nil {
				errs = append(errs, fmt.Errorf("%s.strategy %q is invalid; valid values: resubmit, pre-overlap", prefix, e.Strategy))
			}
		}
		if e.OverlapSeconds < 0 {
			errs = append(errs, fmt.Errorf("%s.overlap_seconds %.2f must not be negative", prefix, e.OverlapSeconds))
		}
	}

	p := cfg.Patterns
	if p.ExactThreshold < 0 || p.ExactThreshold > 1 {
		errs = append(errs, fmt.Errorf("patterns.exact_threshold %.2f is out of range [0, 1]", p.ExactThreshold))
	}
	if p.MinMatchDuration < 0 {
		errs = append(errs, fmt.Errorf("patterns.min_match_duration %.2f must not be negative", p.MinMatchDuration))
	}
	if p.MaxOffset < 0 {
		errs = append(errs, fmt.Errorf("patterns.max_offset %d must not be negative", p.MaxOffset))
	}
	validateEmbeddingsName("patterns.embeddings", p.Embeddings.Name)
	for i, fb := range p.EmbeddingsFallback {
		prefix := fmt.Sprintf("patterns.embeddings_fallback[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateEmbeddingsName(prefix, fb.Name)
	}
	if len(p.EmbeddingsFallback) > 0 && p.Embeddings.Name == "" {
		errs = append(errs, errors.New("patterns.embeddings_fallback requires patterns.embeddings.name"))
	}

	return errors.Join(errs...)
}

// validateEmbeddingsName logs a warning if name is non-empty and not one of
// [ValidEmbeddingsProviders].
func validateEmbeddingsName(field, name string) {
	if name == "" || slices.Contains(ValidEmbeddingsProviders, name) {
		return
	}
	slog.Warn("unknown embeddings provider name, may be a typo or third-party provider",
		"field", field,
		"name", name,
		"known", ValidEmbeddingsProviders,
	)
}
