// Package config provides the configuration schema, loader, and engine
// registry for the whisperhost native messaging host.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader]; every field has a usable
// default so the host runs without any file.
type Config struct {
	Server   ServerConfig           `yaml:"server"`
	Host     HostConfig             `yaml:"host"`
	Engines  map[string]EngineEntry `yaml:"engines"`
	Patterns PatternsConfig         `yaml:"patterns"`
}

// ServerConfig holds logging and diagnostics settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFile receives all log output, since stdout carries the protocol.
	// Empty means whisper_host.log next to the executable; "-" means stderr.
	LogFile string `yaml:"log_file"`

	// DiagnosticsAddr enables an HTTP listener serving /healthz, /readyz
	// and /metrics (e.g. "127.0.0.1:9464"). Empty disables it.
	DiagnosticsAddr string `yaml:"diagnostics_addr"`
}

// HostConfig tunes the protocol loop and its background workers.
type HostConfig struct {
	// LoadDelay is the pause before an engine starts loading, so the ready
	// reply is written first. Default: 500ms.
	LoadDelay time.Duration `yaml:"load_delay"`

	// ReadyTimeout bounds how long a queued chunk waits for its engine.
	// Default: 60s.
	ReadyTimeout time.Duration `yaml:"ready_timeout"`

	// PollInterval bounds how long a worker blocks on an empty queue.
	// Default: 1s.
	PollInterval time.Duration `yaml:"poll_interval"`

	// MaxMessageBytes caps frame size in both directions. Default: 1 MiB.
	MaxMessageBytes int `yaml:"max_message_bytes"`
}

// EngineEntry configures one speech engine kind. The map key in
// [Config.Engines] is the engine kind named by the init message.
type EngineEntry struct {
	// Model selects the model when the init message does not.
	Model string `yaml:"model"`

	// Device is passed through to engines that care (cuda, cpu).
	Device string `yaml:"device"`

	// BaseURL is the endpoint of server-backed engines.
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates against server-backed engines if required.
	APIKey string `yaml:"api_key"`

	// ModelPath is the directory holding ggml model files for the native
	// whisper engine.
	ModelPath string `yaml:"model_path"`

	// Strategy overrides the stitching strategy: resubmit or pre-overlap.
	Strategy string `yaml:"strategy"`

	// OverlapSeconds overrides the resubmitted tail length.
	OverlapSeconds float64 `yaml:"overlap_seconds"`

	// Timeout bounds a single transcription request.
	Timeout time.Duration `yaml:"timeout"`

	// Options holds engine-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// ProviderEntry selects and configures an embeddings provider.
type ProviderEntry struct {
	// Name selects the registered provider implementation (ollama, openai).
	Name string `yaml:"name"`

	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	Options map[string]any `yaml:"options"`
}

// PatternsConfig configures audio pattern detection.
type PatternsConfig struct {
	Fingerprint FingerprintConfig `yaml:"fingerprint"`

	// Embeddings selects the text embedding provider used for semantic
	// patterns. An empty name disables semantic matching.
	Embeddings ProviderEntry `yaml:"embeddings"`

	// EmbeddingsFallback lists providers tried in order when the primary
	// embeddings provider fails.
	EmbeddingsFallback []ProviderEntry `yaml:"embeddings_fallback"`

	// Language is passed to the speech engine when transcribing a chunk for
	// semantic matching. Empty means auto-detect.
	Language string `yaml:"language"`

	// MinMatchDuration is the confirmation window in seconds. Default: 2.0.
	MinMatchDuration float64 `yaml:"min_match_duration"`

	// ExactThreshold is the fingerprint similarity an exact pattern must
	// exceed. Default: 0.8.
	ExactThreshold float64 `yaml:"exact_threshold"`

	// MaxOffset is the fingerprint alignment search window in frames.
	// Default: 50.
	MaxOffset int `yaml:"max_offset"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// FingerprintConfig configures the Chromaprint fpcalc backend.
type FingerprintConfig struct {
	// Disabled turns exact matching off even when fpcalc is installed.
	Disabled bool `yaml:"disabled"`

	// FPCalcPath is the fpcalc executable. Default: fpcalc on PATH.
	FPCalcPath string `yaml:"fpcalc_path"`

	// Timeout bounds one fpcalc run. Default: 10s.
	Timeout time.Duration `yaml:"timeout"`
}

// CircuitBreakerConfig tunes the breakers in front of pattern backends.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}
