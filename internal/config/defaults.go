package config

import "time"

// Engine kinds understood by the host.
const (
	KindWhisper       = "whisper"
	KindWhisperServer = "whisper-server"
	KindFasterWhisper = "faster-whisper"
	KindOpenAI        = "openai"
	KindParakeet      = "parakeet"
)

// Protocol-level defaults for the init message.
const (
	DefaultEngine   = KindFasterWhisper
	DefaultModel    = "large-v3"
	DefaultDevice   = "cuda"
	DefaultLanguage = "en"
)

// builtinEngines holds per-kind defaults. Values set in the config file win.
var builtinEngines = map[string]EngineEntry{
	KindWhisper: {
		Model:          "large-v3",
		Strategy:       "resubmit",
		OverlapSeconds: 2.0,
	},
	KindWhisperServer: {
		Model:          "large-v3",
		BaseURL:        "http://127.0.0.1:8080",
		Strategy:       "resubmit",
		OverlapSeconds: 2.0,
	},
	KindFasterWhisper: {
		Model:    "large-v3",
		BaseURL:  "http://127.0.0.1:8000/v1",
		Strategy: "pre-overlap",
	},
	KindOpenAI: {
		Model:    "whisper-1",
		Strategy: "pre-overlap",
	},
	KindParakeet: {
		Model:          "nvidia/parakeet-tdt-0.6b-v3",
		BaseURL:        "http://127.0.0.1:8000/v1",
		Strategy:       "resubmit",
		OverlapSeconds: 1.0,
	},
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	h := &cfg.Host
	if h.LoadDelay == 0 {
		h.LoadDelay = 500 * time.Millisecond
	}
	if h.ReadyTimeout <= 0 {
		h.ReadyTimeout = 60 * time.Second
	}
	if h.PollInterval <= 0 {
		h.PollInterval = time.Second
	}
	if h.MaxMessageBytes <= 0 {
		h.MaxMessageBytes = 1 << 20
	}

	if cfg.Engines == nil {
		cfg.Engines = make(map[string]EngineEntry, len(builtinEngines))
	}
	for kind, def := range builtinEngines {
		cfg.Engines[kind] = mergeEngine(cfg.Engines[kind], def)
	}

	p := &cfg.Patterns
	if p.Fingerprint.Timeout <= 0 {
		p.Fingerprint.Timeout = 10 * time.Second
	}
	if p.MinMatchDuration <= 0 {
		p.MinMatchDuration = 2.0
	}
	if p.ExactThreshold <= 0 {
		p.ExactThreshold = 0.8
	}
	if p.MaxOffset <= 0 {
		p.MaxOffset = 50
	}
	if p.CircuitBreaker.MaxFailures <= 0 {
		p.CircuitBreaker.MaxFailures = 3
	}
	if p.CircuitBreaker.ResetTimeout <= 0 {
		p.CircuitBreaker.ResetTimeout = 30 * time.Second
	}
}

// mergeEngine fills empty fields of e from def.
func mergeEngine(e, def EngineEntry) EngineEntry {
	if e.Model == "" {
		e.Model = def.Model
	}
	if e.BaseURL == "" {
		e.BaseURL = def.BaseURL
	}
	if e.Strategy == "" {
		e.Strategy = def.Strategy
	}
	if e.OverlapSeconds == 0 {
		e.OverlapSeconds = def.OverlapSeconds
	}
	return e
}
