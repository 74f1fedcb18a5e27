package pattern

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/customcuts/whisperhost/internal/resilience"
	"github.com/customcuts/whisperhost/pkg/provider/embeddings"
	"github.com/customcuts/whisperhost/pkg/provider/fingerprint"
	"github.com/customcuts/whisperhost/pkg/provider/stt"
)

// ErrCapabilityUnavailable is returned when an [Engine] is asked for a
// capability it does not support.
var ErrCapabilityUnavailable = errors.New("pattern: capability unavailable")

// Engine computes the chunk features the [Detector] compares against
// patterns. Callers must check the capability flags before calling the
// matching method. A nil result with a nil error means the chunk yielded no
// usable feature (too short, silent).
type Engine interface {
	SupportsFingerprint() bool
	SupportsEmbedding() bool
	Fingerprint(ctx context.Context, samples []float32) ([]int32, error)
	Embed(ctx context.Context, samples []float32) ([]float32, error)
}

// TranscriberFunc returns the speech engine used to turn a chunk into text
// before embedding it. It returns an error while no engine is ready.
type TranscriberFunc func(ctx context.Context) (stt.Transcriber, error)

// EngineConfig wires the backends of a [FeatureEngine]. A nil Fingerprinter
// disables exact matching; a nil Embedder or Transcriber disables semantic
// matching.
type EngineConfig struct {
	Fingerprinter fingerprint.Fingerprinter
	Embedder      embeddings.Provider
	Transcriber   TranscriberFunc

	// Language is passed to the transcriber. Empty means auto-detect.
	Language string

	// Breaker configures the circuit breaker placed in front of each backend.
	// Name is overwritten per backend.
	Breaker resilience.CircuitBreakerConfig

	Logger *slog.Logger
}

var _ Engine = (*FeatureEngine)(nil)

// FeatureEngine is the production [Engine]. Exact matching uses an acoustic
// fingerprint. Semantic matching transcribes the chunk and embeds the text,
// so two chunks are similar when the same thing is being said.
type FeatureEngine struct {
	fp        fingerprint.Fingerprinter
	emb       embeddings.Provider
	transcr   TranscriberFunc
	language  string
	fpBreaker *resilience.CircuitBreaker
	emBreaker *resilience.CircuitBreaker
	log       *slog.Logger
}

// NewFeatureEngine builds a [FeatureEngine] from cfg.
func NewFeatureEngine(cfg EngineConfig) *FeatureEngine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	fpCfg, emCfg := cfg.Breaker, cfg.Breaker
	fpCfg.Name, emCfg.Name = "fingerprint", "embedding"
	fpCfg.Logger, emCfg.Logger = cfg.Logger, cfg.Logger
	return &FeatureEngine{
		fp:        cfg.Fingerprinter,
		emb:       cfg.Embedder,
		transcr:   cfg.Transcriber,
		language:  stt.NormalizeLanguage(cfg.Language),
		fpBreaker: resilience.NewCircuitBreaker(fpCfg),
		emBreaker: resilience.NewCircuitBreaker(emCfg),
		log:       cfg.Logger.With("component", "pattern-engine"),
	}
}

// SupportsFingerprint implements [Engine].
func (e *FeatureEngine) SupportsFingerprint() bool { return e.fp != nil }

// SupportsEmbedding implements [Engine].
func (e *FeatureEngine) SupportsEmbedding() bool { return e.emb != nil && e.transcr != nil }

// Fingerprint implements [Engine].
func (e *FeatureEngine) Fingerprint(ctx context.Context, samples []float32) ([]int32, error) {
	if !e.SupportsFingerprint() {
		return nil, fmt.Errorf("%w: fingerprint", ErrCapabilityUnavailable)
	}
	fp, err := resilience.Call(ctx, e.fpBreaker, func(ctx context.Context) ([]int32, error) {
		return e.fp.Fingerprint(ctx, samples)
	})
	if err != nil {
		return nil, fmt.Errorf("pattern: fingerprint: %w", err)
	}
	return fp, nil
}

// Embed implements [Engine]. Chunks with no recognisable speech yield nil.
func (e *FeatureEngine) Embed(ctx context.Context, samples []float32) ([]float32, error) {
	if !e.SupportsEmbedding() {
		return nil, fmt.Errorf("%w: embedding", ErrCapabilityUnavailable)
	}
	t, err := e.transcr(ctx)
	if err != nil {
		return nil, fmt.Errorf("pattern: embed: %w", err)
	}
	res, err := t.Transcribe(ctx, samples, e.language)
	if err != nil {
		return nil, fmt.Errorf("pattern: embed: transcribe: %w", err)
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		text = strings.TrimSpace(stt.JoinText(res.Segments))
	}
	if text == "" {
		return nil, nil
	}

	vec, err := resilience.Call(ctx, e.emBreaker, func(ctx context.Context) ([]float32, error) {
		return e.emb.Embed(ctx, text)
	})
	if err != nil {
		return nil, fmt.Errorf("pattern: embed: %w", err)
	}
	return vec, nil
}

// ResetBreakers closes both circuit breakers. Called when a new pattern
// session starts.
func (e *FeatureEngine) ResetBreakers() {
	e.fpBreaker.Reset()
	e.emBreaker.Reset()
}
