// Package host runs one native messaging session with the browser extension.
//
// A [Session] owns all per-connection state: the framed channel, the
// background loaders for the speech and pattern engines, and the two
// single-consumer workers that serialise inference. [Session.Run] reads
// envelopes until the browser disconnects or sends shutdown; [Session.Handle]
// dispatches one envelope and is what tests drive directly.
//
// Handlers never block on inference. transcribe, detect and learn_pattern are
// queued and answered asynchronously from a worker; everything else is
// answered inline.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/customcuts/whisperhost/internal/config"
	"github.com/customcuts/whisperhost/internal/health"
	"github.com/customcuts/whisperhost/internal/lifecycle"
	"github.com/customcuts/whisperhost/internal/observe"
	"github.com/customcuts/whisperhost/internal/pattern"
	"github.com/customcuts/whisperhost/internal/protocol"
	"github.com/customcuts/whisperhost/internal/stitch"
	"github.com/customcuts/whisperhost/internal/worker"
	"github.com/customcuts/whisperhost/pkg/provider/stt"
)

var (
	// errSpeechNotReady is returned to the pattern engine when it needs a
	// transcript before any speech engine has finished loading.
	errSpeechNotReady = errors.New("host: speech engine not ready")

	// errNoPatternEngine is the load error when no pattern backend factory
	// was supplied.
	errNoPatternEngine = errors.New("host: pattern detection not configured")
)

// PatternEngineFunc builds the feature engine for a pattern session.
// transcriber yields the speech engine that is current when a chunk is
// embedded.
type PatternEngineFunc func(ctx context.Context, transcriber pattern.TranscriberFunc) (pattern.Engine, error)

// Providers are the engine constructors a session draws on.
type Providers struct {
	// Registry creates speech engines by kind.
	Registry *config.Registry

	// PatternEngine may be nil, in which case pattern requests fail with a
	// descriptive error.
	PatternEngine PatternEngineFunc
}

// Option configures a [Session].
type Option func(*Session)

// WithLogger sets the session logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithMetrics sets the metrics sink. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// chunkTask is one queued transcribe request. id is echoed back verbatim.
type chunkTask struct {
	env protocol.Envelope
	id  any
}

// Session is the aggregate behind one browser connection.
type Session struct {
	cfg       *config.Config
	providers Providers
	log       *slog.Logger
	metrics   *observe.Metrics

	ch *Channel

	speech   *lifecycle.Loader[*stitch.Stitcher]
	patterns *lifecycle.Loader[*pattern.Detector]

	transcriber *worker.Worker[chunkTask]
	detector    *worker.Worker[protocol.Envelope]
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates a session that reads frames from in and writes frames to out.
// cfg must have defaults applied.
func New(cfg *config.Config, in io.Reader, out io.Writer, providers Providers, opts ...Option) *Session {
	s := &Session{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.providers.Registry == nil {
		s.providers.Registry = config.NewRegistry()
	}

	s.ch = NewChannel(in, out, cfg.Host.MaxMessageBytes, s.log.With("component", "channel"), s.metrics)

	loaderCfg := lifecycle.Config{
		Delay:   cfg.Host.LoadDelay,
		Logger:  s.log.With("component", "loader"),
		Metrics: s.metrics,
	}
	s.speech = lifecycle.New[*stitch.Stitcher](loaderCfg)
	s.patterns = lifecycle.New[*pattern.Detector](loaderCfg)

	s.transcriber = worker.New(s.processTranscription, worker.Config{
		Name:         "transcribe",
		PollInterval: cfg.Host.PollInterval,
		Logger:       s.log,
		Metrics:      s.metrics,
	})
	s.detector = worker.New(s.processPatternTask, worker.Config{
		Name:         "patterns",
		PollInterval: cfg.Host.PollInterval,
		Logger:       s.log,
		Metrics:      s.metrics,
	})
	return s
}

// ─── Engine construction ─────────────────────────────────────────────────────

// buildSpeech returns the load function for a speech engine of kind.
func (s *Session) buildSpeech(kind string, entry config.EngineEntry) lifecycle.BuildFunc[*stitch.Stitcher] {
	return func(context.Context) (*stitch.Stitcher, error) {
		tr, err := s.providers.Registry.CreateSTT(kind, entry)
		if err != nil {
			return nil, err
		}
		strategy := stitch.StrategyPreOverlap
		if entry.Strategy != "" {
			if strategy, err = stitch.ParseStrategy(entry.Strategy); err != nil {
				return nil, err
			}
		}
		return stitch.New(tr, stitch.Config{
			Strategy:       strategy,
			OverlapSeconds: entry.OverlapSeconds,
			Logger:         s.log.With("component", "stitcher", "engine", kind),
			Metrics:        s.metrics,
		}), nil
	}
}

// buildDetector returns the load function for a pattern detector holding
// patterns.
func (s *Session) buildDetector(patterns []pattern.Pattern) lifecycle.BuildFunc[*pattern.Detector] {
	return func(ctx context.Context) (*pattern.Detector, error) {
		if s.providers.PatternEngine == nil {
			return nil, errNoPatternEngine
		}
		eng, err := s.providers.PatternEngine(ctx, s.currentTranscriber)
		if err != nil {
			return nil, fmt.Errorf("host: pattern engine: %w", err)
		}
		pc := s.cfg.Patterns
		s.log.Info("pattern engine ready",
			"fingerprint", eng.SupportsFingerprint(),
			"embedding", eng.SupportsEmbedding(),
			"patterns", len(patterns),
		)
		return pattern.NewDetector(eng, patterns,
			pattern.WithMinMatchDuration(pc.MinMatchDuration),
			pattern.WithExactThreshold(pc.ExactThreshold),
			pattern.WithMaxOffset(pc.MaxOffset),
			pattern.WithLogger(s.log.With("component", "detector")),
		), nil
	}
}

// currentTranscriber is the [pattern.TranscriberFunc] handed to pattern
// engines: semantic matching reuses whichever speech engine is loaded.
func (s *Session) currentTranscriber(context.Context) (stt.Transcriber, error) {
	st, status, err := s.speech.Peek()
	switch status {
	case lifecycle.StatusReady:
		return st.Transcriber(), nil
	case lifecycle.StatusFailed:
		return nil, err
	}
	return nil, errSpeechNotReady
}

// ─── Diagnostics ─────────────────────────────────────────────────────────────

// Checkers reports engine readiness for the diagnostics /readyz endpoint.
func (s *Session) Checkers() []health.Checker {
	return []health.Checker{
		{Name: "speech", Check: loaderCheck(s.speech)},
		{Name: "patterns", Check: loaderCheck(s.patterns)},
	}
}

func loaderCheck[T any](l *lifecycle.Loader[T]) func(context.Context) error {
	return func(context.Context) error {
		_, status, err := l.Peek()
		switch status {
		case lifecycle.StatusReady:
			return nil
		case lifecycle.StatusFailed:
			return err
		}
		return errors.New(status.String())
	}
}
