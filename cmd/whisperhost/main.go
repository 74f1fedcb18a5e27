// Command whisperhost is the native messaging host behind the browser
// extension. The browser starts it with the extension origin as an argument
// and talks to it over stdin and stdout; see package host for the protocol.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/customcuts/whisperhost/internal/config"
	"github.com/customcuts/whisperhost/internal/health"
	"github.com/customcuts/whisperhost/internal/host"
	"github.com/customcuts/whisperhost/internal/observe"
	"github.com/customcuts/whisperhost/internal/pattern"
	"github.com/customcuts/whisperhost/internal/resilience"
	"github.com/customcuts/whisperhost/internal/stdio"
	"github.com/customcuts/whisperhost/pkg/provider/embeddings"
	ollamaembed "github.com/customcuts/whisperhost/pkg/provider/embeddings/ollama"
	oaembed "github.com/customcuts/whisperhost/pkg/provider/embeddings/openai"
	"github.com/customcuts/whisperhost/pkg/provider/fingerprint/chromaprint"
	"github.com/customcuts/whisperhost/pkg/provider/stt"
	sttopenai "github.com/customcuts/whisperhost/pkg/provider/stt/openai"
	"github.com/customcuts/whisperhost/pkg/provider/stt/whisper"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	configFileName = "whisperhost.yaml"
	logFileName    = "whisper_host.log"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── Protocol stream ────────────────────────────────────────────────────
	// Done first so nothing loaded later can write into the frame stream.
	protoOut, err := stdio.Isolate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "whisperhost: %v; protocol stays on stdout\n", err)
		protoOut = os.Stdout
	}

	// ── CLI flags ──────────────────────────────────────────────────────────
	// Browsers append the caller origin as a positional argument, and Chrome
	// on Windows adds --parent-window. Both are accepted and ignored.
	configPath := flag.String("config", filepath.Join(exeDir(), configFileName), "path to the YAML configuration file")
	flag.Int("parent-window", 0, "native window handle passed by Chrome on Windows (ignored)")
	flag.Parse()

	// ── Configuration ──────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "whisperhost: %v\n", err)
		return 1
	}

	// ── Logger ─────────────────────────────────────────────────────────────
	logOut, closeLog := openLogOutput(cfg.Server.LogFile)
	defer closeLog()
	slog.SetDefault(newLogger(logOut, cfg.Server.LogLevel))

	slog.Info("whisperhost starting",
		"version", version,
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
		"origin", flag.Args(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ──────────────────────────────────────────────────────────
	metricsHandler, shutdownTelemetry := initTelemetry(ctx)
	defer shutdownTelemetry()
	metrics := observe.DefaultMetrics()

	// ── Engines ────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	slog.Debug("speech engines registered", "kinds", reg.STTKinds())

	sess := host.New(cfg, os.Stdin, protoOut, host.Providers{
		Registry:      reg,
		PatternEngine: patternEngineFunc(cfg, reg),
	},
		host.WithLogger(slog.Default().With("component", "host")),
		host.WithMetrics(metrics),
	)

	// ── Run ────────────────────────────────────────────────────────────────
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer cancel()
		if err := sess.Run(gctx); err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})

	// A blocked stdin read only returns once the file is closed.
	g.Go(func() error {
		<-gctx.Done()
		_ = os.Stdin.Close()
		return nil
	})

	if addr := cfg.Server.DiagnosticsAddr; addr != "" {
		mux := health.Mux(
			health.New(sess.Checkers()...),
			metricsHandler,
			observe.Middleware(metrics),
		)
		g.Go(func() error {
			if err := health.Serve(gctx, addr, mux); err != nil {
				slog.Error("diagnostics listener failed", "addr", addr, "err", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("session ended with error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// initTelemetry installs the OTel providers. A failure is logged and the host
// runs without exported metrics; the stdio session never depends on
// telemetry.
func initTelemetry(ctx context.Context) (http.Handler, func()) {
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "whisperhost",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Warn("telemetry disabled", "err", err)
		return http.NotFoundHandler(), func() {}
	}
	return telemetry.MetricsHandler(), func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}
}

// ── Provider wiring ─────────────────────────────────────────────────────────

// registerBuiltinProviders wires the speech engines and embeddings providers
// that ship with whisperhost into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ────────────────────────────────────────────────────────────────

	reg.RegisterSTT(config.KindWhisper, func(e config.EngineEntry) (stt.Transcriber, error) {
		eng, err := whisper.NewNative(whisper.ResolveModelPath(e.ModelPath, e.Model), config.OptInt(e.Options, "threads"))
		if err != nil {
			return nil, err
		}
		return eng, nil
	})

	reg.RegisterSTT(config.KindWhisperServer, func(e config.EngineEntry) (stt.Transcriber, error) {
		opts := []whisper.ServerOption{whisper.WithModel(e.Model)}
		if e.Timeout > 0 {
			opts = append(opts, whisper.WithHTTPClient(&http.Client{Timeout: e.Timeout}))
		}
		eng, err := whisper.NewServer(e.BaseURL, opts...)
		if err != nil {
			return nil, err
		}
		return eng, nil
	})

	// faster-whisper, parakeet and the OpenAI service all speak the OpenAI
	// transcription API.
	for _, kind := range []string{config.KindFasterWhisper, config.KindOpenAI, config.KindParakeet} {
		reg.RegisterSTT(kind, func(e config.EngineEntry) (stt.Transcriber, error) {
			apiKey := e.APIKey
			if apiKey == "" && kind == config.KindOpenAI {
				apiKey = os.Getenv("OPENAI_API_KEY")
			}
			opts := []sttopenai.Option{sttopenai.WithName(kind)}
			if e.BaseURL != "" {
				opts = append(opts, sttopenai.WithBaseURL(e.BaseURL))
			}
			if e.Timeout > 0 {
				opts = append(opts, sttopenai.WithTimeout(e.Timeout))
			}
			eng, err := sttopenai.New(apiKey, e.Model, opts...)
			if err != nil {
				return nil, err
			}
			return eng, nil
		})
	}

	// ── Embeddings ─────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(e config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if e.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(e.BaseURL))
		}
		p, err := oaembed.New(e.APIKey, e.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	reg.RegisterEmbeddings("ollama", func(e config.ProviderEntry) (embeddings.Provider, error) {
		p, err := ollamaembed.New(e.BaseURL, e.Model)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

// patternEngineFunc returns the factory the session uses on the first
// init_patterns. Backends that cannot be set up are logged and left out, so
// the matching phase they serve is skipped rather than failing the session.
func patternEngineFunc(cfg *config.Config, reg *config.Registry) host.PatternEngineFunc {
	pc := cfg.Patterns
	return func(_ context.Context, transcriber pattern.TranscriberFunc) (pattern.Engine, error) {
		ecfg := pattern.EngineConfig{
			Transcriber: transcriber,
			Language:    stt.NormalizeLanguage(pc.Language),
			Breaker: resilience.CircuitBreakerConfig{
				MaxFailures:  pc.CircuitBreaker.MaxFailures,
				ResetTimeout: pc.CircuitBreaker.ResetTimeout,
			},
			Logger: slog.Default().With("component", "patterns"),
		}

		if !pc.Fingerprint.Disabled {
			fp, err := chromaprint.New(pc.Fingerprint.FPCalcPath, pc.Fingerprint.Timeout)
			if err != nil {
				slog.Warn("exact pattern matching unavailable", "err", err)
			} else {
				ecfg.Fingerprinter = fp
			}
		}

		if pc.Embeddings.Name != "" {
			emb, err := buildEmbeddings(pc, reg)
			if err != nil {
				slog.Warn("semantic pattern matching unavailable", "provider", pc.Embeddings.Name, "err", err)
			} else {
				ecfg.Embedder = emb
			}
		}
		return pattern.NewFeatureEngine(ecfg), nil
	}
}

// buildEmbeddings creates the primary embeddings provider and chains any
// configured fallbacks behind it.
func buildEmbeddings(pc config.PatternsConfig, reg *config.Registry) (embeddings.Provider, error) {
	primary, err := reg.CreateEmbeddings(pc.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("create embeddings provider %q: %w", pc.Embeddings.Name, err)
	}
	if len(pc.EmbeddingsFallback) == 0 {
		return primary, nil
	}

	fb := resilience.NewEmbeddingsFallback(pc.Embeddings.Name, primary, resilience.CircuitBreakerConfig{
		MaxFailures:  pc.CircuitBreaker.MaxFailures,
		ResetTimeout: pc.CircuitBreaker.ResetTimeout,
	})
	for _, entry := range pc.EmbeddingsFallback {
		p, err := reg.CreateEmbeddings(entry)
		if err != nil {
			slog.Warn("skipping embeddings fallback", "name", entry.Name, "err", err)
			continue
		}
		fb.AddFallback(entry.Name, p)
	}
	return fb, nil
}

// ── Logger ──────────────────────────────────────────────────────────────────

// openLogOutput resolves the configured log destination. Empty means the
// log file next to the executable; "-" means stderr. A file that cannot be
// opened falls back to stderr.
func openLogOutput(path string) (io.Writer, func()) {
	switch path {
	case "-":
		return os.Stderr, func() {}
	case "":
		path = filepath.Join(exeDir(), logFileName)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "whisperhost: open log file: %v; logging to stderr\n", err)
		return os.Stderr, func() {}
	}
	return f, func() { _ = f.Close() }
}

func newLogger(w io.Writer, level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// exeDir returns the directory holding the running executable, or "." when
// it cannot be determined.
func exeDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}
