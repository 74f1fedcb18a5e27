package pattern_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/customcuts/whisperhost/internal/pattern"
	"github.com/customcuts/whisperhost/internal/resilience"
	embmock "github.com/customcuts/whisperhost/pkg/provider/embeddings/mock"
	fpmock "github.com/customcuts/whisperhost/pkg/provider/fingerprint/mock"
	"github.com/customcuts/whisperhost/pkg/provider/stt"
	sttmock "github.com/customcuts/whisperhost/pkg/provider/stt/mock"
)

func readyTranscriber(t stt.Transcriber) pattern.TranscriberFunc {
	return func(context.Context) (stt.Transcriber, error) { return t, nil }
}

func TestFeatureEngine_Capabilities(t *testing.T) {
	t.Parallel()
	tr := readyTranscriber(&sttmock.Transcriber{})
	tests := []struct {
		name         string
		cfg          pattern.EngineConfig
		wantFP, want bool
	}{
		{name: "nothing configured"},
		{name: "fingerprint only", cfg: pattern.EngineConfig{Fingerprinter: &fpmock.Fingerprinter{}}, wantFP: true},
		{name: "embedder without transcriber", cfg: pattern.EngineConfig{Embedder: &embmock.Provider{}}},
		{name: "embedding", cfg: pattern.EngineConfig{Embedder: &embmock.Provider{}, Transcriber: tr}, want: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := pattern.NewFeatureEngine(tc.cfg)
			if got := e.SupportsFingerprint(); got != tc.wantFP {
				t.Errorf("SupportsFingerprint = %v, want %v", got, tc.wantFP)
			}
			if got := e.SupportsEmbedding(); got != tc.want {
				t.Errorf("SupportsEmbedding = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFeatureEngine_UnsupportedCapability(t *testing.T) {
	t.Parallel()
	e := pattern.NewFeatureEngine(pattern.EngineConfig{})
	if _, err := e.Fingerprint(context.Background(), chunk); !errors.Is(err, pattern.ErrCapabilityUnavailable) {
		t.Errorf("Fingerprint err = %v, want ErrCapabilityUnavailable", err)
	}
	if _, err := e.Embed(context.Background(), chunk); !errors.Is(err, pattern.ErrCapabilityUnavailable) {
		t.Errorf("Embed err = %v, want ErrCapabilityUnavailable", err)
	}
}

func TestFeatureEngine_EmbedTranscribesThenEmbeds(t *testing.T) {
	t.Parallel()
	tr := &sttmock.Transcriber{Results: []stt.Result{{Text: " previously on the show "}}}
	emb := &embmock.Provider{Vectors: map[string][]float32{"previously on the show": {0.1, 0.2}}}
	e := pattern.NewFeatureEngine(pattern.EngineConfig{
		Embedder:    emb,
		Transcriber: readyTranscriber(tr),
		Language:    "auto",
	})

	vec, err := e.Embed(context.Background(), chunk)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 || vec[1] != 0.2 {
		t.Errorf("vec = %v, want [0.1 0.2]", vec)
	}
	if got := tr.Call(0).Language; got != "" {
		t.Errorf("language = %q, want auto-detect", got)
	}
}

func TestFeatureEngine_EmbedSilence(t *testing.T) {
	t.Parallel()
	emb := &embmock.Provider{EmbedResult: []float32{1}}
	e := pattern.NewFeatureEngine(pattern.EngineConfig{
		Embedder:    emb,
		Transcriber: readyTranscriber(&sttmock.Transcriber{}),
	})
	vec, err := e.Embed(context.Background(), chunk)
	if err != nil || vec != nil {
		t.Errorf("Embed = (%v, %v), want (nil, nil)", vec, err)
	}
	if emb.Calls() != 0 {
		t.Error("embedder must not be called for an empty transcript")
	}
}

func TestFeatureEngine_EmbedWithoutReadySpeechEngine(t *testing.T) {
	t.Parallel()
	notReady := errors.New("engine loading")
	e := pattern.NewFeatureEngine(pattern.EngineConfig{
		Embedder:    &embmock.Provider{},
		Transcriber: func(context.Context) (stt.Transcriber, error) { return nil, notReady },
	})
	if _, err := e.Embed(context.Background(), chunk); !errors.Is(err, notReady) {
		t.Errorf("err = %v, want %v", err, notReady)
	}
}

func TestFeatureEngine_FingerprintBreakerOpens(t *testing.T) {
	t.Parallel()
	boom := errors.New("fpcalc missing codec")
	fp := &fpmock.Fingerprinter{Err: boom}
	e := pattern.NewFeatureEngine(pattern.EngineConfig{
		Fingerprinter: fp,
		Breaker:       resilience.CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})

	for range 2 {
		if _, err := e.Fingerprint(context.Background(), chunk); !errors.Is(err, boom) {
			t.Fatalf("err = %v, want %v", err, boom)
		}
	}
	if _, err := e.Fingerprint(context.Background(), chunk); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if fp.Calls() != 2 {
		t.Errorf("fingerprinter called %d times, want 2", fp.Calls())
	}

	e.ResetBreakers()
	fp.Err = nil
	fp.Result = []int32{4}
	got, err := e.Fingerprint(context.Background(), chunk)
	if err != nil || len(got) != 1 {
		t.Errorf("after reset: (%v, %v), want ([4], nil)", got, err)
	}
}
