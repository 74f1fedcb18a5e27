// Package stitch turns independently transcribed, overlapping audio chunks
// into one monotonic transcript without repeated phrases at chunk
// boundaries.
//
// Two strategies cover the two kinds of engine. [StrategyResubmit] keeps the
// tail of the previous chunk and submits it again in front of the next one,
// for batch engines that need context across the boundary.
// [StrategyPreOverlap] submits chunks as-is, for callers that already embed
// overlap in the audio they send. Both filter the returned segments through
// the same bookkeeping.
package stitch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/customcuts/whisperhost/internal/observe"
	"github.com/customcuts/whisperhost/pkg/audio"
	"github.com/customcuts/whisperhost/pkg/provider/stt"
)

// Strategy selects how chunk overlap is handled.
type Strategy int

const (
	// StrategyPreOverlap submits each chunk unchanged.
	StrategyPreOverlap Strategy = iota

	// StrategyResubmit prepends the tail of the previous chunk.
	StrategyResubmit
)

func (s Strategy) String() string {
	switch s {
	case StrategyPreOverlap:
		return "pre-overlap"
	case StrategyResubmit:
		return "resubmit"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy parses the config spelling of a strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pre-overlap", "preoverlap":
		return StrategyPreOverlap, nil
	case "resubmit", "overlap":
		return StrategyResubmit, nil
	default:
		return 0, fmt.Errorf("stitch: unknown strategy %q", s)
	}
}

const (
	// Tolerance is how far, in seconds, a segment must end beyond the last
	// emitted segment to be kept.
	Tolerance = 0.3

	// DefaultOverlapSeconds is the resubmitted tail length.
	DefaultOverlapSeconds = 2.0

	// dupWords is how many boundary words the duplicate check compares.
	dupWords = 3
)

// Config configures a [Stitcher].
type Config struct {
	Strategy Strategy

	// OverlapSeconds is the tail length resubmitted by [StrategyResubmit].
	// Zero means [DefaultOverlapSeconds].
	OverlapSeconds float64

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// cursor is the session bookkeeping the segment filter reads and advances.
type cursor struct {
	lastEnd  float64
	lastText string
}

// Stitcher wraps a transcriber with per-session overlap handling. Chunks are
// expected from a single goroutine; [Stitcher.Reset] may be called from any
// goroutine.
type Stitcher struct {
	tr       stt.Transcriber
	strategy Strategy
	overlap  float64
	log      *slog.Logger
	metrics  *observe.Metrics

	mu   sync.Mutex
	tail []float32
	cur  cursor
	gen  uint64
}

// New creates a Stitcher around tr.
func New(tr stt.Transcriber, cfg Config) *Stitcher {
	if cfg.OverlapSeconds <= 0 {
		cfg.OverlapSeconds = DefaultOverlapSeconds
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Stitcher{
		tr:       tr,
		strategy: cfg.Strategy,
		overlap:  cfg.OverlapSeconds,
		log:      cfg.Logger.With("component", "stitch", "engine", tr.Name()),
		metrics:  cfg.Metrics,
	}
}

// Strategy returns the configured strategy.
func (s *Stitcher) Strategy() Strategy { return s.strategy }

// Transcriber returns the wrapped transcriber.
func (s *Stitcher) Transcriber() stt.Transcriber { return s.tr }

// Close releases the wrapped transcriber if it holds resources.
func (s *Stitcher) Close() error {
	if c, ok := s.tr.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// LastEnd returns the end time of the last emitted segment.
func (s *Stitcher) LastEnd() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.lastEnd
}

// Reset starts a new session. A chunk already being transcribed still
// returns its segments but no longer updates the session.
func (s *Stitcher) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tail = nil
	s.cur = cursor{}
	s.gen++
}

// ProcessChunk transcribes samples that start at chunkStart seconds of media
// time and returns the new segments in media time. Returned starts never go
// below the end of the previous segment.
func (s *Stitcher) ProcessChunk(ctx context.Context, samples []float32, chunkStart float64, language string) ([]stt.Segment, error) {
	s.mu.Lock()
	gen := s.gen
	input, start := samples, chunkStart
	if s.strategy == StrategyResubmit {
		if n := len(s.tail); n > 0 {
			keep := min(n, int(s.overlap*audio.SampleRate))
			input = make([]float32, 0, keep+len(samples))
			input = append(input, s.tail[n-keep:]...)
			input = append(input, samples...)
			start = chunkStart - audio.Duration(keep)
		}
		s.tail = samples
	}
	s.mu.Unlock()

	began := time.Now()
	res, err := s.tr.Transcribe(ctx, input, stt.NormalizeLanguage(language))
	s.metrics.TranscriptionDuration.Record(ctx, time.Since(began).Seconds(),
		metric.WithAttributes(attribute.String("engine", s.tr.Name())))
	if err != nil {
		return nil, fmt.Errorf("stitch: transcribe: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.cur
	out := s.filter(ctx, &cur, res.Segments, start)
	if gen == s.gen {
		s.cur = cur
	} else {
		s.log.Debug("session reset during transcription, result not recorded")
	}
	return out, nil
}

// filter shifts segments to media time and drops those already covered by
// cur, advancing cur for each segment kept.
func (s *Stitcher) filter(ctx context.Context, cur *cursor, segs []stt.Segment, start float64) []stt.Segment {
	var out []stt.Segment
	for _, seg := range segs {
		begin, end := start+seg.Start, start+seg.End
		text := strings.TrimSpace(seg.Text)

		var outcome string
		switch {
		case end <= cur.lastEnd+Tolerance:
			outcome = "overlap"
		case text == "":
			outcome = "empty"
		case isDuplicate(text, cur.lastText):
			outcome = "duplicate"
		default:
			text = trimRepeatedLead(text, cur.lastText)
			if text == "" {
				outcome = "duplicate"
			}
		}
		if outcome != "" {
			s.metrics.RecordSegment(ctx, outcome)
			continue
		}

		begin = max(begin, cur.lastEnd)
		out = append(out, stt.Segment{Start: begin, End: end, Text: text})
		cur.lastEnd = end
		cur.lastText = text
		s.metrics.RecordSegment(ctx, "accepted")
	}
	return out
}

// isDuplicate reports whether text repeats prev: equal ignoring case, or its
// first words equal the last words of prev. Both texts need at least two
// words for the word comparison.
func isDuplicate(text, prev string) bool {
	if prev == "" {
		return false
	}
	t := strings.ToLower(strings.TrimSpace(text))
	p := strings.ToLower(strings.TrimSpace(prev))
	if t == p {
		return true
	}

	tw, pw := strings.Fields(t), strings.Fields(p)
	if len(tw) < 2 || len(pw) < 2 {
		return false
	}
	n := min(dupWords, len(tw), len(pw))
	for i := range n {
		if tw[i] != pw[len(pw)-n+i] {
			return false
		}
	}
	return true
}

// trimRepeatedLead removes the longest leading run of at least two words of
// text that repeats the trailing words of prev. Comparison ignores case and
// surrounding punctuation.
func trimRepeatedLead(text, prev string) string {
	words := strings.Fields(text)
	prevWords := strings.Fields(prev)
	for k := min(len(words), len(prevWords)); k >= 2; k-- {
		match := true
		for i := range k {
			if normWord(words[i]) != normWord(prevWords[len(prevWords)-k+i]) {
				match = false
				break
			}
		}
		if match {
			return strings.Join(words[k:], " ")
		}
	}
	return text
}

func normWord(w string) string {
	return strings.ToLower(strings.TrimFunc(w, unicode.IsPunct))
}
