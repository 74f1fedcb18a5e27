package pattern

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMinMatchDuration is how long, in seconds, a pattern must be
	// detected without a gap before it is confirmed.
	DefaultMinMatchDuration = 2.0

	// DefaultExactThreshold is the fingerprint similarity an exact pattern
	// must exceed.
	DefaultExactThreshold = 0.8
)

// Option configures a [Detector].
type Option func(*Detector)

// WithMinMatchDuration overrides [DefaultMinMatchDuration].
func WithMinMatchDuration(seconds float64) Option {
	return func(d *Detector) { d.minMatch = seconds }
}

// WithExactThreshold overrides [DefaultExactThreshold].
func WithExactThreshold(t float64) Option {
	return func(d *Detector) { d.exactThreshold = t }
}

// WithMaxOffset overrides [DefaultMaxOffset].
func WithMaxOffset(frames int) Option {
	return func(d *Detector) { d.maxOffset = frames }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) { d.log = l }
}

// Detector matches chunks against a pattern set and tracks consecutive
// detections per pattern. All methods are safe for concurrent use; chunks are
// expected to arrive from a single goroutine in timestamp order.
type Detector struct {
	engine         Engine
	minMatch       float64
	exactThreshold float64
	maxOffset      int
	log            *slog.Logger

	mu       sync.Mutex
	patterns []Pattern
	matches  map[string]*MatchState
}

// NewDetector creates a Detector that computes chunk features with engine.
func NewDetector(engine Engine, patterns []Pattern, opts ...Option) *Detector {
	d := &Detector{
		engine:         engine,
		minMatch:       DefaultMinMatchDuration,
		exactThreshold: DefaultExactThreshold,
		maxOffset:      DefaultMaxOffset,
		log:            slog.Default(),
		patterns:       patterns,
		matches:        make(map[string]*MatchState),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Engine returns the feature engine the detector was built with.
func (d *Detector) Engine() Engine { return d.engine }

// Patterns returns the stored pattern set.
func (d *Detector) Patterns() []Pattern {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.patterns
}

// SetPatterns replaces the stored pattern set and forgets all tracking state.
func (d *Detector) SetPatterns(patterns []Pattern) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.patterns = patterns
	clear(d.matches)
}

// Reset forgets all tracking state, for example after a seek.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.matches)
}

// Tracked returns a copy of the tracking state for pattern id.
func (d *Detector) Tracked(id string) (MatchState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.matches[id]
	if !ok {
		return MatchState{}, false
	}
	return *s, true
}

// ProcessChunk matches one chunk starting at timestamp against patterns, or
// against the stored set when patterns is nil, then updates tracking.
//
// The fingerprint and embedding phases run concurrently and each computes its
// chunk feature at most once. A phase whose capability is missing is skipped.
// A phase that fails contributes no detections; its error is returned joined
// alongside the detections of the other phase.
func (d *Detector) ProcessChunk(ctx context.Context, samples []float32, timestamp float64, patterns []Pattern) ([]Detection, error) {
	if patterns == nil {
		patterns = d.Patterns()
	}
	if len(patterns) == 0 {
		return nil, nil
	}

	var exact, semantic []Pattern
	for _, p := range patterns {
		switch p.Type {
		case TypeExact:
			if len(p.Fingerprint) > 0 {
				exact = append(exact, p)
			}
		case TypeSemantic:
			if len(p.Embedding) > 0 {
				semantic = append(semantic, p)
			}
		}
	}

	var (
		fpHits, embHits []Detection
		fpErr, embErr   error
	)
	var g errgroup.Group
	if len(exact) > 0 && d.engine.SupportsFingerprint() {
		g.Go(func() error {
			fpHits, fpErr = d.matchExact(ctx, samples, timestamp, exact)
			return nil
		})
	}
	if len(semantic) > 0 && d.engine.SupportsEmbedding() {
		g.Go(func() error {
			embHits, embErr = d.matchSemantic(ctx, samples, timestamp, semantic)
			return nil
		})
	}
	_ = g.Wait()

	detections := append(fpHits, embHits...)
	d.track(detections, timestamp)
	return detections, errors.Join(fpErr, embErr)
}

func (d *Detector) matchExact(ctx context.Context, samples []float32, ts float64, patterns []Pattern) ([]Detection, error) {
	chunkFP, err := d.engine.Fingerprint(ctx, samples)
	if err != nil {
		d.log.Warn("fingerprint phase failed", "err", err)
		return nil, err
	}
	if len(chunkFP) == 0 {
		return nil, nil
	}

	var out []Detection
	for _, p := range patterns {
		score, offset := MatchFingerprint(chunkFP, p.Fingerprint, d.maxOffset)
		if score > d.exactThreshold {
			out = append(out, newDetection(p, score, offset, MethodFingerprint, ts))
		}
	}
	return out, nil
}

func (d *Detector) matchSemantic(ctx context.Context, samples []float32, ts float64, patterns []Pattern) ([]Detection, error) {
	chunkEmb, err := d.engine.Embed(ctx, samples)
	if err != nil {
		d.log.Warn("embedding phase failed", "err", err)
		return nil, err
	}
	if len(chunkEmb) == 0 {
		return nil, nil
	}

	var out []Detection
	for _, p := range patterns {
		sim := CosineSimilarity(chunkEmb, p.Embedding)
		if sim > p.threshold() {
			out = append(out, newDetection(p, sim, 0, MethodEmbedding, ts))
		}
	}
	return out, nil
}

func newDetection(p Pattern, confidence float64, offset int, m Method, ts float64) Detection {
	return Detection{
		PatternID:       p.ID,
		PatternName:     p.name(),
		PatternDuration: p.Duration,
		Confidence:      confidence,
		Offset:          offset,
		Method:          m,
		Timestamp:       ts,
	}
}

// track applies the consecutive-match rules: patterns absent from this chunk
// are forgotten, new ones start tracking at ts, and the rest extend to ts.
func (d *Detector) track(detections []Detection, ts float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	seen := make(map[string]struct{}, len(detections))
	for _, det := range detections {
		seen[det.PatternID] = struct{}{}
	}
	for id := range d.matches {
		if _, ok := seen[id]; !ok {
			delete(d.matches, id)
		}
	}
	for _, det := range detections {
		if s, ok := d.matches[det.PatternID]; ok {
			s.LastTime = max(s.LastTime, ts)
			s.Detection = det
			continue
		}
		d.matches[det.PatternID] = &MatchState{StartTime: ts, LastTime: ts, Detection: det}
	}
}

// ConfirmedDetections returns the tracked patterns that have been detected
// for at least the minimum match duration, ordered by pattern id. It does not
// modify tracking state.
func (d *Detector) ConfirmedDetections() []Confirmed {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []Confirmed
	for _, s := range d.matches {
		dur := s.Duration()
		if dur >= d.minMatch {
			out = append(out, Confirmed{
				Detection:     s.Detection,
				Confirmed:     true,
				MatchDuration: dur,
				MatchStart:    s.StartTime,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PatternID < out[j].PatternID })
	return out
}

// MinMatchDuration returns the confirmation window in seconds.
func (d *Detector) MinMatchDuration() float64 { return d.minMatch }
