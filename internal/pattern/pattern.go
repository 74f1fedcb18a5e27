// Package pattern detects known audio patterns (intros, jingles, recurring
// phrases) in a stream of audio chunks.
//
// Exact patterns carry an acoustic fingerprint and are matched with
// [MatchFingerprint]. Semantic patterns carry an embedding and are matched
// with [CosineSimilarity]. A [Detector] runs both phases per chunk and tracks
// how long each pattern has been detected without interruption; a pattern
// seen continuously for at least the minimum match duration is confirmed.
package pattern

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Type selects how a pattern is matched.
type Type string

const (
	// TypeExact patterns are matched by acoustic fingerprint.
	TypeExact Type = "exact"

	// TypeSemantic patterns are matched by embedding similarity.
	TypeSemantic Type = "semantic"
)

// Valid reports whether t is a known pattern type.
func (t Type) Valid() bool { return t == TypeExact || t == TypeSemantic }

// Method names the phase that produced a [Detection].
type Method string

const (
	MethodFingerprint Method = "fingerprint"
	MethodEmbedding   Method = "embedding"
)

// DefaultThreshold is the similarity a semantic pattern must exceed when it
// does not set its own threshold.
const DefaultThreshold = 0.85

// ErrInvalidPattern is returned when a pattern cannot be decoded.
var ErrInvalidPattern = errors.New("pattern: invalid pattern")

// Pattern is one pattern to look for. Patterns are supplied by the caller and
// never stored beyond the current session.
type Pattern struct {
	ID          string
	Name        string
	Type        Type
	Fingerprint []int32

	// Embedding is the reference vector. Embeddings that arrive int8-quantized
	// are dequantized on decode.
	Embedding []float32

	// Threshold is the cosine similarity a chunk must exceed. Nil selects
	// [DefaultThreshold]; an explicit zero is honoured.
	Threshold *float64

	// Duration is the pattern length in seconds, echoed in detections.
	Duration float64
}

func (p Pattern) threshold() float64 {
	if p.Threshold == nil {
		return DefaultThreshold
	}
	return *p.Threshold
}

func (p Pattern) name() string {
	if p.Name == "" {
		return "Unknown"
	}
	return p.Name
}

type patternJSON struct {
	ID          string          `json:"id"`
	Name        string          `json:"name,omitempty"`
	Type        Type            `json:"type"`
	Fingerprint []int32         `json:"fingerprint,omitempty"`
	Embedding   json.RawMessage `json:"embedding,omitempty"`
	Threshold   *float64        `json:"threshold,omitempty"`
	Duration    float64         `json:"duration,omitempty"`
}

// UnmarshalJSON decodes the wire form. An embedding made only of integer
// literals in int8 range is treated as quantized.
func (p *Pattern) UnmarshalJSON(data []byte) error {
	var raw patternJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPattern, err)
	}
	*p = Pattern{
		ID:          raw.ID,
		Name:        raw.Name,
		Type:        raw.Type,
		Fingerprint: raw.Fingerprint,
		Threshold:   raw.Threshold,
		Duration:    raw.Duration,
	}
	if len(raw.Embedding) == 0 || bytes.Equal(raw.Embedding, []byte("null")) {
		return nil
	}
	emb, err := decodeEmbedding(raw.Embedding)
	if err != nil {
		return fmt.Errorf("%w: pattern %q embedding: %w", ErrInvalidPattern, raw.ID, err)
	}
	p.Embedding = emb
	return nil
}

// MarshalJSON encodes the float form of the pattern.
func (p Pattern) MarshalJSON() ([]byte, error) {
	raw := patternJSON{
		ID:          p.ID,
		Name:        p.Name,
		Type:        p.Type,
		Fingerprint: p.Fingerprint,
		Threshold:   p.Threshold,
		Duration:    p.Duration,
	}
	if len(p.Embedding) > 0 {
		emb, err := json.Marshal(p.Embedding)
		if err != nil {
			return nil, err
		}
		raw.Embedding = emb
	}
	return json.Marshal(raw)
}

func decodeEmbedding(data []byte) ([]float32, error) {
	var nums []json.Number
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&nums); err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return nil, nil
	}

	if q, ok := int8Components(nums); ok {
		return Dequantize(q), nil
	}

	out := make([]float32, len(nums))
	for i, n := range nums {
		v, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", i, err)
		}
		out[i] = float32(v)
	}
	return out, nil
}

// int8Components reports whether every component is an integer literal in
// int8 range.
func int8Components(nums []json.Number) ([]int8, bool) {
	q := make([]int8, len(nums))
	for i, n := range nums {
		v, err := n.Int64()
		if err != nil || v < -128 || v > 127 {
			return nil, false
		}
		q[i] = int8(v)
	}
	return q, true
}

// ParsePatterns decodes a JSON array of patterns, skipping entries with an
// unknown type.
func ParsePatterns(data []byte) ([]Pattern, error) {
	var all []Pattern
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	out := all[:0]
	for _, p := range all {
		if p.Type.Valid() {
			out = append(out, p)
		}
	}
	return out, nil
}

// Detection is one pattern matched in one chunk.
type Detection struct {
	PatternID       string  `json:"pattern_id"`
	PatternName     string  `json:"pattern_name"`
	PatternDuration float64 `json:"pattern_duration"`
	Confidence      float64 `json:"confidence"`
	Offset          int     `json:"offset"`
	Method          Method  `json:"method"`
	Timestamp       float64 `json:"timestamp"`
}

// Confirmed is a detection that has held for at least the minimum match
// duration.
type Confirmed struct {
	Detection
	Confirmed     bool    `json:"confirmed"`
	MatchDuration float64 `json:"match_duration"`
	MatchStart    float64 `json:"match_start"`
}

// MatchState tracks one pattern across consecutive chunks.
type MatchState struct {
	StartTime float64
	LastTime  float64
	Detection Detection
}

// Duration is how long the pattern has been detected without a gap.
func (s MatchState) Duration() float64 { return s.LastTime - s.StartTime }
