// Package stt defines the speech-to-text engine interface the host drives.
//
// An engine transcribes one bounded buffer of 16 kHz mono float32 audio at a
// time and reports timestamped segments relative to the start of that buffer.
// Stitching consecutive buffers into one transcript is the caller's job.
//
// Implementations must be safe for concurrent use, although the host only
// ever has one call in flight.
package stt

import (
	"context"
	"errors"
	"strings"
)

// ErrNativeUnavailable is returned when an engine needs native bindings that
// were not compiled into this binary.
var ErrNativeUnavailable = errors.New("stt: native engine support not compiled in")

// Segment is one timestamped piece of a transcription. Start and End are in
// seconds relative to the start of the submitted audio.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is the outcome of one transcription call.
type Result struct {
	Text     string
	Segments []Segment

	// Language is the detected or forced language, when the engine reports it.
	Language string
}

// Transcriber is the abstraction over any batch speech-to-text engine.
type Transcriber interface {
	// Transcribe runs recognition on samples. An empty language asks the
	// engine to detect it.
	Transcribe(ctx context.Context, samples []float32, language string) (Result, error)

	// Name identifies the engine kind, e.g. "whisper".
	Name() string
}

// JoinText concatenates segment texts with single spaces.
func JoinText(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// NormalizeLanguage maps the browser's language hint to what engines accept:
// "auto" and "" mean detect.
func NormalizeLanguage(lang string) string {
	lang = strings.TrimSpace(strings.ToLower(lang))
	if lang == "auto" {
		return ""
	}
	return lang
}
