// Package fingerprint defines acoustic fingerprint backends for exact audio
// pattern matching. A fingerprint is a sequence of 32-bit sub-fingerprints,
// one per analysis frame, compared bitwise.
package fingerprint

import "context"

// Fingerprinter computes the acoustic fingerprint of 16 kHz mono samples.
// An empty result with a nil error means the audio was too short or too
// quiet to fingerprint.
type Fingerprinter interface {
	Fingerprint(ctx context.Context, samples []float32) ([]int32, error)
}
