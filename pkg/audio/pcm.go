// Package audio converts the PCM audio the browser captures into the forms
// inference engines consume.
//
// The browser sends 16 kHz mono audio as base64-encoded 16-bit signed
// little-endian PCM. Engines take float32 samples in [-1, 1), WAV containers
// for HTTP uploads, or raw PCM for external tools.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// SampleRate is the fixed sample rate of all audio the host receives.
const SampleRate = 16000

// ErrOddLength is returned when PCM16 data is not a whole number of samples.
var ErrOddLength = errors.New("audio: pcm16 data has odd byte length")

// DecodeBase64PCM16 decodes a base64 string of 16-bit little-endian PCM into
// float32 samples scaled by 1/32768.
func DecodeBase64PCM16(s string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("audio: decode base64: %w", err)
	}
	if len(raw)%2 != 0 {
		return nil, ErrOddLength
	}
	return PCM16ToFloat32(raw), nil
}

// PCM16ToFloat32 converts 16-bit signed little-endian PCM to float32 samples
// normalised to [-1.0, 1.0). A trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(s) / 32768.0
	}
	return samples
}

// Float32ToPCM16 converts float32 samples back to 16-bit little-endian PCM,
// clamping to the int16 range.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		v := math.Round(float64(f) * 32768.0)
		v = max(math.MinInt16, min(math.MaxInt16, v))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// Duration returns the length in seconds of n samples at [SampleRate].
func Duration(n int) float64 {
	return float64(n) / SampleRate
}
