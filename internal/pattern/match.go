package pattern

import (
	"math"
	"math/bits"
)

// DefaultMaxOffset is the default search window, in fingerprint frames, for
// [MatchFingerprint].
const DefaultMaxOffset = 50

// MatchFingerprint slides b against a over every offset in
// [-maxOffset, maxOffset] and returns the best bitwise similarity together
// with the offset that produced it. Similarity is the share of equal bits over
// the aligned frames. Ties keep the lowest offset. Either input being empty
// yields (0, 0).
func MatchFingerprint(a, b []int32, maxOffset int) (float64, int) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 0
	}
	if maxOffset < 0 {
		maxOffset = 0
	}

	bestScore, bestOffset := 0.0, 0
	for off := -maxOffset; off <= maxOffset; off++ {
		var fa, fb []int32
		if off < 0 {
			if -off >= len(a) {
				continue
			}
			fa = a[-off:]
			fb = b[:min(len(fa), len(b))]
		} else {
			if off >= len(a) || off >= len(b) {
				continue
			}
			fa = a[:len(a)-off]
			fb = b[off:min(off+len(fa), len(b))]
		}
		n := min(len(fa), len(fb))
		if n == 0 {
			continue
		}

		diff := 0
		for i := range n {
			diff += bits.OnesCount32(uint32(fa[i] ^ fb[i]))
		}
		score := 1 - float64(diff)/float64(n*32)
		if score > bestScore {
			bestScore, bestOffset = score, off
		}
	}
	return bestScore, bestOffset
}

// CosineSimilarity returns the cosine of the angle between a and b, compared
// over their common length. A zero vector yields 0.
func CosineSimilarity(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := range n {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Quantize scales v by its largest magnitude into [-127, 127] and truncates to
// int8. The result is lossy; [Dequantize] restores the direction, not the
// magnitude.
func Quantize(v []float32) []int8 {
	var maxAbs float64
	for _, x := range v {
		maxAbs = max(maxAbs, math.Abs(float64(x)))
	}
	out := make([]int8, len(v))
	if maxAbs == 0 {
		return out
	}
	for i, x := range v {
		out[i] = int8(float64(x) / maxAbs * 127)
	}
	return out
}

// Dequantize maps int8 components back to [-1, 1].
func Dequantize(q []int8) []float32 {
	out := make([]float32, len(q))
	for i, x := range q {
		out[i] = float32(x) / 127
	}
	return out
}
