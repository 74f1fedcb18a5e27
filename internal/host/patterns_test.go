package host

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	patternmock "github.com/customcuts/whisperhost/internal/pattern/mock"
	"github.com/customcuts/whisperhost/internal/protocol"
)

var introFP = []int32{
	0x1f2e3d4c, 0x5b6a7988, 0x11223344, 0x55667788,
	0x0a0b0c0d, 0x7e7f7071, 0x13572468, 0x24681357,
}

func introPatterns() []map[string]any {
	return []map[string]any{{
		"id":          "p1",
		"name":        "Intro",
		"type":        "exact",
		"fingerprint": introFP,
		"duration":    12.0,
	}}
}

func listField(t *testing.T, env protocol.Envelope, key string) []map[string]any {
	t.Helper()
	raw, ok := env.Fields[key].([]any)
	if !ok {
		t.Fatalf("%s = %#v, want a list", key, env.Fields[key])
	}
	out := make([]map[string]any, len(raw))
	for i, v := range raw {
		out[i] = v.(map[string]any)
	}
	return out
}

func TestDetect_ConfirmsAfterMinDuration(t *testing.T) {
	eng := &patternmock.Engine{Fingerprints: true, FingerprintResult: introFP}
	h := newHarness(t, harnessOpts{engine: eng})

	ready := h.handle(t, protocol.TypeInitPatterns, "patterns", introPatterns())
	if ready.Type != protocol.TypePatternsReady || ready.Fields["pattern_count"] != 1 || ready.String("status", "") != "loading" {
		t.Fatalf("init_patterns reply = %s %v", ready.Type, ready.Fields)
	}

	steps := []struct {
		ts            float64
		wantConfirmed bool
	}{
		{0.0, false},
		{1.0, false},
		{1.9, false},
		{2.1, true},
	}
	for _, step := range steps {
		h.deferred(t, protocol.TypeDetect, "audio", pcmAudio(0.5), "timestamp", step.ts)
		got := h.sink.next(t)
		if got.Type != protocol.TypeDetections {
			t.Fatalf("frame = %s %v", got.Type, got.Fields)
		}
		if got.Has("error") {
			t.Fatalf("t=%v: unexpected error %q", step.ts, got.String("error", ""))
		}
		dets := listField(t, got, "detections")
		if len(dets) != 1 || dets[0]["pattern_id"] != "p1" || dets[0]["method"] != "fingerprint" {
			t.Fatalf("t=%v: detections = %v", step.ts, dets)
		}
		confirmed := listField(t, got, "confirmed")
		if (len(confirmed) == 1) != step.wantConfirmed {
			t.Fatalf("t=%v: confirmed = %v, want confirmed=%v", step.ts, confirmed, step.wantConfirmed)
		}
		if step.wantConfirmed {
			d, _ := confirmed[0]["match_duration"].(json.Number).Float64()
			if d < 2.09 || d > 2.11 {
				t.Errorf("match_duration = %v, want ~2.1", d)
			}
		}
	}
	if got := eng.FingerprintCalls(); got != len(steps) {
		t.Errorf("fingerprint calls = %d, want one per chunk", got)
	}

	again := h.handle(t, protocol.TypeInitPatterns, "patterns", introPatterns())
	if again.String("status", "") != "ready" {
		t.Errorf("second init_patterns status = %q, want ready", again.String("status", ""))
	}
	det, _, _ := h.s.patterns.Peek()
	if _, ok := det.Tracked("p1"); ok {
		t.Error("init_patterns should clear tracking")
	}
}

func TestResetPatterns_Idempotent(t *testing.T) {
	eng := &patternmock.Engine{Fingerprints: true, FingerprintResult: introFP}
	h := newHarness(t, harnessOpts{engine: eng})

	if got := h.handle(t, protocol.TypeResetPatterns); got.Type != protocol.TypePatternsReset {
		t.Fatalf("reset_patterns before init = %s", got.Type)
	}

	h.handle(t, protocol.TypeInitPatterns, "patterns", introPatterns())
	h.deferred(t, protocol.TypeDetect, "audio", pcmAudio(0.5), "timestamp", 0.0)
	h.sink.next(t)

	det, _, _ := h.s.patterns.Peek()
	if _, ok := det.Tracked("p1"); !ok {
		t.Fatal("p1 should be tracked after a detection")
	}
	for i := range 2 {
		if got := h.handle(t, protocol.TypeResetPatterns); got.Type != protocol.TypePatternsReset {
			t.Fatalf("reset_patterns #%d = %s", i+1, got.Type)
		}
		if _, ok := det.Tracked("p1"); ok {
			t.Fatalf("p1 still tracked after reset_patterns #%d", i+1)
		}
	}
	if n := len(det.Patterns()); n != 1 {
		t.Errorf("reset_patterns dropped the pattern set: %d left", n)
	}
}

func TestDetect_InlinePatternsWithoutInit(t *testing.T) {
	eng := &patternmock.Engine{Fingerprints: true, FingerprintResult: introFP}
	h := newHarness(t, harnessOpts{engine: eng})

	h.deferred(t, protocol.TypeDetect, "audio", pcmAudio(0.5), "timestamp", 3.0, "patterns", introPatterns())
	got := h.sink.next(t)
	if dets := listField(t, got, "detections"); len(dets) != 1 {
		t.Errorf("detections = %v, want one", dets)
	}
	if ts := got.Float("timestamp", -1); ts != 3 {
		t.Errorf("timestamp = %v, want 3", ts)
	}
}

func TestDetect_Degrades(t *testing.T) {
	t.Run("no pattern engine", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		h.deferred(t, protocol.TypeDetect, "audio", pcmAudio(0.5), "timestamp", 1.0)
		got := h.sink.next(t)
		if got.Type != protocol.TypeDetections {
			t.Fatalf("frame = %s", got.Type)
		}
		if !strings.Contains(got.String("error", ""), "not configured") {
			t.Errorf("error = %q", got.String("error", ""))
		}
		if len(listField(t, got, "detections")) != 0 || len(listField(t, got, "confirmed")) != 0 {
			t.Errorf("lists should be empty: %v", got.Fields)
		}
	})

	t.Run("fingerprint failure", func(t *testing.T) {
		eng := &patternmock.Engine{Fingerprints: true, FingerprintErr: errors.New("fpcalc exited 1")}
		h := newHarness(t, harnessOpts{engine: eng})
		h.handle(t, protocol.TypeInitPatterns, "patterns", introPatterns())
		h.deferred(t, protocol.TypeDetect, "audio", pcmAudio(0.5), "timestamp", 1.0)
		got := h.sink.next(t)
		if !strings.Contains(got.String("error", ""), "fpcalc exited 1") {
			t.Errorf("error = %q", got.String("error", ""))
		}
		if len(listField(t, got, "detections")) != 0 {
			t.Errorf("detections = %v, want none", got.Fields["detections"])
		}
	})
}

func TestLearnPattern(t *testing.T) {
	eng := &patternmock.Engine{
		Fingerprints:      true,
		FingerprintResult: introFP,
		Embeddings:        true,
		EmbedResult:       []float32{0.5, -1, 0.25, 0, 0.75, -0.5, 0.1, 0.9},
	}
	h := newHarness(t, harnessOpts{engine: eng})

	t.Run("exact", func(t *testing.T) {
		h.deferred(t, protocol.TypeLearnPattern, "audio", pcmAudio(1.5), "patternType", "exact", "name", "Opening")
		got := h.sink.next(t)
		if got.Type != protocol.TypePatternLearned {
			t.Fatalf("frame = %s %v", got.Type, got.Fields)
		}
		if got.String("pattern_id", "") == "" || got.String("name", "") != "Opening" || got.String("patternType", "") != "exact" {
			t.Errorf("reply = %v", got.Fields)
		}
		if d := got.Float("duration", 0); d != 1.5 {
			t.Errorf("duration = %v, want 1.5 from the audio length", d)
		}
		if fp, _ := got.Fields["fingerprint"].([]any); len(fp) != len(introFP) {
			t.Errorf("fingerprint = %v", got.Fields["fingerprint"])
		}
		if got.Has("embedding") {
			t.Error("exact pattern should not carry an embedding")
		}
	})

	t.Run("semantic", func(t *testing.T) {
		h.deferred(t, protocol.TypeLearnPattern, "audio", pcmAudio(1), "patternType", "semantic", "duration", 30.0)
		got := h.sink.next(t)
		if got.String("name", "") != "Unknown" || got.Float("duration", 0) != 30 || got.String("patternType", "") != "semantic" {
			t.Errorf("reply = %v", got.Fields)
		}
		emb, _ := got.Fields["embedding"].([]any)
		if len(emb) != 8 {
			t.Fatalf("embedding = %v", got.Fields["embedding"])
		}
		if emb[1] != json.Number("-127") {
			t.Errorf("largest component = %v, want -127", emb[1])
		}
	})

	t.Run("invalid type", func(t *testing.T) {
		h.deferred(t, protocol.TypeLearnPattern, "audio", pcmAudio(1), "patternType", "fuzzy")
		got := h.sink.next(t)
		if got.Type != protocol.TypeError || !strings.Contains(got.String("message", ""), "fuzzy") {
			t.Errorf("frame = %s %v", got.Type, got.Fields)
		}
	})

	t.Run("no audio", func(t *testing.T) {
		h.deferred(t, protocol.TypeLearnPattern, "patternType", "exact")
		if got := h.sink.next(t); got.Type != protocol.TypeError {
			t.Errorf("frame = %s %v", got.Type, got.Fields)
		}
	})
}

func TestLearnPattern_CapabilityMissing(t *testing.T) {
	h := newHarness(t, harnessOpts{engine: &patternmock.Engine{}})
	h.deferred(t, protocol.TypeLearnPattern, "audio", pcmAudio(1), "patternType", "exact")
	got := h.sink.next(t)
	if got.Type != protocol.TypeError || got.String("message", "") != "Fingerprinting not available" {
		t.Errorf("frame = %s %v", got.Type, got.Fields)
	}
}
