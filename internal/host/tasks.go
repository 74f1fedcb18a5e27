package host

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/customcuts/whisperhost/internal/config"
	"github.com/customcuts/whisperhost/internal/lifecycle"
	"github.com/customcuts/whisperhost/internal/observe"
	"github.com/customcuts/whisperhost/internal/pattern"
	"github.com/customcuts/whisperhost/internal/protocol"
	"github.com/customcuts/whisperhost/pkg/audio"
	"github.com/customcuts/whisperhost/pkg/provider/stt"
)

// ─── Transcription worker ────────────────────────────────────────────────────

// processTranscription runs on the transcription worker, one chunk at a time
// in arrival order.
func (s *Session) processTranscription(ctx context.Context, task chunkTask) {
	ts := task.env.Float("timestamp", 0)
	ctx, span := observe.StartChunkSpan(ctx, "transcribe", task.env.ChunkID(), ts)
	defer span.End()
	log := observe.Logger(ctx).With("chunk_id", task.env.ChunkID())

	st, status, err := s.speech.Await(ctx, s.cfg.Host.ReadyTimeout)
	switch {
	case status == lifecycle.StatusFailed:
		s.ch.WriteEnvelope(protocol.Error("Engine initialization failed: "+err.Error(), "chunkId", task.id))
		return
	case status != lifecycle.StatusReady:
		log.Warn("chunk arrived without a ready engine", "status", status)
		s.ch.WriteEnvelope(protocol.Error("Engine not initialized", "chunkId", task.id))
		return
	}

	samples, err := audio.DecodeBase64PCM16(task.env.String("audio", ""))
	if err != nil {
		log.Error("bad chunk audio", "err", err)
		s.ch.WriteEnvelope(protocol.Error("Unexpected error: "+err.Error(), "chunkId", task.id))
		return
	}
	language := stt.NormalizeLanguage(task.env.String("language", config.DefaultLanguage))

	segments, err := st.ProcessChunk(ctx, samples, ts, language)
	if err != nil {
		log.Error("transcription failed", "err", err)
		s.metrics.RecordProviderError(ctx, s.speech.Name(), "stt")
		s.ch.WriteEnvelope(protocol.Error("Transcription failed: "+err.Error(), "chunkId", task.id))
		return
	}
	if segments == nil {
		segments = []stt.Segment{}
	}

	text := stt.JoinText(segments)
	if text != "" {
		log.Info("transcription", "text", truncate(text, 80))
	}
	s.ch.WriteEnvelope(protocol.New(protocol.TypeTranscription,
		"chunkId", task.id,
		"text", text,
		"segments", segments,
		"timestamp", ts,
	))
}

// ─── Pattern worker ──────────────────────────────────────────────────────────

// processPatternTask runs detect and learn_pattern requests on the pattern
// worker, so detections leave in chunk order.
func (s *Session) processPatternTask(ctx context.Context, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeDetect:
		s.ch.WriteEnvelope(s.detect(ctx, env))
	case protocol.TypeLearnPattern:
		s.ch.WriteEnvelope(s.learn(ctx, env))
	}
}

// awaitDetector waits for the pattern engine. On failure it returns the
// message to report to the browser.
func (s *Session) awaitDetector(ctx context.Context) (*pattern.Detector, string) {
	det, status, err := s.patterns.Await(ctx, s.cfg.Host.ReadyTimeout)
	switch status {
	case lifecycle.StatusReady:
		return det, ""
	case lifecycle.StatusFailed:
		return nil, "Pattern engine initialization failed: " + err.Error()
	}
	return nil, "Pattern engine not initialized"
}

// detect matches one chunk. Failures never drop the reply: the browser
// always gets a detections message, with an error field when something went
// wrong.
func (s *Session) detect(ctx context.Context, env protocol.Envelope) protocol.Envelope {
	ts := env.Float("timestamp", 0)
	ctx, span := observe.StartChunkSpan(ctx, "detect", "", ts)
	defer span.End()
	log := observe.Logger(ctx)

	reply := protocol.New(protocol.TypeDetections,
		"timestamp", ts,
		"detections", []pattern.Detection{},
		"confirmed", []pattern.Confirmed{},
	)

	det, msg := s.awaitDetector(ctx)
	if det == nil {
		return reply.With("error", msg)
	}
	samples, err := audio.DecodeBase64PCM16(env.String("audio", ""))
	if err != nil {
		return reply.With("error", err.Error())
	}
	patterns, err := envelopePatterns(env)
	if err != nil {
		return reply.With("error", err.Error())
	}

	began := time.Now()
	detections, err := det.ProcessChunk(ctx, samples, ts, patterns)
	s.metrics.DetectionDuration.Record(ctx, time.Since(began).Seconds())

	confirmed := det.ConfirmedDetections()
	confirmedIDs := make(map[string]bool, len(confirmed))
	for _, c := range confirmed {
		confirmedIDs[c.PatternID] = true
	}
	for _, d := range detections {
		s.metrics.RecordDetection(ctx, string(d.Method), confirmedIDs[d.PatternID])
	}

	if len(detections) > 0 {
		reply = reply.With("detections", detections)
	}
	if len(confirmed) > 0 {
		reply = reply.With("confirmed", confirmed)
	}
	if err != nil {
		log.Warn("pattern detection degraded", "err", err)
		s.metrics.RecordProviderError(ctx, "patterns", "detect")
		reply = reply.With("error", err.Error())
	}
	return reply
}

// learn extracts the feature a new pattern of the requested type needs.
func (s *Session) learn(ctx context.Context, env protocol.Envelope) protocol.Envelope {
	typ := pattern.Type(env.String("patternType", string(pattern.TypeExact)))
	if !typ.Valid() {
		return protocol.Error(fmt.Sprintf("Invalid pattern type: %s", typ))
	}
	name := env.String("name", "")
	if name == "" {
		name = "Unknown"
	}

	samples, err := audio.DecodeBase64PCM16(env.String("audio", ""))
	if err != nil {
		return protocol.Error("Unexpected error: " + err.Error())
	}
	if len(samples) == 0 {
		return protocol.Error("No audio provided")
	}
	duration := env.Float("duration", audio.Duration(len(samples)))

	det, msg := s.awaitDetector(ctx)
	if det == nil {
		return protocol.Error(msg)
	}
	eng := det.Engine()

	reply := protocol.New(protocol.TypePatternLearned,
		"pattern_id", uuid.NewString(),
		"name", name,
		"patternType", typ,
		"duration", duration,
	)
	switch typ {
	case pattern.TypeExact:
		if !eng.SupportsFingerprint() {
			return protocol.Error("Fingerprinting not available")
		}
		fp, err := eng.Fingerprint(ctx, samples)
		if err != nil {
			return protocol.Error("Fingerprint failed: " + err.Error())
		}
		if len(fp) == 0 {
			return protocol.Error("Could not fingerprint audio")
		}
		reply = reply.With("fingerprint", fp)
	case pattern.TypeSemantic:
		if !eng.SupportsEmbedding() {
			return protocol.Error("Embedding not available")
		}
		emb, err := eng.Embed(ctx, samples)
		if err != nil {
			return protocol.Error("Embedding failed: " + err.Error())
		}
		if len(emb) == 0 {
			return protocol.Error("Could not embed audio")
		}
		reply = reply.With("embedding", pattern.Quantize(emb))
	}

	s.log.Info("pattern learned", "name", name, "type", typ, "duration", duration)
	return reply
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
