package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"

	"github.com/customcuts/whisperhost/internal/config"
	"github.com/customcuts/whisperhost/internal/lifecycle"
	"github.com/customcuts/whisperhost/internal/pattern"
	"github.com/customcuts/whisperhost/internal/protocol"
)

// Run reads and dispatches envelopes until the input closes, a frame cannot
// be read, or the browser sends shutdown. Workers are asked to stop on return
// but are not waited for.
func (s *Session) Run(ctx context.Context) error {
	defer s.stopWorkers()
	s.log.Info("session started")

	for {
		env, err := s.ch.ReadEnvelope()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.log.Info("input closed, ending session")
				return nil
			}
			return fmt.Errorf("host: read: %w", err)
		}
		if env.Type != protocol.TypePing {
			s.log.Debug("received message", "type", env.Type)
		}

		reply, shutdown := s.Handle(ctx, env)
		if reply != nil {
			s.ch.WriteEnvelope(*reply)
		}
		if shutdown {
			s.log.Info("shutdown requested")
			return nil
		}
	}
}

func (s *Session) stopWorkers() {
	s.transcriber.Stop()
	s.detector.Stop()
}

// Handle dispatches one envelope. It returns the inline reply, or nil when
// the answer is sent later by a worker, and whether the session should end.
// A panic in a handler becomes an error reply.
func (s *Session) Handle(ctx context.Context, env protocol.Envelope) (reply *protocol.Envelope, shutdown bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("handler panicked", "type", env.Type, "panic", r, "stack", string(debug.Stack()))
			e := protocol.Error(fmt.Sprintf("Unexpected error: %v", r))
			reply, shutdown = &e, false
		}
	}()

	if env.Type.Known() {
		s.metrics.RecordMessage(ctx, string(env.Type))
	} else {
		s.metrics.RecordMessage(ctx, "unknown")
	}

	var (
		out protocol.Envelope
		err error
	)
	switch env.Type {
	case protocol.TypeInit:
		out = s.handleInit(ctx, env)
	case protocol.TypeTranscribe:
		out, err = s.handleTranscribe(ctx, env)
	case protocol.TypeReset:
		out = s.handleReset()
	case protocol.TypePing:
		out = protocol.New(protocol.TypePong, "initialized", s.speech.Ready())
	case protocol.TypeShutdown:
		return nil, true
	case protocol.TypeInitPatterns:
		out, err = s.handleInitPatterns(ctx, env)
	case protocol.TypeLearnPattern, protocol.TypeDetect:
		if err = s.submitPatternTask(ctx, env); err == nil {
			return nil, false
		}
	case protocol.TypeResetPatterns:
		out = s.handleResetPatterns()
	default:
		s.log.Warn("unknown message type", "type", env.Type)
		e := protocol.Error("Unknown message type: " + string(env.Type))
		return &e, false
	}

	if err != nil {
		s.log.Error("handler failed", "type", env.Type, "err", err)
		out = protocol.Error("Unexpected error: " + err.Error())
	}
	return &out, false
}

// handleInit starts loading the requested speech engine and acknowledges
// immediately.
func (s *Session) handleInit(ctx context.Context, env protocol.Envelope) protocol.Envelope {
	kind := env.String("engine", config.DefaultEngine)
	entry := s.cfg.Engines[kind]

	model := env.String("model", entry.Model)
	if model == "" {
		model = config.DefaultModel
	}
	device := env.String("device", entry.Device)
	if device == "" {
		device = config.DefaultDevice
	}
	entry.Model, entry.Device = model, device

	s.log.Info("initializing speech engine", "engine", kind, "model", model, "device", device)
	s.speech.Begin(ctx, kind, s.buildSpeech(kind, entry))

	return protocol.New(protocol.TypeReady,
		"engine", kind,
		"model", model,
		"device", device,
		"status", "loading",
	)
}

// handleTranscribe queues a chunk for the transcription worker.
func (s *Session) handleTranscribe(ctx context.Context, env protocol.Envelope) (protocol.Envelope, error) {
	id, ok := env.Fields["chunkId"]
	if !ok || id == nil {
		id = ""
	}
	if err := s.transcriber.Submit(ctx, chunkTask{env: env, id: id}); err != nil {
		return protocol.Envelope{}, err
	}
	s.log.Debug("queued chunk", "chunk_id", env.ChunkID(), "pending", s.transcriber.Pending())
	return protocol.New(protocol.TypeTranscribeAck, "chunkId", id, "status", "queued"), nil
}

// handleReset clears stitching state, typically after a seek.
func (s *Session) handleReset() protocol.Envelope {
	if st, status, _ := s.speech.Peek(); status == lifecycle.StatusReady {
		st.Reset()
	}
	return protocol.New(protocol.TypeResetComplete)
}

// handleInitPatterns installs a pattern set. The first call loads the
// pattern engine in the background; later calls swap the set in place.
func (s *Session) handleInitPatterns(ctx context.Context, env protocol.Envelope) (protocol.Envelope, error) {
	patterns, err := envelopePatterns(env)
	if err != nil {
		return protocol.Envelope{}, err
	}
	if patterns == nil {
		patterns = []pattern.Pattern{}
	}
	if device := env.String("device", ""); device != "" {
		s.log.Debug("pattern device hint ignored", "device", device)
	}

	status := "loading"
	if det, st, _ := s.patterns.Peek(); st == lifecycle.StatusReady {
		det.SetPatterns(patterns)
		if r, ok := det.Engine().(interface{ ResetBreakers() }); ok {
			r.ResetBreakers()
		}
		status = "ready"
	} else {
		s.patterns.Begin(ctx, "patterns", s.buildDetector(patterns))
	}

	s.log.Info("patterns installed", "count", len(patterns), "status", status)
	return protocol.New(protocol.TypePatternsReady,
		"pattern_count", len(patterns),
		"status", status,
	), nil
}

// submitPatternTask queues detect and learn_pattern requests. A request that
// arrives before init_patterns starts the pattern engine with an empty set.
func (s *Session) submitPatternTask(ctx context.Context, env protocol.Envelope) error {
	if _, st, _ := s.patterns.Peek(); st == lifecycle.StatusIdle {
		s.patterns.Begin(ctx, "patterns", s.buildDetector([]pattern.Pattern{}))
	}
	return s.detector.Submit(ctx, env)
}

// handleResetPatterns forgets all tracking state. Calling it repeatedly has
// the same effect as calling it once.
func (s *Session) handleResetPatterns() protocol.Envelope {
	if det, st, _ := s.patterns.Peek(); st == lifecycle.StatusReady {
		det.Reset()
	}
	return protocol.New(protocol.TypePatternsReset)
}

// envelopePatterns decodes the optional patterns field. It returns nil when
// the field is absent.
func envelopePatterns(env protocol.Envelope) ([]pattern.Pattern, error) {
	raw, err := env.Raw("patterns")
	if err != nil || raw == nil {
		return nil, err
	}
	patterns, err := pattern.ParsePatterns(raw)
	if err != nil {
		return nil, fmt.Errorf("host: patterns: %w", err)
	}
	return patterns, nil
}
