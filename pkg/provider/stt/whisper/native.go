//go:build whispercpp

// The whisper.cpp static library (libwhisper.a) and headers (whisper.h) must
// be available at link time via LIBRARY_PATH and C_INCLUDE_PATH.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/customcuts/whisperhost/pkg/provider/stt"
)

var _ stt.Transcriber = (*NativeEngine)(nil)

// NativeEngine implements stt.Transcriber with whisper.cpp linked in through
// CGO. The model is loaded once; each call gets a fresh context because
// whisper contexts are not safe for concurrent use.
type NativeEngine struct {
	model   whisperlib.Model
	threads uint

	mu sync.Mutex
}

// NewNative loads the ggml model at modelPath. threads <= 0 keeps the
// library default.
func NewNative(modelPath string, threads int) (*NativeEngine, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	e := &NativeEngine{model: model}
	if threads > 0 {
		e.threads = uint(threads)
	}
	return e, nil
}

// Name implements stt.Transcriber.
func (e *NativeEngine) Name() string { return "whisper" }

// Close releases the model.
func (e *NativeEngine) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}

// Transcribe implements stt.Transcriber. whisper.cpp cannot be interrupted
// mid-inference; ctx is only checked before the call starts.
func (e *NativeEngine) Transcribe(ctx context.Context, samples []float32, language string) (stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return stt.Result{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	wctx, err := e.model.NewContext()
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if e.threads > 0 {
		wctx.SetThreads(e.threads)
	}

	lang := language
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: set language %q: %w", lang, err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	res := stt.Result{Language: language}
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		res.Segments = append(res.Segments, stt.Segment{
			Start: seg.Start.Seconds(),
			End:   seg.End.Seconds(),
			Text:  text,
		})
	}
	res.Text = stt.JoinText(res.Segments)
	return res, nil
}
