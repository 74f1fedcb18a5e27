//go:build !whispercpp

package whisper

import (
	"context"
	"fmt"

	"github.com/customcuts/whisperhost/pkg/provider/stt"
)

// NativeEngine is unavailable in builds without the whispercpp tag.
type NativeEngine struct{}

var _ stt.Transcriber = (*NativeEngine)(nil)

// NewNative always fails with [stt.ErrNativeUnavailable] in this build.
func NewNative(modelPath string, threads int) (*NativeEngine, error) {
	return nil, fmt.Errorf("whisper: load %q: %w", modelPath, stt.ErrNativeUnavailable)
}

// Name implements stt.Transcriber.
func (*NativeEngine) Name() string { return "whisper" }

// Transcribe implements stt.Transcriber.
func (*NativeEngine) Transcribe(context.Context, []float32, string) (stt.Result, error) {
	return stt.Result{}, stt.ErrNativeUnavailable
}

// Close is a no-op.
func (*NativeEngine) Close() error { return nil }
