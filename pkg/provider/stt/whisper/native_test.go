//go:build whispercpp

package whisper_test

import (
	"context"
	"os"
	"testing"

	"github.com/customcuts/whisperhost/pkg/provider/stt/whisper"
)

// testModelPath reads WHISPER_MODEL_PATH; the test is skipped when unset.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	return p
}

func TestNewNative_EmptyPath_ReturnsError(t *testing.T) {
	if _, err := whisper.NewNative("", 0); err == nil {
		t.Fatal("expected error for empty model path, got nil")
	}
}

func TestNative_TranscribeSilence(t *testing.T) {
	e, err := whisper.NewNative(testModelPath(t), 2)
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer e.Close()

	res, err := e.Transcribe(context.Background(), make([]float32, 16000), "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	for i := 1; i < len(res.Segments); i++ {
		if res.Segments[i].Start < res.Segments[i-1].Start {
			t.Errorf("segments out of order: %+v", res.Segments)
		}
	}
}
