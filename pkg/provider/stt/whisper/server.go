// Package whisper provides whisper.cpp speech-to-text engines.
//
// [ServerEngine] talks to a running whisper-server (POST /inference) and
// needs no native code. [NativeEngine] links whisper.cpp through its CGO
// bindings and is only available in binaries built with the whispercpp tag.
//
//	e, err := whisper.NewServer("http://127.0.0.1:8080")
//	res, err := e.Transcribe(ctx, samples, "en")
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/customcuts/whisperhost/pkg/audio"
	"github.com/customcuts/whisperhost/pkg/provider/stt"
)

const (
	// DefaultServerURL is where whisper-server listens by default.
	DefaultServerURL = "http://127.0.0.1:8080"

	defaultTimeout = 60 * time.Second
)

var _ stt.Transcriber = (*ServerEngine)(nil)

// ServerEngine implements stt.Transcriber against a whisper-server
// instance.
type ServerEngine struct {
	serverURL  string
	model      string
	httpClient *http.Client
}

// ServerOption is a functional option for a [ServerEngine].
type ServerOption func(*ServerEngine)

// WithModel sets the model field forwarded to the server. When empty the
// server uses whichever model it was started with.
func WithModel(model string) ServerOption {
	return func(e *ServerEngine) { e.model = model }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) ServerOption {
	return func(e *ServerEngine) { e.httpClient = c }
}

// NewServer creates a [ServerEngine]. An empty serverURL selects
// [DefaultServerURL].
func NewServer(serverURL string, opts ...ServerOption) (*ServerEngine, error) {
	if serverURL == "" {
		serverURL = DefaultServerURL
	}
	if !strings.HasPrefix(serverURL, "http://") && !strings.HasPrefix(serverURL, "https://") {
		return nil, fmt.Errorf("whisper: server URL %q must be http or https", serverURL)
	}
	e := &ServerEngine{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Name implements stt.Transcriber.
func (e *ServerEngine) Name() string { return "whisper-server" }

// verboseResponse is the response_format=verbose_json body.
type verboseResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe implements stt.Transcriber. The samples are uploaded as a WAV
// file in a multipart form.
func (e *ServerEngine) Transcribe(ctx context.Context, samples []float32, language string) (stt.Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(audio.EncodeWAVSamples(samples)); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: write wav data: %w", err)
	}

	fields := map[string]string{
		"response_format": "verbose_json",
		"temperature":     "0.0",
		"language":        language,
		"model":           e.model,
	}
	if language == "" {
		fields["language"] = "auto"
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return stt.Result{}, fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.serverURL+"/inference", &body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return stt.Result{}, fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var vr verboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	res := stt.Result{Language: vr.Language}
	for _, s := range vr.Segments {
		res.Segments = append(res.Segments, stt.Segment{Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)})
	}
	// Servers without segment output still return text; treat it as one
	// segment spanning the buffer.
	if len(res.Segments) == 0 && strings.TrimSpace(vr.Text) != "" {
		res.Segments = []stt.Segment{{Start: 0, End: audio.Duration(len(samples)), Text: strings.TrimSpace(vr.Text)}}
	}
	res.Text = stt.JoinText(res.Segments)
	return res, nil
}

// ResolveModelPath maps a model name such as "large-v3" to a ggml model file
// in dir. Names that already point at a file are returned unchanged.
func ResolveModelPath(dir, model string) string {
	if model == "" {
		model = DefaultModel
	}
	if strings.HasSuffix(model, ".bin") || strings.ContainsRune(model, filepath.Separator) {
		return model
	}
	return filepath.Join(dir, "ggml-"+model+".bin")
}

// DefaultModel is the whisper model used when none is configured.
const DefaultModel = "large-v3"
