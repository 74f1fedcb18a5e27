// Package openai provides a speech-to-text engine for servers that speak the
// OpenAI /audio/transcriptions API. That covers the OpenAI service itself and
// local faster-whisper or parakeet servers exposing the same endpoint.
//
// Segment timestamps are requested with response_format=verbose_json.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/customcuts/whisperhost/pkg/audio"
	"github.com/customcuts/whisperhost/pkg/provider/stt"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "whisper-1"

var _ stt.Transcriber = (*Engine)(nil)

// Engine implements stt.Transcriber over the OpenAI transcription API.
type Engine struct {
	client oai.Client
	name   string
	model  string
}

type config struct {
	baseURL string
	name    string
	timeout time.Duration
}

// Option is a functional option for an [Engine].
type Option func(*config)

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithName sets the engine kind reported by Name, e.g. "faster-whisper".
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs an [Engine]. apiKey may only be empty when a base URL for
// a local server is given.
func New(apiKey, model string, opts ...Option) (*Engine, error) {
	cfg := &config{name: "openai", timeout: 60 * time.Second}
	for _, o := range opts {
		o(cfg)
	}
	if apiKey == "" && cfg.baseURL == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &Engine{client: oai.NewClient(reqOpts...), name: cfg.name, model: model}, nil
}

// Name implements stt.Transcriber.
func (e *Engine) Name() string { return e.name }

type verboseTranscription struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe implements stt.Transcriber.
func (e *Engine) Transcribe(ctx context.Context, samples []float32, language string) (stt.Result, error) {
	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(audio.EncodeWAVSamples(samples)), "audio.wav", "audio/wav"),
		Model:          oai.AudioModel(e.model),
		ResponseFormat: oai.AudioResponseFormatVerboseJSON,
		Temperature:    oai.Float(0),
	}
	if language != "" {
		params.Language = oai.String(language)
	}

	// The typed response only carries text, so the verbose body is decoded
	// into a local struct.
	var vt verboseTranscription
	if err := e.client.Post(ctx, "audio/transcriptions", params, &vt); err != nil {
		return stt.Result{}, fmt.Errorf("openai stt: transcribe: %w", err)
	}

	res := stt.Result{Language: vt.Language}
	for _, s := range vt.Segments {
		res.Segments = append(res.Segments, stt.Segment{Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)})
	}
	if len(res.Segments) == 0 && strings.TrimSpace(vt.Text) != "" {
		res.Segments = []stt.Segment{{Start: 0, End: audio.Duration(len(samples)), Text: strings.TrimSpace(vt.Text)}}
	}
	res.Text = stt.JoinText(res.Segments)
	return res, nil
}
