// Package mock provides a test double for the stt.Transcriber interface.
package mock

import (
	"context"
	"sync"

	"github.com/customcuts/whisperhost/pkg/provider/stt"
)

var _ stt.Transcriber = (*Transcriber)(nil)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	Samples  []float32
	Language string
}

// Transcriber is a mock implementation of stt.Transcriber.
//
// Results are returned in order, one per call; once exhausted the last one
// repeats. When Func is set it is used instead.
type Transcriber struct {
	mu sync.Mutex

	NameValue string
	Results   []stt.Result
	Err       error
	Func      func(ctx context.Context, samples []float32, language string) (stt.Result, error)

	Calls []TranscribeCall
}

// Transcribe records the call and returns the next configured result.
func (m *Transcriber) Transcribe(ctx context.Context, samples []float32, language string) (stt.Result, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, TranscribeCall{Samples: append([]float32(nil), samples...), Language: language})
	n := len(m.Calls)
	fn := m.Func
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, samples, language)
	}
	if m.Err != nil {
		return stt.Result{}, m.Err
	}
	if len(m.Results) == 0 {
		return stt.Result{}, nil
	}
	return m.Results[min(n, len(m.Results))-1], nil
}

// Name returns NameValue, or "mock".
func (m *Transcriber) Name() string {
	if m.NameValue == "" {
		return "mock"
	}
	return m.NameValue
}

// CallCount returns the number of Transcribe calls so far.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Call returns a copy of the i-th recorded call.
func (m *Transcriber) Call(i int) TranscribeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[i]
}
