// Package mock provides a test double for fingerprint.Fingerprinter.
package mock

import (
	"context"
	"sync"

	"github.com/customcuts/whisperhost/pkg/provider/fingerprint"
)

var _ fingerprint.Fingerprinter = (*Fingerprinter)(nil)

// Fingerprinter returns Result or Err and counts calls.
type Fingerprinter struct {
	mu sync.Mutex

	Result []int32
	Err    error
	calls  int
}

// Fingerprint implements fingerprint.Fingerprinter.
func (m *Fingerprinter) Fingerprint(context.Context, []float32) ([]int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.Result, m.Err
}

// Calls returns the number of Fingerprint calls so far.
func (m *Fingerprinter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
