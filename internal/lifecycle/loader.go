// Package lifecycle constructs engines in the background so the protocol
// reader never waits on a model load.
//
// A [Loader] moves through idle, loading, and then ready or failed. Build
// errors and panics are captured into the loader state; callers observe them
// through [Loader.Await] or [Loader.Peek].
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/customcuts/whisperhost/internal/observe"
)

// Status is the state of a [Loader].
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusReady
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrNotStarted is returned by [Loader.Await] when no load was ever begun.
var ErrNotStarted = errors.New("lifecycle: load not started")

// DefaultDelay is how long a load waits before calling its build function.
// It gives the acknowledgement for the triggering message time to be written
// before any engine library starts up.
const DefaultDelay = 500 * time.Millisecond

// BuildFunc constructs the value being loaded.
type BuildFunc[T any] func(ctx context.Context) (T, error)

// Config configures a [Loader].
type Config struct {
	// Delay before the build function runs. Zero means [DefaultDelay]; a
	// negative value disables the delay.
	Delay time.Duration

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Loader owns one background-constructed value. All methods are safe for
// concurrent use.
type Loader[T any] struct {
	delay   time.Duration
	log     *slog.Logger
	metrics *observe.Metrics

	mu     sync.RWMutex
	gen    uint64
	name   string
	status Status
	value  T
	err    error
	done   chan struct{}
}

// New creates an idle Loader.
func New[T any](cfg Config) *Loader[T] {
	switch {
	case cfg.Delay == 0:
		cfg.Delay = DefaultDelay
	case cfg.Delay < 0:
		cfg.Delay = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Loader[T]{
		delay:   cfg.Delay,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// Begin starts building a value named name on a new goroutine and returns
// immediately. A later Begin supersedes an earlier one: the earlier result is
// discarded when it arrives, and closed if it implements io.Closer.
func (l *Loader[T]) Begin(ctx context.Context, name string, build BuildFunc[T]) {
	l.mu.Lock()
	l.gen++
	gen := l.gen
	var zero T
	l.name, l.status, l.value, l.err = name, StatusLoading, zero, nil
	done := make(chan struct{})
	l.done = done
	l.mu.Unlock()

	go l.run(ctx, gen, name, build, done)
}

func (l *Loader[T]) run(ctx context.Context, gen uint64, name string, build BuildFunc[T], done chan struct{}) {
	defer close(done)
	log := l.log.With("engine", name)

	if l.delay > 0 {
		select {
		case <-time.After(l.delay):
		case <-ctx.Done():
			l.finish(gen, *new(T), fmt.Errorf("lifecycle: load %s: %w", name, ctx.Err()))
			return
		}
	}

	log.Info("loading engine")
	began := time.Now()
	v, err := safeBuild(ctx, build)
	elapsed := time.Since(began)
	l.metrics.RecordEngineLoad(ctx, name, elapsed.Seconds(), err)

	if err != nil {
		log.Error("engine load failed", "err", err, "elapsed", elapsed)
	} else {
		log.Info("engine ready", "elapsed", elapsed)
	}
	if !l.finish(gen, v, err) && err == nil {
		log.Info("discarding superseded engine")
		if c, ok := any(v).(io.Closer); ok {
			_ = c.Close()
		}
	}
}

// safeBuild runs build and turns a panic into an error.
func safeBuild[T any](ctx context.Context, build BuildFunc[T]) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return build(ctx)
}

// finish publishes the result if gen is still current.
func (l *Loader[T]) finish(gen uint64, v T, err error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen {
		return false
	}
	if err != nil {
		l.status, l.err = StatusFailed, err
		return true
	}
	l.status, l.value = StatusReady, v
	return true
}

// Peek returns the current state without waiting.
func (l *Loader[T]) Peek() (T, Status, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.value, l.status, l.err
}

// Name returns the name passed to the most recent [Loader.Begin].
func (l *Loader[T]) Name() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.name
}

// Ready reports whether a value is available.
func (l *Loader[T]) Ready() bool {
	_, st, _ := l.Peek()
	return st == StatusReady
}

// Await waits up to timeout for the current load to finish. It returns
// [StatusLoading] with a nil error when the timeout expires first,
// [StatusFailed] with the build error, or [StatusIdle] with [ErrNotStarted].
func (l *Loader[T]) Await(ctx context.Context, timeout time.Duration) (T, Status, error) {
	l.mu.RLock()
	done, status := l.done, l.status
	l.mu.RUnlock()

	if status == StatusIdle {
		var zero T
		return zero, StatusIdle, ErrNotStarted
	}
	if status == StatusLoading {
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case <-done:
		case <-t.C:
		case <-ctx.Done():
			var zero T
			return zero, StatusLoading, ctx.Err()
		}
	}
	return l.Peek()
}
