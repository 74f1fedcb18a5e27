package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/customcuts/whisperhost/internal/observe"
)

// DefaultPollInterval bounds how long the worker blocks on an empty queue
// before checking whether it should stop.
const DefaultPollInterval = time.Second

// Handler processes one task. A panic in the handler is recovered and logged
// and the worker moves on to the next task.
type Handler[T any] func(ctx context.Context, task T)

// Config configures a [Worker].
type Config struct {
	// Name labels logs and the queue depth metric.
	Name string

	// PollInterval defaults to [DefaultPollInterval].
	PollInterval time.Duration

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Worker drains a [Queue] on one goroutine. It is started lazily by the
// first [Worker.Submit] and never retries a task.
type Worker[T any] struct {
	queue   *Queue[T]
	handle  Handler[T]
	poll    time.Duration
	name    string
	log     *slog.Logger
	metrics *observe.Metrics

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// New creates a Worker that runs handle for each submitted task.
func New[T any](handle Handler[T], cfg Config) *Worker[T] {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Worker[T]{
		queue:   NewQueue[T](),
		handle:  handle,
		poll:    cfg.PollInterval,
		name:    cfg.Name,
		log:     cfg.Logger.With("worker", cfg.Name),
		metrics: cfg.Metrics,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Submit queues task, starting the worker goroutine on first use. ctx is the
// lifetime of that goroutine, not of the task.
func (w *Worker[T]) Submit(ctx context.Context, task T) error {
	w.startOnce.Do(func() { go w.run(ctx) })
	if err := w.queue.Push(task); err != nil {
		return fmt.Errorf("worker %s: %w", w.name, err)
	}
	w.metrics.QueueDepth.Add(ctx, 1, w.depthAttr())
	return nil
}

// Pending returns the number of queued tasks not yet started.
func (w *Worker[T]) Pending() int { return w.queue.Len() }

// Stop asks the worker to exit after its current task. It does not wait.
func (w *Worker[T]) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		w.queue.Close()
	})
}

// Done is closed when the worker goroutine has exited.
func (w *Worker[T]) Done() <-chan struct{} { return w.done }

func (w *Worker[T]) depthAttr() metric.AddOption {
	return metric.WithAttributes(observe.Attr("queue", w.name))
}

func (w *Worker[T]) run(ctx context.Context) {
	defer close(w.done)
	w.log.Debug("worker started")
	for {
		select {
		case <-w.stop:
			w.log.Debug("worker stopped")
			return
		case <-ctx.Done():
			return
		default:
		}

		task, err := w.queue.Pop(ctx, w.poll)
		switch {
		case errors.Is(err, ErrEmpty):
			continue
		case err != nil:
			return
		}
		w.metrics.QueueDepth.Add(ctx, -1, w.depthAttr())
		w.safeHandle(ctx, task)
	}
}

func (w *Worker[T]) safeHandle(ctx context.Context, task T) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	w.handle(ctx, task)
}
