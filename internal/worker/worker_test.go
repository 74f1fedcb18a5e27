package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/customcuts/whisperhost/internal/observe"
)

func testConfig(t *testing.T, name string) Config {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return Config{Name: name, PollInterval: 10 * time.Millisecond, Metrics: m}
}

type recorder struct {
	mu   sync.Mutex
	seen []int
	all  chan struct{}
	want int
}

func (r *recorder) handle(_ context.Context, task int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, task)
	if len(r.seen) == r.want {
		close(r.all)
	}
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
}

func TestWorker_ProcessesInOrder(t *testing.T) {
	t.Parallel()
	rec := &recorder{all: make(chan struct{}), want: 50}
	w := New(rec.handle, testConfig(t, "transcribe"))
	t.Cleanup(w.Stop)

	for i := range 50 {
		if err := w.Submit(context.Background(), i); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	waitFor(t, rec.all)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for i, v := range rec.seen {
		if v != i {
			t.Fatalf("seen[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestWorker_SingleConsumer(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	active, maxActive := 0, 0
	done := make(chan struct{})
	count := 0
	w := New(func(context.Context, int) {
		mu.Lock()
		active++
		maxActive = max(maxActive, active)
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		active--
		count++
		if count == 10 {
			close(done)
		}
		mu.Unlock()
	}, testConfig(t, "detect"))
	t.Cleanup(w.Stop)

	for i := range 10 {
		_ = w.Submit(context.Background(), i)
	}
	waitFor(t, done)
	if maxActive != 1 {
		t.Errorf("max concurrent handlers = %d, want 1", maxActive)
	}
}

func TestWorker_PanicDoesNotStopWorker(t *testing.T) {
	t.Parallel()
	rec := &recorder{all: make(chan struct{}), want: 1}
	w := New(func(ctx context.Context, task int) {
		if task == 0 {
			panic("bad chunk")
		}
		rec.handle(ctx, task)
	}, testConfig(t, "transcribe"))
	t.Cleanup(w.Stop)

	_ = w.Submit(context.Background(), 0)
	_ = w.Submit(context.Background(), 1)
	waitFor(t, rec.all)
}

func TestWorker_Stop(t *testing.T) {
	t.Parallel()
	rec := &recorder{all: make(chan struct{}), want: 1}
	w := New(rec.handle, testConfig(t, "transcribe"))
	_ = w.Submit(context.Background(), 7)
	waitFor(t, rec.all)

	w.Stop()
	w.Stop()
	waitFor(t, w.Done())
	if err := w.Submit(context.Background(), 8); err == nil {
		t.Error("Submit after Stop should fail")
	}
}

func TestWorker_ContextEndsWorker(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	w := New(func(context.Context, int) {}, testConfig(t, "transcribe"))
	_ = w.Submit(ctx, 1)
	cancel()
	waitFor(t, w.Done())
}
