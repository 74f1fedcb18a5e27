package worker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueue_FIFO(t *testing.T) {
	t.Parallel()
	q := NewQueue[int]()
	for i := range 5 {
		if err := q.Push(i); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	if q.Len() != 5 {
		t.Errorf("Len = %d, want 5", q.Len())
	}
	for want := range 5 {
		got, err := q.Pop(context.Background(), time.Second)
		if err != nil || got != want {
			t.Fatalf("Pop = (%d, %v), want (%d, nil)", got, err, want)
		}
	}
}

func TestQueue_PopTimeout(t *testing.T) {
	t.Parallel()
	q := NewQueue[string]()
	start := time.Now()
	_, err := q.Pop(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("err = %v, want ErrEmpty", err)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Error("Pop returned before the timeout")
	}
}

func TestQueue_PopWakesOnPush(t *testing.T) {
	t.Parallel()
	q := NewQueue[string]()
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = q.Push("chunk-1")
	}()
	got, err := q.Pop(context.Background(), 5*time.Second)
	if err != nil || got != "chunk-1" {
		t.Errorf("Pop = (%q, %v), want chunk-1", got, err)
	}
}

func TestQueue_PopContextCancelled(t *testing.T) {
	t.Parallel()
	q := NewQueue[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Pop(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestQueue_Close(t *testing.T) {
	t.Parallel()
	q := NewQueue[int]()
	_ = q.Push(1)
	q.Close()

	if err := q.Push(2); !errors.Is(err, ErrClosed) {
		t.Errorf("Push after Close = %v, want ErrClosed", err)
	}
	if v, err := q.Pop(context.Background(), time.Second); err != nil || v != 1 {
		t.Errorf("Pop = (%d, %v), want queued item", v, err)
	}
	if _, err := q.Pop(context.Background(), time.Second); !errors.Is(err, ErrClosed) {
		t.Errorf("Pop on drained closed queue = %v, want ErrClosed", err)
	}
}
