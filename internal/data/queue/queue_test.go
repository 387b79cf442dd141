package queue

import (
	"context"
	"io"
	"testing"
	"time"

	"relay/internal/core/ports"
)

func TestEnqueueDequeueBatch(t *testing.T) {
	q := New(8)
	defer q.Close()

	for i := 0; i < 3; i++ {
		if !q.Enqueue(Notification{Kind: KindFile, Path: "/proj/a.ts", FileKind: ports.FileChanged}) {
			t.Fatalf("enqueue %d failed", i)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("expected depth 3, got %d", q.Len())
	}

	batch, err := q.DequeueBatch(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("expected batch of 3, got %d", len(batch))
	}
	if batch[0].Path != "/proj/a.ts" || batch[0].Kind != KindFile {
		t.Fatalf("unexpected notification: %+v", batch[0])
	}
}

func TestDequeueBatch_RespectsMaxItems(t *testing.T) {
	q := New(8)
	defer q.Close()

	for i := 0; i < 5; i++ {
		q.Enqueue(Notification{Kind: KindDirectory, WatchedDir: "/proj"})
	}
	batch, err := q.DequeueBatch(context.Background(), 2, 0)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("expected 2 items, got %d", len(batch))
	}
	if q.Len() != 3 {
		t.Fatalf("expected 3 remaining, got %d", q.Len())
	}
}

func TestDequeueBatch_WaitElapsesEmpty(t *testing.T) {
	q := New(1)
	defer q.Close()

	start := time.Now()
	batch, err := q.DequeueBatch(context.Background(), 4, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if batch != nil {
		t.Fatalf("expected nil batch on elapsed wait, got %v", batch)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected dequeue to wait for the timeout")
	}
}

func TestOverflow_SetsAndClearsFlag(t *testing.T) {
	q := New(1)
	defer q.Close()

	if !q.Enqueue(Notification{Kind: KindFile}) {
		t.Fatalf("first enqueue should fit")
	}
	if q.Enqueue(Notification{Kind: KindFile}) {
		t.Fatalf("second enqueue should overflow")
	}
	if !q.Overflowed() {
		t.Fatalf("expected overflow flag set")
	}
	if q.Overflowed() {
		t.Fatalf("expected overflow flag cleared after read")
	}
}

func TestClose_DrainsThenEOF(t *testing.T) {
	q := New(4)
	q.Enqueue(Notification{Kind: KindTypeRoots, Path: "/proj/node_modules/@types"})
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("double close: %v", err)
	}
	if q.Enqueue(Notification{Kind: KindFile}) {
		t.Fatalf("enqueue after close should be rejected")
	}

	batch, err := q.DequeueBatch(context.Background(), 4, 0)
	if err != io.EOF {
		t.Fatalf("expected EOF after drain, got batch=%v err=%v", batch, err)
	}
	if len(batch) != 1 {
		t.Fatalf("expected the buffered notification before EOF, got %d", len(batch))
	}
}

func TestDequeueBatch_ContextCancelled(t *testing.T) {
	q := New(1)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.DequeueBatch(ctx, 1, time.Second)
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
