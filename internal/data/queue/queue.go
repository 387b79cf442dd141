package queue

import (
	"context"
	"io"
	"sync"
	"time"

	"relay/internal/core/ports"
	"relay/internal/shared/observability"
)

type Kind int

const (
	// KindDirectory is a change under a ref-counted failed-lookup
	// directory watch.
	KindDirectory Kind = iota
	// KindFile is a change to an individually watched path (missing file
	// or pending root).
	KindFile
	// KindTypeRoots signals a change under a type-roots directory.
	KindTypeRoots
)

// Notification is one filesystem event carried from a watch callback to the
// service loop. Callbacks only enqueue; all cache and graph mutation happens
// on the consumer side.
type Notification struct {
	Kind       Kind
	WatchedDir string
	Path       string
	FileKind   ports.FileWatchKind
}

type Queue struct {
	ch         chan Notification
	mu         sync.Mutex
	closed     bool
	overflowed bool
}

func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan Notification, capacity)}
}

// Enqueue never blocks. On overflow the notification is dropped and the
// overflow flag is set; the consumer must treat that as "everything may
// have changed" (over-invalidating is safe, under-invalidating is not).
func (q *Queue) Enqueue(n Notification) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- n:
		observability.NotificationQueueDepth.Set(float64(len(q.ch)))
		return true
	default:
		q.overflowed = true
		observability.NotificationsDroppedTotal.Inc()
		return false
	}
}

// DequeueBatch collects up to maxItems notifications, waiting at most wait
// for the first one. A nil batch with a nil error means the wait elapsed.
func (q *Queue) DequeueBatch(ctx context.Context, maxItems int, wait time.Duration) ([]Notification, error) {
	if maxItems <= 0 {
		maxItems = 1
	}
	batch := make([]Notification, 0, maxItems)

	var timer <-chan time.Time
	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		timer = t.C
	}

	select {
	case n, ok := <-q.ch:
		if !ok {
			return nil, io.EOF
		}
		batch = append(batch, n)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer:
		return nil, nil
	default:
		if wait <= 0 {
			return nil, nil
		}
		select {
		case n, ok := <-q.ch:
			if !ok {
				return nil, io.EOF
			}
			batch = append(batch, n)
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer:
			return nil, nil
		}
	}

	for len(batch) < maxItems {
		select {
		case n, ok := <-q.ch:
			if !ok {
				observability.NotificationQueueDepth.Set(float64(len(q.ch)))
				return batch, io.EOF
			}
			batch = append(batch, n)
		default:
			observability.NotificationQueueDepth.Set(float64(len(q.ch)))
			return batch, nil
		}
	}

	observability.NotificationQueueDepth.Set(float64(len(q.ch)))
	return batch, nil
}

// Overflowed reports and clears the overflow flag.
func (q *Queue) Overflowed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	v := q.overflowed
	q.overflowed = false
	return v
}

func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	return len(q.ch)
}

func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.ch)
	return nil
}
