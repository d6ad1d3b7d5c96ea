package replay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultQueueCapacity bounds how many tick groups a producer may buffer
// ahead of the pacer.
const DefaultQueueCapacity = 100

// ErrQueueFinished is returned by Put after Finish.
var ErrQueueFinished = errors.New("replay: queue finished")

// Item is a value taken from a Queue: either a TickGroup or EndOfStream.
type Item interface {
	isItem()
}

// TickGroup holds every serialized record sharing one timestamp.
type TickGroup struct {
	Timestamp time.Time
	Messages  [][]byte
	Count     int
}

// EndOfStream marks the end of a replay. Err is set when the producer
// stopped because of a failure rather than exhaustion or cancellation.
type EndOfStream struct {
	Err error
}

func (TickGroup) isItem()   {}
func (EndOfStream) isItem() {}

// Queue is a bounded FIFO of tick groups between one producer and one pacer.
// Put blocks while the queue is full, Get blocks while it is empty.
//
// Only the producing goroutine may call Put and Finish.
type Queue struct {
	items    chan TickGroup
	once     sync.Once
	finished atomic.Bool
	err      error // written before items is closed
}

// NewQueue creates a queue holding at most capacity groups. A non-positive
// capacity selects DefaultQueueCapacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{items: make(chan TickGroup, capacity)}
}

// Put enqueues g, blocking while the queue is full. It returns ctx.Err()
// if ctx is cancelled first.
func (q *Queue) Put(ctx context.Context, g TickGroup) error {
	if q.finished.Load() {
		return ErrQueueFinished
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.items <- g:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finish appends the end-of-stream marker. It never blocks, and only the
// first call has any effect, so a replay sees exactly one marker. err is
// reported to the consumer through EndOfStream.Err.
func (q *Queue) Finish(err error) {
	q.once.Do(func() {
		q.err = err
		q.finished.Store(true)
		close(q.items)
	})
}

// Get dequeues the next item, blocking while the queue is empty. Once every
// group has been taken after Finish, Get returns EndOfStream on each call.
func (q *Queue) Get(ctx context.Context) (Item, error) {
	select {
	case g, ok := <-q.items:
		if !ok {
			return EndOfStream{Err: q.err}, nil
		}
		return g, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of buffered groups.
func (q *Queue) Len() int {
	return len(q.items)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.items)
}
