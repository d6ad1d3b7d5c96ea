package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/tickreplay/internal/dataset"
)

// Producer serializes sorted records into tick groups and feeds them to a
// Queue.
type Producer struct {
	records  []dataset.Record
	logger   *zap.SugaredLogger
	produced atomic.Int64
	done     chan struct{}
}

// NewProducer creates a producer over records, which must be sorted by
// timestamp.
func NewProducer(records []dataset.Record, logger *zap.SugaredLogger) *Producer {
	return &Producer{
		records: records,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Run pushes every group onto q and then finishes q. Cancelling ctx stops
// the producer at its next blocking Put; the end-of-stream marker is still
// enqueued. Run returns nil on completion or cancellation and the cause if
// a record could not be serialized. A panic while producing is recovered
// and reported the same way.
func (p *Producer) Run(ctx context.Context, q *Queue) (err error) {
	p.logger.Debug("producer: starting")
	defer close(p.done)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("producer panic: %v", r)
		}
		q.Finish(err)
		p.logger.Debugw("producer: finished", "groups", p.produced.Load())
	}()

	err = dataset.EachGroup(p.records, func(g dataset.Group) error {
		tick := TickGroup{
			Timestamp: g.Timestamp,
			Messages:  make([][]byte, len(g.Records)),
			Count:     len(g.Records),
		}
		for i, rec := range g.Records {
			msg, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encoding record at %s: %w", g.Timestamp, err)
			}
			tick.Messages[i] = msg
		}
		if err := q.Put(ctx, tick); err != nil {
			return err
		}
		p.produced.Add(1)
		return nil
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		p.logger.Debug("producer: cancelled")
		return nil
	}
	return err
}

// Produced returns the number of groups enqueued so far.
func (p *Producer) Produced() int {
	return int(p.produced.Load())
}

// Done is closed when Run returns.
func (p *Producer) Done() <-chan struct{} {
	return p.done
}
