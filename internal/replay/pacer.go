package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/tickreplay/internal/clock"
	"github.com/SmitUplenchwar2687/tickreplay/internal/protocol"
)

// ErrDisconnected is returned by a Sender once the consumer connection is
// gone. The pacer treats it as a normal end of session.
var ErrDisconnected = errors.New("replay: consumer disconnected")

// Sender delivers one encoded message to the consumer. Implementations
// must wrap ErrDisconnected when the connection has closed.
type Sender interface {
	Send(ctx context.Context, msg []byte) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg []byte) error

func (f SenderFunc) Send(ctx context.Context, msg []byte) error {
	return f(ctx, msg)
}

// Observer is notified after each group is released.
type Observer interface {
	GroupSent(records int, latency time.Duration, lagging bool)
}

// Options tune a Pacer.
type Options struct {
	// Speed divides the original gaps between groups: 1 replays in real
	// time, 10 replays ten times faster. Non-positive means 1.
	Speed float64
	// Observer, if set, receives per-group pacing events.
	Observer Observer
}

// Pacer drains a Queue and releases each group at the wall-clock offset
// its timestamp had from the first group's timestamp.
type Pacer struct {
	clock    clock.Clock
	sender   Sender
	logger   *zap.SugaredLogger
	speed    float64
	observer Observer
}

// Summary describes a finished or interrupted replay.
type Summary struct {
	Groups    int             `json:"groups"`
	Records   int             `json:"records"`
	Lagged    int             `json:"lagged"`
	Latencies []time.Duration `json:"-"`
	Started   time.Time       `json:"started"`
	Finished  bool            `json:"finished"`
}

// MeanLatency is the arithmetic mean of the recorded latencies. The first
// group has no latency sample because it defines the pacing origin.
func (s *Summary) MeanLatency() (time.Duration, bool) {
	if len(s.Latencies) == 0 {
		return 0, false
	}
	var sum time.Duration
	for _, l := range s.Latencies {
		sum += l
	}
	return sum / time.Duration(len(s.Latencies)), true
}

// MaxLatency is the largest recorded latency.
func (s *Summary) MaxLatency() time.Duration {
	var longest time.Duration
	for _, l := range s.Latencies {
		if l > longest {
			longest = l
		}
	}
	return longest
}

// NewPacer creates a pacer sending through sender.
func NewPacer(clk clock.Clock, sender Sender, logger *zap.SugaredLogger, opts Options) *Pacer {
	speed := opts.Speed
	if speed <= 0 {
		speed = 1
	}
	return &Pacer{
		clock:    clk,
		sender:   sender,
		logger:   logger,
		speed:    speed,
		observer: opts.Observer,
	}
}

// Run replays q until the end-of-stream marker and then sends the
// "Replay finished." status. It returns ErrDisconnected (wrapped) if the
// consumer went away, ctx.Err() if ctx was cancelled, and any other error
// from the sender or the producer as is. The summary is valid in all cases.
func (p *Pacer) Run(ctx context.Context, q *Queue) (*Summary, error) {
	summary := &Summary{}

	item, err := q.Get(ctx)
	if err != nil {
		return summary, err
	}

	var first TickGroup
	switch it := item.(type) {
	case EndOfStream:
		if it.Err != nil {
			return summary, fmt.Errorf("producing groups: %w", it.Err)
		}
		p.logger.Info("No trades to replay.")
		return summary, p.finish(ctx, summary)
	case TickGroup:
		first = it
	}

	start := p.clock.Now()
	origin := first.Timestamp
	summary.Started = start

	if err := p.sendGroup(ctx, first); err != nil {
		return summary, err
	}
	p.count(summary, first)
	p.logger.Infof("Sent %4d trades for timestamp %s (initial)", first.Count, first.Timestamp)
	if p.observer != nil {
		p.observer.GroupSent(first.Count, 0, false)
	}

	for {
		item, err := q.Get(ctx)
		if err != nil {
			return summary, err
		}

		g, ok := item.(TickGroup)
		if !ok {
			if eos := item.(EndOfStream); eos.Err != nil {
				return summary, fmt.Errorf("producing groups: %w", eos.Err)
			}
			break
		}

		target := start.Add(p.offset(g.Timestamp.Sub(origin)))
		delay := p.clock.Until(target)
		if delay > 0 {
			select {
			case <-ctx.Done():
				return summary, ctx.Err()
			case <-p.clock.After(delay):
			}
		}

		latency := p.clock.Since(target)
		summary.Latencies = append(summary.Latencies, latency)

		if err := p.sendGroup(ctx, g); err != nil {
			return summary, err
		}
		p.count(summary, g)

		lagging := delay < 0
		if lagging {
			summary.Lagged++
			p.logger.Warnf("Sent %4d trades for timestamp %s (LAGGING by %.4f sec)", g.Count, g.Timestamp, -delay.Seconds())
		} else {
			p.logger.Infof("Sent %4d trades for timestamp %s (wait for %.4f sec)", g.Count, g.Timestamp, delay.Seconds())
		}
		if p.observer != nil {
			p.observer.GroupSent(g.Count, latency, lagging)
		}
	}

	if err := p.finish(ctx, summary); err != nil {
		return summary, err
	}
	if mean, ok := summary.MeanLatency(); ok {
		p.logger.Infof("Average latency: %.3f ms", float64(mean)/float64(time.Millisecond))
	} else {
		p.logger.Info("No latency measurements available.")
	}
	return summary, nil
}

func (p *Pacer) offset(elapsed time.Duration) time.Duration {
	if p.speed == 1 {
		return elapsed
	}
	return time.Duration(float64(elapsed) / p.speed)
}

func (p *Pacer) sendGroup(ctx context.Context, g TickGroup) error {
	for _, msg := range g.Messages {
		if err := p.sender.Send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pacer) count(s *Summary, g TickGroup) {
	s.Groups++
	s.Records += g.Count
}

func (p *Pacer) finish(ctx context.Context, s *Summary) error {
	p.logger.Info("Replay finished.")
	if err := p.sender.Send(ctx, protocol.StatusMessage(protocol.StatusReplayFinished)); err != nil {
		return err
	}
	s.Finished = true
	return nil
}
