// Package recorder captures the trades a consumer receives so that a replay
// can itself be inspected or replayed.
package recorder

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/SmitUplenchwar2687/tickreplay/internal/clock"
	"github.com/SmitUplenchwar2687/tickreplay/internal/dataset"
)

// ReceivedAtField is added to every recorded trade.
const ReceivedAtField = "received_at"

// Recorder writes received trades to w as newline-delimited JSON.
// Thread-safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	w     io.Writer
	clock clock.Clock
	n     int
}

// New creates a Recorder writing to w. The clock stamps arrival times.
func New(w io.Writer, clk clock.Clock) *Recorder {
	return &Recorder{w: w, clock: clk}
}

// Record decodes one data frame and appends it, stamped with the time it
// was received.
func (r *Recorder) Record(frame []byte) error {
	var rec dataset.Record
	if err := rec.UnmarshalJSON(frame); err != nil {
		return fmt.Errorf("decoding trade: %w", err)
	}
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec.Fields[ReceivedAtField] = r.clock.Now().UTC().Format(time.RFC3339Nano)
	if err := dataset.WriteNDJSON(r.w, []dataset.Record{rec}); err != nil {
		return err
	}
	r.n++
	return nil
}

// Len returns the number of recorded trades.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}
