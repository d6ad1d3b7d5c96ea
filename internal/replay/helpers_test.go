package replay

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/SmitUplenchwar2687/tickreplay/internal/clock"
	"github.com/SmitUplenchwar2687/tickreplay/internal/dataset"
)

var epoch = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

// trades builds records with the given second offsets; ids are A, B, C...
func trades(offsets ...time.Duration) []dataset.Record {
	records := make([]dataset.Record, len(offsets))
	for i, off := range offsets {
		records[i] = dataset.Record{
			Timestamp: epoch.Add(off),
			Fields:    map[string]any{"id": string(rune('A' + i))},
		}
	}
	return records
}

type sent struct {
	at  time.Time
	msg string
}

// recordingSender captures every message with the clock time it was sent.
type recordingSender struct {
	mu     sync.Mutex
	clock  clock.Clock
	sent   []sent
	onSend func(n int, msg []byte) error
}

func (s *recordingSender) Send(_ context.Context, msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sent{at: s.clock.Now(), msg: string(msg)})
	if s.onSend != nil {
		return s.onSend(len(s.sent), msg)
	}
	return nil
}

func (s *recordingSender) messages() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sent, len(s.sent))
	copy(out, s.sent)
	return out
}

func observedLogger() (*zap.SugaredLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core).Sugar(), logs
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitPending(t *testing.T, vc *clock.VirtualClock, n int) {
	t.Helper()
	waitFor(t, fmt.Sprintf("%d pending sleeps", n), func() bool { return vc.Pending() == n })
}
