package client

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var upgrader = websocket.Upgrader{}

// scriptedServer sends frames to each connection, then optionally holds the
// connection open until the client goes away.
func scriptedServer(t *testing.T, frames []string, hold bool) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		if hold {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func observedLogger() (*zap.SugaredLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core).Sugar(), logs
}

func countMessages(logs *observer.ObservedLogs, prefix string) int {
	n := 0
	for _, e := range logs.All() {
		if strings.HasPrefix(e.Message, prefix) {
			n++
		}
	}
	return n
}

func dataFrames(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = `{"timestamp":"2024-01-01T09:30:00Z","trade_id":"t"}`
	}
	return out
}

func TestClient_StopsOnReplayFinished(t *testing.T) {
	frames := []string{`{"status":"Data loaded. Starting replay."}`}
	frames = append(frames, dataFrames(3)...)
	frames = append(frames, `{"status":"Replay finished."}`, `{"trade_id":"late"}`)
	url := scriptedServer(t, frames, true)

	logger, logs := observedLogger()
	stats, err := New(Config{URL: url, ShowFirstN: 10, SummaryInterval: 100}, logger).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.Records != 3 {
		t.Errorf("Records = %d, want 3", stats.Records)
	}
	if stats.Statuses != 2 {
		t.Errorf("Statuses = %d, want 2", stats.Statuses)
	}
	if !stats.Finished {
		t.Error("Finished = false, want true")
	}
	if n := logs.FilterMessage("Total trades received: 3").Len(); n != 1 {
		t.Errorf("total log lines = %d, want 1", n)
	}
	if n := logs.FilterMessage("Server status: Replay finished.").Len(); n != 1 {
		t.Errorf("finished status logged %d times, want 1", n)
	}
}

func TestClient_FirstNAndSummaries(t *testing.T) {
	url := scriptedServer(t, dataFrames(7), false)

	logger, logs := observedLogger()
	stats, err := New(Config{URL: url, ShowFirstN: 2, SummaryInterval: 3}, logger).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Records != 7 {
		t.Errorf("Records = %d, want 7", stats.Records)
	}
	if stats.Finished {
		t.Error("Finished = true without the finished status")
	}
	if n := countMessages(logs, "Received trade: "); n != 2 {
		t.Errorf("verbatim records logged = %d, want 2", n)
	}
	for _, want := range []string{"Received 3 trades so far.", "Received 6 trades so far."} {
		if logs.FilterMessage(want).Len() != 1 {
			t.Errorf("missing log %q", want)
		}
	}
	if n := countMessages(logs, "Received 7 trades"); n != 0 {
		t.Errorf("unexpected summary for 7")
	}
	if logs.FilterMessage("Total trades received: 7").Len() != 1 {
		t.Error("missing total log")
	}
}

func TestClient_ErrorDoesNotStop(t *testing.T) {
	frames := []string{
		`{"error":"An unexpected error occurred: boom"}`,
		`{"trade_id":"A"}`,
		`{"status":"Replay finished."}`,
	}
	url := scriptedServer(t, frames, true)

	logger, logs := observedLogger()
	stats, err := New(Config{URL: url, ShowFirstN: 10, SummaryInterval: 100}, logger).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Errors != 1 || stats.Records != 1 || !stats.Finished {
		t.Errorf("stats = %+v, want 1 error, 1 record, finished", stats)
	}
	if logs.FilterLevelExact(zapcore.ErrorLevel).Len() != 1 {
		t.Error("server error was not logged at error level")
	}
}

func TestClient_MalformedFrameSkipped(t *testing.T) {
	url := scriptedServer(t, []string{`not json`, `{"trade_id":"A"}`}, false)

	stats, err := New(Config{URL: url}, zap.NewNop().Sugar()).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Records != 1 {
		t.Errorf("Records = %d, want 1", stats.Records)
	}
}

func TestClient_Cancel(t *testing.T) {
	url := scriptedServer(t, dataFrames(1), true)

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		stats Stats
		err   error
	}
	done := make(chan result, 1)
	logger, logs := observedLogger()
	go func() {
		s, err := New(Config{URL: url}, logger).Run(ctx)
		done <- result{s, err}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for countMessages(logs, "Connected to") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case r := <-done:
		if r.err != nil {
			t.Errorf("Run() error = %v, want nil", r.err)
		}
		if r.stats.Finished {
			t.Error("Finished = true after cancel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestClient_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	_, err = New(Config{URL: URLFor("127.0.0.1", addr.Port)}, zap.NewNop().Sugar()).Run(context.Background())
	if err == nil {
		t.Fatal("Run() error = nil, want dial failure")
	}
}

func TestURLFor(t *testing.T) {
	if got := URLFor("localhost", 8765); got != "ws://localhost:8765/" {
		t.Errorf("URLFor() = %q", got)
	}
	if got := URLFor("::1", 9000); got != "ws://[::1]:9000/" {
		t.Errorf("URLFor() = %q", got)
	}
}

type frameSink struct{ frames []string }

func (s *frameSink) Record(frame []byte) error {
	s.frames = append(s.frames, string(frame))
	return nil
}

func TestClient_RecordsDataFrames(t *testing.T) {
	frames := []string{
		`{"status":"Data loaded. Starting replay."}`,
		`{"trade_id":"A"}`,
		`{"error":"x"}`,
		`{"trade_id":"B"}`,
		`{"status":"Replay finished."}`,
	}
	url := scriptedServer(t, frames, true)

	sink := &frameSink{}
	_, err := New(Config{URL: url, Recorder: sink}, zap.NewNop().Sugar()).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(sink.frames) != 2 || sink.frames[0] != `{"trade_id":"A"}` || sink.frames[1] != `{"trade_id":"B"}` {
		t.Errorf("recorded frames = %q, want only the two trades", sink.frames)
	}
}
