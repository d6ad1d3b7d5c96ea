package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/tickreplay/internal/clock"
	"github.com/SmitUplenchwar2687/tickreplay/internal/dataset"
	"github.com/SmitUplenchwar2687/tickreplay/internal/limiter"
	"github.com/SmitUplenchwar2687/tickreplay/internal/metrics"
	"github.com/SmitUplenchwar2687/tickreplay/internal/protocol"
)

var epoch = time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)

type sliceSource struct {
	records []dataset.Record
	err     error
	panic   bool
}

func (s *sliceSource) Load(ctx context.Context) ([]dataset.Record, error) {
	if s.panic {
		panic("boom")
	}
	if s.err != nil {
		return nil, s.err
	}
	out := make([]dataset.Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

func (s *sliceSource) Name() string { return "memory" }

func trade(offset time.Duration, id string) dataset.Record {
	return dataset.Record{
		Timestamp: epoch.Add(offset),
		Fields:    map[string]any{"trade_id": id, "symbol": "BTC-USD"},
	}
}

type testServer struct {
	srv  *Server
	addr string
}

func startTestServer(t *testing.T, src dataset.Source) *testServer {
	t.Helper()
	return startTestServerWith(t, Options{Source: src})
}

func startTestServerWith(t *testing.T, opts Options) *testServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	reg := prometheus.NewRegistry()
	opts.Metrics = metrics.New(reg)
	opts.Gatherer = reg
	srv := New(ln.Addr().String(), opts, zap.NewNop().Sugar())
	go srv.StartOnListener(ln)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return &testServer{srv: srv, addr: ln.Addr().String()}
}

func (ts *testServer) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ts.addr+path, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readAll reads frames until the server closes the connection.
func readAll(t *testing.T, conn *websocket.Conn) []string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frames []string
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				t.Fatalf("timed out after frames %q", frames)
			}
			return frames
		}
		frames = append(frames, string(msg))
	}
}

func readOne(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(msg)
}

func tradeID(t *testing.T, frame string) string {
	t.Helper()
	var obj map[string]any
	if err := json.Unmarshal([]byte(frame), &obj); err != nil {
		t.Fatalf("frame %q is not JSON: %v", frame, err)
	}
	id, _ := obj["trade_id"].(string)
	return id
}

func getBody(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, string(body)
}

func waitForMetric(t *testing.T, ts *testServer, line string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_, body := getBody(t, "http://"+ts.addr+"/metrics")
		if strings.Contains(body, line) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("metric %q never appeared in:\n%s", line, body)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServer_Root(t *testing.T) {
	ts := startTestServer(t, &sliceSource{})

	code, body := getBody(t, "http://"+ts.addr+"/")
	if code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(body), &info); err != nil {
		t.Fatal(err)
	}
	if info["service"] != "tickreplay" {
		t.Errorf("service = %q, want %q", info["service"], "tickreplay")
	}
	if info["source"] != "memory" {
		t.Errorf("source = %q, want %q", info["source"], "memory")
	}
}

func TestServer_Health(t *testing.T) {
	ts := startTestServer(t, &sliceSource{})

	code, body := getBody(t, "http://"+ts.addr+"/health")
	if code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
	if !strings.Contains(body, `"ok"`) {
		t.Errorf("body = %q", body)
	}
}

func TestServer_NotFound(t *testing.T) {
	ts := startTestServer(t, &sliceSource{})

	code, _ := getBody(t, "http://"+ts.addr+"/nonexistent")
	if code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", code)
	}
}

func TestServer_ReplaySequence(t *testing.T) {
	ts := startTestServer(t, &sliceSource{records: []dataset.Record{
		trade(20*time.Millisecond, "C"),
		trade(0, "A"),
		trade(0, "B"),
	}})

	frames := readAll(t, ts.dial(t, "/"))
	if len(frames) != 5 {
		t.Fatalf("got %d frames %q, want 5", len(frames), frames)
	}
	if frames[0] != string(protocol.StatusMessage(protocol.StatusDataLoaded)) {
		t.Errorf("frame 0 = %s", frames[0])
	}
	for i, want := range []string{"A", "B", "C"} {
		if got := tradeID(t, frames[i+1]); got != want {
			t.Errorf("frame %d trade_id = %q, want %q", i+1, got, want)
		}
	}
	if frames[4] != string(protocol.StatusMessage(protocol.StatusReplayFinished)) {
		t.Errorf("frame 4 = %s", frames[4])
	}

	waitForMetric(t, ts, `tickreplay_sessions_total{outcome="finished"} 1`)
	waitForMetric(t, ts, `tickreplay_records_sent_total 3`)
}

func TestServer_WSPath(t *testing.T) {
	ts := startTestServer(t, &sliceSource{records: []dataset.Record{trade(0, "A")}})

	frames := readAll(t, ts.dial(t, "/ws"))
	if len(frames) != 3 {
		t.Fatalf("got %d frames %q, want 3", len(frames), frames)
	}
}

func TestServer_EmptyDataset(t *testing.T) {
	ts := startTestServer(t, &sliceSource{})

	frames := readAll(t, ts.dial(t, "/"))
	want := []string{
		string(protocol.StatusMessage(protocol.StatusDataLoaded)),
		string(protocol.StatusMessage(protocol.StatusReplayFinished)),
	}
	if len(frames) != len(want) {
		t.Fatalf("frames = %q, want %q", frames, want)
	}
	for i := range want {
		if frames[i] != want[i] {
			t.Errorf("frame %d = %s, want %s", i, frames[i], want[i])
		}
	}
}

func TestServer_MissingFile(t *testing.T) {
	path := t.TempDir() + "/missing.parquet"
	ts := startTestServer(t, dataset.NewFileSource(path))

	frames := readAll(t, ts.dial(t, "/"))
	if len(frames) != 1 {
		t.Fatalf("frames = %q, want one error", frames)
	}
	if want := `{"error":"File not found: ` + path + `"}`; frames[0] != want {
		t.Errorf("frame = %s, want %s", frames[0], want)
	}
	waitForMetric(t, ts, `tickreplay_sessions_total{outcome="load_error"} 1`)
}

func TestServer_UnreadableSource(t *testing.T) {
	ts := startTestServer(t, &sliceSource{err: errors.New("bad magic")})

	frames := readAll(t, ts.dial(t, "/"))
	if len(frames) != 1 || frames[0] != `{"error":"Could not read trade data."}` {
		t.Fatalf("frames = %q", frames)
	}
}

func TestServer_ProducerFailureReported(t *testing.T) {
	ts := startTestServer(t, &sliceSource{records: []dataset.Record{
		{Timestamp: epoch, Fields: map[string]any{"price": make(chan int)}},
	}})

	frames := readAll(t, ts.dial(t, "/"))
	if len(frames) != 2 {
		t.Fatalf("frames = %q, want loaded + error", frames)
	}
	msg, err := protocol.Decode([]byte(frames[1]))
	if err != nil {
		t.Fatal(err)
	}
	if msg.Kind != protocol.KindError || !strings.HasPrefix(msg.Text, "An unexpected error occurred: ") {
		t.Errorf("frame 1 = %s, want unexpected error", frames[1])
	}
	waitForMetric(t, ts, `tickreplay_sessions_total{outcome="error"} 1`)
}

func TestServer_PanicRecovered(t *testing.T) {
	ts := startTestServer(t, &sliceSource{panic: true})

	frames := readAll(t, ts.dial(t, "/"))
	if len(frames) != 1 || frames[0] != `{"error":"An unexpected error occurred: boom"}` {
		t.Fatalf("frames = %q", frames)
	}

	// The server keeps serving after a session panics.
	code, _ := getBody(t, "http://"+ts.addr+"/health")
	if code != http.StatusOK {
		t.Errorf("health status = %d after panic", code)
	}
}

func TestServer_ClientDisconnect(t *testing.T) {
	ts := startTestServer(t, &sliceSource{records: []dataset.Record{
		trade(0, "A"),
		trade(time.Hour, "B"),
	}})

	conn := ts.dial(t, "/")
	readOne(t, conn) // loaded
	if id := tradeID(t, readOne(t, conn)); id != "A" {
		t.Fatalf("first trade = %q, want A", id)
	}
	conn.Close()

	waitForMetric(t, ts, `tickreplay_sessions_total{outcome="disconnected"} 1`)
	waitForMetric(t, ts, `tickreplay_sessions_active 0`)
}

func TestServer_ShutdownStopsSessions(t *testing.T) {
	ts := startTestServer(t, &sliceSource{records: []dataset.Record{
		trade(0, "A"),
		trade(time.Hour, "B"),
	}})

	conn := ts.dial(t, "/")
	readOne(t, conn)
	readOne(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ts.srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("connection still open after shutdown")
	}
}

func TestServer_ConcurrentSessionsAreIndependent(t *testing.T) {
	ts := startTestServer(t, &sliceSource{records: []dataset.Record{
		trade(0, "A"),
		trade(10*time.Millisecond, "B"),
	}})

	results := make(chan []string, 2)
	for i := 0; i < 2; i++ {
		conn := ts.dial(t, "/")
		go func() {
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			var frames []string
			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					results <- frames
					return
				}
				frames = append(frames, string(msg))
			}
		}()
	}
	for i := 0; i < 2; i++ {
		if frames := <-results; len(frames) != 4 {
			t.Errorf("session %d got %d frames %q, want 4", i, len(frames), frames)
		}
	}
}

func TestServer_SessionLimit(t *testing.T) {
	ts := startTestServerWith(t, Options{
		Source:  &sliceSource{records: []dataset.Record{trade(0, "A")}},
		Limiter: limiter.NewSessionLimiter(1, time.Minute, 1, clock.NewRealClock()),
	})

	if frames := readAll(t, ts.dial(t, "/")); len(frames) != 3 {
		t.Fatalf("first session frames = %q", frames)
	}

	_, resp, err := websocket.DefaultDialer.Dial("ws://"+ts.addr+"/", nil)
	if err == nil {
		t.Fatal("second session within the window should be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("response = %v, want 429", resp)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
	waitForMetric(t, ts, `tickreplay_sessions_total{outcome="rejected"} 1`)
}

func TestServer_SessionLimitIgnoresUntrustedForwardedFor(t *testing.T) {
	ts := startTestServerWith(t, Options{
		Source:  &sliceSource{records: []dataset.Record{trade(0, "A")}},
		Limiter: limiter.NewSessionLimiter(1, time.Minute, 1, clock.NewRealClock()),
	})

	if frames := readAll(t, ts.dial(t, "/")); len(frames) != 3 {
		t.Fatalf("first session frames = %q", frames)
	}

	header := http.Header{"X-Forwarded-For": []string{"203.0.113.7"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws://"+ts.addr+"/", header)
	if err == nil {
		t.Fatal("a forged X-Forwarded-For must not reset the session limit")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("response = %v, want 429", resp)
	}
}

func TestServer_ClientHost(t *testing.T) {
	proxies := []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.168.1.5/32"),
	}
	tests := []struct {
		name      string
		trusted   []netip.Prefix
		remote    string
		forwarded []string
		want      string
	}{
		{"no proxies", nil, "198.51.100.1:5000", []string{"203.0.113.7"}, "198.51.100.1"},
		{"untrusted peer", proxies, "198.51.100.1:5000", []string{"203.0.113.7"}, "198.51.100.1"},
		{"trusted peer", proxies, "10.1.2.3:5000", []string{"203.0.113.7"}, "203.0.113.7"},
		{"forged leftmost hop", proxies, "10.1.2.3:5000", []string{"1.1.1.1, 203.0.113.7"}, "203.0.113.7"},
		{"proxy chain", proxies, "10.1.2.3:5000", []string{"203.0.113.7, 192.168.1.5"}, "203.0.113.7"},
		{"repeated headers", proxies, "10.1.2.3:5000", []string{"1.1.1.1", "203.0.113.7"}, "203.0.113.7"},
		{"trusted peer without header", proxies, "10.1.2.3:5000", nil, "10.1.2.3"},
		{"all hops trusted", proxies, "10.1.2.3:5000", []string{"10.9.9.9"}, "10.9.9.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New("127.0.0.1:0", Options{
				Source:         &sliceSource{},
				TrustedProxies: tt.trusted,
			}, zap.NewNop().Sugar())
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for _, v := range tt.forwarded {
				r.Header.Add("X-Forwarded-For", v)
			}
			if got := srv.clientHost(r); got != tt.want {
				t.Errorf("clientHost() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestServer_RejectsSessionsAfterShutdown(t *testing.T) {
	srv := New("127.0.0.1:0", Options{Source: &sliceSource{}}, zap.NewNop().Sugar())
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Connection", "Upgrade")
	r.Header.Set("Upgrade", "websocket")
	r.Header.Set("Sec-WebSocket-Version", "13")
	r.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	w := httptest.NewRecorder()
	srv.handleWebSocket(w, r)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if srv.track() {
		t.Error("track() should refuse new sessions after Shutdown")
	}
}
