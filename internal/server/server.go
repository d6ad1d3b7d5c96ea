package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/tickreplay/internal/clock"
	"github.com/SmitUplenchwar2687/tickreplay/internal/dataset"
	"github.com/SmitUplenchwar2687/tickreplay/internal/limiter"
	"github.com/SmitUplenchwar2687/tickreplay/internal/metrics"
)

// Options configures what each replay session serves.
type Options struct {
	// Source is loaded once per connection.
	Source dataset.Source
	// Filter narrows the loaded records; nil keeps everything.
	Filter *dataset.Filter
	// QueueSize bounds the groups buffered ahead of the pacer.
	QueueSize int
	// Speed scales the replay; 2 plays twice as fast.
	Speed float64
	// Clock drives pacing. Defaults to the real clock.
	Clock clock.Clock
	// Limiter throttles sessions per remote host. Nil admits everyone.
	Limiter *limiter.SessionLimiter
	// TrustedProxies are peers whose X-Forwarded-For header is believed.
	TrustedProxies []netip.Prefix
	// Metrics may be nil.
	Metrics *metrics.Collector
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// Server accepts websocket consumers and replays the dataset to each one.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	opts       Options
	logger     *zap.SugaredLogger

	// base is cancelled on Shutdown so hijacked websocket sessions stop too.
	base     context.Context
	stop     context.CancelFunc
	sessions sync.WaitGroup

	mu      sync.Mutex
	closing bool
}

// New creates a replay server listening on addr.
func New(addr string, opts Options, logger *zap.SugaredLogger) *Server {
	if opts.Clock == nil {
		opts.Clock = clock.NewRealClock()
	}
	if opts.Speed <= 0 {
		opts.Speed = 1
	}
	base, stop := context.WithCancel(context.Background())
	s := &Server{
		mux:    http.NewServeMux(),
		opts:   opts,
		logger: logger,
		base:   base,
		stop:   stop,
	}
	s.routes()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           accessLog(s.mux, s.clientHost, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	s.mux.HandleFunc("/health", s.handleHealth)
	if s.opts.Gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
}

// handleRoot upgrades websocket requests and otherwise describes the service.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if isWebSocketRequest(r) {
		s.handleWebSocket(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "tickreplay",
		"status":  "running",
		"source":  s.opts.Source.Name(),
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Listen binds addr without serving, so bind failures surface before the
// caller commits to running.
func (s *Server) Listen() (net.Listener, error) {
	return net.Listen("tcp", s.httpServer.Addr)
}

// Start begins listening. It blocks until the server is shut down.
func (s *Server) Start() error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.StartOnListener(ln)
}

// StartOnListener begins serving on the provided listener.
// Useful for tests that need to pick an ephemeral port.
func (s *Server) StartOnListener(ln net.Listener) error {
	s.logger.Infof("Server started at ws://%s", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// track registers a new session unless Shutdown has begun. The caller must
// call s.sessions.Done when track returns true.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.sessions.Add(1)
	return true
}

// Shutdown stops accepting connections, cancels running sessions and waits
// for them to unwind or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	err := s.httpServer.Shutdown(ctx)
	s.stop()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// accessLog logs each HTTP request at debug level.
func accessLog(next http.Handler, host func(*http.Request) string, logger *zap.SugaredLogger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debugw("http request", "method", r.Method, "path", r.URL.Path, "remote", host(r))
		next.ServeHTTP(w, r)
	})
}

// clientHost identifies the client for logging and session limits. The
// X-Forwarded-For chain is only consulted when the peer is a trusted proxy,
// and then the rightmost hop that is not itself a trusted proxy wins.
func (s *Server) clientHost(r *http.Request) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	if !s.trusted(peer) {
		return peer
	}
	forwarded := r.Header.Values("X-Forwarded-For")
	hops := strings.Split(strings.Join(forwarded, ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !s.trusted(hop) {
			return hop
		}
		peer = hop
	}
	return peer
}

func (s *Server) trusted(host string) bool {
	if len(s.opts.TrustedProxies) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range s.opts.TrustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
