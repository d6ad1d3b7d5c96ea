package server

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SmitUplenchwar2687/tickreplay/internal/protocol"
	"github.com/SmitUplenchwar2687/tickreplay/internal/replay"
)

const closeWait = time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local dev tool.
	},
}

func isWebSocketRequest(r *http.Request) bool {
	return websocket.IsWebSocketUpgrade(r)
}

// handleWebSocket upgrades the connection and runs one replay session on it.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w, r) {
		return
	}
	if !s.track() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.sessions.Done()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("websocket upgrade error: %v", err)
		return
	}
	s.serveSession(s.base, conn)
}

// admit applies the session limiter and answers 429 when the host has
// opened too many sessions recently.
func (s *Server) admit(w http.ResponseWriter, r *http.Request) bool {
	if s.opts.Limiter == nil {
		return true
	}
	host := s.clientHost(r)
	d := s.opts.Limiter.Allow(host)
	if d.Allowed {
		return true
	}

	retry := int(math.Ceil(s.opts.Clock.Until(d.RetryAt).Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write(protocol.ErrorMessage("Too many sessions, retry later."))
	s.opts.Metrics.SessionRejected()
	s.logger.Warnf("Rejected session from %s, retry at %s", host, d.RetryAt.Format(time.RFC3339))
	return false
}

// connSender writes text frames to one consumer. Only the session
// goroutine uses it. Writes have no deadline, so a consumer that stops
// reading stalls the pacer and, through the full queue, the producer. Any
// write failure means the consumer is gone and is reported as
// replay.ErrDisconnected.
type connSender struct {
	conn *websocket.Conn
}

func newConnSender(conn *websocket.Conn) *connSender {
	return &connSender{conn: conn}
}

func (c *connSender) Send(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("%w: %v", replay.ErrDisconnected, err)
	}
	return nil
}

// sendBestEffort sends msg and ignores failures; used for error reports on
// a connection that may already be broken.
func (c *connSender) sendBestEffort(msg []byte) {
	_ = c.Send(context.Background(), msg)
}

// close sends a normal close frame and then drops the connection.
func (c *connSender) close() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
	c.conn.Close()
}

// readPump drains inbound frames so control frames are processed, and
// calls cancel once the consumer disconnects. Consumers send nothing
// meaningful, so data frames are discarded.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
