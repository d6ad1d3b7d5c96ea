// Package client consumes a replay stream and reports what it received.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/tickreplay/internal/protocol"
)

const closeWait = time.Second

// Config controls where the client connects and how much it logs.
type Config struct {
	URL string
	// ShowFirstN data records are logged verbatim.
	ShowFirstN int
	// SummaryInterval logs a running count every N records after the first
	// ShowFirstN. Zero disables summaries.
	SummaryInterval int
	// Recorder, if set, receives every data frame.
	Recorder FrameRecorder
}

// FrameRecorder stores received data frames.
type FrameRecorder interface {
	Record(frame []byte) error
}

// URLFor builds the websocket URL for a replay server.
func URLFor(host string, port int) string {
	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(host, strconv.Itoa(port)), Path: "/"}
	return u.String()
}

// Stats counts what one run received.
type Stats struct {
	Records  int
	Statuses int
	Errors   int
	// Finished is set when the server announced the end of the replay.
	Finished bool
}

// Client is a rate-observing sink: it never paces, it only reads.
type Client struct {
	cfg    Config
	logger *zap.SugaredLogger
	dialer *websocket.Dialer
}

// New creates a client.
func New(cfg Config, logger *zap.SugaredLogger) *Client {
	return &Client{cfg: cfg, logger: logger, dialer: websocket.DefaultDialer}
}

// Run connects and reads until the replay finishes, the server closes the
// connection, or ctx is cancelled. Only a failed dial is returned as an
// error; every other ending is normal and reflected in Stats.
func (c *Client) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return stats, fmt.Errorf("connecting to %s: %w", c.cfg.URL, err)
	}
	c.logger.Infof("Connected to %s", c.cfg.URL)

	// Unblock ReadMessage when ctx is cancelled.
	stop := make(chan struct{})
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		select {
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
			conn.Close()
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		<-closed
		conn.Close()
		c.logger.Infof("Total trades received: %d", stats.Records)
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				c.logger.Info("Client task cancelled.")
			case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, net.ErrClosed):
				c.logger.Warnf("Connection to server lost: %v", err)
			default:
				c.logger.Info("Connection to server closed.")
			}
			return stats, nil
		}

		msg, err := protocol.Decode(frame)
		if err != nil {
			c.logger.Warnf("Discarding malformed message: %v", err)
			continue
		}
		if done := c.handle(msg, &stats); done {
			return stats, nil
		}
	}
}

// handle logs msg and updates stats. It reports whether the replay is over.
func (c *Client) handle(msg protocol.Message, stats *Stats) bool {
	switch msg.Kind {
	case protocol.KindStatus:
		stats.Statuses++
		c.logger.Infof("Server status: %s", msg.Text)
		if msg.Finished() {
			stats.Finished = true
			return true
		}
	case protocol.KindError:
		stats.Errors++
		c.logger.Errorf("Server error: %s", msg.Text)
	default:
		stats.Records++
		n := stats.Records
		if c.cfg.Recorder != nil {
			if err := c.cfg.Recorder.Record(msg.Raw); err != nil {
				c.logger.Warnf("Could not record trade %d: %v", n, err)
			}
		}
		if n <= c.cfg.ShowFirstN {
			c.logger.Infof("Received trade: %s", msg.Raw)
		} else if c.cfg.SummaryInterval > 0 && n%c.cfg.SummaryInterval == 0 {
			c.logger.Infof("Received %d trades so far.", n)
		}
	}
	return false
}
