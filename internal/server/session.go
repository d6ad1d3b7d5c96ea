package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/tickreplay/internal/dataset"
	"github.com/SmitUplenchwar2687/tickreplay/internal/metrics"
	"github.com/SmitUplenchwar2687/tickreplay/internal/protocol"
	"github.com/SmitUplenchwar2687/tickreplay/internal/replay"
)

// serveSession runs one replay over conn and always closes it. Panics are
// recovered here so one broken session never takes the server down.
func (s *Server) serveSession(parent context.Context, conn *websocket.Conn) {
	id := uuid.NewString()
	logger := s.logger.With("session", id)
	logger.Infof("Client connected from %s", conn.RemoteAddr())

	ctx, cancel := context.WithCancel(parent)
	sender := newConnSender(conn)
	// Server shutdown also unblocks a write stuck on a stalled consumer.
	stopForceClose := context.AfterFunc(parent, func() { conn.Close() })
	s.opts.Metrics.SessionStarted()
	outcome := metrics.OutcomeError

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%v", r)
			logger.Errorf("An unexpected error occurred: %v", err)
			sender.sendBestEffort(protocol.UnexpectedMessage(err))
			outcome = metrics.OutcomeError
		}
		stopForceClose()
		cancel()
		sender.close()
		s.opts.Metrics.SessionEnded(outcome)
		logger.Infow("Connection closed.", "outcome", outcome)
	}()

	go readPump(conn, cancel)
	outcome = s.replay(ctx, logger, sender)
}

// replay loads the dataset and paces it to sender. It returns the session
// outcome for metrics.
func (s *Server) replay(ctx context.Context, logger *zap.SugaredLogger, sender *connSender) string {
	name := s.opts.Source.Name()
	records, err := s.opts.Source.Load(ctx)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Errorf("File not found: %s", name)
			sender.sendBestEffort(protocol.NotFoundMessage(name))
		} else {
			logger.Errorf("Could not read trade data from %s: %v", name, err)
			sender.sendBestEffort(protocol.ErrorMessage(protocol.ErrorReadFailed))
		}
		return metrics.OutcomeLoadError
	}

	dataset.SortByTimestamp(records)
	records = s.opts.Filter.Apply(records)
	logger.Infof("Loaded %d trades from %s", len(records), name)

	if err := sender.Send(ctx, protocol.StatusMessage(protocol.StatusDataLoaded)); err != nil {
		return s.ended(logger, sender, err)
	}

	q := replay.NewQueue(s.opts.QueueSize)
	producer := replay.NewProducer(records, logger)
	produceCtx, stopProducer := context.WithCancel(ctx)
	go func() {
		_ = producer.Run(produceCtx, q)
	}()
	defer func() {
		stopProducer()
		<-producer.Done()
	}()

	opts := replay.Options{Speed: s.opts.Speed}
	if s.opts.Metrics != nil {
		opts.Observer = s.opts.Metrics
	}
	pacer := replay.NewPacer(s.opts.Clock, sender, logger, opts)
	summary, err := pacer.Run(ctx, q)
	if err != nil {
		return s.ended(logger, sender, err)
	}

	logger.Debugw("replay summary",
		"groups", summary.Groups,
		"records", summary.Records,
		"lagged", summary.Lagged,
		"max_latency", summary.MaxLatency(),
	)
	return metrics.OutcomeFinished
}

// ended classifies an error that stopped a replay. Losing the consumer and
// shutting down are normal ends; anything else is reported to the consumer.
func (s *Server) ended(logger *zap.SugaredLogger, sender *connSender, err error) string {
	if errors.Is(err, replay.ErrDisconnected) || errors.Is(err, context.Canceled) {
		logger.Info("Client disconnected.")
		return metrics.OutcomeDisconnected
	}
	logger.Errorf("An unexpected error occurred: %v", err)
	sender.sendBestEffort(protocol.UnexpectedMessage(err))
	return metrics.OutcomeError
}
