package client_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/tickreplay/internal/client"
	"github.com/SmitUplenchwar2687/tickreplay/internal/dataset"
	"github.com/SmitUplenchwar2687/tickreplay/internal/server"
)

type records []dataset.Record

func (r records) Load(context.Context) ([]dataset.Record, error) {
	return append([]dataset.Record(nil), r...), nil
}

func (r records) Name() string { return "memory" }

func TestClientAgainstServer(t *testing.T) {
	epoch := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	var src records
	for i := 0; i < 50; i++ {
		src = append(src, dataset.Record{
			Timestamp: epoch.Add(time.Duration(i/10) * 5 * time.Millisecond),
			Fields:    map[string]any{"seq": i},
		})
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := server.New(ln.Addr().String(), server.Options{Source: src, QueueSize: 2}, zap.NewNop().Sugar())
	go srv.StartOnListener(ln)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	c := client.New(client.Config{
		URL:             client.URLFor("127.0.0.1", addr.Port),
		ShowFirstN:      10,
		SummaryInterval: 100,
	}, zap.NewNop().Sugar())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stats, err := c.Run(ctx)
	require.NoError(t, err)
	require.True(t, stats.Finished)
	require.Equal(t, 50, stats.Records)
	require.Equal(t, 2, stats.Statuses)
	require.Zero(t, stats.Errors)
}
