// Package telemetry records numeric entity readings into InfluxDB v2.
//
// Writes go through the client's non-blocking WriteAPI: points are
// batched in memory and flushed in the background, and write failures
// arrive asynchronously and are logged.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/CaseyRo/ha-bosch/internal/config"
)

const defaultConnectTimeout = 10 * time.Second

// Client is a connected InfluxDB writer.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// Connect pings the server and opens a non-blocking write API for the
// configured org and bucket.
func Connect(ctx context.Context, cfg config.InfluxDBConfig, logger *slog.Logger) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	if logger == nil {
		logger = slog.Default()
	}

	batch := max(cfg.BatchSize, 1)
	flushMs := max(cfg.FlushIntervalDuration().Milliseconds(), 1)

	//nolint:gosec // both clamped positive above
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(flushMs))

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping: %w", ErrConnectionFailed, err)
	}

	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		logger:   logger,
	}

	go c.logWriteErrors(c.writeAPI.Errors())

	logger.Info("influxdb connected",
		slog.String("url", cfg.URL),
		slog.String("bucket", cfg.Bucket),
	)

	return c, nil
}

func (c *Client) logWriteErrors(errs <-chan error) {
	for err := range errs {
		c.logger.Warn("influxdb write failed", slog.String("error", err.Error()))
	}
}

// WritePoint queues p. It never blocks on the network and is a no-op
// after Close.
func (c *Client) WritePoint(p *write.Point) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return
	}

	c.writeAPI.WritePoint(p)
}

// Flush sends everything queued so far.
func (c *Client) Flush() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return
	}

	c.writeAPI.Flush()
}

// Close flushes pending points and releases the client.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	c.mu.Unlock()

	c.writeAPI.Flush()
	c.client.Close()

	return nil
}
