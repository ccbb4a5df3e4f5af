package influxdb

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/gray-logic-pioneer/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	fallbackBatchSize    = 100
	fallbackFlushSeconds = 10
)

// Client batches receiver_state points to one bucket. Safe for concurrent
// use; writes never block the caller.
type Client struct {
	server influxdb2.Client
	writer api.WriteAPI
	bucket string

	open     atomic.Bool
	failures atomic.Uint64
	onError  atomic.Pointer[func(error)]
}

// Connect checks the configuration, pings the server and starts the
// batching writer.
//
// Returns ErrDisabled when history export is switched off, ErrInvalidConfig
// when url, org or bucket are missing, and ErrConnectionFailed when the
// server does not answer a ping within ten seconds.
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	batch, flush := writeOptions(cfg)
	server := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetBatchSize(batch).SetFlushInterval(flush))

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := ping(pingCtx, server); err != nil {
		server.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c := &Client{
		server: server,
		writer: server.WriteAPI(cfg.Org, cfg.Bucket),
		bucket: cfg.Bucket,
	}
	c.open.Store(true)
	go c.drainErrors()
	return c, nil
}

func validate(cfg config.InfluxDBConfig) error {
	switch {
	case cfg.URL == "":
		return fmt.Errorf("%w: url is required", ErrInvalidConfig)
	case cfg.Org == "":
		return fmt.Errorf("%w: org is required", ErrInvalidConfig)
	case cfg.Bucket == "":
		return fmt.Errorf("%w: bucket is required", ErrInvalidConfig)
	}
	return nil
}

func ping(ctx context.Context, server influxdb2.Client) error {
	healthy, err := server.Ping(ctx)
	if err != nil {
		return err
	}
	if !healthy {
		return errUnhealthy
	}
	return nil
}

// writeOptions returns the batch size and the flush interval in
// milliseconds as the client library expects it.
func writeOptions(cfg config.InfluxDBConfig) (batch, flushMillis uint) {
	batch, flushSeconds := uint(fallbackBatchSize), uint(fallbackFlushSeconds)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	if cfg.FlushInterval > 0 {
		flushSeconds = uint(cfg.FlushInterval)
	}
	return batch, flushSeconds * uint(time.Second/time.Millisecond)
}

// drainErrors forwards asynchronous write failures until the writer's
// error channel closes.
func (c *Client) drainErrors() {
	for err := range c.writer.Errors() {
		c.failures.Add(1)
		if fn := c.onError.Load(); fn != nil {
			(*fn)(err)
		}
	}
}

// SetOnError registers fn for failed batch writes. Pass nil to clear.
func (c *Client) SetOnError(fn func(err error)) {
	if fn == nil {
		c.onError.Store(nil)
		return
	}
	c.onError.Store(&fn)
}

// WriteFailures is the number of batch writes the server rejected or
// never received.
func (c *Client) WriteFailures() uint64 {
	return c.failures.Load()
}

// Bucket is the destination bucket name.
func (c *Client) Bucket() string { return c.bucket }

// IsConnected reports whether Close has not yet been called. It does not
// touch the network.
func (c *Client) IsConnected() bool {
	return c.open.Load()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.server); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// Flush sends buffered points now. Does nothing once closed.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writer.Flush()
	}
}

// Close flushes what is buffered and releases the connection. Safe to call
// more than once.
func (c *Client) Close() error {
	if c == nil || !c.open.CompareAndSwap(true, false) {
		return nil
	}
	c.writer.Flush()
	c.server.Close()
	return nil
}
