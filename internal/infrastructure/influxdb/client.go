package influxdb

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/tep-core/internal/infrastructure/config"
)

const (
	// connectTimeout bounds the ping made by Connect.
	connectTimeout = 10 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Client writes component liveness history to InfluxDB. It satisfies
// registry.LivenessRecorder.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Record methods never block; points are batched by the write API.
type Client struct {
	client influxdb2.Client
	writer api.WriteAPI

	closed  atomic.Bool
	onError atomic.Pointer[func(error)]
}

// Connect creates a client for cfg and pings the server before returning.
//
// Parameters:
//   - ctx: Bounds the ping, together with connectTimeout
//   - cfg: InfluxDB configuration
//
// Returns:
//   - *Client: Client ready to record
//   - error: ErrDisabled, or ErrUnreachable wrapping the cause
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, options(cfg))

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := ping(pingCtx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	c := &Client{
		client: client,
		writer: client.WriteAPI(cfg.Org, cfg.Bucket),
	}
	go c.forwardErrors()
	return c, nil
}

// options applies the batch settings of cfg, falling back to defaults for
// non-positive values.
func options(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	// #nosec G115 -- flush is positive and well below the uint range
	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds()))
}

func ping(ctx context.Context, client influxdb2.Client) error {
	healthy, err := client.Ping(ctx)
	if err != nil {
		return err
	}
	if !healthy {
		return fmt.Errorf("server reports unhealthy")
	}
	return nil
}

// forwardErrors hands async write failures to the SetOnError callback.
// It returns when the write API closes its error channel.
func (c *Client) forwardErrors() {
	for err := range c.writer.Errors() {
		if cb := c.onError.Load(); cb != nil {
			(*cb)(err)
		}
	}
}

// SetOnError sets the callback for async write failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.onError.Store(&callback)
}

// Active reports whether the client is open. A nil client is inactive.
func (c *Client) Active() bool {
	return c != nil && !c.closed.Load()
}

// Ping checks that the server still answers.
func (c *Client) Ping(ctx context.Context) error {
	if !c.Active() {
		return ErrClosed
	}
	if err := ping(ctx, c.client); err != nil {
		return fmt.Errorf("influxdb ping: %w", err)
	}
	return nil
}

// Close flushes pending points and releases the client. Calling it more
// than once, or on a nil client, is a no-op.
func (c *Client) Close() error {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.writer.Flush()
	c.client.Close()
	return nil
}
