// Package wsconn provides an instrumented WebSocket connection with
// ping/pong liveness tracking. A Conn covers a single dial; callers that need
// reconnection own the retry loop, because protocols like Binance depth
// streams require a full resynchronization after any reconnect.
package wsconn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "github.com/fd1az/global-price-index/internal/wsconn"
	meterName  = "github.com/fd1az/global-price-index/internal/wsconn"
)

// State represents the connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateClosed       State = "closed"
)

// Config holds WebSocket connection configuration.
type Config struct {
	URL            string
	Name           string // Identifier for metrics/tracing
	PingInterval   time.Duration
	PingRetryCount int // Consecutive missed pongs tolerated before failing
	BufferSize     int
	MaxMessageSize int64 // Max message size in bytes (0 = no limit)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(url string, name string) Config {
	return Config{
		URL:            url,
		Name:           name,
		PingInterval:   30 * time.Second,
		PingRetryCount: 3,
		BufferSize:     1024,
		MaxMessageSize: 10 * 1024 * 1024, // 10MB
	}
}

// metrics holds OTEL metric instruments.
type metrics struct {
	connectionState  metric.Int64Gauge
	messagesReceived metric.Int64Counter
	bytesReceived    metric.Int64Counter
	pingsTotal       metric.Int64Counter
	pingsFailed      metric.Int64Counter
}

// Conn is a single-use instrumented WebSocket connection. After Done() is
// closed it never becomes usable again; dial a fresh Conn instead.
type Conn struct {
	config Config

	conn   *websocket.Conn
	connMu sync.RWMutex

	state   State
	stateMu sync.RWMutex

	messages chan []byte
	done     chan struct{}
	doneOnce sync.Once
	failErr  error
	failMu   sync.Mutex
	closed   atomic.Bool

	tracer  trace.Tracer
	metrics *metrics
}

// New creates a new WebSocket connection handle (not yet dialed).
func New(config Config) (*Conn, error) {
	c := &Conn{
		config:   config,
		state:    StateDisconnected,
		messages: make(chan []byte, config.BufferSize),
		done:     make(chan struct{}),
		tracer:   otel.Tracer(tracerName),
	}

	if err := c.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}

	return c, nil
}

// initMetrics initializes OTEL metric instruments.
func (c *Conn) initMetrics() error {
	meter := otel.Meter(meterName)

	var err error

	c.metrics = &metrics{}

	c.metrics.connectionState, err = meter.Int64Gauge(
		"ws_connection_state",
		metric.WithDescription("WebSocket connection state (0=disconnected, 1=connecting, 2=connected, 3=closed)"),
		metric.WithUnit("{state}"),
	)
	if err != nil {
		return err
	}

	c.metrics.messagesReceived, err = meter.Int64Counter(
		"ws_messages_received_total",
		metric.WithDescription("Total number of WebSocket messages received"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return err
	}

	c.metrics.bytesReceived, err = meter.Int64Counter(
		"ws_bytes_received_total",
		metric.WithDescription("Total bytes received over WebSocket"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	c.metrics.pingsTotal, err = meter.Int64Counter(
		"ws_pings_total",
		metric.WithDescription("Total WebSocket ping attempts"),
		metric.WithUnit("{ping}"),
	)
	if err != nil {
		return err
	}

	c.metrics.pingsFailed, err = meter.Int64Counter(
		"ws_pings_failed_total",
		metric.WithDescription("Total WebSocket ping failures"),
		metric.WithUnit("{ping}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Connect dials the WebSocket and starts the read and ping loops.
func (c *Conn) Connect(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "ws.connect",
		trace.WithAttributes(
			attribute.String("ws.url", c.config.URL),
			attribute.String("ws.name", c.config.Name),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	c.setState(StateConnecting)

	conn, _, err := websocket.Dial(ctx, c.config.URL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "connection failed")
		c.setState(StateDisconnected)
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	if c.config.MaxMessageSize > 0 {
		conn.SetReadLimit(c.config.MaxMessageSize)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.setState(StateConnected)
	span.SetStatus(codes.Ok, "connected")

	// Loops run on a background context: the dial context often carries a
	// short deadline that must not bound the connection lifetime.
	go c.readLoop(context.Background())
	go c.pingLoop(context.Background())

	return nil
}

// pingLoop sends periodic pings and fails the connection after
// PingRetryCount consecutive missed pongs.
func (c *Conn) pingLoop(ctx context.Context) {
	if c.config.PingInterval <= 0 {
		return
	}

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	attrs := metric.WithAttributes(attribute.String("ws.name", c.config.Name))

	misses := 0
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.RLock()
			conn := c.conn
			c.connMu.RUnlock()

			if conn == nil {
				return
			}

			// Pong must arrive within the same interval.
			pingCtx, cancel := context.WithTimeout(ctx, c.config.PingInterval)
			err := conn.Ping(pingCtx)
			cancel()

			c.metrics.pingsTotal.Add(ctx, 1, attrs)

			if err != nil {
				misses++
				c.metrics.pingsFailed.Add(ctx, 1, attrs)
				if misses >= c.config.PingRetryCount {
					c.fail(fmt.Errorf("ping failed %d times: %w", misses, err))
					return
				}
				continue
			}
			misses = 0
		}
	}
}

// readLoop continuously reads messages from the WebSocket into the channel.
func (c *Conn) readLoop(ctx context.Context) {
	attrs := metric.WithAttributes(attribute.String("ws.name", c.config.Name))

	for {
		select {
		case <-c.done:
			return
		default:
		}

		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()

		if conn == nil {
			return
		}

		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.fail(fmt.Errorf("websocket read failed: %w", err))
			return
		}

		if msgType != websocket.MessageText && msgType != websocket.MessageBinary {
			continue
		}

		c.metrics.messagesReceived.Add(ctx, 1, attrs)
		c.metrics.bytesReceived.Add(ctx, int64(len(data)), attrs)

		// Blocking send: depth events must arrive in order and without
		// silent drops. Teardown unblocks via done.
		select {
		case c.messages <- data:
		case <-c.done:
			return
		}
	}
}

// fail records the terminal error, closes the socket, and signals Done.
func (c *Conn) fail(err error) {
	if c.closed.Load() {
		return
	}

	c.failMu.Lock()
	if c.failErr == nil {
		c.failErr = err
	}
	c.failMu.Unlock()

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close(websocket.StatusGoingAway, "connection failed")
		c.conn = nil
	}
	c.connMu.Unlock()

	c.setState(StateDisconnected)
	c.doneOnce.Do(func() { close(c.done) })
}

// Send sends a text message through the WebSocket.
func (c *Conn) Send(ctx context.Context, msg []byte) error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()

	if conn == nil {
		return errors.New("not connected")
	}

	if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
		return fmt.Errorf("websocket write failed: %w", err)
	}
	return nil
}

// Messages returns the channel delivering received messages in order.
func (c *Conn) Messages() <-chan []byte {
	return c.messages
}

// Done is closed when the connection has terminally failed or was closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the terminal error after Done is closed, or nil for a clean
// local Close.
func (c *Conn) Err() error {
	c.failMu.Lock()
	defer c.failMu.Unlock()
	return c.failErr
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// IsConnected returns true if the connection is established.
func (c *Conn) IsConnected() bool {
	return c.State() == StateConnected
}

// Close gracefully closes the WebSocket connection.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "client closing")
	}

	c.setState(StateClosed)
	c.doneOnce.Do(func() { close(c.done) })
	return err
}

// setState updates the connection state and records metrics.
func (c *Conn) setState(state State) {
	c.stateMu.Lock()
	oldState := c.state
	c.state = state
	c.stateMu.Unlock()

	if oldState == state {
		return
	}

	stateValue := int64(0)
	switch state {
	case StateDisconnected:
		stateValue = 0
	case StateConnecting:
		stateValue = 1
	case StateConnected:
		stateValue = 2
	case StateClosed:
		stateValue = 3
	}

	c.metrics.connectionState.Record(context.Background(), stateValue,
		metric.WithAttributes(attribute.String("ws.name", c.config.Name)),
	)
}
