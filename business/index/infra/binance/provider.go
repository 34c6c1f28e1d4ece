package binance

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/global-price-index/business/index/app"
	"github.com/fd1az/global-price-index/business/index/domain"
	"github.com/fd1az/global-price-index/internal/apperror"
	"github.com/fd1az/global-price-index/internal/logger"
	"github.com/fd1az/global-price-index/internal/wsconn"
)

const (
	tracerName = "binance"
	meterName  = "binance"

	defaultWSURL = "wss://stream.binance.com:9443/ws/btcusdt@depth"

	dialTimeout = 10 * time.Second
	// btcusdt@depth emits at least once per second; an alignment that takes
	// longer than this means the stream or snapshot is broken.
	alignTimeout = 30 * time.Second
)

// Ensure interface compliance.
var _ app.Exchange = (*Provider)(nil)

// DriverState is the streaming driver's lifecycle state.
type DriverState string

const (
	StateDisconnected    DriverState = "disconnected"
	StateConnecting      DriverState = "connecting"
	StateSnapshotPending DriverState = "snapshot_pending"
	StateLive            DriverState = "live"
)

// ProviderConfig holds configuration for the Binance streaming provider.
type ProviderConfig struct {
	WSURL                 string        // Depth diff stream URL
	RestURL               string        // Snapshot URL including query
	InitialReconnectDelay time.Duration // Backoff seed
	MaxReconnectDelay     time.Duration // Backoff cap
	PingInterval          time.Duration // WS ping cadence
	PingRetryCount        int           // Missed-pong tolerance
	RestTimeout           time.Duration // Snapshot request timeout
}

// DefaultProviderConfig returns sensible defaults.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		WSURL:                 defaultWSURL,
		RestURL:               defaultRestURL,
		InitialReconnectDelay: 1 * time.Second,
		MaxReconnectDelay:     300 * time.Second,
		PingInterval:          30 * time.Second,
		PingRetryCount:        3,
		RestTimeout:           httpTimeout,
	}
}

// providerMetrics holds OTEL metric instruments.
type providerMetrics struct {
	depthUpdates metric.Int64Counter
	resyncs      metric.Int64Counter
	sequenceGaps metric.Int64Counter
	parseErrors  metric.Int64Counter
}

// Provider maintains the process-lifetime Binance order book: a long-lived
// driver task patches it from the diff stream while aggregator requests read
// it through GetMidPrice. The driver owns the write side exclusively.
type Provider struct {
	config ProviderConfig
	logger logger.LoggerInterface

	snapshots *HTTPClient

	// book is nil until the first snapshot seed. No I/O ever happens while
	// bookMu is held.
	book   *domain.OrderBook
	bookMu sync.RWMutex

	state   DriverState
	stateMu sync.RWMutex

	cancel context.CancelFunc
	done   chan struct{}

	tracer  trace.Tracer
	metrics *providerMetrics
}

// NewProvider creates a new Binance streaming provider.
func NewProvider(cfg ProviderConfig, log logger.LoggerInterface) (*Provider, error) {
	def := DefaultProviderConfig()
	if cfg.WSURL == "" {
		cfg.WSURL = def.WSURL
	}
	if cfg.RestURL == "" {
		cfg.RestURL = def.RestURL
	}
	if cfg.InitialReconnectDelay == 0 {
		cfg.InitialReconnectDelay = def.InitialReconnectDelay
	}
	if cfg.MaxReconnectDelay == 0 {
		cfg.MaxReconnectDelay = def.MaxReconnectDelay
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PingRetryCount == 0 {
		cfg.PingRetryCount = def.PingRetryCount
	}
	if cfg.RestTimeout == 0 {
		cfg.RestTimeout = def.RestTimeout
	}

	snapshots, err := NewHTTPClient(HTTPClientConfig{URL: cfg.RestURL, Timeout: cfg.RestTimeout}, log)
	if err != nil {
		return nil, err
	}

	p := &Provider{
		config:    cfg,
		logger:    log,
		snapshots: snapshots,
		state:     StateDisconnected,
		done:      make(chan struct{}),
		tracer:    otel.Tracer(tracerName),
	}

	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Provider) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	p.metrics = &providerMetrics{}

	p.metrics.depthUpdates, err = meter.Int64Counter(
		"binance_depth_updates_total",
		metric.WithDescription("Depth diff events applied to the book"),
	)
	if err != nil {
		return err
	}

	p.metrics.resyncs, err = meter.Int64Counter(
		"binance_resyncs_total",
		metric.WithDescription("Snapshot resynchronizations performed"),
	)
	if err != nil {
		return err
	}

	p.metrics.sequenceGaps, err = meter.Int64Counter(
		"binance_sequence_gaps_total",
		metric.WithDescription("Sequence gaps detected in the diff stream"),
	)
	if err != nil {
		return err
	}

	p.metrics.parseErrors, err = meter.Int64Counter(
		"binance_parse_errors_total",
		metric.WithDescription("Stream message parse errors"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Name returns the exchange display name.
func (p *Provider) Name() string {
	return domain.ExchangeBinance
}

// Start launches the driver task. It returns immediately; the driver keeps
// reconnecting with capped exponential backoff until Close or ctx
// cancellation.
func (p *Provider) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	go p.run(ctx)
}

// Close stops the driver task and waits for it to exit.
func (p *Provider) Close() error {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
	return nil
}

// State returns the driver's lifecycle state.
func (p *Provider) State() DriverState {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.state
}

// IsLive reports whether the diff stream is currently applying updates.
func (p *Provider) IsLive() bool {
	return p.State() == StateLive
}

func (p *Provider) setState(state DriverState) {
	p.stateMu.Lock()
	p.state = state
	p.stateMu.Unlock()
}

// GetMidPrice reads the shared book. The capture timestamp is the read time:
// the stream carries no usable per-tick server timestamp.
func (p *Provider) GetMidPrice(ctx context.Context) (domain.ExchangePrice, error) {
	p.bookMu.RLock()
	book := p.book
	var mid float64
	var ok bool
	if book != nil {
		mid, ok = book.MidPrice()
	}
	p.bookMu.RUnlock()

	if book == nil {
		return domain.ExchangePrice{}, apperror.New(apperror.CodeOrderBookNotReady,
			apperror.WithContext("no snapshot received yet"))
	}
	if !ok {
		return domain.ExchangePrice{}, apperror.New(apperror.CodeOrderBookNotReady,
			apperror.WithContext("mid-price undefined"))
	}

	return domain.ExchangePrice{
		Exchange:  domain.ExchangeBinance,
		MidPrice:  mid,
		Timestamp: domain.UnixSeconds(time.Now()),
	}, nil
}

// run is the driver loop: stream session, teardown, capped backoff, repeat.
// Reconnect attempts are unlimited; the backoff resets once a session
// reaches Live.
func (p *Provider) run(ctx context.Context) {
	defer close(p.done)
	defer p.setState(StateDisconnected)

	backoff := p.config.InitialReconnectDelay

	for {
		reachedLive, err := p.streamSession(ctx)

		if ctx.Err() != nil {
			return
		}

		if err != nil {
			p.logger.Warn(ctx, "binance stream session ended",
				"error", err,
				"reached_live", reachedLive,
				"reconnect_in", backoff.String())
		}

		p.setState(StateDisconnected)

		if reachedLive {
			backoff = p.config.InitialReconnectDelay
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > p.config.MaxReconnectDelay {
			backoff = p.config.MaxReconnectDelay
		}
	}
}

// streamSession runs one connect → snapshot → live cycle. It returns whether
// Live was reached and the error that ended the session.
func (p *Provider) streamSession(ctx context.Context) (bool, error) {
	ctx, span := p.tracer.Start(ctx, "binance.stream_session")
	defer span.End()

	p.setState(StateConnecting)

	wsCfg := wsconn.DefaultConfig(p.config.WSURL, "binance")
	wsCfg.PingInterval = p.config.PingInterval
	wsCfg.PingRetryCount = p.config.PingRetryCount

	conn, err := wsconn.New(wsCfg)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	err = conn.Connect(dialCtx)
	cancel()
	if err != nil {
		span.RecordError(err)
		return false, apperror.New(apperror.CodeWebSocketConnectionError,
			apperror.WithCause(err),
			apperror.WithContext("failed to connect to depth stream"))
	}

	p.setState(StateSnapshotPending)
	p.metrics.resyncs.Add(ctx, 1)

	prevU, err := p.resync(ctx, conn)
	if err != nil {
		span.RecordError(err)
		return false, err
	}

	p.setState(StateLive)
	p.logger.Info(ctx, "binance stream live", "last_update_id", prevU)

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()

		case <-conn.Done():
			return true, apperror.New(apperror.CodeWebSocketClosed,
				apperror.WithCause(conn.Err()),
				apperror.WithContext("depth stream connection lost"))

		case msg := <-conn.Messages():
			ev, err := p.parseEvent(ctx, msg)
			if err != nil {
				return true, err
			}
			if ev == nil {
				continue
			}

			// Duplicate or already-covered event.
			if ev.FinalUpdateID <= prevU {
				continue
			}

			if ev.FirstUpdateID != prevU+1 {
				p.metrics.sequenceGaps.Add(ctx, 1)
				return true, apperror.New(apperror.CodeSequenceGap,
					apperror.WithContext("diff stream is not contiguous"))
			}

			if err := p.applyEvent(ctx, ev); err != nil {
				return true, err
			}
			prevU = ev.FinalUpdateID
		}
	}
}

// resync fetches a snapshot, aligns it with the buffered diff stream, and
// seeds the shared book. It returns the last applied update id.
//
// Alignment follows the documented protocol: drop events with u <= S, then
// the first applied event must satisfy U <= S+1 <= u. If the stream has
// already moved past the snapshot the whole session restarts.
func (p *Provider) resync(ctx context.Context, conn *wsconn.Conn) (uint64, error) {
	snapshot, err := p.snapshots.GetDepth(ctx)
	if err != nil {
		return 0, err
	}

	bids, err := ParseLevels(snapshot.Bids)
	if err != nil {
		p.metrics.parseErrors.Add(ctx, 1)
		return 0, apperror.New(apperror.CodeExchangeParseError,
			apperror.WithCause(err),
			apperror.WithContext("invalid snapshot bid level"))
	}
	asks, err := ParseLevels(snapshot.Asks)
	if err != nil {
		p.metrics.parseErrors.Add(ctx, 1)
		return 0, apperror.New(apperror.CodeExchangeParseError,
			apperror.WithCause(err),
			apperror.WithContext("invalid snapshot ask level"))
	}

	s := snapshot.LastUpdateID

	var first *DepthUpdateEvent
	deadline := time.After(alignTimeout)

	for first == nil {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()

		case <-conn.Done():
			return 0, apperror.New(apperror.CodeWebSocketClosed,
				apperror.WithCause(conn.Err()),
				apperror.WithContext("depth stream lost during snapshot alignment"))

		case <-deadline:
			return 0, apperror.New(apperror.CodeServiceTimeout,
				apperror.WithContext("no aligning diff event arrived"))

		case msg := <-conn.Messages():
			ev, err := p.parseEvent(ctx, msg)
			if err != nil {
				return 0, err
			}
			if ev == nil {
				continue
			}

			// Stale relative to the snapshot.
			if ev.FinalUpdateID <= s {
				continue
			}

			if ev.FirstUpdateID > s+1 {
				// The stream buffer starts after the snapshot; the book
				// cannot be reconstructed from this pair. Restart.
				return 0, apperror.New(apperror.CodeSequenceGap,
					apperror.WithContext("snapshot is behind the buffered stream"))
			}

			first = ev
		}
	}

	firstBids, err := ParseLevels(first.Bids)
	if err != nil {
		p.metrics.parseErrors.Add(ctx, 1)
		return 0, apperror.New(apperror.CodeExchangeParseError,
			apperror.WithCause(err),
			apperror.WithContext("invalid diff bid level"))
	}
	firstAsks, err := ParseLevels(first.Asks)
	if err != nil {
		p.metrics.parseErrors.Add(ctx, 1)
		return 0, apperror.New(apperror.CodeExchangeParseError,
			apperror.WithCause(err),
			apperror.WithContext("invalid diff ask level"))
	}

	// Seed and apply the aligning event in one brief write.
	p.bookMu.Lock()
	book := domain.NewOrderBook(bids, asks, s)
	book.ApplyDelta(firstBids, firstAsks)
	book.LastUpdateID = first.FinalUpdateID
	p.book = book
	p.bookMu.Unlock()

	p.metrics.depthUpdates.Add(ctx, 1)

	return first.FinalUpdateID, nil
}

// applyEvent parses a diff event and merges it into the shared book.
func (p *Provider) applyEvent(ctx context.Context, ev *DepthUpdateEvent) error {
	bids, err := ParseLevels(ev.Bids)
	if err != nil {
		p.metrics.parseErrors.Add(ctx, 1)
		return apperror.New(apperror.CodeExchangeParseError,
			apperror.WithCause(err),
			apperror.WithContext("invalid diff bid level"))
	}
	asks, err := ParseLevels(ev.Asks)
	if err != nil {
		p.metrics.parseErrors.Add(ctx, 1)
		return apperror.New(apperror.CodeExchangeParseError,
			apperror.WithCause(err),
			apperror.WithContext("invalid diff ask level"))
	}

	p.bookMu.Lock()
	p.book.ApplyDelta(bids, asks)
	p.book.LastUpdateID = ev.FinalUpdateID
	p.bookMu.Unlock()

	p.metrics.depthUpdates.Add(ctx, 1)
	return nil
}

// parseEvent decodes a stream message. Non-depth messages return (nil, nil).
func (p *Provider) parseEvent(ctx context.Context, msg []byte) (*DepthUpdateEvent, error) {
	var ev DepthUpdateEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		p.metrics.parseErrors.Add(ctx, 1)
		return nil, apperror.New(apperror.CodeExchangeParseError,
			apperror.WithCause(err),
			apperror.WithContext("unreadable stream message"))
	}
	if ev.EventType != EventTypeDepthUpdate {
		return nil, nil
	}
	return &ev, nil
}

// Book returns a copy of the current shared book, or nil before the first
// snapshot. Used by the order book API handler.
func (p *Provider) Book() *domain.OrderBook {
	p.bookMu.RLock()
	defer p.bookMu.RUnlock()

	if p.book == nil {
		return nil
	}

	return &domain.OrderBook{
		Bids:         append([]domain.PriceLevel(nil), p.book.Bids...),
		Asks:         append([]domain.PriceLevel(nil), p.book.Asks...),
		LastUpdateID: p.book.LastUpdateID,
	}
}
