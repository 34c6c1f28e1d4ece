package binance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/global-price-index/internal/apperror"
	"github.com/fd1az/global-price-index/internal/httpclient"
	"github.com/fd1az/global-price-index/internal/logger"
	"github.com/fd1az/global-price-index/internal/ratelimit"
)

const (
	defaultRestURL = "https://api.binance.com/api/v3/depth?symbol=BTCUSDT&limit=1000"
	httpTimeout    = 5 * time.Second

	// The limit=1000 depth request carries a heavy request weight. A small
	// burst lets back-to-back resyncs proceed promptly while the sustained
	// rate stays far below Binance's budget.
	snapshotRatePerSecond = 0.4
	snapshotBurst         = 5
)

// HTTPClientConfig holds configuration for the snapshot client.
type HTTPClientConfig struct {
	URL     string        // Full depth snapshot URL including query
	Timeout time.Duration // Request timeout
}

// HTTPClient fetches depth snapshots for stream reconciliation.
type HTTPClient struct {
	client  httpclient.Client
	config  HTTPClientConfig
	limiter *ratelimit.Limiter
	logger  logger.LoggerInterface
	tracer  trace.Tracer
}

// NewHTTPClient creates a new snapshot client.
func NewHTTPClient(cfg HTTPClientConfig, log logger.LoggerInterface) (*HTTPClient, error) {
	if cfg.URL == "" {
		cfg.URL = defaultRestURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = httpTimeout
	}

	client, err := httpclient.NewInstrumentedClient(
		httpclient.WithProviderName("binance"),
		httpclient.WithRequestTimeout(cfg.Timeout),
		httpclient.WithHeaders(map[string]string{
			"Accept": "application/json",
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	return &HTTPClient{
		client:  client,
		config:  cfg,
		limiter: ratelimit.NewWithBurst(snapshotRatePerSecond, snapshotBurst),
		logger:  log,
		tracer:  otel.Tracer(tracerName),
	}, nil
}

// GetDepth fetches the order book snapshot.
func (c *HTTPClient) GetDepth(ctx context.Context) (*DepthSnapshot, error) {
	ctx, span := c.tracer.Start(ctx, "binance.http.get_depth")
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperror.New(apperror.CodeRateLimitExceeded,
			apperror.WithCause(err),
			apperror.WithContext("snapshot rate limit wait aborted"))
	}

	var snapshot DepthSnapshot
	_, err := c.client.NewRequestWithOptions(
		httpclient.WithLabels(httpclient.NewLabel("endpoint", "depth_snapshot")),
		httpclient.WithResponseErrorHandler(httpclient.StatusErrorHandler()),
	).
		SetResult(&snapshot).
		Get(ctx, c.config.URL)

	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) {
			return nil, apperror.New(apperror.CodeExchangeHTTPError,
				apperror.WithCause(err),
				apperror.WithContext("snapshot returned a bad status"))
		}
		var unmarshalErr *httpclient.UnmarshalError
		if errors.As(err, &unmarshalErr) {
			return nil, apperror.New(apperror.CodeExchangeParseError,
				apperror.WithCause(err),
				apperror.WithContext("snapshot response is not valid JSON"))
		}
		return nil, apperror.New(apperror.CodeExchangeHTTPError,
			apperror.WithCause(err),
			apperror.WithContext("snapshot request failed"))
	}

	span.SetAttributes(
		attribute.Int("bids", len(snapshot.Bids)),
		attribute.Int("asks", len(snapshot.Asks)),
		attribute.Int64("last_update_id", int64(snapshot.LastUpdateID)),
	)

	c.logger.Debug(ctx, "fetched depth snapshot",
		"last_update_id", snapshot.LastUpdateID,
		"bids", len(snapshot.Bids),
		"asks", len(snapshot.Asks))

	return &snapshot, nil
}
