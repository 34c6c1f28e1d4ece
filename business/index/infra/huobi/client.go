// Package huobi implements the Exchange capability over Huobi's market depth
// REST endpoint.
package huobi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/global-price-index/business/index/app"
	"github.com/fd1az/global-price-index/business/index/domain"
	"github.com/fd1az/global-price-index/internal/apperror"
	"github.com/fd1az/global-price-index/internal/httpclient"
	"github.com/fd1az/global-price-index/internal/logger"
)

const (
	tracerName = "huobi"

	defaultURL     = "https://api.huobi.pro/market/depth"
	defaultTimeout = 5 * time.Second

	symbol    = "btcusdt"
	depthType = "step0"
)

// Ensure interface compliance.
var _ app.Exchange = (*Client)(nil)

// Config holds configuration for the Huobi client.
type Config struct {
	URL     string        // Depth endpoint without query parameters
	Timeout time.Duration // Request timeout
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:     defaultURL,
		Timeout: defaultTimeout,
	}
}

// Client is a one-shot REST client: each GetMidPrice call fetches a fresh
// depth snapshot, computes the mid-price, and discards the book.
type Client struct {
	config  Config
	client  httpclient.Client
	breaker *gobreaker.CircuitBreaker[*depthResponse]
	logger  logger.LoggerInterface
	tracer  trace.Tracer
}

// New creates a new Huobi client.
func New(cfg Config, log logger.LoggerInterface) (*Client, error) {
	if cfg.URL == "" {
		cfg.URL = defaultURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	client, err := httpclient.NewInstrumentedClient(
		httpclient.WithProviderName("huobi"),
		httpclient.WithRequestTimeout(cfg.Timeout),
		httpclient.WithHeaders(map[string]string{
			"Accept": "application/json",
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker[*depthResponse](gobreaker.Settings{
		Name: "huobi",
	})

	return &Client{
		config:  cfg,
		client:  client,
		breaker: breaker,
		logger:  log,
		tracer:  otel.Tracer(tracerName),
	}, nil
}

// Name returns the exchange display name.
func (c *Client) Name() string {
	return domain.ExchangeHuobi
}

// depthResponse is Huobi's response envelope. Book entries are numeric
// [price, amount] pairs.
type depthResponse struct {
	Status string `json:"status"`
	ErrMsg string `json:"err-msg"`
	Tick   *struct {
		Bids [][]float64 `json:"bids"`
		Asks [][]float64 `json:"asks"`
	} `json:"tick"`
}

// GetMidPrice fetches the depth snapshot and computes the mid-price.
func (c *Client) GetMidPrice(ctx context.Context) (domain.ExchangePrice, error) {
	ctx, span := c.tracer.Start(ctx, "huobi.get_mid_price")
	defer span.End()

	result, err := c.breaker.Execute(func() (*depthResponse, error) {
		return c.fetchDepth(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = apperror.New(apperror.CodeCircuitOpen,
				apperror.WithCause(err),
				apperror.WithContext("huobi breaker rejecting requests"))
		}
		span.RecordError(err)
		return domain.ExchangePrice{}, err
	}

	if result.Status != "ok" {
		msg := result.ErrMsg
		if msg == "" {
			msg = fmt.Sprintf("status %q", result.Status)
		}
		return domain.ExchangePrice{}, apperror.New(apperror.CodeExchangeAPIError,
			apperror.WithContext(msg))
	}

	if result.Tick == nil {
		return domain.ExchangePrice{}, apperror.New(apperror.CodeExchangeParseError,
			apperror.WithContext("huobi response missing tick"))
	}

	bids, err := parseLevels(result.Tick.Bids)
	if err != nil {
		return domain.ExchangePrice{}, apperror.New(apperror.CodeExchangeParseError,
			apperror.WithCause(err),
			apperror.WithContext("invalid bid level"))
	}
	asks, err := parseLevels(result.Tick.Asks)
	if err != nil {
		return domain.ExchangePrice{}, apperror.New(apperror.CodeExchangeParseError,
			apperror.WithCause(err),
			apperror.WithContext("invalid ask level"))
	}

	book := domain.NewOrderBook(bids, asks, 0)
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return domain.ExchangePrice{}, apperror.New(apperror.CodeEmptyOrderBook,
			apperror.WithContext("huobi depth has an empty side"))
	}

	mid, ok := book.MidPrice()
	if !ok {
		return domain.ExchangePrice{}, apperror.New(apperror.CodeInvalidMid,
			apperror.WithContext("huobi book is crossed or degenerate"))
	}

	span.SetAttributes(attribute.Float64("mid_price", mid))

	return domain.ExchangePrice{
		Exchange:  domain.ExchangeHuobi,
		MidPrice:  mid,
		Timestamp: domain.UnixSeconds(time.Now()),
	}, nil
}

// fetchDepth performs the HTTP round trip.
func (c *Client) fetchDepth(ctx context.Context) (*depthResponse, error) {
	var result depthResponse
	_, err := c.client.NewRequestWithOptions(
		httpclient.WithLabels(httpclient.NewLabel("endpoint", "depth")),
		httpclient.WithResponseErrorHandler(httpclient.StatusErrorHandler()),
	).
		SetQueryParam("symbol", symbol).
		SetQueryParam("type", depthType).
		SetResult(&result).
		Get(ctx, c.config.URL)

	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) {
			return nil, apperror.New(apperror.CodeExchangeHTTPError,
				apperror.WithCause(err),
				apperror.WithContext("huobi depth returned a bad status"))
		}
		var unmarshalErr *httpclient.UnmarshalError
		if errors.As(err, &unmarshalErr) {
			return nil, apperror.New(apperror.CodeExchangeParseError,
				apperror.WithCause(err),
				apperror.WithContext("huobi depth response is not valid JSON"))
		}
		return nil, apperror.New(apperror.CodeExchangeHTTPError,
			apperror.WithCause(err),
			apperror.WithContext("huobi depth request failed"))
	}

	return &result, nil
}

// parseLevels converts raw [price, amount] entries into price levels. Any
// invalid or non-positive price rejects the whole message.
func parseLevels(raw [][]float64) ([]domain.PriceLevel, error) {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, entry := range raw {
		if len(entry) < 2 {
			return nil, fmt.Errorf("level has %d fields, want 2", len(entry))
		}
		level := domain.PriceLevel{Price: entry[0], Quantity: entry[1]}
		if !level.Valid() || level.Price <= 0 {
			return nil, fmt.Errorf("invalid level (%v, %v)", entry[0], entry[1])
		}
		levels = append(levels, level)
	}
	return levels, nil
}
