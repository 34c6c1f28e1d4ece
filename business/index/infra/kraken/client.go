// Package kraken implements the Exchange capability over Kraken's public
// Depth REST endpoint.
package kraken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
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
	tracerName = "kraken"

	defaultURL     = "https://api.kraken.com/0/public/Depth?pair=XBTUSDT"
	defaultTimeout = 5 * time.Second
)

// Ensure interface compliance.
var _ app.Exchange = (*Client)(nil)

// Config holds configuration for the Kraken client.
type Config struct {
	URL     string        // Depth endpoint including the pair query
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
	breaker *gobreaker.CircuitBreaker[*depthEnvelope]
	logger  logger.LoggerInterface
	tracer  trace.Tracer
}

// New creates a new Kraken client.
func New(cfg Config, log logger.LoggerInterface) (*Client, error) {
	if cfg.URL == "" {
		cfg.URL = defaultURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	client, err := httpclient.NewInstrumentedClient(
		httpclient.WithProviderName("kraken"),
		httpclient.WithRequestTimeout(cfg.Timeout),
		httpclient.WithHeaders(map[string]string{
			"Accept": "application/json",
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker[*depthEnvelope](gobreaker.Settings{
		Name: "kraken",
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
	return domain.ExchangeKraken
}

// depthEnvelope is Kraken's response wrapper.
type depthEnvelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// pairDepth is the per-pair book payload. Entries are
// [price_str, volume_str, timestamp_num].
type pairDepth struct {
	Bids [][]any `json:"bids"`
	Asks [][]any `json:"asks"`
}

// GetMidPrice fetches the depth snapshot and computes the mid-price.
func (c *Client) GetMidPrice(ctx context.Context) (domain.ExchangePrice, error) {
	ctx, span := c.tracer.Start(ctx, "kraken.get_mid_price")
	defer span.End()

	envelope, err := c.breaker.Execute(func() (*depthEnvelope, error) {
		return c.fetchDepth(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = apperror.New(apperror.CodeCircuitOpen,
				apperror.WithCause(err),
				apperror.WithContext("kraken breaker rejecting requests"))
		}
		span.RecordError(err)
		return domain.ExchangePrice{}, err
	}

	if len(envelope.Error) > 0 {
		return domain.ExchangePrice{}, apperror.New(apperror.CodeExchangeAPIError,
			apperror.WithContext(strings.Join(envelope.Error, "; ")))
	}

	depth, pairKey, err := firstResultPair(envelope.Result)
	if err != nil {
		return domain.ExchangePrice{}, err
	}
	span.SetAttributes(attribute.String("pair_key", pairKey))

	bids, err := parseLevels(depth.Bids)
	if err != nil {
		return domain.ExchangePrice{}, apperror.New(apperror.CodeExchangeParseError,
			apperror.WithCause(err),
			apperror.WithContext("invalid bid level"))
	}
	asks, err := parseLevels(depth.Asks)
	if err != nil {
		return domain.ExchangePrice{}, apperror.New(apperror.CodeExchangeParseError,
			apperror.WithCause(err),
			apperror.WithContext("invalid ask level"))
	}

	book := domain.NewOrderBook(bids, asks, 0)
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return domain.ExchangePrice{}, apperror.New(apperror.CodeEmptyOrderBook,
			apperror.WithContext("kraken depth has an empty side"))
	}

	mid, ok := book.MidPrice()
	if !ok {
		return domain.ExchangePrice{}, apperror.New(apperror.CodeInvalidMid,
			apperror.WithContext("kraken book is crossed or degenerate"))
	}

	span.SetAttributes(attribute.Float64("mid_price", mid))

	return domain.ExchangePrice{
		Exchange:  domain.ExchangeKraken,
		MidPrice:  mid,
		Timestamp: domain.UnixSeconds(time.Now()),
	}, nil
}

// fetchDepth performs the HTTP round trip.
func (c *Client) fetchDepth(ctx context.Context) (*depthEnvelope, error) {
	var envelope depthEnvelope
	_, err := c.client.NewRequestWithOptions(
		httpclient.WithLabels(httpclient.NewLabel("endpoint", "depth")),
		httpclient.WithResponseErrorHandler(httpclient.StatusErrorHandler()),
	).
		SetResult(&envelope).
		Get(ctx, c.config.URL)

	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) {
			return nil, apperror.New(apperror.CodeExchangeHTTPError,
				apperror.WithCause(err),
				apperror.WithContext("kraken depth returned a bad status"))
		}
		var unmarshalErr *httpclient.UnmarshalError
		if errors.As(err, &unmarshalErr) {
			return nil, apperror.New(apperror.CodeExchangeParseError,
				apperror.WithCause(err),
				apperror.WithContext("kraken depth response is not valid JSON"))
		}
		return nil, apperror.New(apperror.CodeExchangeHTTPError,
			apperror.WithCause(err),
			apperror.WithContext("kraken depth request failed"))
	}

	return &envelope, nil
}

// firstResultPair extracts the first pair object under result. Kraken names
// the pair key inconsistently ("XBTUSDT", "XXBTZUSDT", ...), so the key is
// never matched by name.
func firstResultPair(result json.RawMessage) (*pairDepth, string, error) {
	if len(result) == 0 {
		return nil, "", apperror.New(apperror.CodeExchangeParseError,
			apperror.WithContext("kraken response missing result"))
	}

	dec := json.NewDecoder(strings.NewReader(string(result)))

	tok, err := dec.Token()
	if err != nil {
		return nil, "", apperror.New(apperror.CodeExchangeParseError,
			apperror.WithCause(err),
			apperror.WithContext("kraken result is not an object"))
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, "", apperror.New(apperror.CodeExchangeParseError,
			apperror.WithContext("kraken result is not an object"))
	}

	if !dec.More() {
		return nil, "", apperror.New(apperror.CodeExchangeParseError,
			apperror.WithContext("kraken result is empty"))
	}

	keyTok, err := dec.Token()
	if err != nil {
		return nil, "", apperror.New(apperror.CodeExchangeParseError,
			apperror.WithCause(err),
			apperror.WithContext("kraken result key unreadable"))
	}
	pairKey, _ := keyTok.(string)

	var depth pairDepth
	if err := dec.Decode(&depth); err != nil {
		return nil, "", apperror.New(apperror.CodeExchangeParseError,
			apperror.WithCause(err),
			apperror.WithContext("kraken pair depth unreadable"))
	}

	return &depth, pairKey, nil
}

// parseLevels converts raw [price, volume, ...] entries into price levels.
// Any unparseable or non-positive price rejects the whole message.
func parseLevels(raw [][]any) ([]domain.PriceLevel, error) {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, entry := range raw {
		if len(entry) < 2 {
			return nil, fmt.Errorf("level has %d fields, want at least 2", len(entry))
		}
		price, err := toFloat(entry[0])
		if err != nil {
			return nil, fmt.Errorf("price: %w", err)
		}
		qty, err := toFloat(entry[1])
		if err != nil {
			return nil, fmt.Errorf("quantity: %w", err)
		}
		level := domain.PriceLevel{Price: price, Quantity: qty}
		if !level.Valid() || level.Price <= 0 {
			return nil, fmt.Errorf("invalid level (%v, %v)", price, qty)
		}
		levels = append(levels, level)
	}
	return levels, nil
}

// toFloat accepts the string-or-number encodings exchanges use for prices.
func toFloat(v any) (float64, error) {
	switch val := v.(type) {
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("unparseable number %q", val)
		}
		return f, nil
	case float64:
		return val, nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0, fmt.Errorf("unparseable number %q", val)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
