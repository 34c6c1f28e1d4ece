package app

import (
	"context"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/global-price-index/business/index/domain"
	"github.com/fd1az/global-price-index/internal/apperror"
	"github.com/fd1az/global-price-index/internal/logger"
)

const (
	tracerName = "index"
	meterName  = "index"
)

// AggregatorConfig holds aggregation tuning.
type AggregatorConfig struct {
	// DecayFactor is the exponential decay time constant in seconds.
	DecayFactor float64
	// FanoutTimeout bounds the concurrent exchange fan-out; an exchange that
	// has not answered by then counts as failed.
	FanoutTimeout time.Duration
}

// DefaultAggregatorConfig returns sensible defaults.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		DecayFactor:   300,
		FanoutTimeout: 5 * time.Second,
	}
}

// aggregatorMetrics holds OTEL metric instruments.
type aggregatorMetrics struct {
	aggregations     metric.Int64Counter
	exchangeFailures metric.Int64Counter
}

// Aggregator computes the global price index from the configured exchanges.
type Aggregator struct {
	config    AggregatorConfig
	exchanges []Exchange
	logger    logger.LoggerInterface

	now func() time.Time

	tracer  trace.Tracer
	metrics *aggregatorMetrics
}

// NewAggregator creates an Aggregator over the given exchanges. The exchange
// order is preserved in the output payload.
func NewAggregator(cfg AggregatorConfig, exchanges []Exchange, log logger.LoggerInterface) (*Aggregator, error) {
	a := &Aggregator{
		config:    cfg,
		exchanges: exchanges,
		logger:    log,
		now:       time.Now,
		tracer:    otel.Tracer(tracerName),
	}

	if err := a.initMetrics(); err != nil {
		return nil, err
	}

	return a, nil
}

func (a *Aggregator) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	a.metrics = &aggregatorMetrics{}

	a.metrics.aggregations, err = meter.Int64Counter(
		"index_aggregations_total",
		metric.WithDescription("Total aggregation requests"),
	)
	if err != nil {
		return err
	}

	a.metrics.exchangeFailures, err = meter.Int64Counter(
		"index_exchange_failures_total",
		metric.WithDescription("Exchange failures swallowed during aggregation"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Aggregate fans out to every exchange concurrently, waits for all of them
// (bounded by FanoutTimeout), and combines the successful mid-prices into a
// time-decay weighted index. Individual exchange failures are logged and
// excluded; only a complete failure surfaces as an error.
func (a *Aggregator) Aggregate(ctx context.Context) (*domain.PriceData, error) {
	ctx, span := a.tracer.Start(ctx, "index.aggregate",
		trace.WithAttributes(attribute.Int("exchanges", len(a.exchanges))),
	)
	defer span.End()

	a.metrics.aggregations.Add(ctx, 1)

	fanoutCtx, cancel := context.WithTimeout(ctx, a.config.FanoutTimeout)
	defer cancel()

	results := make([]*domain.ExchangePrice, len(a.exchanges))

	var wg sync.WaitGroup
	for i, ex := range a.exchanges {
		wg.Add(1)
		go func(i int, ex Exchange) {
			defer wg.Done()

			price, err := ex.GetMidPrice(fanoutCtx)
			if err != nil {
				a.metrics.exchangeFailures.Add(ctx, 1,
					metric.WithAttributes(attribute.String("exchange", ex.Name())))
				a.logger.Warn(ctx, "exchange excluded from index",
					"exchange", ex.Name(),
					"error", err)
				return
			}
			results[i] = &price
		}(i, ex)
	}
	wg.Wait()

	prices := make([]domain.ExchangePrice, 0, len(results))
	for _, r := range results {
		if r != nil {
			prices = append(prices, *r)
		}
	}

	if len(prices) == 0 {
		span.SetAttributes(attribute.Bool("no_data", true))
		return nil, apperror.New(apperror.CodeNoPriceData,
			apperror.WithContext("no exchange produced a mid-price"))
	}

	now := domain.UnixSeconds(a.now())
	indexPrice := weightedIndex(prices, now, a.config.DecayFactor)

	span.SetAttributes(
		attribute.Int("successful_exchanges", len(prices)),
		attribute.Float64("price", indexPrice),
	)

	return &domain.PriceData{
		Price:          indexPrice,
		Timestamp:      now,
		ExchangePrices: prices,
	}, nil
}

// weightedIndex combines mid-prices with weights exp(-age/tau). With at least
// one price every weight is strictly positive, so the denominator never
// vanishes.
func weightedIndex(prices []domain.ExchangePrice, now, decayFactor float64) float64 {
	var weightedSum, weightTotal float64
	for _, p := range prices {
		age := now - p.Timestamp
		if age < 0 {
			age = 0
		}
		w := math.Exp(-age / decayFactor)
		weightedSum += p.MidPrice * w
		weightTotal += w
	}
	return weightedSum / weightTotal
}

// Exchanges returns the configured exchanges, in payload order.
func (a *Aggregator) Exchanges() []Exchange {
	return a.exchanges
}
