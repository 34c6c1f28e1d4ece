package app

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/fd1az/global-price-index/business/index/domain"
	"github.com/fd1az/global-price-index/internal/apperror"
	"github.com/fd1az/global-price-index/internal/logger"
)

// fakeExchange is a canned Exchange implementation.
type fakeExchange struct {
	name  string
	price domain.ExchangePrice
	err   error
	delay time.Duration
}

func (f *fakeExchange) Name() string { return f.name }

func (f *fakeExchange) GetMidPrice(ctx context.Context) (domain.ExchangePrice, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return domain.ExchangePrice{}, ctx.Err()
		}
	}
	if f.err != nil {
		return domain.ExchangePrice{}, f.err
	}
	return f.price, nil
}

func testLogger() logger.LoggerInterface {
	return logger.New(io.Discard, logger.LevelError, "test", nil)
}

func newTestAggregator(t *testing.T, cfg AggregatorConfig, now time.Time, exchanges ...Exchange) *Aggregator {
	t.Helper()
	agg, err := NewAggregator(cfg, exchanges, testLogger())
	if err != nil {
		t.Fatalf("NewAggregator failed: %v", err)
	}
	agg.now = func() time.Time { return now }
	return agg
}

func priceAt(name string, mid float64, ts time.Time) domain.ExchangePrice {
	return domain.ExchangePrice{
		Exchange:  name,
		MidPrice:  mid,
		Timestamp: domain.UnixSeconds(ts),
	}
}

func TestAggregate_HappyPath(t *testing.T) {
	epoch := time.Unix(1_700_000_000, 0)
	now := epoch.Add(10 * time.Second)

	cfg := AggregatorConfig{DecayFactor: 300, FanoutTimeout: time.Second}
	agg := newTestAggregator(t, cfg, now,
		&fakeExchange{name: domain.ExchangeBinance, price: priceAt(domain.ExchangeBinance, 84642, epoch)},
		&fakeExchange{name: domain.ExchangeKraken, price: priceAt(domain.ExchangeKraken, 84648.15, now)},
		&fakeExchange{name: domain.ExchangeHuobi, price: priceAt(domain.ExchangeHuobi, 84631.51, epoch)},
	)

	data, err := agg.Aggregate(context.Background())
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	if len(data.ExchangePrices) != 3 {
		t.Fatalf("expected 3 exchange prices, got %d", len(data.ExchangePrices))
	}

	// Near-equal ages keep the index close to the arithmetic mean.
	want := (84642.0 + 84648.15 + 84631.51) / 3
	if math.Abs(data.Price-want) > 0.5 {
		t.Errorf("expected price ~%v, got %v", want, data.Price)
	}

	if data.Timestamp != domain.UnixSeconds(now) {
		t.Errorf("expected timestamp %v, got %v", domain.UnixSeconds(now), data.Timestamp)
	}

	// Payload preserves configured exchange order.
	wantOrder := []string{domain.ExchangeBinance, domain.ExchangeKraken, domain.ExchangeHuobi}
	for i, name := range wantOrder {
		if data.ExchangePrices[i].Exchange != name {
			t.Errorf("position %d: expected %s, got %s", i, name, data.ExchangePrices[i].Exchange)
		}
	}
}

func TestAggregate_OneFailure(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	cfg := AggregatorConfig{DecayFactor: 300, FanoutTimeout: time.Second}
	agg := newTestAggregator(t, cfg, now,
		&fakeExchange{name: domain.ExchangeBinance, price: priceAt(domain.ExchangeBinance, 84642, now)},
		&fakeExchange{name: domain.ExchangeKraken, err: apperror.New(apperror.CodeExchangeAPIError, apperror.WithContext("EGeneral:Invalid"))},
		&fakeExchange{name: domain.ExchangeHuobi, price: priceAt(domain.ExchangeHuobi, 84631.51, now)},
	)

	data, err := agg.Aggregate(context.Background())
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	if len(data.ExchangePrices) != 2 {
		t.Fatalf("expected 2 exchange prices, got %d", len(data.ExchangePrices))
	}

	want := (84642.0 + 84631.51) / 2
	if math.Abs(data.Price-want) > 1e-9 {
		t.Errorf("expected price %v, got %v", want, data.Price)
	}
}

func TestAggregate_AllFail(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	failure := errors.New("connection refused")

	cfg := AggregatorConfig{DecayFactor: 300, FanoutTimeout: time.Second}
	agg := newTestAggregator(t, cfg, now,
		&fakeExchange{name: domain.ExchangeBinance, err: failure},
		&fakeExchange{name: domain.ExchangeKraken, err: failure},
		&fakeExchange{name: domain.ExchangeHuobi, err: failure},
	)

	_, err := agg.Aggregate(context.Background())
	if err == nil {
		t.Fatal("expected error when all exchanges fail")
	}

	if apperror.GetCode(err) != apperror.CodeNoPriceData {
		t.Errorf("expected code %s, got %s", apperror.CodeNoPriceData, apperror.GetCode(err))
	}
}

func TestAggregate_DecaySkew(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	cfg := AggregatorConfig{DecayFactor: 300, FanoutTimeout: time.Second}
	agg := newTestAggregator(t, cfg, now,
		&fakeExchange{name: domain.ExchangeBinance, price: priceAt(domain.ExchangeBinance, 50000, now.Add(-10*time.Second))},
		&fakeExchange{name: domain.ExchangeKraken, price: priceAt(domain.ExchangeKraken, 50500, now.Add(-60*time.Second))},
		&fakeExchange{name: domain.ExchangeHuobi, price: priceAt(domain.ExchangeHuobi, 49800, now.Add(-120*time.Second))},
	)

	data, err := agg.Aggregate(context.Background())
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	if math.Abs(data.Price-50112) > 1 {
		t.Errorf("expected price 50112 +/- 1, got %v", data.Price)
	}
}

func TestAggregate_SlowExchangeExcluded(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	cfg := AggregatorConfig{DecayFactor: 300, FanoutTimeout: 50 * time.Millisecond}
	agg := newTestAggregator(t, cfg, now,
		&fakeExchange{name: domain.ExchangeBinance, price: priceAt(domain.ExchangeBinance, 50000, now)},
		&fakeExchange{name: domain.ExchangeKraken, price: priceAt(domain.ExchangeKraken, 50500, now), delay: time.Second},
	)

	data, err := agg.Aggregate(context.Background())
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	if len(data.ExchangePrices) != 1 {
		t.Fatalf("expected 1 exchange price, got %d", len(data.ExchangePrices))
	}
	if data.ExchangePrices[0].Exchange != domain.ExchangeBinance {
		t.Errorf("expected Binance to survive, got %s", data.ExchangePrices[0].Exchange)
	}
}

func TestAggregate_PriceWithinBounds(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	cfg := AggregatorConfig{DecayFactor: 300, FanoutTimeout: time.Second}
	agg := newTestAggregator(t, cfg, now,
		&fakeExchange{name: domain.ExchangeBinance, price: priceAt(domain.ExchangeBinance, 49000, now.Add(-5*time.Second))},
		&fakeExchange{name: domain.ExchangeKraken, price: priceAt(domain.ExchangeKraken, 51000, now.Add(-200*time.Second))},
		&fakeExchange{name: domain.ExchangeHuobi, price: priceAt(domain.ExchangeHuobi, 50000, now.Add(-700*time.Second))},
	)

	data, err := agg.Aggregate(context.Background())
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	if data.Price < 49000 || data.Price > 51000 {
		t.Errorf("price %v outside [min, max] of inputs", data.Price)
	}
}

func TestWeightedIndex_EqualTimestampsIsMean(t *testing.T) {
	now := 1_700_000_000.0
	prices := []domain.ExchangePrice{
		{Exchange: "a", MidPrice: 100, Timestamp: now},
		{Exchange: "b", MidPrice: 200, Timestamp: now},
		{Exchange: "c", MidPrice: 300, Timestamp: now},
	}

	got := weightedIndex(prices, now, 300)
	if math.Abs(got-200) > 1e-9 {
		t.Errorf("expected arithmetic mean 200, got %v", got)
	}
}

func TestWeightedIndex_FutureTimestampClampedToZeroAge(t *testing.T) {
	now := 1_700_000_000.0
	prices := []domain.ExchangePrice{
		{Exchange: "a", MidPrice: 100, Timestamp: now + 60},
		{Exchange: "b", MidPrice: 300, Timestamp: now},
	}

	// Clock skew must not inflate a weight above 1.
	got := weightedIndex(prices, now, 300)
	if math.Abs(got-200) > 1e-9 {
		t.Errorf("expected 200 with both weights at 1, got %v", got)
	}
}

func TestDecayWeights(t *testing.T) {
	const tau = 300.0

	if w := math.Exp(-0 / tau); w != 1.0 {
		t.Errorf("zero age weight: expected 1.0, got %v", w)
	}
	if w := math.Exp(math.Inf(-1)); w != 0.0 {
		t.Errorf("infinite age weight: expected 0.0, got %v", w)
	}
	for _, age := range []float64{1, 60, 300, 3600, 86400} {
		if w := math.Exp(-age / tau); w <= 0 {
			t.Errorf("age %v: weight %v not strictly positive", age, w)
		}
	}
}
