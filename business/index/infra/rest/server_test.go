package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fd1az/global-price-index/business/index/domain"
	"github.com/fd1az/global-price-index/internal/apperror"
	"github.com/fd1az/global-price-index/internal/logger"
)

type stubAggregator struct {
	data *domain.PriceData
	err  error
}

func (s *stubAggregator) Aggregate(ctx context.Context) (*domain.PriceData, error) {
	return s.data, s.err
}

func testLogger() logger.LoggerInterface {
	return logger.New(io.Discard, logger.LevelError, "test", nil)
}

func TestHandleGlobalPrice_OK(t *testing.T) {
	agg := &stubAggregator{
		data: &domain.PriceData{
			Price:     84640.55,
			Timestamp: 1700000010,
			ExchangePrices: []domain.ExchangePrice{
				{Exchange: domain.ExchangeBinance, MidPrice: 84642, Timestamp: 1700000000},
				{Exchange: domain.ExchangeKraken, MidPrice: 84648.15, Timestamp: 1700000010},
			},
		},
	}

	server := NewServer(Config{ListenAddr: ":0"}, agg, nil, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/global-price", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}

	var payload struct {
		Price          float64 `json:"price"`
		Timestamp      float64 `json:"timestamp"`
		ExchangePrices []struct {
			Exchange  string  `json:"exchange"`
			MidPrice  float64 `json:"mid_price"`
			Timestamp float64 `json:"timestamp"`
		} `json:"exchange_prices"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}

	if payload.Price != 84640.55 {
		t.Errorf("expected price 84640.55, got %v", payload.Price)
	}
	if len(payload.ExchangePrices) != 2 {
		t.Fatalf("expected 2 exchange prices, got %d", len(payload.ExchangePrices))
	}
	if payload.ExchangePrices[0].Exchange != domain.ExchangeBinance {
		t.Errorf("expected Binance first, got %s", payload.ExchangePrices[0].Exchange)
	}
}

func TestHandleGlobalPrice_AllUnavailable(t *testing.T) {
	agg := &stubAggregator{
		err: apperror.New(apperror.CodeNoPriceData),
	}

	server := NewServer(Config{ListenAddr: ":0"}, agg, nil, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/global-price", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if payload["error"] != "All exchanges unavailable" {
		t.Errorf("expected generic error message, got %q", payload["error"])
	}
}

func TestHandleGlobalPrice_InternalDetailNotLeaked(t *testing.T) {
	agg := &stubAggregator{
		err: apperror.New(apperror.CodeExchangeParseError,
			apperror.WithContext("kraken pair depth unreadable")),
	}

	server := NewServer(Config{ListenAddr: ":0"}, agg, nil, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/global-price", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	body := rec.Body.String()
	if body == "" {
		t.Fatal("expected a JSON error body")
	}
	for _, leaked := range []string{"kraken", "parse", "PARSE"} {
		if strings.Contains(body, leaked) {
			t.Errorf("error detail %q leaked into API response: %s", leaked, body)
		}
	}
}

type stubBooks struct {
	book *domain.OrderBook
}

func (s *stubBooks) Book() *domain.OrderBook {
	return s.book
}

func TestHandleOrderBook_OK(t *testing.T) {
	agg := &stubAggregator{data: &domain.PriceData{}}
	books := &stubBooks{
		book: domain.NewOrderBook(
			[]domain.PriceLevel{{Price: 100, Quantity: 1}},
			[]domain.PriceLevel{{Price: 101, Quantity: 2}},
			1234,
		),
	}

	server := NewServer(Config{ListenAddr: ":0"}, agg, books, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/order-book", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload struct {
		LastUpdateID uint64 `json:"last_update_id"`
		Bids         []struct {
			Price    float64 `json:"price"`
			Quantity float64 `json:"quantity"`
		} `json:"bids"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if payload.LastUpdateID != 1234 {
		t.Errorf("expected last_update_id 1234, got %d", payload.LastUpdateID)
	}
	if len(payload.Bids) != 1 || payload.Bids[0].Price != 100 {
		t.Errorf("unexpected bids: %+v", payload.Bids)
	}
}

func TestHandleOrderBook_NotReady(t *testing.T) {
	agg := &stubAggregator{data: &domain.PriceData{}}
	server := NewServer(Config{ListenAddr: ":0"}, agg, &stubBooks{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/order-book", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestHandleGlobalPrice_MethodNotAllowed(t *testing.T) {
	agg := &stubAggregator{data: &domain.PriceData{}}
	server := NewServer(Config{ListenAddr: ":0"}, agg, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/global-price", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
