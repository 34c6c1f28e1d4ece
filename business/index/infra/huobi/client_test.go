package huobi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fd1az/global-price-index/business/index/domain"
	"github.com/fd1az/global-price-index/internal/apperror"
	"github.com/fd1az/global-price-index/internal/logger"
)

func testLogger() logger.LoggerInterface {
	return logger.New(io.Discard, logger.LevelError, "test", nil)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(Config{URL: server.URL, Timeout: 2 * time.Second}, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return client
}

func TestGetMidPrice_HappyPath(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "btcusdt" {
			t.Errorf("expected symbol=btcusdt, got %q", got)
		}
		if got := r.URL.Query().Get("type"); got != "step0" {
			t.Errorf("expected type=step0, got %q", got)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"status": "ok",
			"ts": 1700000000000,
			"tick": {
				"bids": [[84630.01, 1.5], [84629.0, 0.3]],
				"asks": [[84633.01, 0.8], [84634.5, 1.1]]
			}
		}`))
	})

	price, err := client.GetMidPrice(context.Background())
	if err != nil {
		t.Fatalf("GetMidPrice failed: %v", err)
	}

	if price.Exchange != domain.ExchangeHuobi {
		t.Errorf("expected exchange %s, got %s", domain.ExchangeHuobi, price.Exchange)
	}
	want := (84630.01 + 84633.01) / 2
	if price.MidPrice != want {
		t.Errorf("expected mid %v, got %v", want, price.MidPrice)
	}
}

func TestGetMidPrice_BadStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "error", "err-code": "invalid-parameter", "err-msg": "invalid symbol"}`))
	})

	_, err := client.GetMidPrice(context.Background())
	if err == nil {
		t.Fatal("expected error for status != ok")
	}
	if apperror.GetCode(err) != apperror.CodeExchangeAPIError {
		t.Errorf("expected code %s, got %s", apperror.CodeExchangeAPIError, apperror.GetCode(err))
	}
}

func TestGetMidPrice_MissingTick(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok", "ts": 1700000000000}`))
	})

	_, err := client.GetMidPrice(context.Background())
	if err == nil {
		t.Fatal("expected error for missing tick")
	}
	if apperror.GetCode(err) != apperror.CodeExchangeParseError {
		t.Errorf("expected code %s, got %s", apperror.CodeExchangeParseError, apperror.GetCode(err))
	}
}

func TestGetMidPrice_EmptySide(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok", "tick": {"bids": [[84630.01, 1.5]], "asks": []}}`))
	})

	_, err := client.GetMidPrice(context.Background())
	if err == nil {
		t.Fatal("expected error for empty ask side")
	}
	if apperror.GetCode(err) != apperror.CodeEmptyOrderBook {
		t.Errorf("expected code %s, got %s", apperror.CodeEmptyOrderBook, apperror.GetCode(err))
	}
}

func TestGetMidPrice_NegativePriceRejectsMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok", "tick": {"bids": [[-1, 1.5]], "asks": [[84633.01, 0.8]]}}`))
	})

	_, err := client.GetMidPrice(context.Background())
	if err == nil {
		t.Fatal("expected error for negative price")
	}
	if apperror.GetCode(err) != apperror.CodeExchangeParseError {
		t.Errorf("expected code %s, got %s", apperror.CodeExchangeParseError, apperror.GetCode(err))
	}
}

func TestGetMidPrice_NonJSONBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>upstream error</html>`))
	})

	_, err := client.GetMidPrice(context.Background())
	if err == nil {
		t.Fatal("expected error for non-JSON body")
	}
	if apperror.GetCode(err) != apperror.CodeExchangeParseError {
		t.Errorf("expected code %s, got %s", apperror.CodeExchangeParseError, apperror.GetCode(err))
	}
}
