package binance

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/fd1az/global-price-index/internal/apperror"
	"github.com/fd1az/global-price-index/internal/logger"
)

func testLogger() logger.LoggerInterface {
	return logger.New(io.Discard, logger.LevelError, "test", nil)
}

// depthEvent builds a depthUpdate stream message.
func depthEvent(firstID, finalID uint64, bids, asks string) []byte {
	return []byte(fmt.Sprintf(
		`{"e":"depthUpdate","E":1700000000000,"s":"BTCUSDT","U":%d,"u":%d,"b":[%s],"a":[%s]}`,
		firstID, finalID, bids, asks))
}

// streamServer serves scripted event batches, one per accepted connection.
func streamServer(t *testing.T, scripts ...[][]byte) *httptest.Server {
	t.Helper()

	var next atomic.Int32
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		idx := int(next.Add(1)) - 1
		if idx >= len(scripts) {
			idx = len(scripts) - 1
		}

		ctx := r.Context()
		for _, msg := range scripts[idx] {
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}

		// Keep the connection open until the client goes away.
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func newTestProvider(t *testing.T, wsServer, restServer *httptest.Server) *Provider {
	t.Helper()

	cfg := DefaultProviderConfig()
	cfg.WSURL = wsURL(wsServer)
	cfg.RestURL = restServer.URL
	cfg.InitialReconnectDelay = 20 * time.Millisecond
	cfg.MaxReconnectDelay = 200 * time.Millisecond
	cfg.RestTimeout = 2 * time.Second

	provider, err := NewProvider(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	return provider
}

// waitForMid polls GetMidPrice until it returns the expected value.
func waitForMid(t *testing.T, p *Provider, want float64, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	var lastErr error
	var lastMid float64

	for time.Now().Before(deadline) {
		price, err := p.GetMidPrice(context.Background())
		lastErr = err
		if err == nil {
			lastMid = price.MidPrice
			if price.MidPrice == want {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("mid-price never reached %v (last mid %v, last err %v)", want, lastMid, lastErr)
}

func TestProvider_SnapshotAndDiffReconciliation(t *testing.T) {
	restServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"lastUpdateId": 1000,
			"bids": [["100.0", "1.0"], ["99.0", "2.0"]],
			"asks": [["101.0", "1.0"]]
		}`))
	}))
	defer restServer.Close()

	wsServer := streamServer(t, [][]byte{
		// Entirely covered by the snapshot: must be dropped.
		depthEvent(998, 1000, `["95.0","9.0"]`, ``),
		// Aligning event: U <= S+1 <= u.
		depthEvent(1001, 1002, `["100.0","3.0"]`, ``),
		// Contiguous follow-up: removes the 99 bid, adds a 102 ask.
		depthEvent(1003, 1003, `["99.0","0"]`, `["102.0","1.0"]`),
	})
	defer wsServer.Close()

	provider := newTestProvider(t, wsServer, restServer)
	provider.Start(context.Background())
	defer provider.Close()

	// After both diffs: best bid 100, best ask 101.
	waitForMid(t, provider, 100.5, 3*time.Second)

	if !provider.IsLive() {
		t.Error("expected driver to be live")
	}

	book := provider.Book()
	if book == nil {
		t.Fatal("expected a seeded book")
	}
	if book.LastUpdateID != 1003 {
		t.Errorf("expected LastUpdateID 1003, got %d", book.LastUpdateID)
	}
	if len(book.Bids) != 1 || book.Bids[0].Quantity != 3.0 {
		t.Errorf("expected single bid (100, 3), got %v", book.Bids)
	}
	if len(book.Asks) != 2 {
		t.Errorf("expected 2 asks, got %v", book.Asks)
	}
}

func TestProvider_SequenceGapTriggersResync(t *testing.T) {
	var snapshotCalls atomic.Int32
	restServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if snapshotCalls.Add(1) == 1 {
			w.Write([]byte(`{
				"lastUpdateId": 1000,
				"bids": [["100.0", "1.0"]],
				"asks": [["101.0", "1.0"]]
			}`))
			return
		}
		w.Write([]byte(`{
			"lastUpdateId": 2000,
			"bids": [["200.0", "1.0"]],
			"asks": [["202.0", "1.0"]]
		}`))
	}))
	defer restServer.Close()

	wsServer := streamServer(t,
		[][]byte{
			depthEvent(1001, 1001, `["100.0","2.0"]`, ``),
			depthEvent(1002, 1002, ``, ``),
			// u jumps from 1002 to 1004: gap, driver must resync.
			depthEvent(1004, 1004, `["100.0","9.0"]`, ``),
		},
		[][]byte{
			depthEvent(2001, 2001, ``, ``),
			depthEvent(2002, 2002, `["201.0","0.5"]`, ``),
		},
	)
	defer wsServer.Close()

	provider := newTestProvider(t, wsServer, restServer)
	provider.Start(context.Background())
	defer provider.Close()

	// After resync: best bid 201, best ask 202.
	waitForMid(t, provider, 201.5, 5*time.Second)

	if calls := snapshotCalls.Load(); calls < 2 {
		t.Errorf("expected at least 2 snapshot fetches, got %d", calls)
	}

	book := provider.Book()
	if book == nil {
		t.Fatal("expected a seeded book")
	}
	if book.LastUpdateID != 2002 {
		t.Errorf("expected LastUpdateID 2002, got %d", book.LastUpdateID)
	}
}

func TestProvider_StaleSnapshotRestartsSession(t *testing.T) {
	var snapshotCalls atomic.Int32
	restServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if snapshotCalls.Add(1) == 1 {
			// Far behind the stream: the buffered events start after S+1.
			w.Write([]byte(`{"lastUpdateId": 10, "bids": [["100.0","1.0"]], "asks": [["101.0","1.0"]]}`))
			return
		}
		w.Write([]byte(`{"lastUpdateId": 5000, "bids": [["300.0","1.0"]], "asks": [["302.0","1.0"]]}`))
	}))
	defer restServer.Close()

	wsServer := streamServer(t,
		[][]byte{
			depthEvent(4001, 4002, `["299.0","1.0"]`, ``),
		},
		[][]byte{
			depthEvent(5001, 5001, ``, ``),
		},
	)
	defer wsServer.Close()

	provider := newTestProvider(t, wsServer, restServer)
	provider.Start(context.Background())
	defer provider.Close()

	waitForMid(t, provider, 301, 5*time.Second)

	if calls := snapshotCalls.Load(); calls < 2 {
		t.Errorf("expected a restart with a fresh snapshot, got %d fetches", calls)
	}
}

func TestProvider_NotReadyBeforeStart(t *testing.T) {
	restServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer restServer.Close()

	wsServer := streamServer(t, [][]byte{})
	defer wsServer.Close()

	provider := newTestProvider(t, wsServer, restServer)

	_, err := provider.GetMidPrice(context.Background())
	if err == nil {
		t.Fatal("expected NotReady before any snapshot")
	}
	if apperror.GetCode(err) != apperror.CodeOrderBookNotReady {
		t.Errorf("expected code %s, got %s", apperror.CodeOrderBookNotReady, apperror.GetCode(err))
	}
}

func TestParseLevels_RejectsBadMessages(t *testing.T) {
	tests := []struct {
		name string
		raw  [][]string
		ok   bool
	}{
		{"valid", [][]string{{"100.0", "1.0"}}, true},
		{"zero qty removal marker", [][]string{{"100.0", "0"}}, true},
		{"unparseable price", [][]string{{"abc", "1.0"}}, false},
		{"zero price", [][]string{{"0", "1.0"}}, false},
		{"negative price", [][]string{{"-5", "1.0"}}, false},
		{"missing field", [][]string{{"100.0"}}, false},
		{"nan price", [][]string{{"NaN", "1.0"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLevels(tt.raw)
			if (err == nil) != tt.ok {
				t.Errorf("ParseLevels(%v): expected ok=%v, got err=%v", tt.raw, tt.ok, err)
			}
		})
	}
}
