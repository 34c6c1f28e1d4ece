// Package rest exposes the price index over HTTP and serves the static
// dashboard.
package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"github.com/fd1az/global-price-index/business/index/domain"
	"github.com/fd1az/global-price-index/internal/logger"
)

// Aggregator is the operation the API translates to HTTP.
type Aggregator interface {
	Aggregate(ctx context.Context) (*domain.PriceData, error)
}

// BookSource exposes the streaming order book for inspection. Nil results
// mean no snapshot has been received yet.
type BookSource interface {
	Book() *domain.OrderBook
}

// orderBookDepth caps the levels returned by the order book endpoint.
const orderBookDepth = 50

// Config holds the API server settings.
type Config struct {
	ListenAddr string
	StaticDir  string // Optional dashboard directory; skipped when absent
}

// Server is the HTTP API server.
type Server struct {
	config     Config
	aggregator Aggregator
	books      BookSource
	logger     logger.LoggerInterface
	router     *mux.Router
	server     *http.Server
}

// NewServer creates the API server and its routes. books may be nil, which
// disables the order book endpoint.
func NewServer(cfg Config, aggregator Aggregator, books BookSource, log logger.LoggerInterface) *Server {
	s := &Server{
		config:     cfg,
		aggregator: aggregator,
		books:      books,
		logger:     log,
	}

	r := mux.NewRouter()
	r.HandleFunc("/global-price", s.handleGlobalPrice).Methods(http.MethodGet)
	if books != nil {
		r.HandleFunc("/order-book", s.handleOrderBook).Methods(http.MethodGet)
	}

	if cfg.StaticDir != "" {
		if _, err := os.Stat(cfg.StaticDir); err == nil {
			r.PathPrefix("/").Handler(http.FileServer(http.Dir(cfg.StaticDir)))
		}
	}

	s.router = r
	s.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return s
}

// Handler returns the route handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info(context.Background(), "api server listening", "addr", s.config.ListenAddr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error(context.Background(), "api server failed", "error", err)
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleGlobalPrice translates the aggregator result to JSON or 503.
func (s *Server) handleGlobalPrice(w http.ResponseWriter, r *http.Request) {
	data, err := s.aggregator.Aggregate(r.Context())

	w.Header().Set("Content-Type", "application/json")

	if err != nil {
		// Error detail stays in the logs; the API only reports
		// unavailability.
		s.logger.Warn(r.Context(), "global price unavailable", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "All exchanges unavailable",
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error(r.Context(), "failed to encode price data", "error", err)
	}
}

// bookLevel is the wire shape of one order book level.
type bookLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// handleOrderBook exposes the top of the streaming Binance book.
func (s *Server) handleOrderBook(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	book := s.books.Book()
	if book == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "Order book not available",
		})
		return
	}

	payload := struct {
		LastUpdateID uint64      `json:"last_update_id"`
		Bids         []bookLevel `json:"bids"`
		Asks         []bookLevel `json:"asks"`
	}{
		LastUpdateID: book.LastUpdateID,
		Bids:         topLevels(book.Bids),
		Asks:         topLevels(book.Asks),
	}

	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error(r.Context(), "failed to encode order book", "error", err)
	}
}

func topLevels(levels []domain.PriceLevel) []bookLevel {
	n := len(levels)
	if n > orderBookDepth {
		n = orderBookDepth
	}
	out := make([]bookLevel, n)
	for i := 0; i < n; i++ {
		out[i] = bookLevel{Price: levels[i].Price, Quantity: levels[i].Quantity}
	}
	return out
}
