package ui

import "github.com/fd1az/global-price-index/business/index/domain"

// Message types for TUI updates

// PriceUpdateMsg carries a fresh aggregation result.
type PriceUpdateMsg struct {
	Data *domain.PriceData
}

// PriceErrorMsg is sent when aggregation fails.
type PriceErrorMsg struct {
	Error error
}

// StreamStateMsg carries the Binance driver state.
type StreamStateMsg struct {
	State string
}

// TickMsg drives the periodic refresh.
type TickMsg struct{}
