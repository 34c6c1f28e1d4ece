// Package binance implements the Exchange capability over Binance's depth
// diff stream, reconciled against REST snapshots.
package binance

import (
	"fmt"
	"strconv"
	"time"

	"github.com/fd1az/global-price-index/business/index/domain"
)

// Event types
const (
	EventTypeDepthUpdate = "depthUpdate"
)

// DepthUpdateEvent represents a diff depth update.
// Stream: <symbol>@depth
type DepthUpdateEvent struct {
	EventType     string     `json:"e"` // "depthUpdate"
	EventTime     int64      `json:"E"` // Event time (ms)
	Symbol        string     `json:"s"` // Symbol
	FirstUpdateID uint64     `json:"U"` // First update ID in event
	FinalUpdateID uint64     `json:"u"` // Final update ID in event
	Bids          [][]string `json:"b"` // Bid updates [price, qty]
	Asks          [][]string `json:"a"` // Ask updates [price, qty]
}

// Timestamp returns the event time as time.Time.
func (e *DepthUpdateEvent) Timestamp() time.Time {
	return time.UnixMilli(e.EventTime)
}

// DepthSnapshot is the REST depth response.
type DepthSnapshot struct {
	LastUpdateID uint64     `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"` // [[price, qty], ...]
	Asks         [][]string `json:"asks"` // [[price, qty], ...]
}

// ParseLevels converts raw [price, qty] string pairs into price levels.
// Zero quantities are kept: in diff events they are removal markers. An
// unparseable or non-positive price rejects the whole message.
func ParseLevels(raw [][]string) ([]domain.PriceLevel, error) {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, entry := range raw {
		if len(entry) < 2 {
			return nil, fmt.Errorf("level has %d fields, want 2", len(entry))
		}
		price, err := strconv.ParseFloat(entry[0], 64)
		if err != nil {
			return nil, fmt.Errorf("unparseable price %q", entry[0])
		}
		qty, err := strconv.ParseFloat(entry[1], 64)
		if err != nil {
			return nil, fmt.Errorf("unparseable quantity %q", entry[1])
		}
		level := domain.PriceLevel{Price: price, Quantity: qty}
		if !level.Valid() || level.Price <= 0 {
			return nil, fmt.Errorf("invalid level (%v, %v)", price, qty)
		}
		levels = append(levels, level)
	}
	return levels, nil
}
