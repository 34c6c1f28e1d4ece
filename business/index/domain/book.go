// Package domain contains the core domain types for the price index context.
package domain

import (
	"math"
	"sort"
)

// PriceLevel represents one resting order aggregate at a price.
type PriceLevel struct {
	Price    float64
	Quantity float64
}

// Valid reports whether the level can enter a book: finite, positive price,
// finite non-negative quantity. NaNs are rejected here so plain float
// comparisons are a total order everywhere else.
func (l PriceLevel) Valid() bool {
	if math.IsNaN(l.Price) || math.IsInf(l.Price, 0) || l.Price <= 0 {
		return false
	}
	if math.IsNaN(l.Quantity) || math.IsInf(l.Quantity, 0) || l.Quantity < 0 {
		return false
	}
	return true
}

// OrderBook holds bids sorted descending and asks sorted ascending by price,
// with no duplicate prices within a side.
type OrderBook struct {
	Bids         []PriceLevel
	Asks         []PriceLevel
	LastUpdateID uint64
}

// NewOrderBook builds a book from unordered levels, sorting each side.
func NewOrderBook(bids, asks []PriceLevel, lastUpdateID uint64) *OrderBook {
	book := &OrderBook{
		Bids:         append([]PriceLevel(nil), bids...),
		Asks:         append([]PriceLevel(nil), asks...),
		LastUpdateID: lastUpdateID,
	}
	book.sortSides()
	return book
}

func (b *OrderBook) sortSides() {
	sort.Slice(b.Bids, func(i, j int) bool {
		return b.Bids[i].Price > b.Bids[j].Price
	})
	sort.Slice(b.Asks, func(i, j int) bool {
		return b.Asks[i].Price < b.Asks[j].Price
	})
}

// BestBid returns the highest bid level.
func (b *OrderBook) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask level.
func (b *OrderBook) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// MidPrice returns (best_bid+best_ask)/2. It is defined only when both sides
// are non-empty, the best bid is positive, and the book is not crossed or
// degenerate (best ask strictly above best bid).
func (b *OrderBook) MidPrice() (float64, bool) {
	bid, ok := b.BestBid()
	if !ok {
		return 0, false
	}
	ask, ok := b.BestAsk()
	if !ok {
		return 0, false
	}
	if bid.Price <= 0 || ask.Price <= bid.Price {
		return 0, false
	}
	return (bid.Price + ask.Price) / 2, true
}

// ApplyDelta merges incremental updates into the book. A zero quantity
// removes the level at that price; otherwise the level is replaced or
// inserted. Each side is re-sorted afterwards. Invalid levels must be
// filtered at parse time; zero-quantity removals are the one exception.
func (b *OrderBook) ApplyDelta(bidUpdates, askUpdates []PriceLevel) {
	b.Bids = mergeSide(b.Bids, bidUpdates)
	b.Asks = mergeSide(b.Asks, askUpdates)
	b.sortSides()
}

func mergeSide(side []PriceLevel, updates []PriceLevel) []PriceLevel {
	if len(updates) == 0 {
		return side
	}

	levels := make(map[float64]float64, len(side)+len(updates))
	for _, l := range side {
		levels[l.Price] = l.Quantity
	}

	for _, u := range updates {
		if u.Quantity == 0 {
			delete(levels, u.Price)
			continue
		}
		levels[u.Price] = u.Quantity
	}

	merged := make([]PriceLevel, 0, len(levels))
	for price, qty := range levels {
		merged = append(merged, PriceLevel{Price: price, Quantity: qty})
	}
	return merged
}
