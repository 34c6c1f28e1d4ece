// Package app contains application services and port definitions for the
// price index context.
package app

import (
	"context"

	"github.com/fd1az/global-price-index/business/index/domain"
)

// Exchange is the capability every price source implements. Implementations
// must be safe for concurrent use; handles are shared across request tasks.
type Exchange interface {
	// Name returns the exchange display name used in payloads and logs.
	Name() string

	// GetMidPrice produces the current mid-price together with its local
	// capture timestamp: the book-read time for streaming sources, the
	// post-parse time for REST sources.
	GetMidPrice(ctx context.Context) (domain.ExchangePrice, error)
}
