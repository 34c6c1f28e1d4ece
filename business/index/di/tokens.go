// Package di contains dependency injection tokens for the index context.
package di

import (
	"github.com/fd1az/global-price-index/business/index/app"
	"github.com/fd1az/global-price-index/business/index/infra/binance"
	"github.com/fd1az/global-price-index/business/index/infra/rest"
	"github.com/fd1az/global-price-index/internal/di"
)

// DI tokens for the index module.
const (
	BinanceProvider = "index.BinanceProvider"
	KrakenClient    = "index.KrakenClient"
	HuobiClient     = "index.HuobiClient"
	Aggregator      = "index.Aggregator"
	APIServer       = "index.APIServer"
)

// GetAggregator resolves the aggregator service.
func GetAggregator(sr di.ServiceRegistry) *app.Aggregator {
	return di.Resolve[*app.Aggregator](sr, Aggregator)
}

// GetBinanceProvider resolves the Binance streaming provider.
func GetBinanceProvider(sr di.ServiceRegistry) *binance.Provider {
	return di.Resolve[*binance.Provider](sr, BinanceProvider)
}

// GetAPIServer resolves the HTTP API server.
func GetAPIServer(sr di.ServiceRegistry) *rest.Server {
	return di.Resolve[*rest.Server](sr, APIServer)
}
