// Package index implements the price index bounded context: exchange
// ingestion, aggregation, and the HTTP API.
package index

import (
	"context"

	"github.com/fd1az/global-price-index/business/index/app"
	indexDI "github.com/fd1az/global-price-index/business/index/di"
	"github.com/fd1az/global-price-index/business/index/infra/binance"
	"github.com/fd1az/global-price-index/business/index/infra/huobi"
	"github.com/fd1az/global-price-index/business/index/infra/kraken"
	"github.com/fd1az/global-price-index/business/index/infra/rest"
	"github.com/fd1az/global-price-index/internal/config"
	"github.com/fd1az/global-price-index/internal/di"
	"github.com/fd1az/global-price-index/internal/logger"
	"github.com/fd1az/global-price-index/internal/monolith"
)

// Module implements the index bounded context.
type Module struct{}

// RegisterServices registers all index services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, indexDI.BinanceProvider, func(sr di.ServiceRegistry) *binance.Provider {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		provider, err := binance.NewProvider(binance.ProviderConfig{
			WSURL:                 cfg.Exchange.Binance.WSURL,
			RestURL:               cfg.Exchange.Binance.RestURL,
			InitialReconnectDelay: cfg.Exchange.Config.InitialReconnectDelay,
			MaxReconnectDelay:     cfg.Exchange.Config.MaxReconnectDelay,
			PingInterval:          cfg.Exchange.Config.PingInterval,
			PingRetryCount:        cfg.Exchange.Config.PingRetryCount,
			RestTimeout:           cfg.Exchange.Config.RestTimeout,
		}, log)
		if err != nil {
			panic("failed to create binance provider: " + err.Error())
		}
		return provider
	})

	di.RegisterToken(c, indexDI.KrakenClient, func(sr di.ServiceRegistry) *kraken.Client {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		client, err := kraken.New(kraken.Config{
			URL:     cfg.Exchange.Kraken.URL,
			Timeout: cfg.Exchange.Config.RestTimeout,
		}, log)
		if err != nil {
			panic("failed to create kraken client: " + err.Error())
		}
		return client
	})

	di.RegisterToken(c, indexDI.HuobiClient, func(sr di.ServiceRegistry) *huobi.Client {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		client, err := huobi.New(huobi.Config{
			URL:     cfg.Exchange.Huobi.URL,
			Timeout: cfg.Exchange.Config.RestTimeout,
		}, log)
		if err != nil {
			panic("failed to create huobi client: " + err.Error())
		}
		return client
	})

	di.RegisterToken(c, indexDI.Aggregator, func(sr di.ServiceRegistry) *app.Aggregator {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		exchanges := []app.Exchange{
			indexDI.GetBinanceProvider(sr),
			di.Resolve[*kraken.Client](sr, indexDI.KrakenClient),
			di.Resolve[*huobi.Client](sr, indexDI.HuobiClient),
		}

		aggregator, err := app.NewAggregator(app.AggregatorConfig{
			DecayFactor:   cfg.PriceWeighting.DecayFactor,
			FanoutTimeout: cfg.Aggregator.FanoutTimeout,
		}, exchanges, log)
		if err != nil {
			panic("failed to create aggregator: " + err.Error())
		}
		return aggregator
	})

	di.RegisterToken(c, indexDI.APIServer, func(sr di.ServiceRegistry) *rest.Server {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		return rest.NewServer(rest.Config{
			ListenAddr: cfg.Server.ListenAddr,
			StaticDir:  cfg.Server.StaticDir,
		}, indexDI.GetAggregator(sr), indexDI.GetBinanceProvider(sr), log)
	})

	return nil
}

// Startup launches the Binance driver and the API server.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	log := mono.Logger()

	provider := indexDI.GetBinanceProvider(mono.Services())
	provider.Start(ctx)

	server := indexDI.GetAPIServer(mono.Services())
	server.Start()

	log.Info(ctx, "index module started")
	return nil
}
