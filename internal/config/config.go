// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App            AppConfig            `mapstructure:"app"`
	Server         ServerConfig         `mapstructure:"server"`
	Exchange       ExchangeConfig       `mapstructure:"exchange"`
	PriceWeighting PriceWeightingConfig `mapstructure:"price_weighting"`
	Aggregator     AggregatorConfig     `mapstructure:"aggregator"`
	Telemetry      TelemetryConfig      `mapstructure:"telemetry"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
}

// ServerConfig holds the HTTP API server settings.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	StaticDir  string `mapstructure:"static_dir"`
	HealthPort int    `mapstructure:"health_port"`
}

// ExchangeConfig groups per-exchange endpoints and shared stream tuning.
type ExchangeConfig struct {
	Binance BinanceConfig        `mapstructure:"binance"`
	Kraken  KrakenConfig         `mapstructure:"kraken"`
	Huobi   HuobiConfig          `mapstructure:"huobi"`
	Config  ExchangeTuningConfig `mapstructure:"config"`
}

// BinanceConfig holds Binance endpoints.
type BinanceConfig struct {
	WSURL   string `mapstructure:"ws_url"`
	RestURL string `mapstructure:"rest_url"`
}

// KrakenConfig holds the Kraken depth endpoint.
type KrakenConfig struct {
	URL string `mapstructure:"url"`
}

// HuobiConfig holds the Huobi depth endpoint.
type HuobiConfig struct {
	URL string `mapstructure:"url"`
}

// ExchangeTuningConfig holds stream liveness and reconnection tuning shared by
// the streaming adapters.
type ExchangeTuningConfig struct {
	InitialReconnectDelay time.Duration `mapstructure:"initial_reconnect_delay"`
	MaxReconnectDelay     time.Duration `mapstructure:"max_reconnect_delay"`
	PingInterval          time.Duration `mapstructure:"ping_interval"`
	PingRetryCount        int           `mapstructure:"ping_retry_count"`
	RestTimeout           time.Duration `mapstructure:"rest_timeout"`
}

// PriceWeightingConfig holds the time-decay weighting parameters.
type PriceWeightingConfig struct {
	// DecayFactor is the exponential decay time constant in seconds.
	DecayFactor float64 `mapstructure:"decay_factor"`
}

// AggregatorConfig holds aggregation tuning.
type AggregatorConfig struct {
	FanoutTimeout time.Duration `mapstructure:"fanout_timeout"`
}

// TelemetryConfig holds observability configuration.
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	PrometheusPort int    `mapstructure:"prometheus_port"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables
	v.SetEnvPrefix("GPI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvVars(v)
	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func bindEnvVars(v *viper.Viper) {
	// App
	v.BindEnv("app.name", "GPI_APP_NAME", "SERVICE_NAME")
	v.BindEnv("app.environment", "GPI_ENVIRONMENT", "ENVIRONMENT")
	v.BindEnv("app.log_level", "GPI_LOG_LEVEL", "LOG_LEVEL")

	// Server
	v.BindEnv("server.listen_addr", "GPI_LISTEN_ADDR")
	v.BindEnv("server.static_dir", "GPI_STATIC_DIR")

	// Exchanges
	v.BindEnv("exchange.binance.ws_url", "GPI_BINANCE_WS_URL")
	v.BindEnv("exchange.binance.rest_url", "GPI_BINANCE_REST_URL")
	v.BindEnv("exchange.kraken.url", "GPI_KRAKEN_URL")
	v.BindEnv("exchange.huobi.url", "GPI_HUOBI_URL")

	// Weighting
	v.BindEnv("price_weighting.decay_factor", "GPI_DECAY_FACTOR")

	// Telemetry
	v.BindEnv("telemetry.enabled", "GPI_OTEL_ENABLED", "OTEL_ENABLED")
	v.BindEnv("telemetry.service_name", "GPI_OTEL_SERVICE_NAME", "OTEL_SERVICE_NAME")
	v.BindEnv("telemetry.otlp_endpoint", "GPI_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "global-price-index")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	// Server defaults
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.static_dir", "./web")
	v.SetDefault("server.health_port", 8081)

	// Exchange endpoints
	v.SetDefault("exchange.binance.ws_url", "wss://stream.binance.com:9443/ws/btcusdt@depth")
	v.SetDefault("exchange.binance.rest_url", "https://api.binance.com/api/v3/depth?symbol=BTCUSDT&limit=1000")
	v.SetDefault("exchange.kraken.url", "https://api.kraken.com/0/public/Depth?pair=XBTUSDT")
	v.SetDefault("exchange.huobi.url", "https://api.huobi.pro/market/depth")

	// Stream tuning
	v.SetDefault("exchange.config.initial_reconnect_delay", "1s")
	v.SetDefault("exchange.config.max_reconnect_delay", "300s")
	v.SetDefault("exchange.config.ping_interval", "30s")
	v.SetDefault("exchange.config.ping_retry_count", 3)
	v.SetDefault("exchange.config.rest_timeout", "5s")

	// Weighting and aggregation
	v.SetDefault("price_weighting.decay_factor", 300.0)
	v.SetDefault("aggregator.fanout_timeout", "5s")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "global-price-index")
	v.SetDefault("telemetry.prometheus_port", 9090)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Exchange.Binance.WSURL == "" {
		return fmt.Errorf("exchange.binance.ws_url is required")
	}
	if c.Exchange.Binance.RestURL == "" {
		return fmt.Errorf("exchange.binance.rest_url is required")
	}
	if c.Exchange.Kraken.URL == "" {
		return fmt.Errorf("exchange.kraken.url is required")
	}
	if c.Exchange.Huobi.URL == "" {
		return fmt.Errorf("exchange.huobi.url is required")
	}
	if c.PriceWeighting.DecayFactor <= 0 {
		return fmt.Errorf("price_weighting.decay_factor must be positive, got %v", c.PriceWeighting.DecayFactor)
	}
	if c.Exchange.Config.InitialReconnectDelay <= 0 {
		return fmt.Errorf("exchange.config.initial_reconnect_delay must be positive")
	}
	if c.Exchange.Config.MaxReconnectDelay < c.Exchange.Config.InitialReconnectDelay {
		return fmt.Errorf("exchange.config.max_reconnect_delay must be >= initial_reconnect_delay")
	}
	if c.Exchange.Config.PingRetryCount < 1 {
		return fmt.Errorf("exchange.config.ping_retry_count must be at least 1")
	}
	return nil
}
