package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Exchange.Binance.WSURL != "wss://stream.binance.com:9443/ws/btcusdt@depth" {
		t.Errorf("unexpected binance ws_url default: %s", cfg.Exchange.Binance.WSURL)
	}
	if cfg.Exchange.Config.InitialReconnectDelay != time.Second {
		t.Errorf("expected 1s initial reconnect delay, got %v", cfg.Exchange.Config.InitialReconnectDelay)
	}
	if cfg.Exchange.Config.MaxReconnectDelay != 300*time.Second {
		t.Errorf("expected 300s max reconnect delay, got %v", cfg.Exchange.Config.MaxReconnectDelay)
	}
	if cfg.Exchange.Config.PingInterval != 30*time.Second {
		t.Errorf("expected 30s ping interval, got %v", cfg.Exchange.Config.PingInterval)
	}
	if cfg.Exchange.Config.PingRetryCount != 3 {
		t.Errorf("expected ping retry count 3, got %d", cfg.Exchange.Config.PingRetryCount)
	}
	if cfg.PriceWeighting.DecayFactor != 300.0 {
		t.Errorf("expected decay factor 300, got %v", cfg.PriceWeighting.DecayFactor)
	}
	if cfg.Aggregator.FanoutTimeout != 5*time.Second {
		t.Errorf("expected 5s fanout timeout, got %v", cfg.Aggregator.FanoutTimeout)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.Server.ListenAddr)
	}
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[exchange.kraken]
url = "https://kraken.test/Depth?pair=XBTUSDT"

[exchange.config]
initial_reconnect_delay = "2s"
ping_retry_count = 5

[price_weighting]
decay_factor = 120.0
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Exchange.Kraken.URL != "https://kraken.test/Depth?pair=XBTUSDT" {
		t.Errorf("kraken url override ignored: %s", cfg.Exchange.Kraken.URL)
	}
	if cfg.Exchange.Config.InitialReconnectDelay != 2*time.Second {
		t.Errorf("expected 2s, got %v", cfg.Exchange.Config.InitialReconnectDelay)
	}
	if cfg.Exchange.Config.PingRetryCount != 5 {
		t.Errorf("expected 5, got %d", cfg.Exchange.Config.PingRetryCount)
	}
	if cfg.PriceWeighting.DecayFactor != 120.0 {
		t.Errorf("expected 120, got %v", cfg.PriceWeighting.DecayFactor)
	}

	// Untouched keys keep their defaults.
	if cfg.Exchange.Huobi.URL != "https://api.huobi.pro/market/depth" {
		t.Errorf("huobi default lost: %s", cfg.Exchange.Huobi.URL)
	}
}

func TestLoad_InvalidDecayFactor(t *testing.T) {
	_, err := Load(writeConfig(t, `
[price_weighting]
decay_factor = -1.0
`))
	if err == nil {
		t.Fatal("expected validation error for negative decay factor")
	}
}

func TestLoad_BackoffOrderingValidated(t *testing.T) {
	_, err := Load(writeConfig(t, `
[exchange.config]
initial_reconnect_delay = "10s"
max_reconnect_delay = "1s"
`))
	if err == nil {
		t.Fatal("expected validation error for max < initial reconnect delay")
	}
}
