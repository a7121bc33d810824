package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func setEnvWithCleanup(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("setenv %s: %v", key, err)
	}
	t.Cleanup(func() {
		if had {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PollIntervalSeconds != 30 {
		t.Fatalf("expected default poll interval 30, got %d", cfg.PollIntervalSeconds)
	}
	if cfg.MaxRetries != 10 {
		t.Fatalf("expected default max retries 10, got %d", cfg.MaxRetries)
	}
	if cfg.CompoundThreshold != 0.01 {
		t.Fatalf("expected default compound threshold 0.01, got %f", cfg.CompoundThreshold)
	}
	if cfg.HomeChain != "ethereum" || cfg.RewardChain != "gnosis" {
		t.Fatalf("unexpected default chains: %s -> %s", cfg.HomeChain, cfg.RewardChain)
	}
}

func TestLoadConfig_ClampsNonPositiveRetryBudget(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "MAX_RETRIES", "-3")
	setEnvWithCleanup(t, "POLL_INTERVAL_SECONDS", "0")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.MaxRetries != 10 {
		t.Fatalf("expected clamped max retries 10, got %d", cfg.MaxRetries)
	}
	if cfg.PollIntervalSeconds != 30 {
		t.Fatalf("expected clamped poll interval 30, got %d", cfg.PollIntervalSeconds)
	}
}

func TestLoadConfig_ClampsInvertedSlippageBounds(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SLIPPAGE_MIN_PERCENT", "6.0")
	setEnvWithCleanup(t, "SLIPPAGE_MAX_PERCENT", "2.0")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.SlippageMinPercent != 0.1 || cfg.SlippageMaxPercent != 5.0 {
		t.Fatalf("expected default slippage bounds after inversion, got min=%f max=%f", cfg.SlippageMinPercent, cfg.SlippageMaxPercent)
	}
}

func TestLoadConfig_ReadsOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "MAX_RETRIES", "5")
	setEnvWithCleanup(t, "COMPOUND_THRESHOLD", "0.05")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.MaxRetries != 5 {
		t.Fatalf("expected max retries 5, got %d", cfg.MaxRetries)
	}
	if cfg.CompoundThreshold != 0.05 {
		t.Fatalf("expected compound threshold 0.05, got %f", cfg.CompoundThreshold)
	}
}
