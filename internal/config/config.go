/**
 * @description
 * This package handles configuration management for the yield-service. It uses
 * the Viper library to read configuration from environment variables (with an
 * optional .env file), providing a centralized way to manage tunables such as
 * the poll interval, retry budget and slippage bounds.
 *
 * @dependencies
 * - github.com/spf13/viper: Configuration library.
 */

package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration variables for the yield-service. These values
// are loaded from environment variables.
type Config struct {
	ServerPort           string  `mapstructure:"SERVER_PORT"`
	DatabaseURL          string  `mapstructure:"DATABASE_URL"`
	RedisURL             string  `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string  `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string  `mapstructure:"RABBITMQ_URL"`
	JWTSecret            string  `mapstructure:"JWT_SECRET"`

	HomeChain    string `mapstructure:"HOME_CHAIN"`
	RewardChain  string `mapstructure:"REWARD_CHAIN"`
	DepositToken string `mapstructure:"DEPOSIT_TOKEN"`
	RewardToken  string `mapstructure:"REWARD_TOKEN"`

	PollIntervalSeconds int     `mapstructure:"POLL_INTERVAL_SECONDS"`
	MaxRetries          int     `mapstructure:"MAX_RETRIES"`
	CompoundThreshold   float64 `mapstructure:"COMPOUND_THRESHOLD"`
	SlippageMinPercent  float64 `mapstructure:"SLIPPAGE_MIN_PERCENT"`
	SlippageMaxPercent  float64 `mapstructure:"SLIPPAGE_MAX_PERCENT"`

	InitiateRateLimitPerMinute int `mapstructure:"INITIATE_RATE_LIMIT_PER_MINUTE"`

	AutoCompoundSchedule string `mapstructure:"AUTO_COMPOUND_SCHEDULE"`
	AutoCompoundEnabled  bool   `mapstructure:"AUTO_COMPOUND_ENABLED"`

	SimulatedSuccessRatio  float64 `mapstructure:"SIMULATED_SUCCESS_RATIO"`
	SimulatedConfirmTarget int     `mapstructure:"SIMULATED_CONFIRM_TARGET"`
}

// LoadConfig reads configuration from environment variables, with defaults for
// every tunable. An optional .env file in the given path is honored.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "yield:rate_limit")
	viper.SetDefault("HOME_CHAIN", "ethereum")
	viper.SetDefault("REWARD_CHAIN", "gnosis")
	viper.SetDefault("DEPOSIT_TOKEN", "EURe")
	viper.SetDefault("REWARD_TOKEN", "LP-EURe")
	viper.SetDefault("POLL_INTERVAL_SECONDS", 30)
	viper.SetDefault("MAX_RETRIES", 10)
	viper.SetDefault("COMPOUND_THRESHOLD", 0.01)
	viper.SetDefault("SLIPPAGE_MIN_PERCENT", 0.1)
	viper.SetDefault("SLIPPAGE_MAX_PERCENT", 5.0)
	viper.SetDefault("INITIATE_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("AUTO_COMPOUND_SCHEDULE", "0 * * * *")
	viper.SetDefault("AUTO_COMPOUND_ENABLED", true)
	viper.SetDefault("SIMULATED_SUCCESS_RATIO", 0.9)
	viper.SetDefault("SIMULATED_CONFIRM_TARGET", 2)

	// Bind environment variables explicitly to ensure they appear in Unmarshal.
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("HOME_CHAIN")
	_ = viper.BindEnv("REWARD_CHAIN")
	_ = viper.BindEnv("DEPOSIT_TOKEN")
	_ = viper.BindEnv("REWARD_TOKEN")
	_ = viper.BindEnv("POLL_INTERVAL_SECONDS")
	_ = viper.BindEnv("MAX_RETRIES")
	_ = viper.BindEnv("COMPOUND_THRESHOLD")
	_ = viper.BindEnv("SLIPPAGE_MIN_PERCENT")
	_ = viper.BindEnv("SLIPPAGE_MAX_PERCENT")
	_ = viper.BindEnv("INITIATE_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("AUTO_COMPOUND_SCHEDULE")
	_ = viper.BindEnv("AUTO_COMPOUND_ENABLED")
	_ = viper.BindEnv("SIMULATED_SUCCESS_RATIO")
	_ = viper.BindEnv("SIMULATED_CONFIRM_TARGET")

	if err = viper.ReadInConfig(); err != nil {
		// A missing .env file is fine; anything else is worth a warning.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	// Clamp out-of-range tunables back to safe defaults rather than failing
	// startup over a typo.
	if config.PollIntervalSeconds <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive poll interval; using default\" value=%d", config.PollIntervalSeconds)
		config.PollIntervalSeconds = 30
	}
	if config.MaxRetries <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive max retries; using default\" value=%d", config.MaxRetries)
		config.MaxRetries = 10
	}
	if config.CompoundThreshold <= 0 {
		config.CompoundThreshold = 0.01
	}
	if config.SlippageMinPercent < 0 {
		config.SlippageMinPercent = 0.1
	}
	if config.SlippageMaxPercent <= config.SlippageMinPercent {
		log.Printf("level=warn component=config msg=\"slippage bounds inverted; using defaults\" min=%f max=%f", config.SlippageMinPercent, config.SlippageMaxPercent)
		config.SlippageMinPercent = 0.1
		config.SlippageMaxPercent = 5.0
	}
	if config.SimulatedSuccessRatio <= 0 || config.SimulatedSuccessRatio > 1 {
		config.SimulatedSuccessRatio = 0.9
	}
	if config.SimulatedConfirmTarget < 1 {
		config.SimulatedConfirmTarget = 2
	}
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "yield:rate_limit"
	}

	return
}
