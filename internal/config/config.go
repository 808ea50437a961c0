/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the conversation-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	EventsExchange       string `mapstructure:"EVENTS_EXCHANGE"`
	SettlementQueue      string `mapstructure:"SETTLEMENT_QUEUE"`
	GatewayAPIBaseURL    string `mapstructure:"GATEWAY_API_BASE_URL"`
	GatewayAPIKey        string `mapstructure:"GATEWAY_API_KEY"`
	WebhookSigningSecret string `mapstructure:"WEBHOOK_SIGNING_SECRET"`
	AdminJWKSURL         string `mapstructure:"ADMIN_JWKS_URL"`

	IntentConfidenceThreshold float64 `mapstructure:"INTENT_CONFIDENCE_THRESHOLD"`
	FlowTimeoutSeconds        int     `mapstructure:"FLOW_TIMEOUT_SECONDS"`
	PinMaxAttempts            int     `mapstructure:"PIN_MAX_ATTEMPTS"`
	PinLockoutSeconds         int     `mapstructure:"PIN_LOCKOUT_SECONDS"`
	StatusPollCount           int     `mapstructure:"STATUS_POLL_COUNT"`
	StatusPollDelaySeconds    int     `mapstructure:"STATUS_POLL_DELAY_SECONDS"`
	SessionCASMaxRetries      int     `mapstructure:"SESSION_CAS_MAX_RETRIES"`
	HistoryPageSize           int     `mapstructure:"HISTORY_PAGE_SIZE"`
	RateLimitPerMinute        int     `mapstructure:"RATE_LIMIT_PER_MINUTE"`
	SweepSchedule             string  `mapstructure:"SWEEP_SCHEDULE"`
	SweepBatchSize            int     `mapstructure:"SWEEP_BATCH_SIZE"`

	TransferCeilingCents       int64 `mapstructure:"TRANSFER_CEILING_CENTS"`
	TransferSoftThresholdCents int64 `mapstructure:"TRANSFER_SOFT_THRESHOLD_CENTS"`
	AirtimeCeilingCents        int64 `mapstructure:"AIRTIME_CEILING_CENTS"`
	AirtimeSoftThresholdCents  int64 `mapstructure:"AIRTIME_SOFT_THRESHOLD_CENTS"`
	ElectricityCeilingCents    int64 `mapstructure:"ELECTRICITY_CEILING_CENTS"`
	ElectricitySoftThreshCents int64 `mapstructure:"ELECTRICITY_SOFT_THRESHOLD_CENTS"`
	VelocityWindowHours        int   `mapstructure:"VELOCITY_WINDOW_HOURS"`
	VelocityLimitCents         int64 `mapstructure:"VELOCITY_LIMIT_CENTS"`
	PinFailureWindowMinutes    int   `mapstructure:"PIN_FAILURE_WINDOW_MINUTES"`
	PinFailureChallengeMax     int   `mapstructure:"PIN_FAILURE_CHALLENGE_MAX"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("EVENTS_EXCHANGE", "cyrax.events")
	viper.SetDefault("SETTLEMENT_QUEUE", "conversation_service.settlements")
	viper.SetDefault("INTENT_CONFIDENCE_THRESHOLD", 0.5)
	viper.SetDefault("FLOW_TIMEOUT_SECONDS", 300)
	viper.SetDefault("PIN_MAX_ATTEMPTS", 3)
	viper.SetDefault("PIN_LOCKOUT_SECONDS", 1800)
	viper.SetDefault("STATUS_POLL_COUNT", 3)
	viper.SetDefault("STATUS_POLL_DELAY_SECONDS", 2)
	viper.SetDefault("SESSION_CAS_MAX_RETRIES", 5)
	viper.SetDefault("HISTORY_PAGE_SIZE", 5)
	viper.SetDefault("RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("SWEEP_SCHEDULE", "* * * * *")
	viper.SetDefault("SWEEP_BATCH_SIZE", 100)
	viper.SetDefault("TRANSFER_CEILING_CENTS", 500000)          // R5,000
	viper.SetDefault("TRANSFER_SOFT_THRESHOLD_CENTS", 100000)   // R1,000
	viper.SetDefault("AIRTIME_CEILING_CENTS", 100000)           // R1,000
	viper.SetDefault("AIRTIME_SOFT_THRESHOLD_CENTS", 50000)     // R500
	viper.SetDefault("ELECTRICITY_CEILING_CENTS", 200000)       // R2,000
	viper.SetDefault("ELECTRICITY_SOFT_THRESHOLD_CENTS", 100000) // R1,000
	viper.SetDefault("VELOCITY_WINDOW_HOURS", 24)
	viper.SetDefault("VELOCITY_LIMIT_CENTS", 1000000) // R10,000
	viper.SetDefault("PIN_FAILURE_WINDOW_MINUTES", 60)
	viper.SetDefault("PIN_FAILURE_CHALLENGE_MAX", 3)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "CONVERSATION_REDIS_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("SETTLEMENT_QUEUE")
	_ = viper.BindEnv("GATEWAY_API_BASE_URL")
	_ = viper.BindEnv("GATEWAY_API_KEY")
	_ = viper.BindEnv("WEBHOOK_SIGNING_SECRET")
	_ = viper.BindEnv("ADMIN_JWKS_URL")
	_ = viper.BindEnv("INTENT_CONFIDENCE_THRESHOLD")
	_ = viper.BindEnv("FLOW_TIMEOUT_SECONDS")
	_ = viper.BindEnv("PIN_MAX_ATTEMPTS")
	_ = viper.BindEnv("PIN_LOCKOUT_SECONDS")
	_ = viper.BindEnv("STATUS_POLL_COUNT")
	_ = viper.BindEnv("STATUS_POLL_DELAY_SECONDS")
	_ = viper.BindEnv("SESSION_CAS_MAX_RETRIES")
	_ = viper.BindEnv("HISTORY_PAGE_SIZE")
	_ = viper.BindEnv("RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("SWEEP_SCHEDULE")
	_ = viper.BindEnv("SWEEP_BATCH_SIZE")
	_ = viper.BindEnv("TRANSFER_CEILING_CENTS")
	_ = viper.BindEnv("TRANSFER_CEILING_RANDS")
	_ = viper.BindEnv("TRANSFER_SOFT_THRESHOLD_CENTS")
	_ = viper.BindEnv("AIRTIME_CEILING_CENTS")
	_ = viper.BindEnv("AIRTIME_SOFT_THRESHOLD_CENTS")
	_ = viper.BindEnv("ELECTRICITY_CEILING_CENTS")
	_ = viper.BindEnv("ELECTRICITY_SOFT_THRESHOLD_CENTS")
	_ = viper.BindEnv("VELOCITY_WINDOW_HOURS")
	_ = viper.BindEnv("VELOCITY_LIMIT_CENTS")
	_ = viper.BindEnv("VELOCITY_LIMIT_RANDS")
	_ = viper.BindEnv("PIN_FAILURE_WINDOW_MINUTES")
	_ = viper.BindEnv("PIN_FAILURE_CHALLENGE_MAX")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.GatewayAPIBaseURL = strings.TrimSpace(config.GatewayAPIBaseURL)

	// Allow specifying limits in whole rands via *_RANDS variables.
	if viper.IsSet("TRANSFER_CEILING_RANDS") {
		if cents, ok := parseRands(viper.GetString("TRANSFER_CEILING_RANDS"), "TRANSFER_CEILING_RANDS"); ok {
			config.TransferCeilingCents = cents
		}
	}
	if viper.IsSet("VELOCITY_LIMIT_RANDS") {
		if cents, ok := parseRands(viper.GetString("VELOCITY_LIMIT_RANDS"), "VELOCITY_LIMIT_RANDS"); ok {
			config.VelocityLimitCents = cents
		}
	}

	if config.IntentConfidenceThreshold < 0 || config.IntentConfidenceThreshold > 1 {
		log.Printf("level=warn component=config msg=\"confidence threshold out of range; coercing to default\" value=%f", config.IntentConfidenceThreshold)
		config.IntentConfidenceThreshold = 0.5
	}
	if config.PinMaxAttempts <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive pin attempt budget; coercing to 3\" value=%d", config.PinMaxAttempts)
		config.PinMaxAttempts = 3
	}
	if config.FlowTimeoutSeconds <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive flow timeout; coercing to 300\" value=%d", config.FlowTimeoutSeconds)
		config.FlowTimeoutSeconds = 300
	}
	if config.StatusPollCount <= 0 {
		config.StatusPollCount = 3
	}

	return
}

func parseRands(raw, name string) (int64, bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, false
	}
	rands, parseErr := strconv.ParseFloat(value, 64)
	if parseErr != nil {
		log.Printf("level=warn component=config msg=\"invalid rand amount\" var=%s value=%q err=%v", name, value, parseErr)
		return 0, false
	}
	return int64(math.Round(rands * 100)), true
}
