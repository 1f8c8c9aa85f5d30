/**
 * @description
 * This package handles the configuration management for kudoku-server. It uses the
 * Viper library to read configuration from environment variables (and an optional
 * .env file), then normalizes the values the rest of the server relies on.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/kudokuapp/kudoku-server/internal/domain"
	"github.com/spf13/viper"
)

// Config holds all the configuration variables for kudoku-server.
type Config struct {
	ServerPort               string `mapstructure:"SERVER_PORT"`
	DatabaseURL              string `mapstructure:"DATABASE_URL"`
	RunMigrations            bool   `mapstructure:"RUN_MIGRATIONS"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix     string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL              string `mapstructure:"RABBITMQ_URL"`
	EventsExchange           string `mapstructure:"EVENTS_EXCHANGE"`
	BankSyncQueue            string `mapstructure:"BANK_SYNC_QUEUE"`
	BankSyncSchedule         string `mapstructure:"BANK_SYNC_SCHEDULE"`
	BankSyncLookbackDays     int    `mapstructure:"BANK_SYNC_LOOKBACK_DAYS"`
	JWTSecret                string `mapstructure:"JWT_SECRET"`
	JWTTTLHours              int    `mapstructure:"JWT_TTL_HOURS"`
	AccountRefSecretCash     string `mapstructure:"ACCOUNT_REF_SECRET_CASH"`
	AccountRefSecretDebit    string `mapstructure:"ACCOUNT_REF_SECRET_DEBIT"`
	AccountRefSecretEWallet  string `mapstructure:"ACCOUNT_REF_SECRET_EWALLET"`
	AccountRefSecretEMoney   string `mapstructure:"ACCOUNT_REF_SECRET_EMONEY"`
	AccountRefSecretPayLater string `mapstructure:"ACCOUNT_REF_SECRET_PAYLATER"`
	BrickBaseURL             string `mapstructure:"BRICK_BASE_URL"`
	BrickClientID            string `mapstructure:"BRICK_CLIENT_ID"`
	BrickClientSecret        string `mapstructure:"BRICK_CLIENT_SECRET"`
	TwilioBaseURL            string `mapstructure:"TWILIO_BASE_URL"`
	TwilioAccountSID         string `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken          string `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioVerifyService      string `mapstructure:"TWILIO_VERIFY_SERVICE_SID"`
	OTPRateLimitMax          int    `mapstructure:"OTP_RATE_LIMIT_MAX"`
	OTPRateWindowSeconds     int    `mapstructure:"OTP_RATE_LIMIT_WINDOW_SECONDS"`
	RequireSignupOTP         bool   `mapstructure:"REQUIRE_SIGNUP_OTP"`
	CORSAllowedOrigins       string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	DefaultCurrency          string `mapstructure:"DEFAULT_CURRENCY"`
}

// LoadConfig reads configuration from environment variables and an optional .env
// file in the given path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("RUN_MIGRATIONS", true)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "kudoku:rate_limit")
	viper.SetDefault("EVENTS_EXCHANGE", "kudoku_events")
	viper.SetDefault("BANK_SYNC_QUEUE", "kudoku.bank_sync")
	viper.SetDefault("BANK_SYNC_SCHEDULE", "0 */6 * * *")
	viper.SetDefault("BANK_SYNC_LOOKBACK_DAYS", 30)
	viper.SetDefault("JWT_TTL_HOURS", 24)
	viper.SetDefault("BRICK_BASE_URL", "https://sandbox.onebrick.io")
	viper.SetDefault("TWILIO_BASE_URL", "https://verify.twilio.com")
	viper.SetDefault("OTP_RATE_LIMIT_MAX", 5)
	viper.SetDefault("OTP_RATE_LIMIT_WINDOW_SECONDS", 600)
	viper.SetDefault("REQUIRE_SIGNUP_OTP", false)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	viper.SetDefault("DEFAULT_CURRENCY", "IDR")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RUN_MIGRATIONS")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL", "RABBITMQ_URL", "CLOUDAMQP_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("BANK_SYNC_QUEUE")
	_ = viper.BindEnv("BANK_SYNC_SCHEDULE")
	_ = viper.BindEnv("BANK_SYNC_LOOKBACK_DAYS")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("JWT_TTL_HOURS")
	_ = viper.BindEnv("ACCOUNT_REF_SECRET_CASH")
	_ = viper.BindEnv("ACCOUNT_REF_SECRET_DEBIT")
	_ = viper.BindEnv("ACCOUNT_REF_SECRET_EWALLET")
	_ = viper.BindEnv("ACCOUNT_REF_SECRET_EMONEY")
	_ = viper.BindEnv("ACCOUNT_REF_SECRET_PAYLATER")
	_ = viper.BindEnv("BRICK_BASE_URL")
	_ = viper.BindEnv("BRICK_CLIENT_ID")
	_ = viper.BindEnv("BRICK_CLIENT_SECRET")
	_ = viper.BindEnv("TWILIO_BASE_URL")
	_ = viper.BindEnv("TWILIO_ACCOUNT_SID")
	_ = viper.BindEnv("TWILIO_AUTH_TOKEN")
	_ = viper.BindEnv("TWILIO_VERIFY_SERVICE_SID")
	_ = viper.BindEnv("OTP_RATE_LIMIT_MAX")
	_ = viper.BindEnv("OTP_RATE_LIMIT_WINDOW_SECONDS")
	_ = viper.BindEnv("REQUIRE_SIGNUP_OTP")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("DEFAULT_CURRENCY")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "kudoku:rate_limit"
	}
	config.BankSyncSchedule = strings.TrimSpace(config.BankSyncSchedule)
	config.DefaultCurrency = strings.ToUpper(strings.TrimSpace(config.DefaultCurrency))
	if config.DefaultCurrency == "" {
		config.DefaultCurrency = "IDR"
	}

	if config.BankSyncLookbackDays <= 0 {
		config.BankSyncLookbackDays = 30
	}
	if config.BankSyncLookbackDays > 365 {
		log.Printf("level=warn component=config msg=\"bank sync lookback too long; capping at 365 days\" days=%d", config.BankSyncLookbackDays)
		config.BankSyncLookbackDays = 365
	}
	if config.JWTTTLHours <= 0 {
		config.JWTTTLHours = 24
	}
	if config.OTPRateLimitMax < 0 {
		log.Printf("level=warn component=config msg=\"negative otp rate limit configured; disabling limiter\" max=%d", config.OTPRateLimitMax)
		config.OTPRateLimitMax = 0
	}
	if config.OTPRateWindowSeconds <= 0 {
		config.OTPRateWindowSeconds = 600
	}

	return
}

// JWTTTL is the lifetime of session tokens.
func (c Config) JWTTTL() time.Duration {
	return time.Duration(c.JWTTTLHours) * time.Hour
}

// BankSyncLookback is how far back the first sync of an account reaches.
func (c Config) BankSyncLookback() time.Duration {
	return time.Duration(c.BankSyncLookbackDays) * 24 * time.Hour
}

// OTPRateWindow is the fixed window of the OTP send limiter.
func (c Config) OTPRateWindow() time.Duration {
	return time.Duration(c.OTPRateWindowSeconds) * time.Second
}

// AccountRefSecrets maps each account type to its reference signing secret.
func (c Config) AccountRefSecrets() map[string]string {
	return map[string]string{
		string(domain.AccountTypeCash):     strings.TrimSpace(c.AccountRefSecretCash),
		string(domain.AccountTypeDebit):    strings.TrimSpace(c.AccountRefSecretDebit),
		string(domain.AccountTypeEWallet):  strings.TrimSpace(c.AccountRefSecretEWallet),
		string(domain.AccountTypeEMoney):   strings.TrimSpace(c.AccountRefSecretEMoney),
		string(domain.AccountTypePayLater): strings.TrimSpace(c.AccountRefSecretPayLater),
	}
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
