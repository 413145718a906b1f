package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "BOOKTHREADS"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabaseDriver    = DriverSQLite
	defaultDatabaseDSN       = "bookthreads.db"
	defaultLogLevel          = "info"
	defaultAuthIssuer        = "bookthreads-auth"
	defaultCookieName        = "bt_session"
	defaultFunctionsTimeout  = 15 * time.Second
	defaultTrendingLimit     = 5
	defaultEntityStateTTL    = 30 * time.Second
	defaultRateLimitRPS      = 5.0
	defaultRateLimitBurst    = 10
	defaultTokenTTL          = 60 * time.Minute
	maxTrendingLimit         = 50
	errFormatRequiredSetting = "%s is required"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server and its subcommands.
type AppConfig struct {
	HTTPAddress       string
	DatabaseDriver    string
	DatabaseDSN       string
	LogLevel          string
	AuthSigningSecret string
	AuthIssuer        string
	AuthCookieName    string
	TokenTTL          time.Duration
	RedisAddress      string
	CharacterURL      string
	FunctionsTimeout  time.Duration
	TrendingLimit     int
	EntityStateTTL    time.Duration
	RateLimitRPS      float64
	RateLimitBurst    int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.token_ttl", defaultTokenTTL)
	configViper.SetDefault("redis.address", "")
	configViper.SetDefault("functions.character_url", "")
	configViper.SetDefault("functions.timeout", defaultFunctionsTimeout)
	configViper.SetDefault("trending.limit", defaultTrendingLimit)
	configViper.SetDefault("entitystate.ttl", defaultEntityStateTTL)
	configViper.SetDefault("ratelimit.rps", defaultRateLimitRPS)
	configViper.SetDefault("ratelimit.burst", defaultRateLimitBurst)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabaseDriver:    strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:       configViper.GetString("database.dsn"),
		LogLevel:          configViper.GetString("log.level"),
		AuthSigningSecret: configViper.GetString("auth.signing_secret"),
		AuthIssuer:        configViper.GetString("auth.issuer"),
		AuthCookieName:    configViper.GetString("auth.cookie_name"),
		TokenTTL:          configViper.GetDuration("auth.token_ttl"),
		RedisAddress:      strings.TrimSpace(configViper.GetString("redis.address")),
		CharacterURL:      strings.TrimSpace(configViper.GetString("functions.character_url")),
		FunctionsTimeout:  configViper.GetDuration("functions.timeout"),
		TrendingLimit:     configViper.GetInt("trending.limit"),
		EntityStateTTL:    configViper.GetDuration("entitystate.ttl"),
		RateLimitRPS:      configViper.GetFloat64("ratelimit.rps"),
		RateLimitBurst:    configViper.GetInt("ratelimit.burst"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AuthSigningSecret) == "" {
		return fmt.Errorf(errFormatRequiredSetting, "auth.signing_secret")
	}
	if strings.TrimSpace(c.AuthIssuer) == "" {
		return fmt.Errorf(errFormatRequiredSetting, "auth.issuer")
	}
	if strings.TrimSpace(c.AuthCookieName) == "" {
		return fmt.Errorf(errFormatRequiredSetting, "auth.cookie_name")
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf(errFormatRequiredSetting, "database.dsn")
	}
	switch c.DatabaseDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.DatabaseDriver)
	}
	if c.TrendingLimit <= 0 || c.TrendingLimit > maxTrendingLimit {
		return fmt.Errorf("trending.limit must be between 1 and %d", maxTrendingLimit)
	}
	if c.EntityStateTTL < 0 {
		return fmt.Errorf("entitystate.ttl must not be negative")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("ratelimit.rps and ratelimit.burst must be positive")
	}
	return nil
}
