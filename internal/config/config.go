package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "ESTABLE"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "estable.db"
	defaultLogLevel          = "info"
	defaultTokenTTLMinutes   = 60
	defaultAnnualRate        = 0.15
	defaultRefreshSeconds    = 10
	defaultLeaderboardLimit  = 20
	maximumLeaderboardLimit  = 100
	minimumRefreshResolution = time.Second
)

// AppConfig captures runtime configuration for the rewards API server.
type AppConfig struct {
	HTTPAddress      string
	DatabasePath     string
	LogLevel         string
	SigningSecret    string
	TokenTTL         time.Duration
	AnnualRate       float64
	RefreshInterval  time.Duration
	LeaderboardLimit int
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
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("accrual.annual_rate", defaultAnnualRate)
	configViper.SetDefault("refresh.interval_seconds", defaultRefreshSeconds)
	configViper.SetDefault("leaderboard.default_limit", defaultLeaderboardLimit)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		DatabasePath:     configViper.GetString("database.path"),
		LogLevel:         configViper.GetString("log.level"),
		SigningSecret:    configViper.GetString("auth.signing_secret"),
		TokenTTL:         time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		AnnualRate:       configViper.GetFloat64("accrual.annual_rate"),
		RefreshInterval:  time.Duration(configViper.GetInt("refresh.interval_seconds")) * time.Second,
		LeaderboardLimit: configViper.GetInt("leaderboard.default_limit"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.AnnualRate <= 0 || c.AnnualRate >= 1 {
		return fmt.Errorf("accrual.annual_rate must be a decimal rate between 0 and 1 exclusive")
	}
	if c.RefreshInterval < minimumRefreshResolution {
		return fmt.Errorf("refresh.interval_seconds must be at least one second")
	}
	if c.LeaderboardLimit <= 0 || c.LeaderboardLimit > maximumLeaderboardLimit {
		return fmt.Errorf("leaderboard.default_limit must be between 1 and %d", maximumLeaderboardLimit)
	}
	return nil
}
