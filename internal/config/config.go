package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Ingestion   IngestionConfig `mapstructure:"ingestion"`
	Analytics   AnalyticsConfig `mapstructure:"analytics"`
	Cache       CacheConfig     `mapstructure:"cache"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	DatabaseURL     string `mapstructure:"database_url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime string `mapstructure:"conn_max_idle_time"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// IngestionConfig drives the external scraping clients and the scheduled
// refresh job.
type IngestionConfig struct {
	SteamSpyURL        string  `mapstructure:"steamspy_url"`
	SteamChartsURL     string  `mapstructure:"steamcharts_url"`
	StoreAPIURL        string  `mapstructure:"store_api_url"`
	RequestTimeout     string  `mapstructure:"request_timeout"`
	RequestsPerSecond  float64 `mapstructure:"requests_per_second"`
	MaxRetries         int     `mapstructure:"max_retries"`
	RefreshCron        string  `mapstructure:"refresh_cron"`
	TopGamesLimit      int     `mapstructure:"top_games_limit"`
	HistoryMonths      int     `mapstructure:"history_months"`
	ScheduledIngestion bool    `mapstructure:"scheduled_ingestion"`
}

// AnalyticsConfig carries the estimator defaults. Zero values are invalid;
// Load always fills them in.
type AnalyticsConfig struct {
	MinDiscountPct        float64 `mapstructure:"min_discount_pct"`
	MinDiscountDays       int     `mapstructure:"min_discount_days"`
	DiDPrePeriods         int     `mapstructure:"did_pre_periods"`
	DiDPostPeriods        int     `mapstructure:"did_post_periods"`
	ChurnThresholdPct     float64 `mapstructure:"churn_threshold_pct"`
	ChurnLookbackPeriods  int     `mapstructure:"churn_lookback_periods"`
	CoxPenalizer          float64 `mapstructure:"cox_penalizer"`
	SignificanceLevel     float64 `mapstructure:"significance_level"`
	ResultRetentionHours  int     `mapstructure:"result_retention_hours"`
	MaxConcurrentAnalyses int     `mapstructure:"max_concurrent_analyses"`
}

type CacheConfig struct {
	DashboardTTL string `mapstructure:"dashboard_ttl"`
	ResultTTL    string `mapstructure:"result_ttl"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// Set default values
	setDefaults()

	// Enable environment variable support
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Normalize environment to lowercase for consistent comparison
	config.Environment = strings.ToLower(config.Environment)

	for name, value := range map[string]string{
		"ingestion.request_timeout": config.Ingestion.RequestTimeout,
		"cache.dashboard_ttl":       config.Cache.DashboardTTL,
		"cache.result_ttl":          config.Cache.ResultTTL,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return nil, fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}

	if config.Analytics.ChurnThresholdPct <= 0 || config.Analytics.ChurnThresholdPct >= 1 {
		return nil, fmt.Errorf("analytics.churn_threshold_pct must be in (0, 1), got %v",
			config.Analytics.ChurnThresholdPct)
	}
	if config.Analytics.CoxPenalizer < 0 {
		return nil, fmt.Errorf("analytics.cox_penalizer must be non-negative, got %v",
			config.Analytics.CoxPenalizer)
	}

	return &config, nil
}

func setDefaults() {
	// Environment
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	// Set database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "steamlens")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.database_url", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "300s")
	viper.SetDefault("database.conn_max_idle_time", "60s")

	// Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Ingestion
	viper.SetDefault("ingestion.steamspy_url", "https://steamspy.com/api.php")
	viper.SetDefault("ingestion.steamcharts_url", "https://steamcharts.com")
	viper.SetDefault("ingestion.store_api_url", "https://store.steampowered.com/api")
	viper.SetDefault("ingestion.request_timeout", "15s")
	viper.SetDefault("ingestion.requests_per_second", 1.0)
	viper.SetDefault("ingestion.max_retries", 3)
	viper.SetDefault("ingestion.refresh_cron", "0 4 * * *")
	viper.SetDefault("ingestion.top_games_limit", 100)
	viper.SetDefault("ingestion.history_months", 12)
	viper.SetDefault("ingestion.scheduled_ingestion", false)

	// Analytics
	viper.SetDefault("analytics.min_discount_pct", 25.0)
	viper.SetDefault("analytics.min_discount_days", 7)
	viper.SetDefault("analytics.did_pre_periods", 6)
	viper.SetDefault("analytics.did_post_periods", 3)
	viper.SetDefault("analytics.churn_threshold_pct", 0.5)
	viper.SetDefault("analytics.churn_lookback_periods", 3)
	viper.SetDefault("analytics.cox_penalizer", 0.1)
	viper.SetDefault("analytics.significance_level", 0.05)
	viper.SetDefault("analytics.result_retention_hours", 72)
	viper.SetDefault("analytics.max_concurrent_analyses", 4)

	// Cache
	viper.SetDefault("cache.dashboard_ttl", "5m")
	viper.SetDefault("cache.result_ttl", "1h")
}
