package config

import (
	"errors"
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
	Cache       CacheConfig     `mapstructure:"cache"`
	Auth        AuthConfig      `mapstructure:"auth"`
	Model       ModelConfig     `mapstructure:"model"`
	Rules       RulesConfig     `mapstructure:"rules"`
	Fusion      FusionConfig    `mapstructure:"fusion"`
	Oracle      OracleConfig    `mapstructure:"oracle"`
	Alerts      AlertsConfig    `mapstructure:"alerts"`
	Analytics   AnalyticsConfig `mapstructure:"analytics"`
	Telemetry   TelemetryConfig `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password" json:"-" yaml:"-"`
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
	Password string `mapstructure:"password" json:"-" yaml:"-"`
	DB       int    `mapstructure:"db"`
}

type CacheConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Prefix     string        `mapstructure:"prefix"`
	VerdictTTL time.Duration `mapstructure:"verdict_ttl"`
}

type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret" json:"-" yaml:"-"`
	JWTExpiry string `mapstructure:"jwt_expiry"`
}

type ModelConfig struct {
	Path    string `mapstructure:"path"`
	Version string `mapstructure:"version"`
}

type RulesConfig struct {
	BalanceTolerance  float64                 `mapstructure:"balance_tolerance"`
	MaxFontCount      int                     `mapstructure:"max_font_count"`
	MaxDuplicateDates int                     `mapstructure:"max_duplicate_dates"`
	KnownCreators     []string                `mapstructure:"known_creators"`
	StatementKeywords []string                `mapstructure:"statement_keywords"`
	MinKeywordHits    int                     `mapstructure:"min_keyword_hits"`
	Overrides         map[string]RuleOverride `mapstructure:"overrides"`
}

type RuleOverride struct {
	Enabled  *bool  `mapstructure:"enabled"`
	Severity string `mapstructure:"severity"`
}

type FusionConfig struct {
	Weights             FusionWeights    `mapstructure:"weights"`
	Thresholds          FusionThresholds `mapstructure:"thresholds"`
	SeverityWeights     SeverityWeights  `mapstructure:"severity_weights"`
	ViolationSaturation float64          `mapstructure:"violation_saturation"`
}

type FusionWeights struct {
	Violations float64 `mapstructure:"violations"`
	Classifier float64 `mapstructure:"classifier"`
	Vision     float64 `mapstructure:"vision"`
}

type FusionThresholds struct {
	Low  float64 `mapstructure:"low"`
	High float64 `mapstructure:"high"`
}

type SeverityWeights struct {
	Low    float64 `mapstructure:"low"`
	Medium float64 `mapstructure:"medium"`
	High   float64 `mapstructure:"high"`
}

type OracleConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	BaseURL             string        `mapstructure:"base_url"`
	APIKey              string        `mapstructure:"api_key" json:"-" yaml:"-"`
	Model               string        `mapstructure:"model"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
	InitialBackoff      time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff          time.Duration `mapstructure:"max_backoff"`
	PageLimit           int           `mapstructure:"page_limit"`
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
}

type AlertsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token" json:"-" yaml:"-"`
	ChatID   string `mapstructure:"chat_id"`
	MinLabel string `mapstructure:"min_label"`
}

type AnalyticsConfig struct {
	SMAPeriod int `mapstructure:"sma_period"`
}

type TelemetryConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
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

	// Bind specific environment variables
	if err := viper.BindEnv("auth.jwt_secret", "JWT_SECRET"); err != nil {
		return nil, fmt.Errorf("failed to bind JWT_SECRET environment variable: %w", err)
	}
	if err := viper.BindEnv("oracle.api_key", "ORACLE_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind ORACLE_API_KEY environment variable: %w", err)
	}
	if err := viper.BindEnv("alerts.bot_token", "TELEGRAM_BOT_TOKEN"); err != nil {
		return nil, fmt.Errorf("failed to bind TELEGRAM_BOT_TOKEN environment variable: %w", err)
	}
	if err := viper.BindEnv("database.password", "DATABASE_PASSWORD"); err != nil {
		return nil, fmt.Errorf("failed to bind DATABASE_PASSWORD environment variable: %w", err)
	}

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

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the invariants the verification pipeline depends on. It is
// called by Load and again by tests that build configs by hand.
func (c *Config) Validate() error {
	if c.Environment != "development" && c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET environment variable is required when auth is enabled outside development")
	}
	if c.Auth.JWTExpiry != "" {
		if _, err := time.ParseDuration(c.Auth.JWTExpiry); err != nil {
			return fmt.Errorf("invalid JWT expiry duration: %w", err)
		}
	}

	t := c.Fusion.Thresholds
	if !(t.Low > 0 && t.Low < t.High && t.High < 1) {
		return fmt.Errorf("fusion thresholds must satisfy 0 < low < high < 1, got low=%v high=%v", t.Low, t.High)
	}
	w := c.Fusion.Weights
	if w.Violations <= 0 || w.Classifier <= 0 || w.Vision < 0 {
		return fmt.Errorf("fusion weights must be positive (vision may be zero), got %+v", w)
	}
	if c.Fusion.ViolationSaturation <= 0 {
		return fmt.Errorf("fusion violation_saturation must be positive, got %v", c.Fusion.ViolationSaturation)
	}
	sw := c.Fusion.SeverityWeights
	if sw.Low <= 0 || sw.Medium <= 0 || sw.High <= 0 {
		return fmt.Errorf("fusion severity_weights must all be positive, got %+v", sw)
	}

	if c.Rules.BalanceTolerance < 0 {
		return fmt.Errorf("rules balance_tolerance must not be negative, got %v", c.Rules.BalanceTolerance)
	}

	if c.Oracle.Enabled {
		if c.Oracle.BaseURL == "" {
			return errors.New("oracle.base_url is required when the oracle is enabled")
		}
		if c.Oracle.Timeout <= 0 {
			return fmt.Errorf("oracle.timeout must be positive, got %v", c.Oracle.Timeout)
		}
		if c.Oracle.MaxRetries < 0 {
			return fmt.Errorf("oracle.max_retries must not be negative, got %d", c.Oracle.MaxRetries)
		}
	}

	switch c.Alerts.MinLabel {
	case "", "authentic", "suspicious", "forged":
	default:
		return fmt.Errorf("alerts.min_label must be one of authentic, suspicious, forged; got %q", c.Alerts.MinLabel)
	}

	return nil
}

func setDefaults() {
	// Environment
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "60s")

	// Set database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "stmtguard")
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

	// Verdict cache
	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.prefix", "stmtguard:verdict:")
	viper.SetDefault("cache.verdict_ttl", "24h")

	// Auth
	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.jwt_secret", "")
	viper.SetDefault("auth.jwt_expiry", "24h")

	// Classifier model
	viper.SetDefault("model.path", "./configs/model.json")
	viper.SetDefault("model.version", "")

	// Consistency rules
	viper.SetDefault("rules.balance_tolerance", 0.01)
	viper.SetDefault("rules.max_font_count", 4)
	viper.SetDefault("rules.max_duplicate_dates", 10)
	viper.SetDefault("rules.known_creators", []string{
		"BankExport", "Crystal Reports", "iText", "Quadient", "wkhtmltopdf",
	})
	viper.SetDefault("rules.statement_keywords", []string{
		"statement date", "account number", "balance", "sort code", "account summary",
	})
	viper.SetDefault("rules.min_keyword_hits", 2)

	// Fusion policy
	viper.SetDefault("fusion.weights.violations", 0.4)
	viper.SetDefault("fusion.weights.classifier", 0.35)
	viper.SetDefault("fusion.weights.vision", 0.25)
	viper.SetDefault("fusion.thresholds.low", 0.35)
	viper.SetDefault("fusion.thresholds.high", 0.7)
	viper.SetDefault("fusion.severity_weights.low", 0.15)
	viper.SetDefault("fusion.severity_weights.medium", 0.35)
	viper.SetDefault("fusion.severity_weights.high", 0.6)
	viper.SetDefault("fusion.violation_saturation", 1.5)

	// Vision oracle
	viper.SetDefault("oracle.enabled", true)
	viper.SetDefault("oracle.base_url", "https://api.openai.com")
	viper.SetDefault("oracle.api_key", "")
	viper.SetDefault("oracle.model", "gpt-4o")
	viper.SetDefault("oracle.timeout", "60s")
	viper.SetDefault("oracle.max_retries", 3)
	viper.SetDefault("oracle.initial_backoff", "500ms")
	viper.SetDefault("oracle.max_backoff", "5s")
	viper.SetDefault("oracle.page_limit", 20)
	viper.SetDefault("oracle.similarity_threshold", 0.89)

	// Alerts
	viper.SetDefault("alerts.enabled", false)
	viper.SetDefault("alerts.bot_token", "")
	viper.SetDefault("alerts.chat_id", "")
	viper.SetDefault("alerts.min_label", "forged")

	// Activity analytics
	viper.SetDefault("analytics.sma_period", 5)

	// Telemetry
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.endpoint", "localhost:4318")
	viper.SetDefault("telemetry.insecure", true)
}
