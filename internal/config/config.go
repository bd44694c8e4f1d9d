// Package config loads application configuration from a yaml file and
// environment, and initializes the global logger. Core packages receive an
// explicit *Config (or a section of it); they never read process state.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
	Anomaly     AnomalyConfig     `yaml:"anomaly" mapstructure:"anomaly"`
	Attribution AttributionConfig `yaml:"attribution" mapstructure:"attribution"`
	ETL         ETLConfig         `yaml:"etl" mapstructure:"etl"`
	Automation  AutomationConfig  `yaml:"automation" mapstructure:"automation"`
	Rephrase    RephraseConfig    `yaml:"rephrase" mapstructure:"rephrase"`
}

// StoreConfig configures the mart database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port    int               `yaml:"port" mapstructure:"port"`
	APIKeys map[string]string `yaml:"api_keys" mapstructure:"api_keys"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// AnomalyConfig holds the scorer defaults.
type AnomalyConfig struct {
	Threshold  float64 `yaml:"threshold" mapstructure:"threshold"`
	WindowDays int     `yaml:"window_days" mapstructure:"window_days"`
	MinHistory int     `yaml:"min_history" mapstructure:"min_history"`
}

// AttributionConfig holds the driver attribution defaults.
type AttributionConfig struct {
	BaselineDays int `yaml:"baseline_days" mapstructure:"baseline_days"`
	TopN         int `yaml:"top_n" mapstructure:"top_n"`
}

// ETLConfig configures the mart loader.
type ETLConfig struct {
	CleanDir string `yaml:"clean_dir" mapstructure:"clean_dir"`
	RawDir   string `yaml:"raw_dir" mapstructure:"raw_dir"`
	FTPURL   string `yaml:"ftp_url" mapstructure:"ftp_url"`
}

// AutomationConfig configures webhook dispatch.
type AutomationConfig struct {
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
}

// RephraseConfig configures the optional narrative rephrasing collaborator.
type RephraseConfig struct {
	AnthropicKey string `yaml:"anthropic_key" mapstructure:"anthropic_key"`
	Model        string `yaml:"model" mapstructure:"model"`
}

// Load reads configuration from ./config.yaml (optional) and OPSCOPILOT_
// environment variables, applying defaults for everything else.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("OPSCOPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "data/mart/ops_copilot.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_keys", map[string]string{
		"exec-local-key":    "exec",
		"ops-local-key":     "ops",
		"finance-local-key": "finance",
	})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("anomaly.threshold", 3.0)
	v.SetDefault("anomaly.window_days", 14)
	v.SetDefault("anomaly.min_history", 14)
	v.SetDefault("attribution.baseline_days", 14)
	v.SetDefault("attribution.top_n", 3)
	v.SetDefault("etl.clean_dir", "data/clean")
	v.SetDefault("etl.raw_dir", "data/raw")
	v.SetDefault("automation.timeout_secs", 7)
	v.SetDefault("automation.rate_per_second", 5)
	v.SetDefault("rephrase.model", "claude-haiku-4-5-20251001")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger builds the global zap logger from LogConfig.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
