package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Port     int            `mapstructure:"port"`
	Log      LogConfig      `mapstructure:"log"`
	Store    StoreConfig    `mapstructure:"store"`
	NATS     NATSConfig     `mapstructure:"nats"`
	API      APIConfig      `mapstructure:"api"`
	Settings SettingsConfig `mapstructure:"settings"`
	Provider ProviderConfig `mapstructure:"provider"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// NATSConfig is optional; an empty URL disables the event bus.
type NATSConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

type APIConfig struct {
	Token       string   `mapstructure:"token"`
	RateLimit   float64  `mapstructure:"rate_limit"`
	Burst       int      `mapstructure:"burst"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type SettingsConfig struct {
	Key string `mapstructure:"key"`
}

// ProviderConfig seeds the active provider when stored settings carry no
// API key.
type ProviderConfig struct {
	Name     string `mapstructure:"name"`
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	Endpoint string `mapstructure:"endpoint"`
}

// Load reads tally.yaml (optional) from the working directory, or the file
// at path when given, then applies TALLY_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tally")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("TALLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", 8750)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "tally.db")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.token", "")
	v.SetDefault("api.token", "")
	v.SetDefault("api.rate_limit", 1.0)
	v.SetDefault("api.burst", 3)
	v.SetDefault("api.cors_origins", []string{"*"})
	v.SetDefault("settings.key", "ai-reporter-settings")
	v.SetDefault("provider.name", "")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.model", "")
	v.SetDefault("provider.endpoint", "")

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

// InitLogger builds the process logger and installs it as the zap global.
func InitLogger(cfg LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}
