// Package config loads the engine commands' configuration from a config file
// and STRUM_* environment variables.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Samples SamplesConfig
	Log     LogConfig
}

// SamplesConfig configures resource resolution. An empty BaseURL disables
// sample playback entirely; every note falls back to synthesis.
type SamplesConfig struct {
	BaseURL           string
	DefaultInstrument string
	TimeoutSeconds    int
}

type LogConfig struct {
	Level string
}

// Load reads strum.yaml from the working directory or ~/.config/strum,
// overridden by environment variables such as STRUM_SAMPLES_BASE_URL. A
// missing config file is fine; the defaults stand.
func Load() (*Config, error) {
	viper.SetConfigName("strum")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.config/strum")

	viper.SetEnvPrefix("strum")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("samples.base_url", "")
	viper.SetDefault("samples.default_instrument", "")
	viper.SetDefault("samples.timeout_seconds", 10)
	viper.SetDefault("log.level", "info")

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Samples: SamplesConfig{
			BaseURL:           viper.GetString("samples.base_url"),
			DefaultInstrument: viper.GetString("samples.default_instrument"),
			TimeoutSeconds:    viper.GetInt("samples.timeout_seconds"),
		},
		Log: LogConfig{
			Level: viper.GetString("log.level"),
		},
	}

	return cfg, nil
}
