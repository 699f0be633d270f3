package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/jaywantadh/xferstream/pkg/logging"
)

// AppConfig holds the application-level configuration
type AppConfig struct {
	Engine             string        `mapstructure:"engine"`
	SinkHighWaterMark  int           `mapstructure:"sink_high_water_mark"`
	UploadBufferSize   int           `mapstructure:"upload_buffer_size"`
	DownloadBufferSize int           `mapstructure:"download_buffer_size"`
	Timeout            time.Duration `mapstructure:"timeout"`
	HistoryPath        string        `mapstructure:"history_path"`
	MetricsAddr        string        `mapstructure:"metrics_addr"`
	UserAgent          string        `mapstructure:"user_agent"`
	Debug              bool          `mapstructure:"debug"`
}

var Config *AppConfig

const (
	EngineHTTP = "http"
	EngineSim  = "sim"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine", EngineHTTP)
	v.SetDefault("sink_high_water_mark", 64*1024)
	v.SetDefault("upload_buffer_size", 64*1024)
	v.SetDefault("download_buffer_size", 16*1024)
	v.SetDefault("timeout", 0)
	v.SetDefault("history_path", "./data/history")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("user_agent", "xferstream/1.0")
	v.SetDefault("debug", false)
}

// LoadConfig reads config.yaml from path, overlays XFER_* environment
// variables and falls back to defaults for anything unset.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.SetEnvPrefix("xfer")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logging.Log.Debugf("Could not find config file in %s, using defaults", path)
	}

	var appConfig AppConfig
	if err := v.Unmarshal(&appConfig); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := appConfig.Validate(); err != nil {
		return nil, err
	}

	Config = &appConfig
	logging.Log.Debug("Configuration loaded successfully")
	return &appConfig, nil
}

// Validate rejects values the transfer layer cannot work with.
func (c *AppConfig) Validate() error {
	switch c.Engine {
	case EngineHTTP, EngineSim:
	default:
		return fmt.Errorf("unknown engine %q", c.Engine)
	}
	if c.SinkHighWaterMark < 0 {
		return fmt.Errorf("sink_high_water_mark must not be negative")
	}
	if c.UploadBufferSize <= 0 || c.DownloadBufferSize <= 0 {
		return fmt.Errorf("buffer sizes must be positive")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	return nil
}
