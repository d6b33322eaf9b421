package config

import (
	"time"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Network   NetworkConfig   `mapstructure:"network"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Push      PushConfig      `mapstructure:"push"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string   `mapstructure:"host"`
	Port         int      `mapstructure:"port"`
	ReadTimeout  string   `mapstructure:"read_timeout"`
	WriteTimeout string   `mapstructure:"write_timeout"`
	CorsOrigins  []string `mapstructure:"cors_origins"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

type StorageConfig struct {
	// Path is the directory holding the engine's SQLite database.
	Path string `mapstructure:"path"`
}

type CacheConfig struct {
	// Version tags every cache partition. Bumping it invalidates all
	// partitions created under the previous version on next startup.
	Version string `mapstructure:"version"`
}

type NetworkConfig struct {
	// BaseURL is the remote API root that queued mutations are replayed
	// against.
	BaseURL string `mapstructure:"base_url"`
	Timeout string `mapstructure:"timeout"`
}

func (n NetworkConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(n.Timeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

type SyncConfig struct {
	BatchSize    int    `mapstructure:"batch_size"`
	RetryCeiling int    `mapstructure:"retry_ceiling"`
	BackoffBase  string `mapstructure:"backoff_base"`
	BackoffMax   string `mapstructure:"backoff_max"`
}

func (s SyncConfig) GetBackoffBase() time.Duration {
	d, err := time.ParseDuration(s.BackoffBase)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

func (s SyncConfig) GetBackoffMax() time.Duration {
	d, err := time.ParseDuration(s.BackoffMax)
	if err != nil || d <= 0 {
		return 2 * time.Minute
	}
	return d
}

type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

type PushConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
