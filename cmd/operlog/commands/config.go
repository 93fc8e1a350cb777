package commands

import (
	"fmt"
	"path/filepath"
	"time"

	"operlog-client/lib/configutil"
)

type HistoryConfig struct {
	TimestampLayout string  `json:"timestamp_layout" yaml:"timestamp_layout"`
	LoginPath       string  `json:"login_path" yaml:"login_path"`
	RateLimit       float64 `json:"rate_limit" yaml:"rate_limit"`
}

type Config struct {
	BaseUrl  string `json:"base_url" yaml:"base_url"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	// relative paths are resolved against the directory of the config file
	TokenFile      string        `json:"token_file" yaml:"token_file"`
	TimeoutSeconds int           `json:"timeout_seconds" yaml:"timeout_seconds"`
	Timezone       string        `json:"timezone" yaml:"timezone"`
	History        HistoryConfig `json:"history" yaml:"history"`
	// sqlite path or libsql url history is archived to
	Database string `json:"database" yaml:"database"`
}

func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LoadConfig reads the config at `path` (and its .local override) and fills
// in defaults.
func LoadConfig(path string) (Config, error) {
	cfg, err := configutil.ReadConfig[Config](path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if cfg.BaseUrl == "" {
		return Config{}, fmt.Errorf("config %s: base_url is required", path)
	}

	if cfg.TokenFile == "" {
		cfg.TokenFile = ".token"
	}
	if !filepath.IsAbs(cfg.TokenFile) {
		cfg.TokenFile = filepath.Join(filepath.Dir(path), cfg.TokenFile)
	}
	return cfg, nil
}
