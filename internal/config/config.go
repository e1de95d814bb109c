package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	IsDebug bool `yaml:"is_debug" env:"LOGSHIM_DEBUG" env-default:"false"`

	Reporter struct {
		URL string `yaml:"url" env:"LOGSHIM_POST_LOG_URL" env-default:"/log" env-description:"where log records are posted"`
	} `yaml:"reporter"`

	HTTP struct {
		UnauthorizedRedirect string        `yaml:"unauthorized_redirect" env:"LOGSHIM_UNAUTHORIZED_REDIRECT" env-default:""`
		MaxRetries           int           `yaml:"max_retries" env:"LOGSHIM_MAX_RETRIES" env-default:"3"`
		RetryDelay           time.Duration `yaml:"retry_delay" env:"LOGSHIM_RETRY_DELAY" env-default:"500ms"`
		Timeout              time.Duration `yaml:"timeout" env:"LOGSHIM_HTTP_TIMEOUT" env-default:"5s"`
	} `yaml:"http"`

	Collector struct {
		Listen        string        `yaml:"listen" env:"LOGSHIM_LISTEN" env-default:":8088"`
		Path          string        `yaml:"path" env:"LOGSHIM_COLLECTOR_PATH" env-default:"/log"`
		DataDir       string        `yaml:"data_dir" env:"LOGSHIM_DATA_DIR" env-default:"./data"`
		Retention     time.Duration `yaml:"retention" env:"LOGSHIM_RETENTION" env-default:"168h"`
		FlushInterval time.Duration `yaml:"flush_interval" env:"LOGSHIM_FLUSH_INTERVAL" env-default:"10s"`
		ClientTimeout time.Duration `yaml:"client_timeout" env:"LOGSHIM_CLIENT_TIMEOUT" env-default:"10m"`
		MaxBuffered   int           `yaml:"max_buffered" env:"LOGSHIM_MAX_BUFFERED" env-default:"100000"`
		// bcrypt hashes of accepted bearer tokens; empty disables auth
		TokenHashes []string `yaml:"token_hashes" env:"LOGSHIM_TOKEN_HASHES" env-separator:","`
	} `yaml:"collector"`
}

// Load reads path when it exists and applies environment overrides; with no
// file only the environment and defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, cfg); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
			return cfg, cfg.validate()
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config %s: %w", path, err)
		}
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	return cfg, cfg.validate()
}

// Usage describes every environment variable, for -help output.
func Usage() string {
	desc, err := cleanenv.GetDescription(&Config{}, nil)
	if err != nil {
		return ""
	}
	return desc
}

func (c *Config) validate() error {
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must not be negative, got %d", c.HTTP.MaxRetries)
	}
	if c.HTTP.RetryDelay < 0 {
		return fmt.Errorf("http.retry_delay must not be negative, got %s", c.HTTP.RetryDelay)
	}
	if c.Collector.FlushInterval <= 0 {
		return fmt.Errorf("collector.flush_interval must be positive, got %s", c.Collector.FlushInterval)
	}
	return nil
}
