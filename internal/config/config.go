package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds process-level settings for the CLI and the HTTP server.
type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Worker struct {
		// Path of the binary re-executed as the optimization worker. Empty
		// means the running executable.
		Path string `env:"WORKER_PATH"`
		// PollInterval is how often blocking CLI waits poll the job runner.
		PollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"100ms"`
	}
	Optimization struct {
		GridSize  int     `env:"OPT_GRID_SIZE" envDefault:"3"`
		Tolerance float64 `env:"OPT_TOLERANCE" envDefault:"1e-6"`
		MaxIter   int     `env:"OPT_MAX_ITER" envDefault:"100"`
		Seed      int64   `env:"OPT_SEED" envDefault:"1"`
	}
}

// Load parses OPTBENCH_* environment variables into a Config.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "OPTBENCH_"}); err != nil {
		return nil, err
	}

	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}

	return cfg, nil
}

// DefaultSettings returns job settings seeded from the process defaults.
func (c *Config) DefaultSettings(method string) Settings {
	s := NewSettings(method)
	if c == nil {
		return s
	}
	if c.Optimization.GridSize > 0 {
		s.GridSize = c.Optimization.GridSize
	}
	if c.Optimization.Tolerance > 0 {
		s.Tol = c.Optimization.Tolerance
	}
	if c.Optimization.MaxIter > 0 {
		s.MaxIter = c.Optimization.MaxIter
	}
	s.Seed = c.Optimization.Seed
	return s
}

// GetEnv returns the value of the environment variable or the default value
func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
