package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all service configuration.
type Config struct {
	Model  ModelConfig
	Server ServerConfig
	Log    LogConfig
}

// ModelConfig locates the model artifact and tunes the inference runtime.
type ModelConfig struct {
	// Dir is the directory holding the model file. It is not validated here;
	// the model package reports a missing directory as a configuration error.
	Dir            string `env:"AZUREML_MODEL_DIR"`
	LibraryPath    string `env:"ORT_LIBRARY_PATH"`
	IntraOpThreads int    `env:"ORT_INTRA_OP_THREADS,default=0" validate:"gte=0"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `env:"SERVER_HOST,default=0.0.0.0"`
	Port            int           `env:"SERVER_PORT,default=5001" validate:"min=1,max=65535"`
	Mode            string        `env:"SERVER_MODE,default=release" validate:"oneof=debug release test"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT,default=30s" validate:"gt=0"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=json" validate:"oneof=json console"`
}

// Load reads a .env file if one exists, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
