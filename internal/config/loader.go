package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError wraps configuration loading failures with the offending key so
// that startup logs point directly at the misconfigured value.
type ConfigError struct {
	Key string
	Err error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config: %s: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("config: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// LoadConfig resolves the full configuration from the environment.
//
//  1. Load .env file via godotenv (non-fatal if absent; OS environment wins).
//  2. Populate the Config struct via envconfig.
//  3. Validate required fields and formats; any failure aborts startup.
func LoadConfig() (*Config, error) {
	// godotenv.Load() silently succeeds if no .env file exists in the working
	// directory; values already present in the OS environment are preserved.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{Err: err}
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validateConfig runs struct-tag validation over the loaded configuration.
// The first failing field is reported; startup is all-or-nothing.
func validateConfig(cfg *Config) error {
	v := validator.New()

	if err := v.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			first := verrs[0]
			return &ConfigError{
				Key: first.Namespace(),
				Err: fmt.Errorf("failed %q validation", first.Tag()),
			}
		}
		return &ConfigError{Err: err}
	}

	return nil
}
