package config

import (
	"fmt"
	"net/url"
	"strings"
)

var (
	validProviders = []string{"anthropic", "openai"}
	validEngines   = []string{"native", "prompt"}
	validOperators = []string{"desktop", "remote", "mobile", "browser", "none"}
	validStores    = []string{"none", "file", "sqlite"}
	validPlatforms = []string{"linux", "darwin", "windows"}
	validLogLevels = []string{"debug", "info", "warn", "error"}
)

// Validator checks individual configuration values and reports every
// problem at once.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

func oneOf(field, value string, allowed []string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q (must be one of: %s)", field, value, strings.Join(allowed, ", "))
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}
	if provider == "anthropic" && !strings.HasPrefix(key, "sk-ant-") {
		return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
	}
	return nil
}

func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	return nil
}

func (v *Validator) ValidateRemote(r RemoteConfig) error {
	if r.BaseURL == "" {
		return fmt.Errorf("operator.remote.base_url is required")
	}
	if _, err := url.ParseRequestURI(r.BaseURL); err != nil {
		return fmt.Errorf("operator.remote.base_url: %w", err)
	}
	if r.MaxAttempts < 1 {
		return fmt.Errorf("operator.remote.max_attempts must be >= 1")
	}
	if r.BackoffMillis < 0 {
		return fmt.Errorf("operator.remote.backoff_ms must be >= 0")
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := oneOf("model.provider", cfg.Model.Provider, validProviders); err != nil {
		errs = append(errs, err)
	}
	if err := oneOf("model.engine", cfg.Model.Engine, validEngines); err != nil {
		errs = append(errs, err)
	}
	if cfg.Model.APIKey != "" {
		if err := v.ValidateAPIKey(cfg.Model.APIKey, cfg.Model.Provider); err != nil {
			errs = append(errs, err)
		}
	}
	if err := v.ValidateTemperature(cfg.Model.Temperature); err != nil {
		errs = append(errs, err)
	}
	if err := oneOf("operator.kind", cfg.Operator.Kind, validOperators); err != nil {
		errs = append(errs, err)
	}
	switch cfg.Operator.Kind {
	case "remote":
		if err := v.ValidateRemote(cfg.Operator.Remote); err != nil {
			errs = append(errs, err)
		}
	case "desktop":
		if err := oneOf("operator.desktop.platform", cfg.Operator.Desktop.Platform, validPlatforms); err != nil {
			errs = append(errs, err)
		}
		if cfg.Operator.Desktop.ScaleFactor <= 0 {
			errs = append(errs, fmt.Errorf("operator.desktop.scale_factor must be > 0"))
		}
	}
	if cfg.Operator.ScrollMax < 1 {
		errs = append(errs, fmt.Errorf("operator.scroll_max must be >= 1"))
	}
	if err := oneOf("store.kind", cfg.Store.Kind, validStores); err != nil {
		errs = append(errs, err)
	}
	if err := oneOf("logging.level", cfg.Logging.Level, validLogLevels); err != nil {
		errs = append(errs, err)
	}
	return errs
}
