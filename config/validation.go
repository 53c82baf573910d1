package config

import (
	"fmt"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Returns an error describing the first validation failure.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if !filepath.IsAbs(cfg.Server.DocumentRoot) {
		return fmt.Errorf("server.document_root: %q is not an absolute path", cfg.Server.DocumentRoot)
	}

	// a rewrite source can only match once
	seen := make(map[string]bool, len(cfg.Server.Rewrites))
	for i, r := range cfg.Server.Rewrites {
		if seen[r.From] {
			return fmt.Errorf("server.rewrites[%d]: duplicate source %q", i, r.From)
		}
		seen[r.From] = true
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port == 0 {
			return fmt.Errorf("metrics.port: required when metrics are enabled")
		}
		if cfg.Metrics.Port == cfg.Server.Port {
			return fmt.Errorf("metrics.port: %d is already used by server.port", cfg.Metrics.Port)
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
