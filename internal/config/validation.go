package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"pictor/internal/model"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
// Struct tags cover the declarative checks; anything conditional on a
// tagged-union Type field lives in validateCustomRules.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	switch cfg.Database.Type {
	case "sqlite":
		if cfg.Database.Path == "" {
			return fmt.Errorf("database: path is required for type=sqlite")
		}
	case "postgres":
		if cfg.Database.DSN == "" {
			return fmt.Errorf("database: dsn is required for type=postgres")
		}
	}

	if cfg.Queue.Type == "asynq" && cfg.Queue.RedisAddr == "" {
		return fmt.Errorf("queue: redis_addr is required for type=asynq")
	}
	if cfg.Queue.Workers < 0 {
		return fmt.Errorf("queue: workers must not be negative")
	}

	if cfg.Renderer.Type == "exec" && len(cfg.Renderer.Command) == 0 {
		return fmt.Errorf("renderer: command is required for type=exec")
	}

	switch cfg.Cache.Blob.Type {
	case "filesystem":
		if cfg.Cache.Blob.FSRoot == "" {
			return fmt.Errorf("cache.blob: fs_root is required for type=filesystem")
		}
	case "s3":
		if cfg.Cache.Blob.S3Bucket == "" {
			return fmt.Errorf("cache.blob: s3_bucket is required for type=s3")
		}
	}

	if cfg.Permissions.Default != "" {
		if _, err := model.ParseLevel(cfg.Permissions.Default); err != nil {
			return fmt.Errorf("permissions: %w", err)
		}
	}
	for i, rule := range cfg.Permissions.Rules {
		if !strings.HasPrefix(rule.Prefix, "/") {
			return fmt.Errorf("permissions.rules[%d]: prefix must start with /", i)
		}
		if rule.Actor == "" {
			return fmt.Errorf("permissions.rules[%d]: actor is required (use * for everyone)", i)
		}
		if _, err := model.ParseLevel(rule.Level); err != nil {
			return fmt.Errorf("permissions.rules[%d]: %w", i, err)
		}
	}

	if cfg.Watch.DebounceMS < 0 {
		return fmt.Errorf("watch: debounce_ms must not be negative")
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		// Return the first validation error with context
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
