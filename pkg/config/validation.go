package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/avelingo/avelingo-go/pkg/errors"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		must(validate.RegisterValidation("model_id", validateModelID))
		must(validate.RegisterValidation("log_level", validateLogLevel))
	})
	return validate
}

func must(err error) {
	if err != nil {
		panic(fmt.Sprintf("failed to register config validator: %v", err))
	}
}

// Validate checks a configuration for structural problems and returns one
// coded error describing every violation found.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New(errors.ValidationFailed, "config is nil")
	}

	err := getValidator().Struct(cfg)
	if err == nil {
		return validateCustomRules(cfg)
	}

	var messages []string
	if errs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range errs {
			messages = append(messages, validationMessage(e))
		}
	} else {
		messages = append(messages, err.Error())
	}

	return errors.WithFields(
		errors.New(errors.ValidationFailed, "config validation failed"),
		errors.Fields{"violations": strings.Join(messages, "; ")})
}

func validateCustomRules(cfg *Config) error {
	// The tracked model must have a pricing row, otherwise every cost
	// estimate silently falls through to the default model.
	if _, ok := cfg.Pricing[cfg.Model.ModelID]; !ok {
		return errors.WithFields(
			errors.New(errors.ValidationFailed, "model has no pricing entry"),
			errors.Fields{"model_id": cfg.Model.ModelID})
	}

	if cfg.Batch.RetryAttempts < 0 {
		return errors.New(errors.ValidationFailed, "batch retry_attempts cannot be negative")
	}
	if cfg.Cache.Capacity < 0 {
		return errors.New(errors.ValidationFailed, "cache capacity cannot be negative")
	}
	return nil
}

func validateModelID(fl validator.FieldLevel) bool {
	modelID := fl.Field().String()
	validPrefixes := []string{"claude-3", "claude-4", "claude-haiku", "claude-sonnet", "claude-opus"}
	for _, prefix := range validPrefixes {
		if strings.HasPrefix(modelID, prefix) {
			return true
		}
	}
	return false
}

func validateLogLevel(fl validator.FieldLevel) bool {
	level := fl.Field().String()
	switch level {
	case "DEBUG", "INFO", "WARN", "ERROR", "FATAL":
		return true
	}
	return false
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", e.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s", e.Field(), e.Param())
	case "model_id":
		return fmt.Sprintf("%s is not a recognized Anthropic model ID", e.Field())
	case "log_level":
		return fmt.Sprintf("%s must be one of DEBUG, INFO, WARN, ERROR, FATAL", e.Field())
	default:
		return fmt.Sprintf("%s failed validation", e.Field())
	}
}
