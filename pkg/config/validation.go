package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/pebld/internal/telemetry"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and the cross-field rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return formatValidationErrors(verrs)
		}
		return err
	}

	for _, name := range cfg.Telemetry.Profiling.ProfileTypes {
		if !telemetry.ValidProfileType(name) {
			return fmt.Errorf("telemetry.profiling.profile_types: unknown profile type %q", name)
		}
	}

	if cfg.Metrics.Enabled && cfg.API.IsEnabled() && cfg.Metrics.Port == cfg.API.Port {
		return fmt.Errorf("metrics.port and api.port are both %d", cfg.Metrics.Port)
	}
	if cfg.API.IsEnabled() && cfg.Server.Port == cfg.API.Port {
		return fmt.Errorf("server.port and api.port are both %d", cfg.API.Port)
	}
	if cfg.Metrics.Enabled && cfg.Server.Port == cfg.Metrics.Port {
		return fmt.Errorf("server.port and metrics.port are both %d", cfg.Metrics.Port)
	}

	return nil
}

// formatValidationErrors renders validator errors as "Field.Path: tag=param" lines.
func formatValidationErrors(verrs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		msgs = append(msgs, fmt.Sprintf("%s: failed %s (value %v)", field, rule, fe.Value()))
	}
	return errors.New(strings.Join(msgs, "; "))
}
