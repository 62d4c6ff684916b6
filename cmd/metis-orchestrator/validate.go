package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/urfave/cli/v3"
)

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Validate the orchestrator configuration without connecting to anything",
		Flags:   configFlags(),
		Action: func(_ context.Context, command *cli.Command) error {
			config := configFromCommand(command)

			_, _ = fmt.Fprintln(os.Stdout, "Configuration Validation Results:")
			_, _ = fmt.Fprintln(os.Stdout, "=================================")

			err := config.Validate()
			if err != nil {
				var validationErrors validator.ValidationErrors
				if errors.As(err, &validationErrors) {
					for _, fieldErr := range validationErrors {
						_, _ = fmt.Fprintf(os.Stdout, "  ❌ INVALID: %s (%s=%v)\n", fieldErr.Namespace(), fieldErr.Tag(), fieldErr.Value())
					}
				}

				return fmt.Errorf("invalid configuration: %w", err)
			}

			if warning := config.livenessWarning(); warning != "" {
				_, _ = fmt.Fprintf(os.Stdout, "  ⚠️  WARNING: %s\n", warning)
			}

			_, _ = fmt.Fprintf(os.Stdout, "  Instance: %s\n", config.InstanceID)
			_, _ = fmt.Fprintf(os.Stdout, "  Event bus: %s\n", config.EventBus)
			_, _ = fmt.Fprintf(os.Stdout, "  Workers: %d\n", config.Queue.Workers)
			_, _ = fmt.Fprintln(os.Stdout, "Configuration is valid! ✅")

			return nil
		},
	}
}
