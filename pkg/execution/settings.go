// Package execution drives claimed executions through their plugins.
package execution

import (
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultPollInterval     = 15 * time.Second
	DefaultNoProgressWindow = 3 * time.Hour
	DefaultClaimLease       = 5 * time.Minute
)

// Settings configures an Executor.
type Settings struct {
	// InstanceID is recorded as the owner of every claim taken by this process.
	InstanceID       string        `validate:"required"`
	PollInterval     time.Duration `validate:"gt=0"`
	NoProgressWindow time.Duration `validate:"gtfield=PollInterval"`
	// ClaimLease is how long a RUNNING execution may go without an update before another
	// instance may claim it. Monitoring refreshes it on every poll.
	ClaimLease time.Duration `validate:"gtfield=PollInterval"`

	// Target of every submitted task.
	BaseURL  string `validate:"required,url"`
	Provider string `validate:"required"`
}

func DefaultSettings(instanceID string) Settings {
	return Settings{
		InstanceID:       instanceID,
		PollInterval:     DefaultPollInterval,
		NoProgressWindow: DefaultNoProgressWindow,
		ClaimLease:       DefaultClaimLease,
	}
}

func (s Settings) Validate() error {
	return validator.New(validator.WithRequiredStructEnabled()).Struct(s)
}
