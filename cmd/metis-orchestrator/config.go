package main

import (
	"fmt"

	"github.com/dukex/metis/pkg/execution"
	"github.com/dukex/metis/pkg/failsafe"
	"github.com/dukex/metis/pkg/queue"
	"github.com/dukex/metis/pkg/taskrunner"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
)

const (
	defaultPort       = 9091
	defaultWorkers    = 4
	defaultBufferSize = 100
)

// Config is the complete orchestrator configuration assembled from flags.
type Config struct {
	InstanceID   string   `validate:"required"`
	DatabaseURL  string   `validate:"required"`
	EventBus     string   `validate:"oneof=kafka gochannel"`
	KafkaBrokers []string `validate:"required_if=EventBus kafka"`
	RedisURL     string   `validate:"omitempty,url"`

	Port           int  `validate:"min=1,max=65535"`
	MetricsPort    int  `validate:"min=0,max=65535"`
	TracingEnabled bool
	LogLevel       string `validate:"oneof=debug info warn error"`
	LogFormat      string `validate:"oneof=text json"`

	TaskRunner taskrunner.HTTPClientConfig
	Executor   execution.Settings
	Queue      queue.Config
	Failsafe   failsafe.Config
}

func (c Config) Validate() error {
	return validator.New(validator.WithRequiredStructEnabled()).Struct(c)
}

func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "instance-id",
			Aliases: []string{"id"},
			Usage:   "Owner recorded on claimed executions (auto-generated if not provided)",
			Sources: cli.EnvVars("INSTANCE_ID"),
		},
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Execution store URL (postgres://, mongodb:// or a file path)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Dispatch queue transport (kafka, gochannel)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringSliceFlag{
			Name:    "kafka-brokers",
			Usage:   "Kafka broker addresses",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for dataset locks shared between instances",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:     "task-runner-url",
			Usage:    "Base URL of the task runner REST API",
			Required: true,
			Sources:  cli.EnvVars("TASK_RUNNER_URL"),
		},
		&cli.StringFlag{
			Name:    "task-runner-username",
			Usage:   "Task runner basic auth username",
			Sources: cli.EnvVars("TASK_RUNNER_USERNAME"),
		},
		&cli.StringFlag{
			Name:    "task-runner-password",
			Usage:   "Task runner basic auth password",
			Sources: cli.EnvVars("TASK_RUNNER_PASSWORD"),
		},
		&cli.DurationFlag{
			Name:    "task-runner-timeout",
			Usage:   "Timeout of a single task runner request",
			Value:   taskrunner.DefaultTimeout,
			Sources: cli.EnvVars("TASK_RUNNER_TIMEOUT"),
		},
		&cli.FloatFlag{
			Name:    "task-runner-rps",
			Usage:   "Maximum task runner requests per second (0 for unlimited)",
			Sources: cli.EnvVars("TASK_RUNNER_RPS"),
		},
		&cli.StringFlag{
			Name:     "ecloud-base-url",
			Usage:    "Base URL of the datasets processed by submitted tasks",
			Required: true,
			Sources:  cli.EnvVars("ECLOUD_BASE_URL"),
		},
		&cli.StringFlag{
			Name:    "ecloud-provider",
			Usage:   "Provider of the datasets processed by submitted tasks",
			Value:   "metis",
			Sources: cli.EnvVars("ECLOUD_PROVIDER"),
		},
		&cli.IntFlag{
			Name:    "workers",
			Aliases: []string{"w"},
			Usage:   "Number of executions run concurrently",
			Value:   defaultWorkers,
			Sources: cli.EnvVars("WORKERS"),
		},
		&cli.IntFlag{
			Name:    "queue-buffer",
			Usage:   "Queued executions held in memory before the consumer blocks",
			Value:   defaultBufferSize,
			Sources: cli.EnvVars("QUEUE_BUFFER"),
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Usage:   "Interval between task progress polls",
			Value:   execution.DefaultPollInterval,
			Sources: cli.EnvVars("POLL_INTERVAL"),
		},
		&cli.DurationFlag{
			Name:    "no-progress-window",
			Usage:   "Time without processed records before a task is cancelled",
			Value:   execution.DefaultNoProgressWindow,
			Sources: cli.EnvVars("NO_PROGRESS_WINDOW"),
		},
		&cli.DurationFlag{
			Name:    "claim-lease",
			Usage:   "Time without updates before a RUNNING execution can be claimed again",
			Value:   execution.DefaultClaimLease,
			Sources: cli.EnvVars("CLAIM_LEASE"),
		},
		&cli.DurationFlag{
			Name:    "failsafe-interval",
			Usage:   "Interval between failsafe sweeps",
			Value:   failsafe.DefaultInterval,
			Sources: cli.EnvVars("FAILSAFE_INTERVAL"),
		},
		&cli.DurationFlag{
			Name:    "failsafe-liveness-window",
			Usage:   "Time without updates before an execution is re-enqueued",
			Value:   failsafe.DefaultLivenessWindow,
			Sources: cli.EnvVars("FAILSAFE_LIVENESS_WINDOW"),
		},
		&cli.IntFlag{
			Name:    "failsafe-batch-size",
			Usage:   "Maximum executions re-enqueued per sweep",
			Value:   failsafe.DefaultBatchSize,
			Sources: cli.EnvVars("FAILSAFE_BATCH_SIZE"),
		},
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.IntFlag{
			Name:    "metrics-port",
			Usage:   "Port of the Prometheus metrics server (0 disables metrics)",
			Sources: cli.EnvVars("METRICS_PORT"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export OpenTelemetry traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

func configFromCommand(command *cli.Command) Config {
	instanceID := command.String("instance-id")
	if instanceID == "" {
		instanceID = fmt.Sprintf("metis-%s", uuid.New().String()[:8])
	}

	settings := execution.DefaultSettings(instanceID)
	settings.PollInterval = command.Duration("poll-interval")
	settings.NoProgressWindow = command.Duration("no-progress-window")
	settings.ClaimLease = command.Duration("claim-lease")
	settings.BaseURL = command.String("ecloud-base-url")
	settings.Provider = command.String("ecloud-provider")

	sweep := failsafe.DefaultConfig()
	sweep.Interval = command.Duration("failsafe-interval")
	sweep.LivenessWindow = command.Duration("failsafe-liveness-window")
	sweep.BatchSize = command.Int("failsafe-batch-size")

	return Config{
		InstanceID:     instanceID,
		DatabaseURL:    command.String("database-url"),
		EventBus:       command.String("event-bus"),
		KafkaBrokers:   command.StringSlice("kafka-brokers"),
		RedisURL:       command.String("redis-url"),
		Port:           command.Int("port"),
		MetricsPort:    command.Int("metrics-port"),
		TracingEnabled: command.Bool("tracing"),
		LogLevel:       command.String("log-level"),
		LogFormat:      command.String("log-format"),
		TaskRunner: taskrunner.HTTPClientConfig{
			BaseURL:           command.String("task-runner-url"),
			Username:          command.String("task-runner-username"),
			Password:          command.String("task-runner-password"),
			Timeout:           command.Duration("task-runner-timeout"),
			RequestsPerSecond: command.Float("task-runner-rps"),
		},
		Executor: settings,
		Queue: queue.Config{
			Workers:    command.Int("workers"),
			BufferSize: command.Int("queue-buffer"),
		},
		Failsafe: sweep,
	}
}

// livenessWarning reports a failsafe window short enough to re-enqueue executions that are still polled.
func (c Config) livenessWarning() string {
	if c.Failsafe.LivenessWindow > 2*c.Executor.PollInterval && c.Failsafe.LivenessWindow >= c.Executor.ClaimLease {
		return ""
	}

	return fmt.Sprintf("failsafe liveness window %s should exceed twice the poll interval %s and the claim lease %s",
		c.Failsafe.LivenessWindow, c.Executor.PollInterval, c.Executor.ClaimLease)
}
