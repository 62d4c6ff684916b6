// Package metrics records orchestrator activity.
package metrics

import "time"

// Sink records orchestrator metrics.
// Methods never block and never return errors.
type Sink interface {
	// Executor
	ClaimAttempt(granted bool)
	ExecutionCompleted(status string, duration time.Duration)
	PluginCompleted(pluginType, status string)
	MonitorFailure()
	StallDetected()

	// Dispatch queue
	QueueDepthUpdate(depth int)
	WorkersBusyIncr()
	WorkersBusyDecr()

	// Failsafe
	SweepCompleted(duration time.Duration, requeued int, err error)
}
