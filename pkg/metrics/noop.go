package metrics

import "time"

// NoopSink is used when metrics are disabled.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) ClaimAttempt(granted bool)                                      {}
func (n *NoopSink) ExecutionCompleted(status string, duration time.Duration)       {}
func (n *NoopSink) PluginCompleted(pluginType, status string)                      {}
func (n *NoopSink) MonitorFailure()                                                {}
func (n *NoopSink) StallDetected()                                                 {}
func (n *NoopSink) QueueDepthUpdate(depth int)                                     {}
func (n *NoopSink) WorkersBusyIncr()                                               {}
func (n *NoopSink) WorkersBusyDecr()                                               {}
func (n *NoopSink) SweepCompleted(duration time.Duration, requeued int, err error) {}
