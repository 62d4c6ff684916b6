package metrics

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink with the Prometheus client.
// Collectors that fail to register are logged and keep working unregistered.
type PrometheusSink struct {
	logger *slog.Logger

	claimsTotal         *prometheus.CounterVec
	executionsTotal     *prometheus.CounterVec
	executionDuration   prometheus.Histogram
	pluginsTotal        *prometheus.CounterVec
	monitorFailures     prometheus.Counter
	stallsTotal         prometheus.Counter
	queueDepth          prometheus.Gauge
	workersBusy         prometheus.Gauge
	sweepsTotal         prometheus.Counter
	sweepErrorsTotal    prometheus.Counter
	sweepRequeuedTotal  prometheus.Counter
	sweepDurationSecond prometheus.Histogram
}

func NewPrometheusSink(reg prometheus.Registerer, logger *slog.Logger) *PrometheusSink {
	s := &PrometheusSink{logger: logger.With("module", "metrics")}
	s.initExecutorMetrics(reg)
	s.initQueueMetrics(reg)
	s.initFailsafeMetrics(reg)

	return s
}

func (s *PrometheusSink) initExecutorMetrics(reg prometheus.Registerer) {
	s.claimsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "metis_executor_claims_total",
		Help: "Claim attempts by outcome.",
	}, []string{"granted"})
	s.executionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "metis_executor_executions_total",
		Help: "Executions driven to the end of a run, by final status.",
	}, []string{"status"})
	s.executionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "metis_executor_execution_duration_seconds",
		Help:    "Wall time of one executor run.",
		Buckets: []float64{1, 10, 60, 300, 900, 3600, 4 * 3600, 24 * 3600},
	})
	s.pluginsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "metis_executor_plugins_total",
		Help: "Plugins that left the monitor loop, by type and status.",
	}, []string{"plugin_type", "status"})
	s.monitorFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "metis_executor_monitor_failures_total",
		Help: "Failed task runner calls during monitoring.",
	})
	s.stallsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "metis_executor_stalls_total",
		Help: "Plugins cancelled after making no progress within the stall window.",
	})

	s.register(reg, s.claimsTotal, "metis_executor_claims_total")
	s.register(reg, s.executionsTotal, "metis_executor_executions_total")
	s.register(reg, s.executionDuration, "metis_executor_execution_duration_seconds")
	s.register(reg, s.pluginsTotal, "metis_executor_plugins_total")
	s.register(reg, s.monitorFailures, "metis_executor_monitor_failures_total")
	s.register(reg, s.stallsTotal, "metis_executor_stalls_total")
}

func (s *PrometheusSink) initQueueMetrics(reg prometheus.Registerer) {
	s.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "metis_queue_depth",
		Help: "Executions waiting for a free worker.",
	})
	s.workersBusy = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "metis_queue_workers_busy",
		Help: "Workers currently running an executor.",
	})

	s.register(reg, s.queueDepth, "metis_queue_depth")
	s.register(reg, s.workersBusy, "metis_queue_workers_busy")
}

func (s *PrometheusSink) initFailsafeMetrics(reg prometheus.Registerer) {
	s.sweepsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "metis_failsafe_sweeps_total",
		Help: "Recovery sweeps run.",
	})
	s.sweepErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "metis_failsafe_sweep_errors_total",
		Help: "Recovery sweeps that ended with an error.",
	})
	s.sweepRequeuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "metis_failsafe_requeued_total",
		Help: "Stale executions re-enqueued by the recovery sweep.",
	})
	s.sweepDurationSecond = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "metis_failsafe_sweep_duration_seconds",
		Help:    "Duration of one recovery sweep.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	})

	s.register(reg, s.sweepsTotal, "metis_failsafe_sweeps_total")
	s.register(reg, s.sweepErrorsTotal, "metis_failsafe_sweep_errors_total")
	s.register(reg, s.sweepRequeuedTotal, "metis_failsafe_requeued_total")
	s.register(reg, s.sweepDurationSecond, "metis_failsafe_sweep_duration_seconds")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.logger.Warn("failed to register collector", "name", name, "error", err)
	}
}

func (s *PrometheusSink) ClaimAttempt(granted bool) {
	s.claimsTotal.WithLabelValues(strconv.FormatBool(granted)).Inc()
}

func (s *PrometheusSink) ExecutionCompleted(status string, duration time.Duration) {
	s.executionsTotal.WithLabelValues(status).Inc()
	s.executionDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) PluginCompleted(pluginType, status string) {
	s.pluginsTotal.WithLabelValues(pluginType, status).Inc()
}

func (s *PrometheusSink) MonitorFailure() {
	s.monitorFailures.Inc()
}

func (s *PrometheusSink) StallDetected() {
	s.stallsTotal.Inc()
}

func (s *PrometheusSink) QueueDepthUpdate(depth int) {
	s.queueDepth.Set(float64(depth))
}

func (s *PrometheusSink) WorkersBusyIncr() {
	s.workersBusy.Inc()
}

func (s *PrometheusSink) WorkersBusyDecr() {
	s.workersBusy.Dec()
}

func (s *PrometheusSink) SweepCompleted(duration time.Duration, requeued int, err error) {
	s.sweepsTotal.Inc()
	s.sweepDurationSecond.Observe(duration.Seconds())
	s.sweepRequeuedTotal.Add(float64(requeued))

	if err != nil {
		s.sweepErrorsTotal.Inc()
	}
}
