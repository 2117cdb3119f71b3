package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CommandMetrics records duration and outcome for domain commands.
type CommandMetrics struct {
	duration *prometheus.HistogramVec
	success  *prometheus.CounterVec
	failure  *prometheus.CounterVec
	retries  *prometheus.CounterVec
}

// NewCommandMetrics registers the command metrics on the provided registerer.
func NewCommandMetrics(reg prometheus.Registerer) *CommandMetrics {
	if reg == nil {
		return &CommandMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "command_duration_seconds",
		Help:    "Duration of domain commands in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"command"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "command_success",
		Help: "Successful command executions.",
	}, []string{"command"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "command_failure",
		Help: "Failed command executions.",
	}, []string{"command", "code"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "command_conflict_retries",
		Help: "Optimistic lock retries per command.",
	}, []string{"command"})
	reg.MustRegister(duration, success, failure, retries)
	return &CommandMetrics{
		duration: duration,
		success:  success,
		failure:  failure,
		retries:  retries,
	}
}

// ObserveDuration records the duration for the named command.
func (c *CommandMetrics) ObserveDuration(command string, duration time.Duration) {
	if c == nil || c.duration == nil {
		return
	}
	c.duration.WithLabelValues(normalizeLabel(command)).Observe(duration.Seconds())
}

// IncSuccess increments the success counter for the named command.
func (c *CommandMetrics) IncSuccess(command string) {
	if c == nil || c.success == nil {
		return
	}
	c.success.WithLabelValues(normalizeLabel(command)).Inc()
}

// IncFailure increments the failure counter for the named command and error code.
func (c *CommandMetrics) IncFailure(command, code string) {
	if c == nil || c.failure == nil {
		return
	}
	c.failure.WithLabelValues(normalizeLabel(command), normalizeLabel(code)).Inc()
}

// IncConflictRetry increments the optimistic retry counter.
func (c *CommandMetrics) IncConflictRetry(command string) {
	if c == nil || c.retries == nil {
		return
	}
	c.retries.WithLabelValues(normalizeLabel(command)).Inc()
}

// WebhookMetrics tracks provider webhook reconciliation outcomes.
type WebhookMetrics struct {
	received   *prometheus.CounterVec
	duplicates *prometheus.CounterVec
	stale      *prometheus.CounterVec
}

// NewWebhookMetrics registers webhook counters on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	received := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_received",
		Help: "Provider webhooks received.",
	}, []string{"provider", "event"})
	duplicates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_duplicate",
		Help: "Provider webhooks skipped as duplicates.",
	}, []string{"provider"})
	stale := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_stale",
		Help: "Provider webhooks ignored as out of order.",
	}, []string{"provider"})
	reg.MustRegister(received, duplicates, stale)
	return &WebhookMetrics{received: received, duplicates: duplicates, stale: stale}
}

// IncReceived counts an accepted webhook.
func (w *WebhookMetrics) IncReceived(provider, event string) {
	if w == nil || w.received == nil {
		return
	}
	w.received.WithLabelValues(normalizeLabel(provider), normalizeLabel(event)).Inc()
}

// IncDuplicate counts a deduplicated webhook.
func (w *WebhookMetrics) IncDuplicate(provider string) {
	if w == nil || w.duplicates == nil {
		return
	}
	w.duplicates.WithLabelValues(normalizeLabel(provider)).Inc()
}

// IncStale counts a webhook rejected by the sequence guard.
func (w *WebhookMetrics) IncStale(provider string) {
	if w == nil || w.stale == nil {
		return
	}
	w.stale.WithLabelValues(normalizeLabel(provider)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
