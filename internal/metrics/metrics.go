package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the event counters incremented on the request path.
// All methods are nil-safe so components can run without metrics in tests.
type Metrics struct {
	webhooks       *prometheus.CounterVec
	correlations   *prometheus.CounterVec
	providerErrors *prometheus.CounterVec
	messages       *prometheus.CounterVec
	busDropped     prometheus.Counter
	cacheLookups   *prometheus.CounterVec
}

// New creates the counters and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "softphone_webhooks_total",
			Help: "Provider webhooks received, by kind and result",
		}, []string{"kind", "result"}),
		correlations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "softphone_callback_correlations_total",
			Help: "Status and recording callback correlation outcomes",
		}, []string{"kind", "outcome"}),
		providerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "softphone_provider_errors_total",
			Help: "Failed calls to the telephony provider, by operation",
		}, []string{"op"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "softphone_messages_total",
			Help: "Messages persisted, by direction",
		}, []string{"direction"}),
		busDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "softphone_eventbus_subscribers_dropped_total",
			Help: "Subscribers disconnected because their send queue was full",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "softphone_tenant_cache_lookups_total",
			Help: "Tenant directory cache lookups, by result (hit or miss)",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.webhooks, m.correlations, m.providerErrors, m.messages, m.busDropped, m.cacheLookups)
	}
	return m
}

func (m *Metrics) Webhook(kind, result string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) Correlation(kind, outcome string) {
	if m == nil {
		return
	}
	m.correlations.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ProviderError(op string) {
	if m == nil {
		return
	}
	m.providerErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) Message(direction string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(direction).Inc()
}

func (m *Metrics) SubscriberDropped() {
	if m == nil {
		return
	}
	m.busDropped.Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}
