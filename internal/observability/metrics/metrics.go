package metrics

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics exposes counters/histograms for the notification engine.
type EngineMetrics struct {
	notificationsTotal       *prometheus.CounterVec
	inboundTotal             *prometheus.CounterVec
	unimplementedTransitions prometheus.Counter
	cycleDuration            *prometheus.HistogramVec
}

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arrivals",
			Subsystem: "engine",
			Name:      "notifications_total",
			Help:      "Notification decisions by kind and outcome",
		}, []string{"kind", "outcome"}),
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arrivals",
			Subsystem: "engine",
			Name:      "inbound_total",
			Help:      "Inbound messages by routing disposition",
		}, []string{"disposition"}),
		unimplementedTransitions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arrivals",
			Subsystem: "engine",
			Name:      "unimplemented_transitions_total",
			Help:      "Arrived-to-fulfilled transitions with no defined product behavior",
		}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "arrivals",
			Subsystem: "engine",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one engine cycle",
			Buckets:   prometheus.DefBuckets,
		}, []string{"cycle"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.notificationsTotal, m.inboundTotal, m.unimplementedTransitions, m.cycleDuration)
	return m
}

func (m *EngineMetrics) ObserveNotification(kind, outcome string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *EngineMetrics) ObserveInbound(disposition string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(disposition).Inc()
}

func (m *EngineMetrics) ObserveUnimplementedTransition() {
	if m == nil {
		return
	}
	m.unimplementedTransitions.Inc()
}

func (m *EngineMetrics) ObserveCycleDuration(cycle string, seconds float64) {
	if m == nil {
		return
	}
	m.cycleDuration.WithLabelValues(cycle).Observe(seconds)
}
