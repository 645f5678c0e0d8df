package session

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the session collectors. A Metrics built with a nil
// Registerer still records values; they are just not exported.
type Metrics struct {
	state         *prometheus.GaugeVec
	generations   *prometheus.CounterVec
	fragments     prometheus.Counter
	benchDuration *prometheus.HistogramVec
	errors        *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "llamachat",
				Subsystem: "session",
				Name:      "state",
				Help:      "1 for the current session state, 0 otherwise",
			},
			[]string{"state"},
		),
		generations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "llamachat",
				Subsystem: "session",
				Name:      "generations_total",
				Help:      "Finished generations by outcome",
			},
			[]string{"outcome"},
		),
		fragments: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "llamachat",
				Subsystem: "session",
				Name:      "fragments_total",
				Help:      "Text fragments applied to assistant turns",
			},
		),
		benchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "llamachat",
				Subsystem: "session",
				Name:      "bench_duration_seconds",
				Help:      "Wall-clock duration of benchmark phases",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"phase"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "llamachat",
				Subsystem: "session",
				Name:      "errors_total",
				Help:      "Failures recorded in the transcript by kind",
			},
			[]string{"kind"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.state, m.generations, m.fragments, m.benchDuration, m.errors)
	}
	return m
}

func (m *Metrics) setState(k Kind) {
	for i, name := range kindNames {
		v := 0.0
		if Kind(i) == k {
			v = 1
		}
		m.state.WithLabelValues(name).Set(v)
	}
}

func (m *Metrics) generation(o Outcome) { m.generations.WithLabelValues(o.String()).Inc() }

func (m *Metrics) fragment() { m.fragments.Inc() }

func (m *Metrics) bench(phase string, seconds float64) {
	m.benchDuration.WithLabelValues(phase).Observe(seconds)
}

func (m *Metrics) failure(kind string) { m.errors.WithLabelValues(kind).Inc() }
