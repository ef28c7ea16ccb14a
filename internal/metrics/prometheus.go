package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aero_webrtc_signaling"

// Gauges reports live state sampled at scrape time. Nil funcs are skipped.
type Gauges struct {
	Rooms        func() int
	Participants func() int
	Connections  func() int
}

// counterCollector exposes every internal counter as a single metric with an
// `event` label.
type counterCollector struct {
	m    *Metrics
	desc *prometheus.Desc
}

func newCounterCollector(m *Metrics) *counterCollector {
	return &counterCollector{
		m: m,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "events_total"),
			"Internal event counters.",
			[]string{"event"},
			nil,
		),
	}
}

func (c *counterCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *counterCollector) Collect(ch chan<- prometheus.Metric) {
	for name, v := range c.m.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(v), name)
	}
}

// NewRegistry builds a Prometheus registry holding the event counters, the
// live-state gauges and the standard Go runtime and process collectors.
func NewRegistry(m *Metrics, g Gauges) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		newCounterCollector(m),
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	gauge := func(name, help string, fn func() int) {
		if fn == nil {
			return
		}
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(fn()) }))
	}
	gauge("rooms", "Rooms currently in the registry.", g.Rooms)
	gauge("participants", "Participants across all rooms.", g.Participants)
	gauge("connections", "Open signaling WebSocket connections.", g.Connections)

	return reg
}

// PrometheusHandler exposes Metrics and g in Prometheus' text exposition
// format.
func PrometheusHandler(m *Metrics, g Gauges) http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
		})
	}
	return promhttp.HandlerFor(NewRegistry(m, g), promhttp.HandlerOpts{})
}
