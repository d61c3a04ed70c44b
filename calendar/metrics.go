package calendar

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rcrowley/go-metrics"
)

// Metrics mirrors work/worker.go's metrics.NewRegisteredCounter pattern:
// rcrowley/go-metrics registers each counter in its global DefaultRegistry,
// and a small bridge exposes the same values to Prometheus scrapers via
// promhttp.
var (
	digestsAccepted = metrics.NewRegisteredCounter("calendar/digests/accepted", nil)
	digestsRejected = metrics.NewRegisteredCounter("calendar/digests/rejected", nil)
)

// RecordDigestAccepted increments the accepted-digest counter.
func RecordDigestAccepted() { digestsAccepted.Inc(1) }

// RecordDigestRejected increments the rejected-digest counter.
func RecordDigestRejected() { digestsRejected.Inc(1) }

// goMetricsCollector bridges rcrowley/go-metrics' DefaultRegistry into a
// prometheus.Collector so it can be registered once alongside any native
// Prometheus metrics an operator adds later.
type goMetricsCollector struct{}

// NewMetricsCollector returns the bridge collector.
func NewMetricsCollector() prometheus.Collector { return goMetricsCollector{} }

func (goMetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	// rcrowley/go-metrics has no static schema; descriptions are emitted
	// lazily from Collect, matching prometheus.Collector's "unchecked
	// collector" escape hatch.
}

func (goMetricsCollector) Collect(ch chan<- prometheus.Metric) {
	metrics.DefaultRegistry.Each(func(name string, i interface{}) {
		desc := prometheus.NewDesc(sanitizeMetricName(name), "bridged from rcrowley/go-metrics", nil, nil)
		switch m := i.(type) {
		case metrics.Counter:
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(m.Count()))
		case metrics.Gauge:
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(m.Value()))
		case metrics.GaugeFloat64:
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, m.Value())
		case metrics.Meter:
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(m.Count()))
		}
	})
}

func sanitizeMetricName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

// MetricsHandler registers the bridge collector on a fresh registry and
// returns a promhttp handler suitable for Config.MetricsListenAddr.
func MetricsHandler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewMetricsCollector())
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
