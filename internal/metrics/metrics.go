package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	kitpolicy "github.com/lessucettes/meshguard/pkg/meshguard-kit/policy"
)

// Collector records filter decisions and IP filter refresh outcomes.
type Collector struct {
	registry        *prometheus.Registry
	decisions       *prometheus.CounterVec
	filterDuration  *prometheus.HistogramVec
	refreshes       *prometheus.CounterVec
	repetitiveDrops prometheus.Counter
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshguard_filter_decisions_total",
			Help: "Filter decisions by chain direction, filter and outcome.",
		}, []string{"direction", "filter", "allowed"}),
		filterDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meshguard_filter_duration_seconds",
			Help:    "Time spent in a single filter's Match.",
			Buckets: prometheus.ExponentialBuckets(1e-7, 4, 10),
		}, []string{"filter"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshguard_ip_refresh_total",
			Help: "IP filter snapshot rebuilds by filter and result.",
		}, []string{"filter", "result"}),
		repetitiveDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshguard_repetitive_drops_total",
			Help: "Queries dropped as repeats of a recent query.",
		}),
	}
	c.registry.MustRegister(c.decisions, c.filterDuration, c.refreshes, c.repetitiveDrops)
	return c
}

func (c *Collector) Report(direction string, res kitpolicy.FilterResult) {
	c.decisions.WithLabelValues(direction, res.Filter, strconv.FormatBool(res.Allowed)).Inc()
	c.filterDuration.WithLabelValues(res.Filter).Observe(res.Duration.Seconds())
}

func (c *Collector) ObserveRefresh(filter string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.refreshes.WithLabelValues(filter, result).Inc()
}

// RepetitiveDrops is handed to the repetitive query filter as its drop counter.
func (c *Collector) RepetitiveDrops() prometheus.Counter { return c.repetitiveDrops }

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
