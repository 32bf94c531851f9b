// Package metrics exports filter state and lifecycle counters to Prometheus.
//
// Gauges are read from the registry at scrape time; counters are driven by
// lifecycle events, so the Collector must also be added as a registry
// observer:
//
//	c := metrics.NewCollector(reg)
//	reg.AddObserver(c)
//	promReg.MustRegister(c)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/sideband-filter/internal/filter"
)

const namespace = "sideband"

var (
	descInstances = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "filter", "instances"),
		"Number of instances currently attached to the filter.",
		nil, nil,
	)
	descChannelActive = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "control", "channel_active"),
		"Whether the control channel is currently published (1) or not (0).",
		nil, nil,
	)
)

// StateReader is the registry view the collector reads at scrape time.
type StateReader interface {
	State() (count int, channelID string, ok bool)
}

// Collector is a prometheus.Collector and a filter.Observer.
type Collector struct {
	state StateReader

	events        *prometheus.CounterVec
	channelErrors prometheus.Counter
	serialDefault prometheus.Counter
}

var (
	_ prometheus.Collector = (*Collector)(nil)
	_ filter.Observer      = (*Collector)(nil)
)

// NewCollector creates a collector reading state from r.
func NewCollector(r StateReader) *Collector {
	return &Collector{
		state: r,
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "filter",
				Name:      "lifecycle_events_total",
				Help:      "Count of filter lifecycle events by kind.",
			},
			[]string{"kind"},
		),
		channelErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "channel_create_failures_total",
			Help:      "Count of failed control channel creations.",
		}),
		serialDefault: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "filter",
			Name:      "default_serial_total",
			Help:      "Count of instances attached without a readable serial number.",
		}),
	}
}

// Observe implements filter.Observer.
func (c *Collector) Observe(ev filter.Event) {
	c.events.WithLabelValues(string(ev.Kind)).Inc()
	switch ev.Kind {
	case filter.EventChannelCreateFailed:
		c.channelErrors.Inc()
	case filter.EventAttached:
		if !ev.SerialValid {
			c.serialDefault.Inc()
		}
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descInstances
	ch <- descChannelActive
	c.events.Describe(ch)
	c.channelErrors.Describe(ch)
	c.serialDefault.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	count, _, ok := c.state.State()
	ch <- prometheus.MustNewConstMetric(descInstances, prometheus.GaugeValue, float64(count))

	active := 0.0
	if ok {
		active = 1
	}
	ch <- prometheus.MustNewConstMetric(descChannelActive, prometheus.GaugeValue, active)

	c.events.Collect(ch)
	c.channelErrors.Collect(ch)
	c.serialDefault.Collect(ch)
}

// NewRegistry returns a Prometheus registry holding c plus the standard Go
// runtime and process collectors.
func NewRegistry(c *Collector) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	for _, col := range []prometheus.Collector{
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
