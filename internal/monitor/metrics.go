package monitor

import (
	"time"

	"netifmon/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds prometheus metrics for the monitor registry and its samplers.
type Metrics struct {
	ActiveMonitors   prometheus.Gauge
	SamplerStarts    *prometheus.CounterVec
	SamplerExits     *prometheus.CounterVec
	Samples          *prometheus.CounterVec
	ParseErrors      *prometheus.CounterVec
	BytesPerSecond   *prometheus.GaugeVec
	PacketsPerSecond *prometheus.GaugeVec
	LastUpdate       *prometheus.GaugeVec
}

// NewMetrics creates the monitor metrics and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveMonitors: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "active",
			Help:      "Number of interfaces with a running sampler",
		}),
		SamplerStarts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "sampler_starts_total",
			Help:      "Sampler launch attempts by result (ok, error)",
		}, []string{"result"}),
		SamplerExits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "sampler_exits_total",
			Help:      "Sampler exits by cause (stopped, eof, timeout)",
		}, []string{"cause"}),
		Samples: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "samples_total",
			Help:      "Sampler lines parsed successfully",
		}, []string{"ifname"}),
		ParseErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "parse_errors_total",
			Help:      "Sampler lines discarded as malformed",
		}, []string{"ifname"}),
		BytesPerSecond: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "netif",
			Name:      "bytes_per_second",
			Help:      "Latest sampled byte rate",
		}, []string{"ifname", "direction"}),
		PacketsPerSecond: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "netif",
			Name:      "packets_per_second",
			Help:      "Latest sampled packet rate",
		}, []string{"ifname", "direction"}),
		LastUpdate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "netif",
			Name:      "last_update_timestamp_seconds",
			Help:      "Unix time of the latest parsed sample",
		}, []string{"ifname"}),
	}
}

func (m *Metrics) forget(ifname string) {
	if m == nil {
		return
	}
	m.Samples.DeleteLabelValues(ifname)
	m.ParseErrors.DeleteLabelValues(ifname)
	m.LastUpdate.DeleteLabelValues(ifname)
	for _, dir := range []string{"rx", "tx"} {
		m.BytesPerSecond.DeleteLabelValues(ifname, dir)
		m.PacketsPerSecond.DeleteLabelValues(ifname, dir)
	}
}

func (m *Metrics) samplerStarted(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.SamplerStarts.WithLabelValues("error").Inc()
		return
	}
	m.SamplerStarts.WithLabelValues("ok").Inc()
	m.ActiveMonitors.Inc()
}

func (m *Metrics) samplerExited(cause string) {
	if m == nil {
		return
	}
	m.SamplerExits.WithLabelValues(cause).Inc()
	m.ActiveMonitors.Dec()
}

func (m *Metrics) samplerTimedOut() {
	if m == nil {
		return
	}
	m.SamplerExits.WithLabelValues("timeout").Inc()
}

func (m *Metrics) parseError(ifname string) {
	if m == nil {
		return
	}
	m.ParseErrors.WithLabelValues(ifname).Inc()
}

func (m *Metrics) observe(ifname string, sample models.StatsSample, at time.Time) {
	if m == nil {
		return
	}
	m.Samples.WithLabelValues(ifname).Inc()
	m.BytesPerSecond.WithLabelValues(ifname, "rx").Set(float64(sample.RX.BytesPerSecond))
	m.BytesPerSecond.WithLabelValues(ifname, "tx").Set(float64(sample.TX.BytesPerSecond))
	m.PacketsPerSecond.WithLabelValues(ifname, "rx").Set(float64(sample.RX.PacketsPerSecond))
	m.PacketsPerSecond.WithLabelValues(ifname, "tx").Set(float64(sample.TX.PacketsPerSecond))
	m.LastUpdate.WithLabelValues(ifname).Set(float64(at.Unix()))
}
