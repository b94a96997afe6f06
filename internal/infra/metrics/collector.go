package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tuya-lights/internal/application"
)

// Collector records send queue activity, pushed status reports and the
// number of lights per profile. It implements application.SendObserver.
type Collector struct {
	registry *prometheus.Registry

	enqueued      *prometheus.CounterVec
	flushes       *prometheus.CounterVec
	flushDuration prometheus.Histogram
	reports       prometheus.Counter
	devices       *prometheus.GaugeVec
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tuya_lights_commands_enqueued_total",
			Help: "Commands handed to a send queue, before coalescing",
		}, []string{"device"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tuya_lights_flushes_total",
			Help: "Batches sent to the cloud by result (ok, error)",
		}, []string{"device", "result"}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tuya_lights_flush_duration_seconds",
			Help:    "Time spent sending one batch",
			Buckets: prometheus.DefBuckets,
		}),
		reports: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tuya_lights_status_reports_total",
			Help: "Status reports received from the message queue",
		}),
		devices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tuya_lights_devices",
			Help: "Lights loaded, by capability profile",
		}, []string{"profile"}),
	}

	c.registry.MustRegister(
		c.enqueued,
		c.flushes,
		c.flushDuration,
		c.reports,
		c.devices,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) CommandsEnqueued(deviceID string, n int) {
	c.enqueued.WithLabelValues(deviceID).Add(float64(n))
}

func (c *Collector) FlushCompleted(deviceID string, _ int, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.flushes.WithLabelValues(deviceID, result).Inc()
	c.flushDuration.Observe(elapsed.Seconds())
}

func (c *Collector) StatusReportReceived() {
	c.reports.Inc()
}

// ObserveLights resets the per-profile gauge to the given lights.
func (c *Collector) ObserveLights(lights []*application.LightAccessory) {
	c.devices.Reset()
	for _, l := range lights {
		c.devices.WithLabelValues(l.Profile().String()).Inc()
	}
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
