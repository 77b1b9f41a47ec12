package polling

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports poll cycle outcomes and the latest readings per device.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	cycles        *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
	online        *prometheus.GaugeVec
	reachable     *prometheus.GaugeVec
	lastSuccess   *prometheus.GaugeVec

	indoorTemp  *prometheus.GaugeVec
	outdoorTemp *prometheus.GaugeVec
	humidity    *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	device := []string{"device"}
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graylogic_cmv_poll_cycles_total",
			Help: "Poll cycles by result (published, failed).",
		}, []string{"device", "result"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "graylogic_cmv_poll_cycle_duration_seconds",
			Help:    "Wall time of one poll cycle.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}, device),
		online: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "graylogic_cmv_device_online",
			Help: "1 if the last command exchange reached the device.",
		}, device),
		reachable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "graylogic_cmv_device_reachable",
			Help: "1 if the last published cycle produced at least one reading.",
		}, device),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "graylogic_cmv_last_success_timestamp_seconds",
			Help: "Last published cycle (epoch seconds).",
		}, device),
		indoorTemp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "graylogic_cmv_indoor_temperature_celsius",
			Help: "Latest indoor air temperature.",
		}, device),
		outdoorTemp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "graylogic_cmv_outdoor_temperature_celsius",
			Help: "Latest outdoor air temperature.",
		}, device),
		humidity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "graylogic_cmv_indoor_humidity_percent",
			Help: "Latest indoor relative humidity.",
		}, device),
	}
	if reg != nil {
		reg.MustRegister(m.cycles, m.cycleDuration, m.online, m.reachable, m.lastSuccess,
			m.indoorTemp, m.outdoorTemp, m.humidity)
	}
	return m
}

func (m *Metrics) observeCycle(deviceID, result string, d time.Duration, online bool) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(deviceID, result).Inc()
	m.cycleDuration.WithLabelValues(deviceID).Observe(d.Seconds())
	m.online.WithLabelValues(deviceID).Set(boolGauge(online))
}

func (m *Metrics) observeSnapshot(s Snapshot) {
	if m == nil {
		return
	}
	id := s.DeviceID()
	m.reachable.WithLabelValues(id).Set(boolGauge(s.Reachable()))
	m.lastSuccess.WithLabelValues(id).Set(float64(s.UpdatedAt().Unix()))

	// Absent readings drop the series rather than exporting a stale value.
	setOrDelete(m.indoorTemp, id, s.IndoorTemperature)
	setOrDelete(m.outdoorTemp, id, s.OutdoorTemperature)
	setOrDelete(m.humidity, id, s.IndoorHumidity)
}

func setOrDelete(g *prometheus.GaugeVec, id string, read func() (float64, bool)) {
	if v, ok := read(); ok {
		g.WithLabelValues(id).Set(v)
		return
	}
	g.DeleteLabelValues(id)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
