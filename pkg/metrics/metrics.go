// Package metrics exposes Prometheus collectors for the emulator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dougsko/js8emu/pkg/station"
)

// Transmission outcomes
const (
	OutcomeStarted   = "started"
	OutcomeCompleted = "completed"
	OutcomeAborted   = "aborted"
	OutcomeDropped   = "dropped"
)

// Metrics holds all collectors on a private registry. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	registry *prometheus.Registry

	frames        *prometheus.CounterVec // interface, direction, type
	connected     *prometheus.GaugeVec   // interface
	rejected      *prometheus.CounterVec // interface
	decodeErrors  *prometheus.CounterVec // interface
	transmissions *prometheus.CounterVec // interface, outcome
	dial          *prometheus.GaugeVec   // interface
	jobs          prometheus.Gauge
}

// New creates the collectors on a fresh registry together with the Go
// runtime and process collectors
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		frames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "js8emu_frames_total",
			Help: "Protocol messages seen per interface, direction and type",
		}, []string{"interface", "direction", "type"}),
		connected: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "js8emu_interface_connected",
			Help: "1 when the interface has a client attached",
		}, []string{"interface"}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "js8emu_connections_rejected_total",
			Help: "Connection attempts rejected because the interface was busy",
		}, []string{"interface"}),
		decodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "js8emu_decode_errors_total",
			Help: "Lines dropped because they were not a JSON object",
		}, []string{"interface"}),
		transmissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "js8emu_transmissions_total",
			Help: "Transmissions per sending interface and outcome",
		}, []string{"interface", "outcome"}),
		dial: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "js8emu_dial_frequency_hz",
			Help: "Current dial frequency of each interface",
		}, []string{"interface"}),
		jobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "js8emu_transmission_jobs",
			Help: "Transmission jobs currently running",
		}),
	}
}

// Registry returns the registry holding the collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// OnFrame counts a protocol message
func (m *Metrics) OnFrame(f station.Frame) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(f.Interface, string(f.Direction), frameType(f)).Inc()
}

func frameType(f station.Frame) string {
	if f.Message.Type == "" {
		return "unknown"
	}
	return f.Message.Type
}

// SetConnected records whether an interface has a client
func (m *Metrics) SetConnected(iface string, connected bool) {
	if m == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	m.connected.WithLabelValues(iface).Set(v)
}

// ConnectionRejected counts a rejected second client
func (m *Metrics) ConnectionRejected(iface string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(iface).Inc()
}

// DecodeError counts a dropped malformed line
func (m *Metrics) DecodeError(iface string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(iface).Inc()
}

// Transmission counts a transmission outcome for the sending interface
func (m *Metrics) Transmission(iface, outcome string) {
	if m == nil {
		return
	}
	m.transmissions.WithLabelValues(iface, outcome).Inc()
}

// SetDial records an interface's dial frequency
func (m *Metrics) SetDial(iface string, dial int64) {
	if m == nil {
		return
	}
	m.dial.WithLabelValues(iface).Set(float64(dial))
}

// SetJobs records the number of running transmission jobs
func (m *Metrics) SetJobs(n int) {
	if m == nil {
		return
	}
	m.jobs.Set(float64(n))
}
