// Package metrics exposes connection and telemetry state to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/chaz8081/stepsense/internal/ble"
	"github.com/chaz8081/stepsense/internal/projector"
	"github.com/chaz8081/stepsense/internal/telemetry"
)

const namespace = "stepsense"

var (
	descState = prometheus.NewDesc(
		namespace+"_connection_state",
		"Peripheral connection state. 1 for the current state, 0 otherwise.",
		[]string{"state"},
		nil,
	)

	descPeripheral = prometheus.NewDesc(
		namespace+"_peripheral_info",
		"Peripheral currently held by the supervisor.",
		[]string{"name"},
		nil,
	)

	descBuffered = prometheus.NewDesc(
		namespace+"_telemetry_buffered_samples",
		"Samples currently held in the telemetry buffer.",
		nil,
		nil,
	)
)

// CollectFunc returns the snapshot reported on each scrape.
type CollectFunc func() projector.Snapshot

// Collector reports snapshot gauges plus counters fed by the supervisor and
// the telemetry channel observers.
type Collector struct {
	snapshot CollectFunc

	payloads     prometheus.Counter
	payloadBytes prometheus.Counter
	transitions  *prometheus.CounterVec
	samples      prometheus.Counter
	dropped      prometheus.Counter
	sessions     prometheus.Counter
	failures     prometheus.Counter
}

// NewCollector returns a collector reading snapshots from f.
func NewCollector(f CollectFunc) *Collector {
	return &Collector{
		snapshot: f,
		payloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ble_payloads_total",
			Help:      "Characteristic notifications received.",
		}),
		payloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ble_payload_bytes_total",
			Help:      "Bytes received in characteristic notifications.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_transitions_total",
			Help:      "Connection state transitions, by destination state.",
		}, []string{"to"}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_samples_total",
			Help:      "Telemetry samples appended to the buffer.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_dropped_total",
			Help:      "Malformed telemetry records discarded.",
		}),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_sessions_total",
			Help:      "Telemetry channel handshakes completed.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_disconnects_total",
			Help:      "Telemetry sessions lost or connection attempts failed.",
		}),
	}
}

// ObservePayload counts a characteristic notification.
func (c *Collector) ObservePayload(payload []byte) {
	c.payloads.Inc()
	c.payloadBytes.Add(float64(len(payload)))
}

// ObserveTransition counts a supervisor state change.
func (c *Collector) ObserveTransition(t ble.Transition) {
	c.transitions.WithLabelValues(t.To.String()).Inc()
}

// ObserveChannel counts telemetry channel activity.
func (c *Collector) ObserveChannel(ev telemetry.ChannelEvent) {
	switch ev.(type) {
	case telemetry.ChannelConnected:
		c.sessions.Inc()
	case telemetry.ChannelDisconnected:
		c.failures.Inc()
	case telemetry.SampleReceived:
		c.samples.Inc()
	case telemetry.PayloadDropped:
		c.dropped.Inc()
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descState
	ch <- descPeripheral
	ch <- descBuffered
	c.payloads.Describe(ch)
	c.payloadBytes.Describe(ch)
	c.transitions.Describe(ch)
	c.samples.Describe(ch)
	c.dropped.Describe(ch)
	c.sessions.Describe(ch)
	c.failures.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.snapshot()

	for _, s := range ble.States() {
		v := 0.0
		if s == snap.State {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(descState, prometheus.GaugeValue, v, s.String())
	}
	if snap.PeripheralName != "" {
		ch <- prometheus.MustNewConstMetric(descPeripheral, prometheus.GaugeValue, 1, snap.PeripheralName)
	}
	ch <- prometheus.MustNewConstMetric(descBuffered, prometheus.GaugeValue, float64(len(snap.Telemetry)))

	c.payloads.Collect(ch)
	c.payloadBytes.Collect(ch)
	c.transitions.Collect(ch)
	c.samples.Collect(ch)
	c.dropped.Collect(ch)
	c.sessions.Collect(ch)
	c.failures.Collect(ch)
}

// Register creates a collector over f and registers it with reg.
func Register(f CollectFunc, reg prometheus.Registerer) *Collector {
	c := NewCollector(f)
	reg.MustRegister(c)
	return c
}
