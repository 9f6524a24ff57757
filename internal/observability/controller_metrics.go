package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/netctrl/core"
)

var _ core.MetricsRecorder = (*NetCollector)(nil)

// NetCollector exposes network controller metrics. It implements
// core.MetricsRecorder so controllers drive it directly from the control loop.
type NetCollector struct {
	gatherer prometheus.Gatherer

	FramesReceived   *prometheus.CounterVec
	FramesDropped    *prometheus.CounterVec
	FramesSent       *prometheus.CounterVec
	TransmitFailures *prometheus.CounterVec
	ArpEntries       *prometheus.GaugeVec
	PingRoundTrip    *prometheus.HistogramVec
	TickDuration     prometheus.Histogram
	TicksTotal       prometheus.Counter
}

// NewNetCollector registers controller metrics against the provided registerer.
func NewNetCollector(reg prometheus.Registerer) (*NetCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	received, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netctrl_frames_received_total",
		Help: "Frames read from the link driver.",
	}, []string{"controller"}), "netctrl_frames_received_total")
	if err != nil {
		return nil, err
	}
	dropped, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netctrl_frames_dropped_total",
		Help: "Frames or queued datagrams discarded, labeled by reason.",
	}, []string{"controller", "reason"}), "netctrl_frames_dropped_total")
	if err != nil {
		return nil, err
	}
	sent, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netctrl_frames_sent_total",
		Help: "Frames accepted by the link driver, labeled by frame kind.",
	}, []string{"controller", "kind"}), "netctrl_frames_sent_total")
	if err != nil {
		return nil, err
	}
	failures, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netctrl_transmit_failures_total",
		Help: "Frames the link driver refused, labeled busy or fail.",
	}, []string{"controller", "reason"}), "netctrl_transmit_failures_total")
	if err != nil {
		return nil, err
	}
	arp, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "netctrl_arp_entries",
		Help: "ARP cache entries by state (valid or pending).",
	}, []string{"controller", "state"}), "netctrl_arp_entries")
	if err != nil {
		return nil, err
	}
	rtt, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "netctrl_ping_rtt_seconds",
		Help:    "ICMP echo round-trip time measured from dispatch to reply.",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"controller"}), "netctrl_ping_rtt_seconds")
	if err != nil {
		return nil, err
	}
	tick, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "netctrl_tick_duration_seconds",
		Help:    "Wall-clock duration of one MainProcess pass over every controller.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	}), "netctrl_tick_duration_seconds")
	if err != nil {
		return nil, err
	}
	ticks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netctrl_ticks_total",
		Help: "Control loop ticks executed.",
	}), "netctrl_ticks_total")
	if err != nil {
		return nil, err
	}

	return &NetCollector{
		gatherer:         gatherer,
		FramesReceived:   received,
		FramesDropped:    dropped,
		FramesSent:       sent,
		TransmitFailures: failures,
		ArpEntries:       arp,
		PingRoundTrip:    rtt,
		TickDuration:     tick,
		TicksTotal:       ticks,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *NetCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

func (c *NetCollector) FrameReceived(controller string) {
	if c == nil {
		return
	}
	c.FramesReceived.WithLabelValues(controller).Inc()
}

func (c *NetCollector) FrameDropped(controller, reason string) {
	if c == nil {
		return
	}
	c.FramesDropped.WithLabelValues(controller, reason).Inc()
}

func (c *NetCollector) FrameSent(controller, kind string) {
	if c == nil {
		return
	}
	c.FramesSent.WithLabelValues(controller, kind).Inc()
}

func (c *NetCollector) TransmitFailed(controller, reason string) {
	if c == nil {
		return
	}
	c.TransmitFailures.WithLabelValues(controller, reason).Inc()
}

// SetArpEntries updates the ARP gauges of one controller.
func (c *NetCollector) SetArpEntries(controller string, valid, pending int) {
	if c == nil {
		return
	}
	c.ArpEntries.WithLabelValues(controller, "valid").Set(float64(valid))
	c.ArpEntries.WithLabelValues(controller, "pending").Set(float64(pending))
}

// ObservePingRoundTrip records one echo round trip.
func (c *NetCollector) ObservePingRoundTrip(controller string, rtt time.Duration) {
	if c == nil {
		return
	}
	c.PingRoundTrip.WithLabelValues(controller).Observe(rtt.Seconds())
}

// ObserveTick records the duration of one control loop pass.
func (c *NetCollector) ObserveTick(d time.Duration) {
	if c == nil {
		return
	}
	c.TicksTotal.Inc()
	c.TickDuration.Observe(d.Seconds())
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
