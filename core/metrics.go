package core

import "time"

// Frame kinds reported to MetricsRecorder.FrameSent.
const (
	FrameKindUDP         = "udp"
	FrameKindARPRequest  = "arp_request"
	FrameKindARPReply    = "arp_reply"
	FrameKindEchoRequest = "echo_request"
	FrameKindEchoReply   = "echo_reply"
)

// Drop reasons reported to MetricsRecorder.FrameDropped.
const (
	DropMalformed    = "malformed"
	DropNotForUs     = "not_for_us"
	DropForeign      = "foreign_subnet"
	DropUnsupported  = "unsupported"
	DropNoPort       = "no_port"
	DropPortOverflow = "port_overflow"
	DropDriver       = "driver_error"
	DropUnroutable   = "unroutable"
	DropUnresolved   = "unresolved"
)

// MetricsRecorder receives controller events. Implementations must be cheap;
// they run on the control loop.
type MetricsRecorder interface {
	FrameReceived(controller string)
	FrameDropped(controller, reason string)
	FrameSent(controller, kind string)
	TransmitFailed(controller, reason string)
	SetArpEntries(controller string, valid, pending int)
	ObservePingRoundTrip(controller string, rtt time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) FrameReceived(string)                       {}
func (noopMetrics) FrameDropped(string, string)                {}
func (noopMetrics) FrameSent(string, string)                   {}
func (noopMetrics) TransmitFailed(string, string)              {}
func (noopMetrics) SetArpEntries(string, int, int)             {}
func (noopMetrics) ObservePingRoundTrip(string, time.Duration) {}

// Stats is a snapshot of a controller's counters. Counters are for
// observability only; nothing in the control flow reads them.
type Stats struct {
	Ticks uint64

	RxFrames     uint64
	RxDropped    uint64
	RxUnmatched  uint64
	RxDelivered  uint64
	EchoRequests uint64

	TxFrames    uint64
	TxBusy      uint64
	TxFailed    uint64
	TxDropped   uint64
	ArpRequests uint64
	ArpReplies  uint64
	PingReplies uint64
}
