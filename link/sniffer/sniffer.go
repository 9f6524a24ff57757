// Package sniffer wraps a link driver and logs every frame that crosses it,
// optionally recording a pcap capture.
package sniffer

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/signalsfoundry/netctrl/core"
	"github.com/signalsfoundry/netctrl/internal/logging"
	"github.com/signalsfoundry/netctrl/timectrl"
)

// LogPackets toggles frame logging for every sniffer in the process.
var LogPackets uint32 = 1

const snapLen = 65536

// Endpoint is a core.CommunicationInterface that forwards to a lower driver.
type Endpoint struct {
	lower core.CommunicationInterface
	log   logging.Logger
	clock timectrl.SimClock

	mu   sync.Mutex
	pcap *pcapgo.Writer
}

// Option customises an Endpoint.
type Option func(*Endpoint)

// WithLogger sets the logger frames are described to.
func WithLogger(l logging.Logger) Option {
	return func(e *Endpoint) {
		if l != nil {
			e.log = l
		}
	}
}

// WithClock sets the time source for capture timestamps.
func WithClock(c timectrl.SimClock) Option {
	return func(e *Endpoint) {
		if c != nil {
			e.clock = c
		}
	}
}

// New wraps lower. When w is non-nil a pcap file header is written to it and
// every frame is appended as a record.
func New(lower core.CommunicationInterface, w io.Writer, opts ...Option) (*Endpoint, error) {
	e := &Endpoint{
		lower: lower,
		log:   logging.Noop(),
		clock: timectrl.SystemClock{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if w != nil {
		pw := pcapgo.NewWriter(w)
		if err := pw.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
			return nil, fmt.Errorf("write pcap header: %w", err)
		}
		e.pcap = pw
	}
	return e, nil
}

// Send implements core.CommunicationInterface.
func (e *Endpoint) Send(frame []byte) error {
	err := e.lower.Send(frame)
	if err == nil {
		e.record("send", frame)
	}
	return err
}

// HasPending implements core.CommunicationInterface.
func (e *Endpoint) HasPending() bool { return e.lower.HasPending() }

// Get implements core.CommunicationInterface.
func (e *Endpoint) Get(buf []byte) (int, error) {
	n, err := e.lower.Get(buf)
	if err == nil {
		e.record("recv", buf[:n])
	}
	return n, err
}

// SetMACAddress implements core.CommunicationInterface.
func (e *Endpoint) SetMACAddress(mac net.HardwareAddr) error {
	return e.lower.SetMACAddress(mac)
}

func (e *Endpoint) record(prefix string, frame []byte) {
	if atomic.LoadUint32(&LogPackets) == 1 {
		e.log.Debug(context.Background(), "frame", logging.String("dir", prefix), logging.String("summary", Describe(frame)))
	}
	if e.pcap == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ci := gopacket.CaptureInfo{
		Timestamp:     e.clock.Now(),
		CaptureLength: len(frame),
		Length:        len(frame),
	}
	if err := e.pcap.WritePacket(ci, frame); err != nil {
		e.log.Warn(context.Background(), "pcap write failed; capture disabled", logging.Err(err))
		e.pcap = nil
	}
}

// Describe renders a one-line summary of an Ethernet frame.
func Describe(frame []byte) string {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy)

	var sb strings.Builder
	if eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet); ok {
		fmt.Fprintf(&sb, "%v > %v", eth.SrcMAC, eth.DstMAC)
	} else {
		return fmt.Sprintf("undecodable frame len:%d", len(frame))
	}

	switch {
	case pkt.Layer(layers.LayerTypeARP) != nil:
		arp := pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
		if arp.Operation == layers.ARPRequest {
			fmt.Fprintf(&sb, " arp who-has %v tell %v", net.IP(arp.DstProtAddress), net.IP(arp.SourceProtAddress))
		} else {
			fmt.Fprintf(&sb, " arp %v is-at %v", net.IP(arp.SourceProtAddress), net.HardwareAddr(arp.SourceHwAddress))
		}
	case pkt.Layer(layers.LayerTypeIPv4) != nil:
		ip := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		if udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP); ok {
			fmt.Fprintf(&sb, " udp %v:%d > %v:%d len:%d", ip.SrcIP, udp.SrcPort, ip.DstIP, udp.DstPort, len(udp.Payload))
		} else if icmp, ok := pkt.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4); ok {
			fmt.Fprintf(&sb, " icmp %v > %v %v id:%d seq:%d", ip.SrcIP, ip.DstIP, icmp.TypeCode, icmp.Id, icmp.Seq)
		} else {
			fmt.Fprintf(&sb, " ipv4 %v > %v proto:%v", ip.SrcIP, ip.DstIP, ip.Protocol)
		}
	default:
		if eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet); ok {
			fmt.Fprintf(&sb, " ethertype %v", eth.EthernetType)
		}
	}
	if errLayer := pkt.ErrorLayer(); errLayer != nil {
		fmt.Fprintf(&sb, " (decode error: %v)", errLayer.Error())
	}
	return sb.String()
}
