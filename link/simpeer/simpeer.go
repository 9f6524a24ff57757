// Package simpeer is a scripted remote host for simulations and tests. It
// sits on the far side of a link driver, answers ARP and ICMP echo requests
// for its address and optionally echoes UDP datagrams back to their sender.
package simpeer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/signalsfoundry/netctrl/core"
	"github.com/signalsfoundry/netctrl/header"
	"github.com/signalsfoundry/netctrl/internal/logging"
)

// Config describes the simulated host.
type Config struct {
	IP  netip.Addr
	MAC net.HardwareAddr
	// EchoUDP sends every UDP datagram addressed to the peer back to its
	// source with the ports swapped.
	EchoUDP bool
	// Keep bounds the datagrams retained for Received. Defaults to 64.
	Keep int
}

// Datagram is a UDP payload the peer received.
type Datagram struct {
	Src     netip.Addr
	SrcPort uint16
	DstPort uint16
	Payload []byte
}

// Stats counts what the peer answered.
type Stats struct {
	ArpReplies  int
	EchoReplies int
	UDPReceived int
	UDPEchoed   int
	Ignored     int
	SendErrors  int
}

// Peer is not safe for concurrent use.
type Peer struct {
	cfg  Config
	link core.CommunicationInterface
	log  logging.Logger

	rxBuf    []byte
	out      gopacket.SerializeBuffer
	received []Datagram
	stats    Stats
}

// New binds a peer to link and programs the link MAC address.
func New(cfg Config, link core.CommunicationInterface, log logging.Logger) (*Peer, error) {
	if !cfg.IP.Is4() {
		return nil, fmt.Errorf("%w: peer address %v", core.ErrInvalidArgument, cfg.IP)
	}
	if len(cfg.MAC) != header.MACSize {
		return nil, fmt.Errorf("%w: peer MAC %v", core.ErrInvalidArgument, cfg.MAC)
	}
	if cfg.Keep <= 0 {
		cfg.Keep = 64
	}
	if log == nil {
		log = logging.Noop()
	}
	if err := link.SetMACAddress(cfg.MAC); err != nil {
		return nil, err
	}
	return &Peer{
		cfg:   cfg,
		link:  link,
		log:   log.With(logging.String("peer", cfg.IP.String())),
		rxBuf: make([]byte, header.EthernetMaxFrameSize),
		out:   gopacket.NewSerializeBuffer(),
	}, nil
}

// Stats returns a snapshot of the counters.
func (p *Peer) Stats() Stats { return p.stats }

// Received returns and clears the datagrams retained so far.
func (p *Peer) Received() []Datagram {
	out := p.received
	p.received = nil
	return out
}

// Process handles every pending inbound frame and returns how many it read.
func (p *Peer) Process() int {
	n := 0
	for p.link.HasPending() {
		size, err := p.link.Get(p.rxBuf)
		if err != nil {
			break
		}
		n++
		p.handle(p.rxBuf[:size])
	}
	return n
}

func (p *Peer) handle(frame []byte) {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !ok {
		p.stats.Ignored++
		return
	}
	if arp, ok := pkt.Layer(layers.LayerTypeARP).(*layers.ARP); ok {
		p.handleARP(arp)
		return
	}
	ip, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok || !p.isOwn(ip.DstIP) {
		p.stats.Ignored++
		return
	}
	if icmp, ok := pkt.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4); ok {
		p.handleICMP(eth, ip, icmp)
		return
	}
	if udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP); ok {
		p.handleUDP(eth, ip, udp)
		return
	}
	p.stats.Ignored++
}

func (p *Peer) isOwn(ip net.IP) bool {
	addr, ok := netip.AddrFromSlice(ip.To4())
	return ok && addr == p.cfg.IP
}

func (p *Peer) handleARP(req *layers.ARP) {
	if req.Operation != layers.ARPRequest || !p.isOwn(req.DstProtAddress) {
		p.stats.Ignored++
		return
	}
	own := p.cfg.IP.As4()
	err := p.send(
		&layers.Ethernet{SrcMAC: p.cfg.MAC, DstMAC: req.SourceHwAddress, EthernetType: layers.EthernetTypeARP},
		&layers.ARP{
			AddrType:          layers.LinkTypeEthernet,
			Protocol:          layers.EthernetTypeIPv4,
			HwAddressSize:     header.MACSize,
			ProtAddressSize:   header.IPv4AddressSize,
			Operation:         layers.ARPReply,
			SourceHwAddress:   p.cfg.MAC,
			SourceProtAddress: own[:],
			DstHwAddress:      req.SourceHwAddress,
			DstProtAddress:    req.SourceProtAddress,
		},
	)
	if err == nil {
		p.stats.ArpReplies++
	}
}

func (p *Peer) handleICMP(eth *layers.Ethernet, ip *layers.IPv4, req *layers.ICMPv4) {
	if req.TypeCode.Type() != layers.ICMPv4TypeEchoRequest {
		p.stats.Ignored++
		return
	}
	err := p.send(
		&layers.Ethernet{SrcMAC: p.cfg.MAC, DstMAC: eth.SrcMAC, EthernetType: layers.EthernetTypeIPv4},
		p.ipv4(ip.SrcIP, layers.IPProtocolICMPv4),
		&layers.ICMPv4{
			TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoReply, 0),
			Id:       req.Id,
			Seq:      req.Seq,
		},
		gopacket.Payload(req.Payload),
	)
	if err == nil {
		p.stats.EchoReplies++
	}
}

func (p *Peer) handleUDP(eth *layers.Ethernet, ip *layers.IPv4, udp *layers.UDP) {
	src, _ := netip.AddrFromSlice(ip.SrcIP.To4())
	p.stats.UDPReceived++
	if len(p.received) < p.cfg.Keep {
		p.received = append(p.received, Datagram{
			Src:     src,
			SrcPort: uint16(udp.SrcPort),
			DstPort: uint16(udp.DstPort),
			Payload: append([]byte(nil), udp.Payload...),
		})
	}
	if !p.cfg.EchoUDP {
		return
	}
	if err := p.SendUDP(src, eth.SrcMAC, uint16(udp.DstPort), uint16(udp.SrcPort), udp.Payload); err == nil {
		p.stats.UDPEchoed++
	}
}

// SendUDP transmits one datagram from the peer to dst at dstMAC.
func (p *Peer) SendUDP(dst netip.Addr, dstMAC net.HardwareAddr, srcPort, dstPort uint16, payload []byte) error {
	dst4 := dst.As4()
	ip := p.ipv4(dst4[:], layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}
	return p.send(
		&layers.Ethernet{SrcMAC: p.cfg.MAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4},
		ip,
		udp,
		gopacket.Payload(payload),
	)
}

func (p *Peer) ipv4(dst net.IP, proto layers.IPProtocol) *layers.IPv4 {
	own := p.cfg.IP.As4()
	return &layers.IPv4{
		Version:  4,
		TTL:      64,
		Flags:    layers.IPv4DontFragment,
		Protocol: proto,
		SrcIP:    net.IP(own[:]),
		DstIP:    dst,
	}
}

func (p *Peer) send(ls ...gopacket.SerializableLayer) error {
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(p.out, opts, ls...); err != nil {
		p.stats.SendErrors++
		p.log.Warn(context.Background(), "serialize failed", logging.Err(err))
		return err
	}
	err := p.link.Send(p.out.Bytes())
	if err != nil {
		p.stats.SendErrors++
		if !errors.Is(err, core.ErrTransportBusy) {
			p.log.Warn(context.Background(), "send failed", logging.Err(err))
		}
	}
	return err
}
