package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/signalsfoundry/netctrl/header"
	"github.com/signalsfoundry/netctrl/internal/logging"
)

const (
	ipv4FrameOffset = header.EthernetHeaderSize
	udpFrameOffset  = ipv4FrameOffset + header.IPv4MinimumSize
	udpDataOffset   = udpFrameOffset + header.UDPSize
)

// controlFrame is a reply the controller originates: an ARP reply or an
// ICMP echo reply. The destination MAC is always known from the request.
type controlFrame struct {
	kind      string
	etherType header.EtherType
	dstIP     netip.Addr
	dstMAC    net.HardwareAddr
	payload   []byte // ARP packet, or ICMP message for IPv4
}

func (c *Controller) queueControl(f controlFrame) bool {
	if !c.control.Push(f) {
		c.stats.TxDropped++
		c.log.Debug(context.Background(), "control queue full", logging.String("kind", f.kind), logging.IP("dst_ip", f.dstIP))
		return false
	}
	return true
}

// TxProcess sends queued replies and pending echo requests, drains every
// port with pending data, and finally broadcasts the ARP requests that are
// due. A frame whose destination does not resolve stays queued and its
// address is requested; a frame the driver refuses stays queued for the
// next tick.
func (c *Controller) TxProcess() {
	if !c.drainControl() || !c.sendPings() {
		return
	}
	busy := false
	c.ports.each(func(p *Port) {
		if !busy && !p.IsTxEmpty() {
			busy = !c.drainPort(p)
		}
	})
	if busy {
		return
	}
	c.sendArpRequests()
}

// drainControl sends queued replies in arrival order. The first refused
// frame stays at the head. It reports false when the driver pushed back.
func (c *Controller) drainControl() bool {
	for {
		f, ok := c.control.Peek()
		if !ok {
			return true
		}
		var frame []byte
		if f.etherType == header.EtherTypeARP {
			frame = c.frameARP(f.dstMAC, f.payload)
		} else {
			frame = c.frameIPv4(f.dstMAC, f.dstIP, header.IPProtocolICMP, len(f.payload))
			copy(frame[udpFrameOffset:], f.payload)
		}
		if err := c.transmit(frame, f.kind); err != nil {
			return !errors.Is(err, ErrTransportBusy)
		}
		c.control.Pop()
		if f.kind == FrameKindARPReply {
			c.stats.ArpReplies++
		}
	}
}

// sendPings transmits echo requests that have not gone out yet. A request
// for an address that stops being routable, or whose ARP attempts ran out,
// is dropped. It reports false when the driver pushed back.
func (c *Controller) sendPings() bool {
	for i := range c.pings {
		s := &c.pings[i]
		if !s.used || !s.pending {
			continue
		}
		if c.checkDst(s.ip) != nil {
			c.dropPing(s, DropUnroutable)
			continue
		}
		mac, ok := c.resolve(s.ip)
		if !ok {
			if c.arp.exhausted(s.ip) {
				c.dropPing(s, DropUnresolved)
			}
			continue
		}
		frame := c.frameIPv4(mac, s.ip, header.IPProtocolICMP, len(s.wire))
		copy(frame[udpFrameOffset:], s.wire)
		if err := c.transmit(frame, FrameKindEchoRequest); err != nil {
			if errors.Is(err, ErrTransportBusy) {
				return false
			}
			continue
		}
		s.pending = false
		s.wire = nil
		s.sentAt = c.now()
	}
	return true
}

// drainPort sends at most one frame from p. It reports false when the
// driver pushed back.
func (c *Controller) drainPort(p *Port) bool {
	_, dst := p.nextTx()
	if c.checkDst(dst) != nil {
		p.dropTx()
		c.stats.TxDropped++
		c.metrics.FrameDropped(c.name, DropUnroutable)
		c.log.Debug(context.Background(), "port traffic unroutable", logging.Int("port_id", int(p.id)), logging.IP("dst_ip", dst))
		return true
	}

	mac, ok := c.resolve(dst)
	if !ok {
		if c.arp.exhausted(dst) {
			p.dropTx()
			c.stats.TxDropped++
			c.metrics.FrameDropped(c.name, DropUnresolved)
			c.log.Debug(context.Background(), "dropping unresolved port traffic", logging.Int("port_id", int(p.id)), logging.IP("dst_ip", dst))
		}
		return true
	}

	n := p.peekTx(c.txBuf[udpDataOffset:])
	frame := c.frameIPv4(mac, dst, header.IPProtocolUDP, header.UDPSize+n)
	udp := header.UDP(frame[udpFrameOffset:])
	udp.Encode(&header.UDPFields{
		SrcPort: p.inPort,
		DstPort: p.outPort,
		Length:  uint16(header.UDPSize + n),
	})
	if !c.checksumOffload {
		udp.SetChecksum(c.ip, dst)
	}

	if err := c.transmit(frame, FrameKindUDP); err != nil {
		return !errors.Is(err, ErrTransportBusy)
	}
	p.commitTx(n)
	return true
}

func (c *Controller) sendArpRequests() {
	c.arp.dueRequests(func(ip netip.Addr) bool {
		pkt := make([]byte, header.ARPSize)
		header.ARP(pkt).Encode(&header.ARPFields{
			Op:             header.ARPRequest,
			SenderHardware: c.mac,
			SenderProtocol: c.ip,
			TargetProtocol: ip,
		})
		if err := c.transmit(c.frameARP(header.BroadcastMAC, pkt), FrameKindARPRequest); err != nil {
			return false
		}
		c.stats.ArpRequests++
		c.log.Debug(context.Background(), "ARP request sent", logging.IP("ip", ip))
		return true
	})
}

// resolve maps a destination to a MAC address. Broadcast destinations map
// to ff:ff:ff:ff:ff:ff. A miss makes the address pending so the request
// goes out at the end of this TX cycle.
func (c *Controller) resolve(ip netip.Addr) (net.HardwareAddr, bool) {
	if c.isBroadcast(ip) {
		return header.BroadcastMAC, true
	}
	if mac, ok := c.arp.lookup(ip); ok {
		return mac, true
	}
	if err := c.arp.request(ip, false); err != nil {
		c.log.Debug(context.Background(), "ARP request not scheduled", logging.IP("ip", ip), logging.Err(err))
		c.gen.notify(err)
	}
	return nil, false
}

// frameARP lays out an ARP frame in the TX buffer.
func (c *Controller) frameARP(dstMAC net.HardwareAddr, pkt []byte) []byte {
	frame := c.txBuf[:header.EthernetHeaderSize+len(pkt)]
	header.Ethernet(frame).Encode(&header.EthernetFields{SrcAddr: c.mac, DstAddr: dstMAC, Type: header.EtherTypeARP})
	copy(frame[header.EthernetHeaderSize:], pkt)
	return frame
}

// frameIPv4 lays out Ethernet and IPv4 headers for a payload of n bytes and
// returns the whole frame. The payload area is left to the caller.
func (c *Controller) frameIPv4(dstMAC net.HardwareAddr, dst netip.Addr, proto header.IPProtocol, n int) []byte {
	frame := c.txBuf[:udpFrameOffset+n]
	header.Ethernet(frame).Encode(&header.EthernetFields{SrcAddr: c.mac, DstAddr: dstMAC, Type: header.EtherTypeIPv4})
	ip := header.IPv4(frame[ipv4FrameOffset:])
	ip.Encode(&header.IPv4Fields{
		TotalLength: uint16(header.IPv4MinimumSize + n),
		TTL:         header.IPv4DefaultTTL,
		Protocol:    proto,
		SrcAddr:     c.ip,
		DstAddr:     dst,
	})
	if !c.checksumOffload {
		ip.SetChecksum(^ip.CalculateChecksum())
	}
	return frame
}

// transmit hands a frame to the driver and accounts for the outcome. Busy
// and failure are both transient; the caller keeps the data queued.
func (c *Controller) transmit(frame []byte, kind string) error {
	err := c.driver.Send(frame)
	switch {
	case err == nil:
		c.stats.TxFrames++
		c.metrics.FrameSent(c.name, kind)
		return nil
	case errors.Is(err, ErrTransportBusy):
		c.stats.TxBusy++
		c.metrics.TransmitFailed(c.name, "busy")
		c.log.Debug(context.Background(), "driver busy", logging.String("kind", kind))
		return err
	default:
		c.stats.TxFailed++
		c.metrics.TransmitFailed(c.name, "fail")
		c.log.Warn(context.Background(), "driver send failed", logging.String("kind", kind), logging.Err(err))
		if !errors.Is(err, ErrTransportFail) {
			err = fmt.Errorf("%w: %v", ErrTransportFail, err)
		}
		c.gen.notify(err)
		return err
	}
}
