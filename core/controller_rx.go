package core

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/netip"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/signalsfoundry/netctrl/header"
	"github.com/signalsfoundry/netctrl/internal/logging"
)

// RxProcess drains pending frames from the driver, up to MaxRxFramesPerTick,
// and dispatches each one. Malformed or foreign frames are dropped and
// counted; nothing on this path returns an error.
func (c *Controller) RxProcess() {
	for i := 0; i < c.maxRx && c.driver.HasPending(); i++ {
		n, err := c.driver.Get(c.rxBuf)
		if err != nil {
			if errors.Is(err, ErrEmpty) {
				return
			}
			c.drop(DropDriver, logging.Err(err))
			continue
		}
		c.stats.RxFrames++
		c.metrics.FrameReceived(c.name)
		c.handleFrame(c.rxBuf[:n])
	}
}

func (c *Controller) handleFrame(frame []byte) {
	if len(frame) < header.EthernetHeaderSize {
		c.drop(DropMalformed, logging.Int("len", len(frame)))
		return
	}
	eth := header.Ethernet(frame)
	dst := eth.DestinationAddress()
	if !bytes.Equal(dst, c.mac) && !header.IsBroadcastMAC(dst) {
		c.drop(DropNotForUs, logging.MAC("dst_mac", dst))
		return
	}

	switch eth.Type() {
	case header.EtherTypeARP:
		c.handleARP(header.ARP(eth.Payload()))
	case header.EtherTypeIPv4:
		c.handleIPv4(eth.SourceAddress(), header.IPv4(eth.Payload()))
	default:
		c.drop(DropUnsupported, logging.Int("ethertype", int(eth.Type())))
	}
}

func (c *Controller) handleARP(pkt header.ARP) {
	if !pkt.IsValid() {
		c.drop(DropMalformed, logging.String("proto", "arp"))
		return
	}
	sender := pkt.SenderProtocolAddress()
	if !c.inSubnet(sender) || sender == c.ip || c.isBroadcast(sender) {
		c.drop(DropForeign, logging.IP("src_ip", sender))
		return
	}

	c.learn(sender, pkt.SenderHardwareAddress())

	if pkt.Op() != header.ARPRequest || pkt.TargetProtocolAddress() != c.ip {
		return
	}
	reply := make([]byte, header.ARPSize)
	header.ARP(reply).Encode(&header.ARPFields{
		Op:             header.ARPReply,
		SenderHardware: c.mac,
		SenderProtocol: c.ip,
		TargetHardware: pkt.SenderHardwareAddress(),
		TargetProtocol: sender,
	})
	c.queueControl(controlFrame{
		kind:      FrameKindARPReply,
		etherType: header.EtherTypeARP,
		dstIP:     sender,
		dstMAC:    append(net.HardwareAddr(nil), pkt.SenderHardwareAddress()...),
		payload:   reply,
	})
}

func (c *Controller) handleIPv4(srcMAC net.HardwareAddr, ip header.IPv4) {
	if !ip.IsValid(len(ip)) {
		c.drop(DropMalformed, logging.String("proto", "ipv4"))
		return
	}
	src, dst := ip.SourceAddress(), ip.DestinationAddress()
	if !c.inSubnet(src) || c.isBroadcast(src) || src == c.ip {
		c.drop(DropForeign, logging.IP("src_ip", src))
		return
	}
	if dst != c.ip && !c.isBroadcast(dst) {
		c.drop(DropNotForUs, logging.IP("dst_ip", dst))
		return
	}

	c.learn(src, srcMAC)

	switch ip.Protocol() {
	case header.IPProtocolICMP:
		c.handleICMP(srcMAC, src, dst, ip.Payload())
	case header.IPProtocolUDP:
		c.handleUDP(src, dst, header.UDP(ip.Payload()))
	default:
		c.drop(DropUnsupported, logging.Int("ip_proto", int(ip.Protocol())))
	}
}

func (c *Controller) handleICMP(srcMAC net.HardwareAddr, src, dst netip.Addr, b []byte) {
	if len(b) < 8 || header.Checksum(b, 0) != 0xffff {
		c.drop(DropMalformed, logging.String("proto", "icmp"))
		return
	}
	msg, err := icmp.ParseMessage(ipv4.ICMPTypeEcho.Protocol(), b)
	if err != nil {
		c.drop(DropMalformed, logging.String("proto", "icmp"), logging.Err(err))
		return
	}
	echo, ok := msg.Body.(*icmp.Echo)
	if !ok {
		c.drop(DropUnsupported, logging.Any("icmp_type", msg.Type))
		return
	}

	switch msg.Type {
	case ipv4.ICMPTypeEcho:
		// Broadcast pings are not answered.
		if dst != c.ip {
			c.drop(DropNotForUs, logging.IP("dst_ip", dst))
			return
		}
		c.stats.EchoRequests++
		reply := icmp.Message{
			Type: ipv4.ICMPTypeEchoReply,
			Body: &icmp.Echo{ID: echo.ID, Seq: echo.Seq, Data: append([]byte(nil), echo.Data...)},
		}
		wire, err := reply.Marshal(nil)
		if err != nil {
			c.drop(DropMalformed, logging.String("proto", "icmp"), logging.Err(err))
			return
		}
		c.queueControl(controlFrame{
			kind:      FrameKindEchoReply,
			etherType: header.EtherTypeIPv4,
			dstIP:     src,
			dstMAC:    append(net.HardwareAddr(nil), srcMAC...),
			payload:   wire,
		})
	case ipv4.ICMPTypeEchoReply:
		c.recordEchoReply(src, echo)
	default:
		c.drop(DropUnsupported, logging.Any("icmp_type", msg.Type))
	}
}

func (c *Controller) handleUDP(src, dst netip.Addr, udp header.UDP) {
	if !udp.IsValid(src, dst) {
		c.drop(DropMalformed, logging.String("proto", "udp"))
		return
	}
	port := c.ports.match(udp.DestinationPort(), src)
	if port == nil {
		c.stats.RxUnmatched++
		c.drop(DropNoPort, logging.Uint16("dst_port", udp.DestinationPort()), logging.IP("src_ip", src))
		return
	}
	if !port.deliver(udp.Payload(), src) {
		c.drop(DropPortOverflow, logging.Int("port_id", int(port.id)), logging.Int("len", len(udp.Payload())))
		return
	}
	c.stats.RxDelivered++
}

// learn feeds a sender mapping into the ARP cache.
func (c *Controller) learn(ip netip.Addr, mac net.HardwareAddr) {
	if header.IsBroadcastMAC(mac) {
		return
	}
	if err := c.arp.AddEntry(ip, mac); err != nil {
		c.log.Debug(context.Background(), "ARP learn failed", logging.IP("ip", ip), logging.Err(err))
		c.gen.notify(err)
	}
}

func (c *Controller) drop(reason string, fields ...logging.Field) {
	c.stats.RxDropped++
	c.metrics.FrameDropped(c.name, reason)
	c.log.Debug(context.Background(), "frame dropped", append(fields, logging.String("reason", reason))...)
}
