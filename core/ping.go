package core

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/signalsfoundry/netctrl/internal/logging"
)

// pingPayload is the data carried by every echo request.
var pingPayload = []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f}

// pingSlot tracks the single echo request in flight for one address.
type pingSlot struct {
	used     bool
	ip       netip.Addr
	seq      uint16
	queuedAt time.Time
	sentAt   time.Time
	rtt      time.Duration
	// pending holds wire until the request is transmitted.
	pending     bool
	wire        []byte
	outstanding bool
	replied     bool
}

// SendPing queues an ICMP echo request for ip. It resolves like any other
// TX traffic, so the request may wait for ARP. A request for ip that has not
// been transmitted yet is replaced, and any earlier unread reply for ip is
// discarded. At most MaxPings addresses are tracked; the least recently
// pinged one gives up its slot.
func (c *Controller) SendPing(ip netip.Addr) error {
	if err := c.checkDst(ip); err != nil {
		return err
	}
	if c.isBroadcast(ip) {
		return fmt.Errorf("%w: broadcast ping %v", ErrInvalidArgument, ip)
	}

	seq := c.pingSeq + 1
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Body: &icmp.Echo{ID: int(c.pingID), Seq: int(seq), Data: pingPayload},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return fmt.Errorf("marshal echo request: %w", err)
	}
	c.pingSeq = seq

	s := c.pingSlotFor(ip)
	replaced := s.used && s.ip == ip && s.pending
	*s = pingSlot{
		used:        true,
		ip:          ip,
		seq:         seq,
		queuedAt:    c.now(),
		pending:     true,
		wire:        wire,
		outstanding: true,
	}
	if replaced {
		c.log.Debug(context.Background(), "unsent ping replaced", logging.IP("ip", ip))
	}
	c.log.Debug(context.Background(), "ping queued", logging.IP("ip", ip), logging.Int("seq", int(seq)))
	return nil
}

// CheckPingReply reports whether an echo reply from ip arrived since the
// last check, along with its round-trip time. Reading clears the flag.
func (c *Controller) CheckPingReply(ip netip.Addr) (time.Duration, bool) {
	s := c.findPing(ip)
	if s == nil || !s.replied {
		return 0, false
	}
	s.replied = false
	return s.rtt, true
}

func (c *Controller) dropPing(s *pingSlot, reason string) {
	s.pending = false
	s.wire = nil
	s.outstanding = false
	c.stats.TxDropped++
	c.metrics.FrameDropped(c.name, reason)
	c.log.Debug(context.Background(), "echo request dropped", logging.IP("ip", s.ip), logging.String("reason", reason))
}

func (c *Controller) recordEchoReply(src netip.Addr, echo *icmp.Echo) {
	s := c.findPing(src)
	if s == nil || !s.outstanding || s.pending || echo.ID != int(c.pingID) || echo.Seq != int(s.seq) {
		// Late, duplicate or foreign reply.
		return
	}
	s.rtt = c.now().Sub(s.sentAt)
	s.outstanding = false
	s.replied = true
	c.stats.PingReplies++
	c.metrics.ObservePingRoundTrip(c.name, s.rtt)
	c.log.Debug(context.Background(), "ping reply", logging.IP("ip", src), logging.Duration("rtt", s.rtt))
}

func (c *Controller) findPing(ip netip.Addr) *pingSlot {
	for i := range c.pings {
		if c.pings[i].used && c.pings[i].ip == ip {
			return &c.pings[i]
		}
	}
	return nil
}

// pingSlotFor returns the slot tracking ip, reusing the least recently
// queued slot when all are taken.
func (c *Controller) pingSlotFor(ip netip.Addr) *pingSlot {
	if s := c.findPing(ip); s != nil {
		return s
	}
	var victim *pingSlot
	for i := range c.pings {
		s := &c.pings[i]
		if !s.used {
			return s
		}
		if victim == nil || s.queuedAt.Before(victim.queuedAt) {
			victim = s
		}
	}
	return victim
}
