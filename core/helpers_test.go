package core

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/signalsfoundry/netctrl/timectrl"
)

var (
	testMAC   = net.HardwareAddr{0x01, 0x23, 0x45, 0x67, 0x89, 0xab}
	testIP    = netip.MustParseAddr("192.168.2.101")
	testMask  = net.IPv4Mask(255, 255, 255, 0)
	peerIP    = netip.MustParseAddr("192.168.2.0")
	peerMAC   = net.HardwareAddr{0x11, 0x22, 0x44, 0x55, 0x88, 0xaa}
	testStart = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
)

// fakeLink is an in-memory CommunicationInterface recording every frame.
type fakeLink struct {
	inbound [][]byte
	sent    [][]byte
	sendErr error
	mac     net.HardwareAddr
	macErr  error
}

func (f *fakeLink) Send(frame []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), frame...))
	return nil
}

func (f *fakeLink) HasPending() bool { return len(f.inbound) > 0 }

func (f *fakeLink) Get(buf []byte) (int, error) {
	if len(f.inbound) == 0 {
		return 0, ErrEmpty
	}
	n := copy(buf, f.inbound[0])
	f.inbound = f.inbound[1:]
	return n, nil
}

func (f *fakeLink) SetMACAddress(mac net.HardwareAddr) error {
	if f.macErr != nil {
		return f.macErr
	}
	f.mac = append(net.HardwareAddr(nil), mac...)
	return nil
}

func (f *fakeLink) inject(frames ...[]byte) {
	for _, fr := range frames {
		f.inbound = append(f.inbound, append([]byte(nil), fr...))
	}
}

func (f *fakeLink) takeSent() [][]byte {
	out := f.sent
	f.sent = nil
	return out
}

func newTestController(t *testing.T, mutate ...func(*ControllerConfig)) (*Controller, *fakeLink, *timectrl.TimeController) {
	t.Helper()

	cfg := ControllerConfig{
		Name:            "test",
		IP:              testIP,
		SubnetMask:      testMask,
		MAC:             testMAC,
		ChecksumOffload: true,
		PingIdentifier:  0x0100,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	link := &fakeLink{}
	clock := timectrl.NewTimeController(testStart, time.Millisecond, timectrl.Accelerated)
	c, err := NewController(cfg, link, WithClock(clock))
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return c, link, clock
}

func mustAddPort(t *testing.T, c *Controller, cfg PortConfig) *Port {
	t.Helper()
	id, err := c.AddPort(cfg)
	if err != nil {
		t.Fatalf("AddPort(%+v): %v", cfg, err)
	}
	p, err := c.Port(id)
	if err != nil {
		t.Fatalf("Port(%d): %v", id, err)
	}
	return p
}
