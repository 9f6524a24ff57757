package core_test

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/signalsfoundry/netctrl/core"
	"github.com/signalsfoundry/netctrl/link/channel"
	"github.com/signalsfoundry/netctrl/link/simpeer"
	"github.com/signalsfoundry/netctrl/timectrl"
)

var (
	localMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	localIP  = netip.MustParseAddr("10.20.0.2")
	remoteIP = netip.MustParseAddr("10.20.0.1")
)

func newLinkedController(t *testing.T) (*core.Controller, *simpeer.Peer, *core.SimulationEngine) {
	t.Helper()
	near, far := channel.NewPair(16)
	clock := timectrl.NewTimeController(time.Unix(0, 0), 10*time.Millisecond, timectrl.Accelerated)

	n := core.NewNetwork(core.NetworkConfig{})
	c, err := n.AddController(core.ControllerConfig{
		Name:       "eth0",
		IP:         localIP,
		SubnetMask: net.IPv4Mask(255, 255, 255, 0),
		MAC:        localMAC,
	}, near, core.WithClock(clock))
	if err != nil {
		t.Fatalf("AddController: %v", err)
	}
	peer, err := simpeer.New(simpeer.Config{
		IP:      remoteIP,
		MAC:     net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		EchoUDP: true,
	}, far, nil)
	if err != nil {
		t.Fatalf("simpeer.New: %v", err)
	}
	engine := core.NewSimulationEngine(n, func() {
		clock.Step()
		peer.Process()
	})
	return c, peer, engine
}

func TestPingThroughSimulatedPeer(t *testing.T) {
	c, peer, engine := newLinkedController(t)

	if err := c.SendPing(remoteIP); err != nil {
		t.Fatalf("SendPing: %v", err)
	}
	var rtt time.Duration
	ran := engine.RunUntil(20, func() bool {
		var ok bool
		rtt, ok = c.CheckPingReply(remoteIP)
		return ok
	})
	if ran == 20 {
		t.Fatalf("no ping reply after %d ticks", ran)
	}
	// Tick 1 sends the ARP request, tick 2 learns the reply and sends the
	// echo request, tick 3 receives the echo reply.
	if rtt != 10*time.Millisecond {
		t.Fatalf("rtt = %v, want one tick", rtt)
	}
	if !c.IsArpValid(remoteIP) {
		t.Fatalf("peer not in ARP cache")
	}
	if st := peer.Stats(); st.ArpReplies != 1 || st.EchoReplies != 1 {
		t.Fatalf("peer stats = %+v", st)
	}
}

func TestUDPEchoThroughSimulatedPeer(t *testing.T) {
	c, peer, engine := newLinkedController(t)

	id, err := c.AddPort(core.PortConfig{
		Name:    "telemetry",
		InPort:  4000,
		OutPort: 5000,
		DstIP:   remoteIP,
		Mode:    core.PortModeDatagram,
	})
	if err != nil {
		t.Fatalf("AddPort: %v", err)
	}
	port, _ := c.Port(id)
	for _, msg := range []string{"alpha", "beta"} {
		if err := port.SendString(msg); err != nil {
			t.Fatalf("SendString(%q): %v", msg, err)
		}
	}

	var got []string
	engine.RunUntil(30, func() bool {
		for {
			b, src, err := port.ReadFrom(core.MaxDatagramSize)
			if err != nil {
				break
			}
			if src != remoteIP {
				t.Fatalf("datagram from %v", src)
			}
			got = append(got, string(b))
		}
		return len(got) == 2
	})
	if len(got) != 2 || got[0] != "alpha" || got[1] != "beta" {
		t.Fatalf("echoed datagrams = %q", got)
	}

	seen := peer.Received()
	if len(seen) != 2 || seen[0].SrcPort != 4000 || seen[0].DstPort != 5000 {
		t.Fatalf("peer saw %+v", seen)
	}
	if st := c.Stats(); st.RxUnmatched != 0 || st.RxDropped != 0 {
		t.Fatalf("controller stats = %+v", st)
	}
}
