package runtime

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/signalsfoundry/netctrl/core"
	"github.com/signalsfoundry/netctrl/link/channel"
	"github.com/signalsfoundry/netctrl/link/simpeer"
	"github.com/signalsfoundry/netctrl/timectrl"
)

type countingObserver struct {
	ticks int
}

func (c *countingObserver) ObserveTick(time.Duration) { c.ticks++ }

var (
	localIP = netip.MustParseAddr("10.9.0.2")
	peerIP  = netip.MustParseAddr("10.9.0.1")
)

func newTestRunner(t *testing.T, opts ...Option) (*Runner, *simpeer.Peer) {
	t.Helper()
	near, far := channel.NewPair(16)
	clock := timectrl.NewTimeController(time.Unix(1000, 0), 10*time.Millisecond, timectrl.Accelerated)

	network := core.NewNetwork(core.NetworkConfig{})
	if _, err := network.AddController(core.ControllerConfig{
		Name:       "eth0",
		IP:         localIP,
		SubnetMask: net.IPv4Mask(255, 255, 255, 0),
		MAC:        net.HardwareAddr{0x02, 0, 0, 0, 0, 0x02},
	}, near, core.WithClock(clock)); err != nil {
		t.Fatalf("AddController: %v", err)
	}
	peer, err := simpeer.New(simpeer.Config{IP: peerIP, MAC: net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}}, far, nil)
	if err != nil {
		t.Fatalf("simpeer.New: %v", err)
	}

	opts = append([]Option{WithBeforeTick(func() { peer.Process() })}, opts...)
	r, err := NewRunner(network, clock, opts...)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return r, peer
}

func TestNewRunnerValidation(t *testing.T) {
	clock := timectrl.NewTimeController(time.Unix(0, 0), time.Millisecond, timectrl.Accelerated)
	if _, err := NewRunner(nil, clock); err == nil {
		t.Fatalf("expected error for nil network")
	}
	if _, err := NewRunner(core.NewNetwork(core.NetworkConfig{}), nil); err == nil {
		t.Fatalf("expected error for nil clock")
	}
}

func TestRunnerTickDrivesControllers(t *testing.T) {
	obs := &countingObserver{}
	r, peer := newTestRunner(t, WithTickObserver(obs))
	ctx := context.Background()

	err := r.Do(ctx, func(n *core.Network) error {
		c, err := n.Controller("eth0")
		if err != nil {
			return err
		}
		return c.SendPing(peerIP)
	})
	if err != nil {
		t.Fatalf("Do(SendPing): %v", err)
	}

	for i := 0; i < 4; i++ {
		r.Tick(ctx, r.Clock.Step())
	}

	if r.Ticks() != 4 || obs.ticks != 4 {
		t.Fatalf("ticks = %d observed = %d, want 4", r.Ticks(), obs.ticks)
	}
	if got, want := r.LastTick(), time.Unix(1000, 0).Add(40*time.Millisecond); !got.Equal(want) {
		t.Fatalf("LastTick = %v, want %v", got, want)
	}
	if st := peer.Stats(); st.EchoReplies != 1 {
		t.Fatalf("peer echo replies = %d, want 1", st.EchoReplies)
	}

	var replied bool
	_ = r.Do(ctx, func(n *core.Network) error {
		c, _ := n.Controller("eth0")
		_, replied = c.CheckPingReply(peerIP)
		return nil
	})
	if !replied {
		t.Fatalf("expected ping reply after four ticks")
	}
}

func TestRunnerDoRespectsContext(t *testing.T) {
	r, _ := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := r.Do(ctx, func(*core.Network) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do error = %v, want context.Canceled", err)
	}
	if called {
		t.Fatalf("callback ran on a cancelled context")
	}
}

func TestRunnerDoReturnsCallbackError(t *testing.T) {
	r, _ := newTestRunner(t)
	want := errors.New("boom")
	if err := r.Do(context.Background(), func(*core.Network) error { return want }); !errors.Is(err, want) {
		t.Fatalf("Do error = %v, want %v", err, want)
	}
}

func TestRunnerStartRunsForDuration(t *testing.T) {
	obs := &countingObserver{}
	r, _ := newTestRunner(t, WithTickObserver(obs))

	done := r.Start(context.Background(), 50*time.Millisecond)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("runner did not stop")
	}
	if r.Ticks() != 5 {
		t.Fatalf("ticks = %d, want 5", r.Ticks())
	}
	if obs.ticks != 5 {
		t.Fatalf("observed ticks = %d, want 5", obs.ticks)
	}
}
