package channel

import (
	"bytes"
	"errors"
	"net"
	"testing"

	"github.com/signalsfoundry/netctrl/core"
)

func TestPairDeliversFrames(t *testing.T) {
	a, b := NewPair(2)

	frame := []byte{1, 2, 3, 4}
	if err := a.Send(frame); err != nil {
		t.Fatalf("Send: %v", err)
	}
	frame[0] = 9 // the endpoint must have copied it

	if !b.HasPending() {
		t.Fatalf("peer has nothing pending")
	}
	if a.HasPending() {
		t.Fatalf("sender sees its own frame")
	}
	buf := make([]byte, 16)
	n, err := b.Get(buf)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(buf[:n], []byte{1, 2, 3, 4}) {
		t.Fatalf("Get = % x", buf[:n])
	}
	if _, err := b.Get(buf); !errors.Is(err, core.ErrEmpty) {
		t.Fatalf("Get on empty link error = %v, want ErrEmpty", err)
	}
}

func TestFullQueueIsBusy(t *testing.T) {
	a, _ := NewPair(1)
	if err := a.Send([]byte{1}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := a.Send([]byte{2}); !errors.Is(err, core.ErrTransportBusy) {
		t.Fatalf("Send on full queue error = %v, want ErrTransportBusy", err)
	}
}

func TestLinkDownFails(t *testing.T) {
	a, b := NewPair(4)
	b.SetLinkUp(false)
	if err := a.Send([]byte{1}); !errors.Is(err, core.ErrTransportFail) {
		t.Fatalf("Send to a down peer error = %v, want ErrTransportFail", err)
	}
	b.SetLinkUp(true)
	if err := a.Send([]byte{1}); err != nil {
		t.Fatalf("Send after link up: %v", err)
	}
}

func TestUnpairedEndpoint(t *testing.T) {
	e := New(4)
	if err := e.SetMACAddress(net.HardwareAddr{2, 0, 0, 0, 0, 1}); err != nil {
		t.Fatalf("SetMACAddress: %v", err)
	}
	if got := e.MACAddress().String(); got != "02:00:00:00:00:01" {
		t.Fatalf("MACAddress = %s", got)
	}

	e.Send([]byte("a"))
	e.Send([]byte("b"))
	out := e.Drain()
	if len(out) != 2 || string(out[0]) != "a" || string(out[1]) != "b" {
		t.Fatalf("Drain = %q", out)
	}

	if err := e.Inject([]byte("in")); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	buf := make([]byte, 1)
	n, _ := e.Get(buf)
	if n != 1 || buf[0] != 'i' {
		t.Fatalf("truncated Get = %q", buf[:n])
	}
}
