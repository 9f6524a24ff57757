// Package channel provides an in-memory link driver. Frames written by one
// endpoint land in a bounded channel that either the test reads directly or
// the paired endpoint receives from.
package channel

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/signalsfoundry/netctrl/core"
)

// Endpoint is a core.CommunicationInterface backed by Go channels. Send never
// blocks: a full queue reports core.ErrTransportBusy.
type Endpoint struct {
	inbound chan []byte

	// C receives outbound frames of an unpaired endpoint.
	C chan []byte

	peer *Endpoint
	up   atomic.Bool

	mu  sync.Mutex
	mac net.HardwareAddr
}

// New creates an unpaired endpoint whose queues hold size frames each.
func New(size int) *Endpoint {
	if size <= 0 {
		size = 1
	}
	e := &Endpoint{
		inbound: make(chan []byte, size),
		C:       make(chan []byte, size),
	}
	e.up.Store(true)
	return e
}

// NewPair creates two endpoints wired back to back, like the two ends of a
// cable.
func NewPair(size int) (*Endpoint, *Endpoint) {
	a, b := New(size), New(size)
	a.peer, b.peer = b, a
	return a, b
}

// Send implements core.CommunicationInterface.
func (e *Endpoint) Send(frame []byte) error {
	if !e.up.Load() || (e.peer != nil && !e.peer.up.Load()) {
		return fmt.Errorf("%w: link down", core.ErrTransportFail)
	}
	out := e.C
	if e.peer != nil {
		out = e.peer.inbound
	}
	select {
	case out <- append([]byte(nil), frame...):
		return nil
	default:
		return core.ErrTransportBusy
	}
}

// HasPending implements core.CommunicationInterface.
func (e *Endpoint) HasPending() bool { return len(e.inbound) > 0 }

// Get implements core.CommunicationInterface. A frame longer than buf is
// truncated to len(buf).
func (e *Endpoint) Get(buf []byte) (int, error) {
	select {
	case f := <-e.inbound:
		return copy(buf, f), nil
	default:
		return 0, core.ErrEmpty
	}
}

// SetMACAddress implements core.CommunicationInterface.
func (e *Endpoint) SetMACAddress(mac net.HardwareAddr) error {
	e.mu.Lock()
	e.mac = append(net.HardwareAddr(nil), mac...)
	e.mu.Unlock()
	return nil
}

// MACAddress returns the last programmed address.
func (e *Endpoint) MACAddress() net.HardwareAddr {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append(net.HardwareAddr(nil), e.mac...)
}

// Inject queues an inbound frame as if it arrived from the wire.
func (e *Endpoint) Inject(frame []byte) error {
	select {
	case e.inbound <- append([]byte(nil), frame...):
		return nil
	default:
		return core.ErrTransportBusy
	}
}

// SetLinkUp raises or drops the link. While down every Send fails.
func (e *Endpoint) SetLinkUp(up bool) { e.up.Store(up) }

// Drain returns every frame waiting in C.
func (e *Endpoint) Drain() [][]byte {
	var out [][]byte
	for {
		select {
		case f := <-e.C:
			out = append(out, f)
		default:
			return out
		}
	}
}
