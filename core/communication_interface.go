package core

import (
	"net"
	"time"

	"github.com/signalsfoundry/netctrl/timectrl"
)

// CommunicationInterface is the contract a link driver implements for a
// Controller. The controller calls it only from MainProcess; drivers that
// capture frames on another goroutine must hand them over through their own
// single-producer/single-consumer queue.
type CommunicationInterface interface {
	// Send transmits one complete Ethernet frame. It returns nil,
	// ErrTransportBusy or ErrTransportFail. The driver must copy frame if it
	// keeps it after returning.
	Send(frame []byte) error
	// HasPending reports whether Get would return a frame.
	HasPending() bool
	// Get copies the next inbound frame into buf and returns its length, or
	// ErrEmpty when nothing is pending.
	Get(buf []byte) (int, error)
	// SetMACAddress programs the device address filter.
	SetMACAddress(mac net.HardwareAddr) error
}

// GenericInterface gathers the platform services a Controller dispatches to
// independently of its transport: the time source and an optional error
// notification hook. It holds no state of its own.
type GenericInterface struct {
	Clock       timectrl.SimClock
	NotifyError func(err error)
}

func (g GenericInterface) now() time.Time {
	if g.Clock == nil {
		return time.Now()
	}
	return g.Clock.Now()
}

func (g GenericInterface) notify(err error) {
	if g.NotifyError != nil && err != nil {
		g.NotifyError(err)
	}
}
