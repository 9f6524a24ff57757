package core

import (
	"errors"
	"fmt"
)

var (
	// ErrCapacityExceeded reports a full port table, ARP table, controller
	// table or control queue.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrBufferFull reports a TX enqueue larger than the free space.
	ErrBufferFull = errors.New("buffer full")
	// ErrNotResolved reports an ARP miss or a resolution still in flight.
	ErrNotResolved = errors.New("address not resolved")
	// ErrTransportBusy is returned by a driver that cannot take a frame now.
	ErrTransportBusy = errors.New("transport busy")
	// ErrTransportFail is returned by a driver that failed to send a frame.
	ErrTransportFail = errors.New("transport failure")
	// ErrInvalidArgument reports a malformed address, mask or argument.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrEmpty is returned by non-blocking reads that find no data.
	ErrEmpty = errors.New("empty")

	ErrPortInUse          = fmt.Errorf("%w: port number in use", ErrInvalidArgument)
	ErrPortNotFound       = errors.New("port not found")
	ErrControllerExists   = errors.New("controller already exists")
	ErrControllerNotFound = errors.New("controller not found")
)
