// Package udptunnel carries raw Ethernet frames inside UDP datagrams so two
// controllers, or a controller and a test harness, can talk across ordinary
// sockets.
package udptunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/signalsfoundry/netctrl/core"
	"github.com/signalsfoundry/netctrl/header"
	"github.com/signalsfoundry/netctrl/internal/logging"
)

const defaultQueueSize = 64

// Config describes the socket pair of a tunnel.
type Config struct {
	// Listen is the local UDP address, e.g. "127.0.0.1:9000". Port 0 picks
	// a free port.
	Listen string
	// Remote is the peer address. When empty the first datagram received
	// fixes it.
	Remote string
	// QueueSize bounds the frames buffered between the socket reader and
	// the controller. Defaults to 64.
	QueueSize int
}

// Endpoint is a core.CommunicationInterface over a UDP socket. A reader
// goroutine moves datagrams into a bounded queue; frames arriving while the
// queue is full are dropped and counted.
type Endpoint struct {
	conn    *net.UDPConn
	remote  atomic.Pointer[net.UDPAddr]
	inbound chan []byte
	log     logging.Logger

	mac     atomic.Pointer[net.HardwareAddr]
	dropped atomic.Uint64
	closed  atomic.Bool
	wg      sync.WaitGroup
}

// Open binds the local socket and starts the reader.
func Open(cfg Config, log logging.Logger) (*Endpoint, error) {
	if log == nil {
		log = logging.Noop()
	}
	laddr, err := net.ResolveUDPAddr("udp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("resolve listen address %q: %w", cfg.Listen, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen %q: %w", cfg.Listen, err)
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	e := &Endpoint{
		conn:    conn,
		inbound: make(chan []byte, size),
		log:     log.With(logging.String("link", "udp"), logging.String("local", conn.LocalAddr().String())),
	}
	if cfg.Remote != "" {
		raddr, err := net.ResolveUDPAddr("udp", cfg.Remote)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("resolve remote address %q: %w", cfg.Remote, err)
		}
		e.remote.Store(raddr)
	}

	e.wg.Add(1)
	go e.readLoop()
	return e, nil
}

// LocalAddr returns the bound socket address.
func (e *Endpoint) LocalAddr() *net.UDPAddr { return e.conn.LocalAddr().(*net.UDPAddr) }

// SetRemote points the tunnel at addr.
func (e *Endpoint) SetRemote(addr *net.UDPAddr) { e.remote.Store(addr) }

// Dropped returns how many inbound frames were discarded on a full queue.
func (e *Endpoint) Dropped() uint64 { return e.dropped.Load() }

// Close stops the reader and releases the socket.
func (e *Endpoint) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := e.conn.Close()
	e.wg.Wait()
	return err
}

func (e *Endpoint) readLoop() {
	defer e.wg.Done()
	buf := make([]byte, header.EthernetMaxFrameSize+1)
	for {
		n, from, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if e.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			e.log.Warn(context.Background(), "tunnel read failed", logging.Err(err))
			continue
		}
		if n < header.EthernetHeaderSize || n > header.EthernetMaxFrameSize {
			e.dropped.Add(1)
			continue
		}
		if e.remote.Load() == nil {
			e.remote.CompareAndSwap(nil, from)
			e.log.Info(context.Background(), "tunnel peer learned", logging.String("remote", from.String()))
		}
		select {
		case e.inbound <- append([]byte(nil), buf[:n]...):
		default:
			e.dropped.Add(1)
		}
	}
}

// Send implements core.CommunicationInterface.
func (e *Endpoint) Send(frame []byte) error {
	if e.closed.Load() {
		return fmt.Errorf("%w: tunnel closed", core.ErrTransportFail)
	}
	raddr := e.remote.Load()
	if raddr == nil {
		return fmt.Errorf("%w: tunnel peer unknown", core.ErrTransportFail)
	}
	if _, err := e.conn.WriteToUDP(frame, raddr); err != nil {
		return fmt.Errorf("%w: %v", core.ErrTransportFail, err)
	}
	return nil
}

// HasPending implements core.CommunicationInterface.
func (e *Endpoint) HasPending() bool { return len(e.inbound) > 0 }

// Get implements core.CommunicationInterface.
func (e *Endpoint) Get(buf []byte) (int, error) {
	select {
	case f := <-e.inbound:
		return copy(buf, f), nil
	default:
		return 0, core.ErrEmpty
	}
}

// SetMACAddress implements core.CommunicationInterface. The tunnel carries
// every frame; the address is only kept for inspection.
func (e *Endpoint) SetMACAddress(mac net.HardwareAddr) error {
	cp := append(net.HardwareAddr(nil), mac...)
	e.mac.Store(&cp)
	return nil
}

// MACAddress returns the programmed address, or nil.
func (e *Endpoint) MACAddress() net.HardwareAddr {
	if p := e.mac.Load(); p != nil {
		return *p
	}
	return nil
}
