package core

import (
	"fmt"
	"net/netip"

	"github.com/signalsfoundry/netctrl/header"
)

// PortMode selects how a port frames the bytes in its buffers.
type PortMode int

const (
	// PortModeStream concatenates payloads into one byte stream, like a
	// virtual serial port. TX drains up to one maximum-size datagram per frame.
	PortModeStream PortMode = iota
	// PortModeDatagram keeps message boundaries: one Send is one UDP datagram
	// and one Read returns one datagram.
	PortModeDatagram
)

func (m PortMode) String() string {
	switch m {
	case PortModeStream:
		return "stream"
	case PortModeDatagram:
		return "datagram"
	default:
		return fmt.Sprintf("PortMode(%d)", int(m))
	}
}

// MaxDatagramSize is the largest payload one port message may carry.
const MaxDatagramSize = header.UDPMaxPayload

const (
	defaultPortBufferSize = 2048
	defaultPortMessages   = 8
)

// PortConfig describes a port to register.
type PortConfig struct {
	Name    string
	InPort  uint16 // local UDP port; inbound datagrams are matched on it
	OutPort uint16 // remote UDP port used as destination on TX
	DstIP   netip.Addr
	Mode    PortMode

	RxBufferSize int // bytes; defaults to 2048
	TxBufferSize int // bytes; defaults to 2048
	RxMessages   int // datagram mode descriptor slots; defaults to 8
	TxMessages   int // datagram mode descriptor slots; defaults to 8

	// StrictPeer accepts only datagrams whose source is DstIP.
	StrictPeer bool
}

// PortStats counts traffic through one port.
type PortStats struct {
	RxBytes     uint64
	RxDatagrams uint64
	RxOverflows uint64
	TxBytes     uint64
	TxDatagrams uint64
	TxDropped   uint64
}

type datagram struct {
	size int
	addr netip.Addr // source on RX; explicit destination on TX, zero for DstIP
}

// Port is one logical UDP endpoint with its own RX and TX buffers. The
// application only enqueues TX and dequeues RX; the controller only fills RX
// and drains TX.
type Port struct {
	id       PortID
	name     string
	registry *PortRegistry

	inPort     uint16
	outPort    uint16
	dstIP      netip.Addr
	protocol   header.IPProtocol
	mode       PortMode
	strictPeer bool

	rx     *Queue[byte]
	tx     *Queue[byte]
	rxMsgs *Queue[datagram]
	txMsgs *Queue[datagram]

	// lastSrc is the source of the most recent stream-mode delivery.
	lastSrc netip.Addr
	stats   PortStats
}

func (p *Port) init(id PortID, r *PortRegistry, cfg PortConfig) {
	*p = Port{
		id:         id,
		name:       cfg.Name,
		registry:   r,
		inPort:     cfg.InPort,
		outPort:    cfg.OutPort,
		dstIP:      cfg.DstIP,
		protocol:   header.IPProtocolUDP,
		mode:       cfg.Mode,
		strictPeer: cfg.StrictPeer,
		rx:         NewQueue[byte](orDefault(cfg.RxBufferSize, defaultPortBufferSize)),
		tx:         NewQueue[byte](orDefault(cfg.TxBufferSize, defaultPortBufferSize)),
	}
	if cfg.Mode == PortModeDatagram {
		p.rxMsgs = NewQueue[datagram](orDefault(cfg.RxMessages, defaultPortMessages))
		p.txMsgs = NewQueue[datagram](orDefault(cfg.TxMessages, defaultPortMessages))
	}
}

// ID returns the handle the registry assigned to the port.
func (p *Port) ID() PortID { return p.id }

// Name returns the configured port name, possibly empty.
func (p *Port) Name() string { return p.name }

// Mode returns the framing mode.
func (p *Port) Mode() PortMode { return p.mode }

// Protocol returns the transport protocol, always UDP.
func (p *Port) Protocol() header.IPProtocol { return p.protocol }

// InPort returns the local UDP port.
func (p *Port) InPort() uint16 { return p.inPort }

// OutPort returns the remote UDP port.
func (p *Port) OutPort() uint16 { return p.outPort }

// DstIP returns the default destination.
func (p *Port) DstIP() netip.Addr { return p.dstIP }

// Stats returns a snapshot of the port counters.
func (p *Port) Stats() PortStats { return p.stats }

// SetInPort changes the local port number. Another port of the same
// controller may not already use it.
func (p *Port) SetInPort(n uint16) error {
	if n == 0 {
		return fmt.Errorf("%w: in port 0", ErrInvalidArgument)
	}
	if other := p.registry.lookup(n); other != nil && other != p {
		return fmt.Errorf("%w: %d", ErrPortInUse, n)
	}
	p.inPort = n
	return nil
}

// SetOutPort changes the remote port number.
func (p *Port) SetOutPort(n uint16) error {
	if n == 0 {
		return fmt.Errorf("%w: out port 0", ErrInvalidArgument)
	}
	p.outPort = n
	return nil
}

// SetDstIP changes the default destination. It must be reachable from the
// owning controller's subnet.
func (p *Port) SetDstIP(ip netip.Addr) error {
	if err := p.registry.checkDst(ip); err != nil {
		return err
	}
	p.dstIP = ip
	return nil
}

// TxFreeSpace returns how many bytes Send accepts right now. In datagram
// mode it is zero while every message slot is taken.
func (p *Port) TxFreeSpace() int {
	if p.txMsgs != nil && p.txMsgs.IsFull() {
		return 0
	}
	return p.tx.Free()
}

// IsTxEmpty reports whether nothing is waiting to be sent.
func (p *Port) IsTxEmpty() bool {
	if p.txMsgs != nil {
		return p.txMsgs.IsEmpty()
	}
	return p.tx.IsEmpty()
}

// IsRxEmpty reports whether nothing is waiting to be read.
func (p *Port) IsRxEmpty() bool {
	if p.rxMsgs != nil {
		return p.rxMsgs.IsEmpty()
	}
	return p.rx.IsEmpty()
}

// RxAvailable returns the buffered RX byte count.
func (p *Port) RxAvailable() int { return p.rx.Len() }

// Send enqueues b for transmission to DstIP. It writes all of b or nothing.
func (p *Port) Send(b []byte) error {
	return p.enqueue(b, netip.Addr{})
}

// SendTo enqueues one datagram for dst instead of DstIP. Datagram mode only.
func (p *Port) SendTo(b []byte, dst netip.Addr) error {
	if p.mode != PortModeDatagram {
		return fmt.Errorf("%w: SendTo on %s port", ErrInvalidArgument, p.mode)
	}
	if err := p.registry.checkDst(dst); err != nil {
		return err
	}
	return p.enqueue(b, dst)
}

// SendByte enqueues a single byte.
func (p *Port) SendByte(c byte) error {
	b := [1]byte{c}
	return p.enqueue(b[:], netip.Addr{})
}

// SendString enqueues the bytes of s.
func (p *Port) SendString(s string) error {
	return p.enqueue([]byte(s), netip.Addr{})
}

func (p *Port) enqueue(b []byte, dst netip.Addr) error {
	if p.mode == PortModeDatagram && len(b) > MaxDatagramSize {
		return fmt.Errorf("%w: datagram of %d bytes exceeds %d", ErrInvalidArgument, len(b), MaxDatagramSize)
	}
	if p.mode == PortModeStream && len(b) == 0 {
		return nil
	}
	if p.txMsgs != nil && p.txMsgs.IsFull() {
		return fmt.Errorf("%w: %d datagrams queued", ErrBufferFull, p.txMsgs.Len())
	}
	if len(b) > p.TxFreeSpace() {
		return fmt.Errorf("%w: %d bytes requested, %d free", ErrBufferFull, len(b), p.TxFreeSpace())
	}
	p.tx.PushAll(b)
	if p.txMsgs != nil {
		p.txMsgs.Push(datagram{size: len(b), addr: dst})
	}
	return nil
}

// Read dequeues up to maxLen bytes, or in datagram mode exactly one datagram
// which must fit in maxLen. It returns ErrEmpty when there is nothing to read.
func (p *Port) Read(maxLen int) ([]byte, error) {
	b, _, err := p.ReadFrom(maxLen)
	return b, err
}

// ReadFrom is Read that also returns the sender address. In stream mode the
// address is the source of the most recent delivery.
func (p *Port) ReadFrom(maxLen int) ([]byte, netip.Addr, error) {
	if maxLen <= 0 {
		return nil, netip.Addr{}, fmt.Errorf("%w: max length %d", ErrInvalidArgument, maxLen)
	}
	if p.rxMsgs == nil {
		n := min(maxLen, p.rx.Len())
		if n == 0 {
			return nil, netip.Addr{}, ErrEmpty
		}
		out := make([]byte, n)
		p.rx.PopInto(out)
		return out, p.lastSrc, nil
	}

	head, ok := p.rxMsgs.Peek()
	if !ok {
		return nil, netip.Addr{}, ErrEmpty
	}
	if head.size > maxLen {
		return nil, netip.Addr{}, fmt.Errorf("%w: datagram of %d bytes does not fit in %d", ErrInvalidArgument, head.size, maxLen)
	}
	p.rxMsgs.Pop()
	out := make([]byte, head.size)
	p.rx.PopInto(out)
	return out, head.addr, nil
}

// ReadByte dequeues one byte. Stream mode only.
func (p *Port) ReadByte() (byte, error) {
	if p.mode != PortModeStream {
		return 0, fmt.Errorf("%w: ReadByte on %s port", ErrInvalidArgument, p.mode)
	}
	var b [1]byte
	if p.rx.PopInto(b[:]) == 0 {
		return 0, ErrEmpty
	}
	return b[0], nil
}

// accepts reports whether a datagram from src to local port dstPort belongs
// to this port.
func (p *Port) accepts(dstPort uint16, src netip.Addr) bool {
	if p.inPort != dstPort {
		return false
	}
	return !p.strictPeer || src == p.dstIP
}

// deliver appends one inbound payload. It stores all of it or nothing.
func (p *Port) deliver(payload []byte, src netip.Addr) bool {
	if len(payload) > p.rx.Free() || (p.rxMsgs != nil && p.rxMsgs.IsFull()) {
		p.stats.RxOverflows++
		return false
	}
	p.rx.PushAll(payload)
	if p.rxMsgs != nil {
		p.rxMsgs.Push(datagram{size: len(payload), addr: src})
	} else {
		p.lastSrc = src
	}
	p.stats.RxBytes += uint64(len(payload))
	p.stats.RxDatagrams++
	return true
}

// nextTx describes the head of the TX buffer: how many bytes the next frame
// carries and where it goes.
func (p *Port) nextTx() (int, netip.Addr) {
	if p.txMsgs == nil {
		return min(p.tx.Len(), MaxDatagramSize), p.dstIP
	}
	head, ok := p.txMsgs.Peek()
	if !ok {
		return 0, netip.Addr{}
	}
	if head.addr.IsValid() {
		return head.size, head.addr
	}
	return head.size, p.dstIP
}

// peekTx copies the next frame's payload into dst.
func (p *Port) peekTx(dst []byte) int {
	n, _ := p.nextTx()
	return p.tx.PeekInto(dst[:n])
}

// commitTx removes the n bytes just sent.
func (p *Port) commitTx(n int) {
	p.tx.Discard(n)
	if p.txMsgs != nil {
		p.txMsgs.Pop()
	}
	p.stats.TxBytes += uint64(n)
	p.stats.TxDatagrams++
}

// dropTx discards the head frame without sending it.
func (p *Port) dropTx() {
	n, _ := p.nextTx()
	p.tx.Discard(n)
	if p.txMsgs != nil {
		p.txMsgs.Pop()
	}
	p.stats.TxDropped++
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
