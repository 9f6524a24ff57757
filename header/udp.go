package header

import (
	"encoding/binary"
	"net/netip"
)

const (
	// UDPSize is the size of a UDP header.
	UDPSize = 8
	// UDPMaxPayload is the largest datagram that fits one Ethernet frame
	// without fragmentation.
	UDPMaxPayload = EthernetMTU - IPv4MinimumSize - UDPSize

	udpSrcPort  = 0
	udpDstPort  = 2
	udpLength   = 4
	udpChecksum = 6
)

// UDPFields describes a UDP header to encode.
type UDPFields struct {
	SrcPort uint16
	DstPort uint16
	Length  uint16
}

// UDP is a UDP header stored in a byte slice.
type UDP []byte

// SourcePort returns the source port.
func (b UDP) SourcePort() uint16 { return binary.BigEndian.Uint16(b[udpSrcPort:]) }

// DestinationPort returns the destination port.
func (b UDP) DestinationPort() uint16 { return binary.BigEndian.Uint16(b[udpDstPort:]) }

// Length returns the length field (header plus payload).
func (b UDP) Length() uint16 { return binary.BigEndian.Uint16(b[udpLength:]) }

// Checksum returns the checksum field. Zero means no checksum was sent.
func (b UDP) Checksum() uint16 { return binary.BigEndian.Uint16(b[udpChecksum:]) }

// Payload returns the datagram payload bounded by the length field.
func (b UDP) Payload() []byte { return b[UDPSize:b.Length()] }

// IsValid checks the length field against the enclosing IP payload and, when
// a checksum was sent, verifies it.
func (b UDP) IsValid(src, dst netip.Addr) bool {
	if len(b) < UDPSize {
		return false
	}
	l := int(b.Length())
	if l < UDPSize || l > len(b) {
		return false
	}
	if b.Checksum() == 0 {
		return true
	}
	sum := PseudoHeaderChecksum(IPProtocolUDP, src, dst, uint16(l))
	return Checksum(b[:l], sum) == 0xffff
}

// Encode writes the header with a zero checksum, meaning no checksum.
func (b UDP) Encode(f *UDPFields) {
	binary.BigEndian.PutUint16(b[udpSrcPort:], f.SrcPort)
	binary.BigEndian.PutUint16(b[udpDstPort:], f.DstPort)
	binary.BigEndian.PutUint16(b[udpLength:], f.Length)
	binary.BigEndian.PutUint16(b[udpChecksum:], 0)
}

// SetChecksum computes the checksum over the header, the payload that follows
// it and the pseudo header, and writes it.
func (b UDP) SetChecksum(src, dst netip.Addr) {
	l := b.Length()
	binary.BigEndian.PutUint16(b[udpChecksum:], 0)
	sum := ^Checksum(b[:l], PseudoHeaderChecksum(IPProtocolUDP, src, dst, l))
	if sum == 0 {
		// RFC 768: a computed zero is transmitted as all ones.
		sum = 0xffff
	}
	binary.BigEndian.PutUint16(b[udpChecksum:], sum)
}
