package header

import (
	"encoding/binary"
	"net/netip"
)

// IPProtocol is the IPv4 protocol field.
type IPProtocol uint8

const (
	IPProtocolICMP IPProtocol = 1
	IPProtocolUDP  IPProtocol = 17
)

const (
	// IPv4MinimumSize is the size of a header without options.
	IPv4MinimumSize = 20
	// IPv4AddressSize is the length of an IPv4 address.
	IPv4AddressSize = 4
	// IPv4DefaultTTL is the TTL stamped on every packet the controller builds.
	IPv4DefaultTTL = 128
	// IPv4FlagDontFragment is set on every outgoing packet; fragmentation is
	// not supported.
	IPv4FlagDontFragment = 0x4000

	ipVersion = 4

	versIHL  = 0
	tos      = 1
	totalLen = 2
	id       = 4
	flagsFO  = 6
	ttl      = 8
	protocol = 9
	checksum = 10
	srcAddr  = 12
	dstAddr  = 16

	ipv4FragmentMask = 0x3fff
)

// IPv4Fields describes an IPv4 header to encode.
type IPv4Fields struct {
	TotalLength uint16
	ID          uint16
	TTL         uint8
	Protocol    IPProtocol
	SrcAddr     netip.Addr
	DstAddr     netip.Addr
}

// IPv4 is an IPv4 header stored in a byte slice.
type IPv4 []byte

// IsValid performs basic structural checks: version, header length, total
// length against pktSize, no fragmentation and a correct header checksum. A
// zero checksum field is accepted as not computed, which is what MACs with
// checksum offload deliver to the stack.
func (b IPv4) IsValid(pktSize int) bool {
	if len(b) < IPv4MinimumSize {
		return false
	}
	hlen := int(b.HeaderLength())
	tlen := int(b.TotalLength())
	if b[versIHL]>>4 != ipVersion || hlen < IPv4MinimumSize || hlen > tlen || tlen > pktSize || tlen > len(b) {
		return false
	}
	if binary.BigEndian.Uint16(b[flagsFO:])&ipv4FragmentMask != 0 {
		// More-fragments set or non-zero offset.
		return false
	}
	if b.Checksum() == 0 {
		return true
	}
	return Checksum(b[:hlen], 0) == 0xffff
}

// HeaderLength returns the header length in bytes.
func (b IPv4) HeaderLength() uint8 { return (b[versIHL] & 0x0f) * 4 }

// TotalLength returns the total packet length field.
func (b IPv4) TotalLength() uint16 { return binary.BigEndian.Uint16(b[totalLen:]) }

// ID returns the identification field.
func (b IPv4) ID() uint16 { return binary.BigEndian.Uint16(b[id:]) }

// TTL returns the time-to-live field.
func (b IPv4) TTL() uint8 { return b[ttl] }

// Protocol returns the payload protocol.
func (b IPv4) Protocol() IPProtocol { return IPProtocol(b[protocol]) }

// Checksum returns the header checksum field.
func (b IPv4) Checksum() uint16 { return binary.BigEndian.Uint16(b[checksum:]) }

// SourceAddress returns the source address.
func (b IPv4) SourceAddress() netip.Addr {
	return netip.AddrFrom4([4]byte(b[srcAddr : srcAddr+IPv4AddressSize]))
}

// DestinationAddress returns the destination address.
func (b IPv4) DestinationAddress() netip.Addr {
	return netip.AddrFrom4([4]byte(b[dstAddr : dstAddr+IPv4AddressSize]))
}

// Payload returns the bytes following the header, bounded by TotalLength so
// link-layer padding is discarded.
func (b IPv4) Payload() []byte {
	return b[b.HeaderLength():b.TotalLength()]
}

// Encode writes a 20 byte header with a zero checksum field. Callers that do
// not rely on offload follow with SetChecksum(^CalculateChecksum()).
func (b IPv4) Encode(f *IPv4Fields) {
	b[versIHL] = ipVersion<<4 | IPv4MinimumSize/4
	b[tos] = 0
	binary.BigEndian.PutUint16(b[totalLen:], f.TotalLength)
	binary.BigEndian.PutUint16(b[id:], f.ID)
	binary.BigEndian.PutUint16(b[flagsFO:], IPv4FlagDontFragment)
	b[ttl] = f.TTL
	b[protocol] = uint8(f.Protocol)
	binary.BigEndian.PutUint16(b[checksum:], 0)
	putAddr4(b[srcAddr:], f.SrcAddr)
	putAddr4(b[dstAddr:], f.DstAddr)
}

// CalculateChecksum returns the non-inverted checksum of the header.
func (b IPv4) CalculateChecksum() uint16 {
	return Checksum(b[:b.HeaderLength()], 0)
}

// SetChecksum writes the checksum field.
func (b IPv4) SetChecksum(v uint16) {
	binary.BigEndian.PutUint16(b[checksum:], v)
}

// PseudoHeaderChecksum returns the partial checksum of the IPv4 pseudo
// header used by UDP.
func PseudoHeaderChecksum(proto IPProtocol, src, dst netip.Addr, length uint16) uint16 {
	var buf [12]byte
	putAddr4(buf[0:], src)
	putAddr4(buf[4:], dst)
	buf[9] = uint8(proto)
	binary.BigEndian.PutUint16(buf[10:], length)
	return Checksum(buf[:], 0)
}
