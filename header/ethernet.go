// Package header provides byte-slice views over the wire formats the
// controller speaks: Ethernet II, ARP for IPv4, IPv4 and UDP. Views never
// copy; callers size the backing slice before decoding or encoding.
package header

import (
	"encoding/binary"
	"net"
)

// EtherType identifies the protocol carried in an Ethernet frame.
type EtherType uint16

const (
	EtherTypeIPv4 EtherType = 0x0800
	EtherTypeARP  EtherType = 0x0806
)

const (
	dstMAC  = 0
	srcMAC  = 6
	ethType = 12
)

const (
	// EthernetHeaderSize is the size of an Ethernet II header without
	// preamble, SFD or FCS (those belong to the MAC hardware).
	EthernetHeaderSize = 14
	// EthernetMTU is the largest payload carried by one frame.
	EthernetMTU = 1500
	// EthernetMaxFrameSize is the largest frame the controller builds or accepts.
	EthernetMaxFrameSize = EthernetHeaderSize + EthernetMTU
	// MACSize is the length of an IEEE 802 MAC address.
	MACSize = 6
)

// BroadcastMAC is ff:ff:ff:ff:ff:ff.
var BroadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// EthernetFields describes a frame header to encode.
type EthernetFields struct {
	SrcAddr net.HardwareAddr
	DstAddr net.HardwareAddr
	Type    EtherType
}

// Ethernet is an Ethernet II header stored in a byte slice.
type Ethernet []byte

// SourceAddress returns the source MAC. The result aliases the frame.
func (b Ethernet) SourceAddress() net.HardwareAddr {
	return net.HardwareAddr(b[srcMAC : srcMAC+MACSize])
}

// DestinationAddress returns the destination MAC. The result aliases the frame.
func (b Ethernet) DestinationAddress() net.HardwareAddr {
	return net.HardwareAddr(b[dstMAC : dstMAC+MACSize])
}

// Type returns the ethertype field.
func (b Ethernet) Type() EtherType {
	return EtherType(binary.BigEndian.Uint16(b[ethType:]))
}

// Payload returns everything after the header.
func (b Ethernet) Payload() []byte {
	return b[EthernetHeaderSize:]
}

// Encode writes the header fields into b.
func (b Ethernet) Encode(f *EthernetFields) {
	copy(b[dstMAC:dstMAC+MACSize], f.DstAddr)
	copy(b[srcMAC:srcMAC+MACSize], f.SrcAddr)
	binary.BigEndian.PutUint16(b[ethType:], uint16(f.Type))
}

// IsBroadcastMAC reports whether mac is the all-ones address.
func IsBroadcastMAC(mac net.HardwareAddr) bool {
	if len(mac) != MACSize {
		return false
	}
	for _, v := range mac {
		if v != 0xff {
			return false
		}
	}
	return true
}
