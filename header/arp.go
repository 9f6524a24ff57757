package header

import (
	"encoding/binary"
	"net"
	"net/netip"
)

// ARPOp is the ARP operation code.
type ARPOp uint16

const (
	ARPRequest ARPOp = 1
	ARPReply   ARPOp = 2
)

const (
	// ARPSize is the size of an ARP packet for Ethernet/IPv4.
	ARPSize = 28

	arpHardwareEthernet = 1

	arpHType = 0
	arpPType = 2
	arpHLen  = 4
	arpPLen  = 5
	arpOp    = 6
	arpSHA   = 8
	arpSPA   = 14
	arpTHA   = 18
	arpTPA   = 24
)

// ARPFields describes an ARP packet to encode.
type ARPFields struct {
	Op             ARPOp
	SenderHardware net.HardwareAddr
	SenderProtocol netip.Addr
	TargetHardware net.HardwareAddr
	TargetProtocol netip.Addr
}

// ARP is an Ethernet/IPv4 ARP packet stored in a byte slice.
type ARP []byte

// IsValid reports whether the packet is long enough and describes an
// Ethernet/IPv4 mapping.
func (a ARP) IsValid() bool {
	if len(a) < ARPSize {
		return false
	}
	return binary.BigEndian.Uint16(a[arpHType:]) == arpHardwareEthernet &&
		EtherType(binary.BigEndian.Uint16(a[arpPType:])) == EtherTypeIPv4 &&
		a[arpHLen] == MACSize &&
		a[arpPLen] == IPv4AddressSize
}

// Op returns the operation code.
func (a ARP) Op() ARPOp { return ARPOp(binary.BigEndian.Uint16(a[arpOp:])) }

// SenderHardwareAddress aliases the sender MAC field.
func (a ARP) SenderHardwareAddress() net.HardwareAddr {
	return net.HardwareAddr(a[arpSHA : arpSHA+MACSize])
}

// SenderProtocolAddress returns the sender IPv4 address.
func (a ARP) SenderProtocolAddress() netip.Addr {
	return netip.AddrFrom4([4]byte(a[arpSPA : arpSPA+IPv4AddressSize]))
}

// TargetHardwareAddress aliases the target MAC field.
func (a ARP) TargetHardwareAddress() net.HardwareAddr {
	return net.HardwareAddr(a[arpTHA : arpTHA+MACSize])
}

// TargetProtocolAddress returns the target IPv4 address.
func (a ARP) TargetProtocolAddress() netip.Addr {
	return netip.AddrFrom4([4]byte(a[arpTPA : arpTPA+IPv4AddressSize]))
}

// Encode writes a complete Ethernet/IPv4 ARP packet into a. A nil target
// hardware address is encoded as zeros, as in a request.
func (a ARP) Encode(f *ARPFields) {
	binary.BigEndian.PutUint16(a[arpHType:], arpHardwareEthernet)
	binary.BigEndian.PutUint16(a[arpPType:], uint16(EtherTypeIPv4))
	a[arpHLen] = MACSize
	a[arpPLen] = IPv4AddressSize
	binary.BigEndian.PutUint16(a[arpOp:], uint16(f.Op))
	copy(a[arpSHA:arpSHA+MACSize], f.SenderHardware)
	putAddr4(a[arpSPA:], f.SenderProtocol)
	tha := a[arpTHA : arpTHA+MACSize]
	clear(tha)
	copy(tha, f.TargetHardware)
	putAddr4(a[arpTPA:], f.TargetProtocol)
}

func putAddr4(b []byte, addr netip.Addr) {
	v := addr.As4()
	copy(b[:IPv4AddressSize], v[:])
}
