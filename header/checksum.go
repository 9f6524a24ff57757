package header

// Checksum folds buf into the ones' complement sum initial and returns it
// without the final inversion. An odd trailing byte is padded with zero.
func Checksum(buf []byte, initial uint16) uint16 {
	v := uint32(initial)
	n := len(buf)
	for i := 0; i+1 < n; i += 2 {
		v += uint32(buf[i])<<8 | uint32(buf[i+1])
	}
	if n%2 == 1 {
		v += uint32(buf[n-1]) << 8
	}
	for v > 0xffff {
		v = (v >> 16) + (v & 0xffff)
	}
	return uint16(v)
}
