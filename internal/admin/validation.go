package admin

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"
)

// ErrInvalidRequest reports a request message with missing or malformed
// fields.
var ErrInvalidRequest = errors.New("invalid request")

func stringField(req *structpb.Struct, key string) string {
	if req == nil {
		return ""
	}
	v, ok := req.GetFields()[key]
	if !ok {
		return ""
	}
	return strings.TrimSpace(v.GetStringValue())
}

func boolField(req *structpb.Struct, key string) bool {
	if req == nil {
		return false
	}
	return req.GetFields()[key].GetBoolValue()
}

func requireIPv4(req *structpb.Struct, key string) (netip.Addr, error) {
	raw := stringField(req, key)
	if raw == "" {
		return netip.Addr{}, fmt.Errorf("%w: %s is required", ErrInvalidRequest, key)
	}
	return parseIPv4(key, raw)
}

func parseIPv4(key, raw string) (netip.Addr, error) {
	ip, err := netip.ParseAddr(raw)
	if err != nil || !ip.Is4() {
		return netip.Addr{}, fmt.Errorf("%w: %s %q is not an IPv4 address", ErrInvalidRequest, key, raw)
	}
	return ip, nil
}

func parseMAC(key, raw string) (net.HardwareAddr, error) {
	mac, err := net.ParseMAC(raw)
	if err != nil || len(mac) != 6 {
		return nil, fmt.Errorf("%w: %s %q is not an Ethernet address", ErrInvalidRequest, key, raw)
	}
	return mac, nil
}

func parseMask(key, raw string) (net.IPMask, error) {
	ip, err := parseIPv4(key, raw)
	if err != nil {
		return nil, err
	}
	b := ip.As4()
	mask := net.IPMask(b[:])
	if ones, bits := mask.Size(); ones == 0 && bits == 0 {
		return nil, fmt.Errorf("%w: %s %q is not a contiguous mask", ErrInvalidRequest, key, raw)
	}
	return mask, nil
}
