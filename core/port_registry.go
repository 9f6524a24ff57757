package core

import (
	"fmt"
	"net/netip"
)

// PortID is a stable handle to a registered port.
type PortID int

// PortRegistry owns a fixed table of ports. Ports are never removed, so a
// PortID and the *Port it resolves to stay valid for the registry lifetime.
type PortRegistry struct {
	ports    []Port
	checkDst func(netip.Addr) error
}

// NewPortRegistry preallocates room for capacity ports. checkDst validates
// destination addresses; nil accepts any valid IPv4 address.
func NewPortRegistry(capacity int, checkDst func(netip.Addr) error) *PortRegistry {
	if checkDst == nil {
		checkDst = func(ip netip.Addr) error {
			if !ip.Is4() {
				return fmt.Errorf("%w: destination %v", ErrInvalidArgument, ip)
			}
			return nil
		}
	}
	return &PortRegistry{
		ports:    make([]Port, 0, capacity),
		checkDst: checkDst,
	}
}

// Add registers a port and returns its handle.
func (r *PortRegistry) Add(cfg PortConfig) (PortID, error) {
	if len(r.ports) == cap(r.ports) {
		return -1, fmt.Errorf("%w: %d ports registered", ErrCapacityExceeded, cap(r.ports))
	}
	if cfg.InPort == 0 || cfg.OutPort == 0 {
		return -1, fmt.Errorf("%w: port numbers must be non-zero", ErrInvalidArgument)
	}
	if cfg.Mode != PortModeStream && cfg.Mode != PortModeDatagram {
		return -1, fmt.Errorf("%w: port mode %v", ErrInvalidArgument, cfg.Mode)
	}
	if err := r.checkDst(cfg.DstIP); err != nil {
		return -1, err
	}
	if r.lookup(cfg.InPort) != nil {
		return -1, fmt.Errorf("%w: %d", ErrPortInUse, cfg.InPort)
	}
	if cfg.Name != "" {
		if _, err := r.ByName(cfg.Name); err == nil {
			return -1, fmt.Errorf("%w: port name %q in use", ErrInvalidArgument, cfg.Name)
		}
	}

	id := PortID(len(r.ports))
	// Appending within capacity never moves existing ports.
	r.ports = r.ports[:len(r.ports)+1]
	r.ports[id].init(id, r, cfg)
	return id, nil
}

// Port resolves a handle.
func (r *PortRegistry) Port(id PortID) (*Port, error) {
	if id < 0 || int(id) >= len(r.ports) {
		return nil, fmt.Errorf("%w: %d", ErrPortNotFound, id)
	}
	return &r.ports[id], nil
}

// ByName resolves a port by its configured name.
func (r *PortRegistry) ByName(name string) (*Port, error) {
	for i := range r.ports {
		if r.ports[i].name == name {
			return &r.ports[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrPortNotFound, name)
}

func (r *PortRegistry) Len() int { return len(r.ports) }
func (r *PortRegistry) Cap() int { return cap(r.ports) }

func (r *PortRegistry) lookup(inPort uint16) *Port {
	for i := range r.ports {
		if r.ports[i].inPort == inPort {
			return &r.ports[i]
		}
	}
	return nil
}

// match finds the port an inbound UDP datagram belongs to.
func (r *PortRegistry) match(dstPort uint16, src netip.Addr) *Port {
	for i := range r.ports {
		if r.ports[i].accepts(dstPort, src) {
			return &r.ports[i]
		}
	}
	return nil
}

// All returns the registered ports in ID order.
func (r *PortRegistry) All() []*Port {
	out := make([]*Port, 0, len(r.ports))
	for i := range r.ports {
		out = append(out, &r.ports[i])
	}
	return out
}

func (r *PortRegistry) each(fn func(p *Port)) {
	for i := range r.ports {
		fn(&r.ports[i])
	}
}
