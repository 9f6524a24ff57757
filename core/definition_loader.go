package core

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/signalsfoundry/netctrl/model"
)

// LoadNetworkDefinition decodes a JSON network definition from r. Unknown
// fields are rejected so typos do not silently fall back to defaults.
func LoadNetworkDefinition(r io.Reader) (*model.NetworkDefinition, error) {
	var def model.NetworkDefinition
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("LoadNetworkDefinition: decode failed: %w", err)
	}
	if len(def.Controllers) == 0 {
		return nil, fmt.Errorf("LoadNetworkDefinition: %w: no controllers", ErrInvalidArgument)
	}
	return &def, nil
}

// DriverFactory returns the driver a controller definition is bound to.
type DriverFactory func(def model.ControllerDefinition) (CommunicationInterface, error)

// BuildNetwork instantiates every controller of def with its ports and
// static ARP entries. opts apply to every controller.
func BuildNetwork(def *model.NetworkDefinition, drivers DriverFactory, opts ...Option) (*Network, error) {
	if def == nil || drivers == nil {
		return nil, fmt.Errorf("BuildNetwork: %w: nil definition or driver factory", ErrInvalidArgument)
	}
	maxCtrl := def.MaxControllers
	if maxCtrl <= 0 {
		maxCtrl = len(def.Controllers)
	}
	network := NewNetwork(NetworkConfig{MaxControllers: maxCtrl})

	for _, cd := range def.Controllers {
		cfg, err := ControllerConfigFromDefinition(cd)
		if err != nil {
			return nil, fmt.Errorf("controller %q: %w", cd.Name, err)
		}
		driver, err := drivers(cd)
		if err != nil {
			return nil, fmt.Errorf("controller %q: driver: %w", cd.Name, err)
		}
		ctrl, err := network.AddController(cfg, driver, opts...)
		if err != nil {
			return nil, fmt.Errorf("controller %q: %w", cd.Name, err)
		}
		for _, pd := range cd.Ports {
			pc, err := PortConfigFromDefinition(pd)
			if err != nil {
				return nil, fmt.Errorf("controller %q port %q: %w", cd.Name, pd.Name, err)
			}
			if _, err := ctrl.AddPort(pc); err != nil {
				return nil, fmt.Errorf("controller %q port %q: %w", cd.Name, pd.Name, err)
			}
		}
		for _, sa := range cd.StaticArps {
			ip, err := parseIPv4(sa.IP)
			if err != nil {
				return nil, fmt.Errorf("controller %q static ARP: %w", cd.Name, err)
			}
			mac, err := parseMAC(sa.MAC)
			if err != nil {
				return nil, fmt.Errorf("controller %q static ARP: %w", cd.Name, err)
			}
			if err := ctrl.AddStaticArpEntry(ip, mac); err != nil {
				return nil, fmt.Errorf("controller %q static ARP: %w", cd.Name, err)
			}
		}
	}
	return network, nil
}

// ControllerConfigFromDefinition parses the textual fields of d.
func ControllerConfigFromDefinition(d model.ControllerDefinition) (ControllerConfig, error) {
	ip, err := parseIPv4(d.IP)
	if err != nil {
		return ControllerConfig{}, err
	}
	maskIP, err := parseIPv4(d.SubnetMask)
	if err != nil {
		return ControllerConfig{}, fmt.Errorf("subnet mask: %w", err)
	}
	mac, err := parseMAC(d.MAC)
	if err != nil {
		return ControllerConfig{}, err
	}
	arp := ArpConfig{Entries: d.Arp.Entries, MaxRequestAttempts: d.Arp.MaxRequestAttempts}
	for _, f := range []struct {
		raw string
		dst *time.Duration
	}{
		{d.Arp.DecayTime, &arp.DecayTime},
		{d.Arp.DecayInterval, &arp.DecayInterval},
		{d.Arp.RequestCooldown, &arp.RequestCooldown},
	} {
		if f.raw == "" {
			continue
		}
		v, err := time.ParseDuration(f.raw)
		if err != nil {
			return ControllerConfig{}, fmt.Errorf("%w: ARP duration %q", ErrInvalidArgument, f.raw)
		}
		*f.dst = v
	}
	m4 := maskIP.As4()
	return ControllerConfig{
		Name:               d.Name,
		IP:                 ip,
		SubnetMask:         net.IPv4Mask(m4[0], m4[1], m4[2], m4[3]),
		MAC:                mac,
		Arp:                arp,
		MaxPorts:           d.MaxPorts,
		ControlQueueSize:   d.ControlQueueSize,
		MaxRxFramesPerTick: d.MaxRxFramesPerTick,
		ChecksumOffload:    d.ChecksumOffload,
	}, nil
}

// PortConfigFromDefinition parses the textual fields of d.
func PortConfigFromDefinition(d model.PortDefinition) (PortConfig, error) {
	dst, err := parseIPv4(d.DstIP)
	if err != nil {
		return PortConfig{}, err
	}
	var mode PortMode
	switch strings.ToLower(d.Mode) {
	case "", "stream":
		mode = PortModeStream
	case "datagram":
		mode = PortModeDatagram
	default:
		return PortConfig{}, fmt.Errorf("%w: port mode %q", ErrInvalidArgument, d.Mode)
	}
	return PortConfig{
		Name:         d.Name,
		InPort:       d.InPort,
		OutPort:      d.OutPort,
		DstIP:        dst,
		Mode:         mode,
		RxBufferSize: d.RxBuffer,
		TxBufferSize: d.TxBuffer,
		RxMessages:   d.RxMessages,
		TxMessages:   d.TxMessages,
		StrictPeer:   d.StrictPeer,
	}, nil
}

func parseIPv4(s string) (netip.Addr, error) {
	ip, err := netip.ParseAddr(s)
	if err != nil || !ip.Is4() {
		return netip.Addr{}, fmt.Errorf("%w: IPv4 address %q", ErrInvalidArgument, s)
	}
	return ip, nil
}

func parseMAC(s string) (net.HardwareAddr, error) {
	mac, err := net.ParseMAC(s)
	if err != nil || len(mac) != 6 {
		return nil, fmt.Errorf("%w: MAC address %q", ErrInvalidArgument, s)
	}
	return mac, nil
}
