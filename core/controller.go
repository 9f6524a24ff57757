package core

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/signalsfoundry/netctrl/header"
	"github.com/signalsfoundry/netctrl/internal/logging"
	"github.com/signalsfoundry/netctrl/timectrl"
)

const (
	defaultMaxPorts           = 8
	defaultControlQueueSize   = 8
	defaultMaxRxFramesPerTick = 16
	defaultMaxPings           = 4
	defaultPingIdentifier     = 1
)

// ControllerConfig is the initialization descriptor of one network
// attachment.
type ControllerConfig struct {
	Name       string
	IP         netip.Addr
	SubnetMask net.IPMask
	MAC        net.HardwareAddr

	Arp ArpConfig

	// MaxPorts bounds the port table. Defaults to 8.
	MaxPorts int
	// ControlQueueSize bounds queued ARP and echo replies. Defaults to 8.
	ControlQueueSize int
	// MaxRxFramesPerTick bounds the frames RxProcess drains per call so one
	// tick cannot be starved by a flooding link. Defaults to 16.
	MaxRxFramesPerTick int
	// MaxPings bounds the addresses with an echo request in flight. Defaults to 4.
	MaxPings int
	// ChecksumOffload leaves IPv4 and UDP checksums zero on TX for MACs
	// that insert them in hardware.
	ChecksumOffload bool
	// PingIdentifier is the ICMP echo identifier. Defaults to 1.
	PingIdentifier uint16
}

// Option customises a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetricsRecorder wires controller events into a metrics backend.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithGenericInterface sets the clock and error hook.
func WithGenericInterface(g GenericInterface) Option {
	return func(c *Controller) { c.gen = g }
}

// WithClock sets only the time source.
func WithClock(clock timectrl.SimClock) Option {
	return func(c *Controller) { c.gen.Clock = clock }
}

// Controller is the control descriptor of one network attachment: its
// addresses, the bound driver, the ARP cache and the port table. It is not
// safe for concurrent use; every method must be called from the goroutine
// that runs MainProcess.
type Controller struct {
	name   string
	ip     netip.Addr
	mask   net.IPMask
	mac    net.HardwareAddr
	driver CommunicationInterface
	gen    GenericInterface

	arp     *ArpCache
	ports   *PortRegistry
	control *Queue[controlFrame]
	pings   []pingSlot

	maxRx           int
	checksumOffload bool
	pingID          uint16
	pingSeq         uint16

	rxBuf []byte
	txBuf []byte

	stats   Stats
	log     logging.Logger
	metrics MetricsRecorder
}

// NewController validates cfg, programs the driver MAC address and returns a
// ready controller. The driver must outlive the controller.
func NewController(cfg ControllerConfig, driver CommunicationInterface, opts ...Option) (*Controller, error) {
	if driver == nil {
		return nil, fmt.Errorf("%w: nil communication interface", ErrInvalidArgument)
	}
	if err := validateIP(cfg.IP); err != nil {
		return nil, err
	}
	if err := validateMask(cfg.SubnetMask); err != nil {
		return nil, err
	}
	if err := validateMAC(cfg.MAC); err != nil {
		return nil, err
	}

	c := &Controller{
		name:            cfg.Name,
		ip:              cfg.IP,
		mask:            append(net.IPMask(nil), cfg.SubnetMask...),
		mac:             append(net.HardwareAddr(nil), cfg.MAC...),
		driver:          driver,
		gen:             GenericInterface{Clock: timectrl.SystemClock{}},
		control:         NewQueue[controlFrame](orDefault(cfg.ControlQueueSize, defaultControlQueueSize)),
		pings:           make([]pingSlot, orDefault(cfg.MaxPings, defaultMaxPings)),
		maxRx:           orDefault(cfg.MaxRxFramesPerTick, defaultMaxRxFramesPerTick),
		checksumOffload: cfg.ChecksumOffload,
		pingID:          cfg.PingIdentifier,
		rxBuf:           make([]byte, header.EthernetMaxFrameSize),
		txBuf:           make([]byte, header.EthernetMaxFrameSize),
		log:             logging.Noop(),
		metrics:         noopMetrics{},
	}
	if c.pingID == 0 {
		c.pingID = defaultPingIdentifier
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.gen.Clock == nil {
		c.gen.Clock = timectrl.SystemClock{}
	}
	c.log = c.log.With(logging.String("controller", c.name))
	c.arp = NewArpCache(cfg.Arp, c.gen.Clock)
	c.ports = NewPortRegistry(orDefault(cfg.MaxPorts, defaultMaxPorts), c.checkDst)

	if err := driver.SetMACAddress(c.mac); err != nil {
		return nil, fmt.Errorf("program MAC %v: %w", c.mac, err)
	}
	c.log.Info(context.Background(), "network controller ready",
		logging.IP("ip", c.ip),
		logging.String("mask", net.IP(c.mask).String()),
		logging.MAC("mac", c.mac),
	)
	return c, nil
}

// Name returns the controller name.
func (c *Controller) Name() string { return c.name }

// IPAddress returns the controller address.
func (c *Controller) IPAddress() netip.Addr { return c.ip }

// SetIPAddress changes the controller address. Ports whose destination falls
// outside the new subnet have their traffic dropped at TX.
func (c *Controller) SetIPAddress(ip netip.Addr) error {
	if err := validateIP(ip); err != nil {
		return err
	}
	c.ip = ip
	c.log.Info(context.Background(), "IP address changed", logging.IP("ip", ip))
	return nil
}

// SubnetMask returns a copy of the subnet mask.
func (c *Controller) SubnetMask() net.IPMask { return append(net.IPMask(nil), c.mask...) }

// SetSubnetMask changes the subnet mask. It must be a 4 byte contiguous mask.
func (c *Controller) SetSubnetMask(mask net.IPMask) error {
	if err := validateMask(mask); err != nil {
		return err
	}
	c.mask = append(c.mask[:0], mask...)
	c.log.Info(context.Background(), "subnet mask changed", logging.String("mask", net.IP(mask).String()))
	return nil
}

// MACAddress returns a copy of the controller MAC address.
func (c *Controller) MACAddress() net.HardwareAddr { return append(net.HardwareAddr(nil), c.mac...) }

// SetMACAddress programs the driver and adopts mac. On driver failure the
// previous address stays in place.
func (c *Controller) SetMACAddress(mac net.HardwareAddr) error {
	if err := validateMAC(mac); err != nil {
		return err
	}
	if err := c.driver.SetMACAddress(mac); err != nil {
		return fmt.Errorf("program MAC %v: %w", mac, err)
	}
	c.mac = append(c.mac[:0], mac...)
	c.log.Info(context.Background(), "MAC address changed", logging.MAC("mac", mac))
	return nil
}

// AddressChange lists the addresses Reconfigure replaces. Zero fields keep
// their current value.
type AddressChange struct {
	IP         netip.Addr
	SubnetMask net.IPMask
	MAC        net.HardwareAddr
}

// Reconfigure applies every field of ch or none of them. The driver is
// reprogrammed before any address changes, so a refused MAC leaves the
// controller as it was.
func (c *Controller) Reconfigure(ch AddressChange) error {
	if ch.IP.IsValid() {
		if err := validateIP(ch.IP); err != nil {
			return err
		}
	}
	if ch.SubnetMask != nil {
		if err := validateMask(ch.SubnetMask); err != nil {
			return err
		}
	}
	if ch.MAC != nil {
		if err := c.SetMACAddress(ch.MAC); err != nil {
			return err
		}
	}
	if ch.SubnetMask != nil {
		c.mask = append(c.mask[:0], ch.SubnetMask...)
	}
	if ch.IP.IsValid() {
		c.ip = ch.IP
	}
	c.log.Info(context.Background(), "addresses reconfigured",
		logging.IP("ip", c.ip),
		logging.String("mask", net.IP(c.mask).String()),
		logging.MAC("mac", c.mac),
	)
	return nil
}

// Arp exposes the ARP cache.
func (c *Controller) Arp() *ArpCache { return c.arp }

// AddArpEntry inserts or refreshes a decaying mapping for a host of the
// local subnet.
func (c *Controller) AddArpEntry(ip netip.Addr, mac net.HardwareAddr) error {
	if err := c.checkArpHost(ip); err != nil {
		return err
	}
	return c.arp.AddEntry(ip, mac)
}

// AddStaticArpEntry inserts a mapping that never decays for a host of the
// local subnet.
func (c *Controller) AddStaticArpEntry(ip netip.Addr, mac net.HardwareAddr) error {
	if err := c.checkArpHost(ip); err != nil {
		return err
	}
	return c.arp.AddStaticEntry(ip, mac)
}

// ForceArpRequest marks ip pending; the request goes out on the next TX cycle.
func (c *Controller) ForceArpRequest(ip netip.Addr) error {
	if err := c.checkArpHost(ip); err != nil {
		return err
	}
	return c.arp.ForceRequest(ip)
}

func (c *Controller) checkArpHost(ip netip.Addr) error {
	if !c.inSubnet(ip) || c.isBroadcast(ip) {
		return fmt.Errorf("%w: %v is not a host of the local subnet", ErrInvalidArgument, ip)
	}
	return nil
}

// IsArpValid reports whether ip currently resolves.
func (c *Controller) IsArpValid(ip netip.Addr) bool { return c.arp.IsValid(ip) }

// ResolveMAC returns the cached MAC for ip or ErrNotResolved.
func (c *Controller) ResolveMAC(ip netip.Addr) (net.HardwareAddr, error) { return c.arp.MAC(ip) }

// AddPort registers a port and returns its handle.
func (c *Controller) AddPort(cfg PortConfig) (PortID, error) {
	id, err := c.ports.Add(cfg)
	if err != nil {
		return id, err
	}
	c.log.Debug(context.Background(), "port added",
		logging.Int("port_id", int(id)),
		logging.Uint16("in_port", cfg.InPort),
		logging.Uint16("out_port", cfg.OutPort),
		logging.IP("dst_ip", cfg.DstIP),
		logging.String("mode", cfg.Mode.String()),
	)
	return id, nil
}

// Port resolves a port handle.
func (c *Controller) Port(id PortID) (*Port, error) { return c.ports.Port(id) }

// PortByName resolves a port by name.
func (c *Controller) PortByName(name string) (*Port, error) { return c.ports.ByName(name) }

// Ports exposes the port table.
func (c *Controller) Ports() *PortRegistry { return c.ports }

// Stats returns a snapshot of the controller counters.
func (c *Controller) Stats() Stats { return c.stats }

// MainProcess runs one control tick: RX, ARP decay, then TX. Learning from
// inbound traffic therefore happens before resolution in the same tick.
func (c *Controller) MainProcess() {
	c.RxProcess()
	c.DecayProcess()
	c.TxProcess()
	c.stats.Ticks++
	valid, pending := c.arp.Counts()
	c.metrics.SetArpEntries(c.name, valid, pending)
}

// DecayProcess runs ARP cache decay.
func (c *Controller) DecayProcess() { c.arp.DecayProcess() }

func (c *Controller) now() time.Time { return c.gen.now() }

// inSubnet reports whether ip shares the controller network prefix.
func (c *Controller) inSubnet(ip netip.Addr) bool {
	if !ip.Is4() {
		return false
	}
	a, own := ip.As4(), c.ip.As4()
	for i := range a {
		if a[i]&c.mask[i] != own[i]&c.mask[i] {
			return false
		}
	}
	return true
}

// isBroadcast reports whether ip is the limited broadcast or the directed
// broadcast of the controller subnet.
func (c *Controller) isBroadcast(ip netip.Addr) bool {
	if !ip.Is4() {
		return false
	}
	a, own := ip.As4(), c.ip.As4()
	if a == [4]byte{255, 255, 255, 255} {
		return true
	}
	for i := range a {
		if a[i] != own[i]|^c.mask[i] {
			return false
		}
	}
	return true
}

// checkDst validates a port or ping destination: a host of the local subnet
// other than the controller itself, or a broadcast address.
func (c *Controller) checkDst(ip netip.Addr) error {
	if !ip.Is4() || ip.IsUnspecified() {
		return fmt.Errorf("%w: destination %v", ErrInvalidArgument, ip)
	}
	if c.isBroadcast(ip) {
		return nil
	}
	if !c.inSubnet(ip) {
		return fmt.Errorf("%w: destination %v outside subnet %v/%s", ErrInvalidArgument, ip, c.ip, net.IP(c.mask))
	}
	if ip == c.ip {
		return fmt.Errorf("%w: destination %v is the controller itself", ErrInvalidArgument, ip)
	}
	return nil
}

func validateIP(ip netip.Addr) error {
	if !ip.Is4() || ip.IsUnspecified() || ip.IsMulticast() || ip == netip.AddrFrom4([4]byte{255, 255, 255, 255}) {
		return fmt.Errorf("%w: IPv4 address %v", ErrInvalidArgument, ip)
	}
	return nil
}

func validateMask(mask net.IPMask) error {
	if len(mask) != net.IPv4len {
		return fmt.Errorf("%w: subnet mask must be %d bytes, got %d", ErrInvalidArgument, net.IPv4len, len(mask))
	}
	ones, bits := mask.Size()
	if bits == 0 || ones == 0 || ones == bits {
		return fmt.Errorf("%w: subnet mask %s", ErrInvalidArgument, net.IP(mask))
	}
	return nil
}

func validateMAC(mac net.HardwareAddr) error {
	if len(mac) != header.MACSize {
		return fmt.Errorf("%w: MAC address must be %d bytes, got %d", ErrInvalidArgument, header.MACSize, len(mac))
	}
	if header.IsBroadcastMAC(mac) || mac.String() == "00:00:00:00:00:00" {
		return fmt.Errorf("%w: MAC address %v", ErrInvalidArgument, mac)
	}
	return nil
}
