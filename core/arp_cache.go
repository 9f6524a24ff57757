package core

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/signalsfoundry/netctrl/header"
	"github.com/signalsfoundry/netctrl/timectrl"
)

// ArpConfig sizes the cache and sets its timers.
type ArpConfig struct {
	// Entries is the number of slots. Defaults to 20.
	Entries int
	// DecayTime is how long a learned entry stays valid without a refresh.
	// Defaults to 60s.
	DecayTime time.Duration
	// DecayInterval is the minimum spacing of decay sweeps. Defaults to 1s.
	DecayInterval time.Duration
	// RequestCooldown spaces repeated requests for the same address.
	// Defaults to 2s.
	RequestCooldown time.Duration
	// MaxRequestAttempts, when positive, makes the TX path drop a port's head
	// message once that many requests went unanswered. Zero keeps the message
	// queued until the address resolves.
	MaxRequestAttempts int
}

// DefaultArpConfig returns the defaults used when a field is left zero.
func DefaultArpConfig() ArpConfig {
	return ArpConfig{
		Entries:         20,
		DecayTime:       60 * time.Second,
		DecayInterval:   time.Second,
		RequestCooldown: 2 * time.Second,
	}
}

func (c ArpConfig) withDefaults() ArpConfig {
	def := DefaultArpConfig()
	if c.Entries <= 0 {
		c.Entries = def.Entries
	}
	if c.DecayTime <= 0 {
		c.DecayTime = def.DecayTime
	}
	if c.DecayInterval <= 0 {
		c.DecayInterval = def.DecayInterval
	}
	if c.RequestCooldown <= 0 {
		c.RequestCooldown = def.RequestCooldown
	}
	return c
}

// ArpEntry is a snapshot of one cache slot.
type ArpEntry struct {
	IP          netip.Addr
	MAC         net.HardwareAddr
	Valid       bool
	Pending     bool
	Static      bool
	RefreshedAt time.Time
	RequestedAt time.Time
	Attempts    int
}

type arpSlot struct {
	used    bool
	ip      netip.Addr
	mac     [header.MACSize]byte
	valid   bool
	pending bool
	static  bool

	// touched is the last learn, refresh or request creation; the slot's
	// age is measured from it.
	touched     time.Time
	requestedAt time.Time
	nextRequest time.Time
	attempts    int
	// wanted is set when someone asked for the address since the last
	// request went out.
	wanted bool
}

// ArpCache maps IPv4 addresses to MAC addresses. It holds at most one slot
// per address and never grows past its configured size.
type ArpCache struct {
	cfg       ArpConfig
	clock     timectrl.SimClock
	slots     []arpSlot
	lastSweep time.Time
}

// NewArpCache builds a cache reading time from clock. A nil clock uses
// wall-clock time.
func NewArpCache(cfg ArpConfig, clock timectrl.SimClock) *ArpCache {
	cfg = cfg.withDefaults()
	if clock == nil {
		clock = timectrl.SystemClock{}
	}
	return &ArpCache{
		cfg:   cfg,
		clock: clock,
		slots: make([]arpSlot, cfg.Entries),
	}
}

// Config returns the effective configuration.
func (a *ArpCache) Config() ArpConfig { return a.cfg }

// AddEntry inserts or refreshes ip -> mac as a valid, decaying entry. The
// most recent MAC always wins.
func (a *ArpCache) AddEntry(ip netip.Addr, mac net.HardwareAddr) error {
	return a.add(ip, mac, false)
}

// AddStaticEntry inserts ip -> mac as an entry that never decays and is
// never evicted.
func (a *ArpCache) AddStaticEntry(ip netip.Addr, mac net.HardwareAddr) error {
	return a.add(ip, mac, true)
}

func (a *ArpCache) add(ip netip.Addr, mac net.HardwareAddr, static bool) error {
	if !ip.Is4() || ip.IsUnspecified() {
		return fmt.Errorf("%w: ARP address %v", ErrInvalidArgument, ip)
	}
	if len(mac) != header.MACSize || header.IsBroadcastMAC(mac) {
		return fmt.Errorf("%w: ARP hardware address %v", ErrInvalidArgument, mac)
	}

	s := a.find(ip)
	if s == nil {
		if s = a.allocate(); s == nil {
			return fmt.Errorf("%w: ARP table full (%d static entries)", ErrCapacityExceeded, len(a.slots))
		}
		*s = arpSlot{used: true, ip: ip}
	}
	// A learned mapping never overrides a valid static entry.
	if s.static && !static && s.valid {
		return nil
	}
	copy(s.mac[:], mac)
	s.valid = true
	s.pending = false
	s.wanted = false
	s.static = s.static || static
	s.touched = a.clock.Now()
	s.attempts = 0
	return nil
}

// IsValid reports whether ip has a usable mapping.
func (a *ArpCache) IsValid(ip netip.Addr) bool {
	s := a.find(ip)
	return s != nil && s.valid
}

// MAC returns the mapping for ip or ErrNotResolved.
func (a *ArpCache) MAC(ip netip.Addr) (net.HardwareAddr, error) {
	s := a.find(ip)
	if s == nil || !s.valid {
		return nil, fmt.Errorf("%w: %v", ErrNotResolved, ip)
	}
	return net.HardwareAddr(append([]byte(nil), s.mac[:]...)), nil
}

// ForceRequest marks ip pending and schedules one request broadcast on the
// next TX cycle. It does not wait for the reply. Further requests go out only
// while traffic for ip is waiting.
func (a *ArpCache) ForceRequest(ip netip.Addr) error {
	return a.request(ip, true)
}

// request makes ip pending and marks it wanted. Unless force is set an
// address already pending keeps its request schedule so the cooldown is
// honoured.
func (a *ArpCache) request(ip netip.Addr, force bool) error {
	if !ip.Is4() || ip.IsUnspecified() {
		return fmt.Errorf("%w: ARP address %v", ErrInvalidArgument, ip)
	}
	now := a.clock.Now()
	s := a.find(ip)
	if s == nil {
		if s = a.allocate(); s == nil {
			return fmt.Errorf("%w: ARP table full (%d static entries)", ErrCapacityExceeded, len(a.slots))
		}
		*s = arpSlot{used: true, ip: ip, touched: now}
	}
	if s.static && !force {
		return nil
	}
	s.wanted = true
	if s.pending && !force {
		return nil
	}
	s.valid = false
	s.pending = true
	s.nextRequest = now
	if force {
		s.attempts = 0
	}
	return nil
}

// DecayProcess invalidates decaying entries that have not been refreshed for
// DecayTime. Sweeps run at most once per DecayInterval.
func (a *ArpCache) DecayProcess() {
	now := a.clock.Now()
	if !a.lastSweep.IsZero() && now.Sub(a.lastSweep) < a.cfg.DecayInterval {
		return
	}
	a.lastSweep = now
	for i := range a.slots {
		s := &a.slots[i]
		if !s.used || !s.valid || s.static {
			continue
		}
		if now.Sub(s.touched) >= a.cfg.DecayTime {
			s.valid = false
		}
	}
}

// Len returns the number of valid entries.
func (a *ArpCache) Len() int {
	n := 0
	for i := range a.slots {
		if a.slots[i].used && a.slots[i].valid {
			n++
		}
	}
	return n
}

// Counts returns the number of valid and pending entries.
func (a *ArpCache) Counts() (valid, pending int) {
	for i := range a.slots {
		s := &a.slots[i]
		switch {
		case !s.used:
		case s.valid:
			valid++
		case s.pending:
			pending++
		}
	}
	return valid, pending
}

// Entries returns a snapshot of every occupied slot in table order.
func (a *ArpCache) Entries() []ArpEntry {
	out := make([]ArpEntry, 0, len(a.slots))
	for i := range a.slots {
		s := &a.slots[i]
		if !s.used {
			continue
		}
		out = append(out, ArpEntry{
			IP:          s.ip,
			MAC:         net.HardwareAddr(append([]byte(nil), s.mac[:]...)),
			Valid:       s.valid,
			Pending:     s.pending,
			Static:      s.static,
			RefreshedAt: s.touched,
			RequestedAt: s.requestedAt,
			Attempts:    s.attempts,
		})
	}
	return out
}

// dueRequests calls send for every pending address whose cooldown expired.
// An address nobody asked for since its last request stops being pending
// instead. send reports whether the request went out; only then is the next
// attempt pushed back by RequestCooldown.
func (a *ArpCache) dueRequests(send func(ip netip.Addr) bool) {
	now := a.clock.Now()
	for i := range a.slots {
		s := &a.slots[i]
		if !s.used || !s.pending || now.Before(s.nextRequest) {
			continue
		}
		if !s.wanted {
			s.pending = false
			s.attempts = 0
			continue
		}
		if !send(s.ip) {
			// Transport trouble; every later request would fail the same way.
			return
		}
		s.attempts++
		s.wanted = false
		s.requestedAt = now
		s.nextRequest = now.Add(a.cfg.RequestCooldown)
	}
}

// exhausted reports whether ip used up MaxRequestAttempts and the cooldown
// after the last attempt expired. The address stops being pending; the next
// miss starts a new request group.
func (a *ArpCache) exhausted(ip netip.Addr) bool {
	if a.cfg.MaxRequestAttempts <= 0 {
		return false
	}
	s := a.find(ip)
	if s == nil || !s.pending || s.attempts < a.cfg.MaxRequestAttempts {
		return false
	}
	if a.clock.Now().Before(s.nextRequest) {
		return false
	}
	s.attempts = 0
	s.pending = false
	s.wanted = false
	return true
}

// lookup returns the cached MAC for ip without copying. The result aliases
// the slot and must not be retained.
func (a *ArpCache) lookup(ip netip.Addr) (net.HardwareAddr, bool) {
	s := a.find(ip)
	if s == nil || !s.valid {
		return nil, false
	}
	return net.HardwareAddr(s.mac[:]), true
}

func (a *ArpCache) find(ip netip.Addr) *arpSlot {
	for i := range a.slots {
		if a.slots[i].used && a.slots[i].ip == ip {
			return &a.slots[i]
		}
	}
	return nil
}

// allocate returns a free slot or, when the table is full, the oldest
// non-static one. Slots that are neither valid nor pending go first.
func (a *ArpCache) allocate() *arpSlot {
	var victim *arpSlot
	for i := range a.slots {
		s := &a.slots[i]
		if !s.used {
			return s
		}
		if s.static {
			continue
		}
		if victim == nil || older(s, victim) {
			victim = s
		}
	}
	return victim
}

func older(s, than *arpSlot) bool {
	sDead := !s.valid && !s.pending
	tDead := !than.valid && !than.pending
	if sDead != tDead {
		return sDead
	}
	return s.touched.Before(than.touched)
}
