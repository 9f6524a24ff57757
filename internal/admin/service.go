package admin

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/netctrl/core"
	"github.com/signalsfoundry/netctrl/internal/logging"
	"github.com/signalsfoundry/netctrl/internal/runtime"
)

var _ ControlServiceServer = (*Service)(nil)

// Service implements ControlService on top of a runtime.Runner. Every
// handler runs between control ticks.
//
// Most requests carry a "controller" name; it may be omitted when the
// network has exactly one controller. Addresses are dotted IPv4 strings and
// MAC addresses are colon separated.
type Service struct {
	runner *runtime.Runner
	log    logging.Logger
}

// NewService builds the admin service.
func NewService(runner *runtime.Runner, log logging.Logger) *Service {
	if log == nil {
		log = logging.Noop()
	}
	return &Service{runner: runner, log: log}
}

// GetStatus returns loop progress and a summary of every controller.
func (s *Service) GetStatus(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	ticks := s.runner.Ticks()
	loopTime := s.runner.Clock.Now()

	var controllers []interface{}
	err := s.runner.Do(ctx, func(n *core.Network) error {
		for _, c := range n.Controllers() {
			controllers = append(controllers, controllerStatus(c))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]interface{}{
		"ticks":       ticks,
		"loop_time":   loopTime.UTC().Format(time.RFC3339Nano),
		"controllers": controllers,
	})
}

// ListArp returns the ARP table of one controller.
func (s *Service) ListArp(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var entries []interface{}
	var name string
	err := s.runner.Do(ctx, func(n *core.Network) error {
		c, err := controllerFor(n, req)
		if err != nil {
			return err
		}
		name = c.Name()
		for _, e := range c.Arp().Entries() {
			entries = append(entries, arpEntry(e))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]interface{}{
		"controller": name,
		"entries":    entries,
	})
}

// AddArpEntry inserts a mapping. Set "static" to pin it.
func (s *Service) AddArpEntry(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ip, err := requireIPv4(req, "ip")
	if err != nil {
		return nil, err
	}
	rawMAC := stringField(req, "mac")
	if rawMAC == "" {
		return nil, fmt.Errorf("%w: mac is required", ErrInvalidRequest)
	}
	mac, err := parseMAC("mac", rawMAC)
	if err != nil {
		return nil, err
	}
	static := boolField(req, "static")

	err = s.runner.Do(ctx, func(n *core.Network) error {
		c, err := controllerFor(n, req)
		if err != nil {
			return err
		}
		_, span := startChildSpan(ctx, "admin.add_arp_entry", c.Name(), attribute.String("ip", ip.String()))
		defer span.End()
		if static {
			return c.AddStaticArpEntry(ip, mac)
		}
		return c.AddArpEntry(ip, mac)
	})
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx, s.log).Info(ctx, "ARP entry added",
		logging.IP("ip", ip),
		logging.MAC("mac", mac),
		logging.Bool("static", static),
	)
	return structpb.NewStruct(map[string]interface{}{
		"ip":     ip.String(),
		"mac":    mac.String(),
		"static": static,
	})
}

// ForceArpRequest queues a who-has for "ip" on the next TX cycle.
func (s *Service) ForceArpRequest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ip, err := requireIPv4(req, "ip")
	if err != nil {
		return nil, err
	}
	err = s.runner.Do(ctx, func(n *core.Network) error {
		c, err := controllerFor(n, req)
		if err != nil {
			return err
		}
		return c.ForceArpRequest(ip)
	})
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]interface{}{"ip": ip.String(), "queued": true})
}

// SendPing queues an echo request for "ip".
func (s *Service) SendPing(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ip, err := requireIPv4(req, "ip")
	if err != nil {
		return nil, err
	}
	err = s.runner.Do(ctx, func(n *core.Network) error {
		c, err := controllerFor(n, req)
		if err != nil {
			return err
		}
		_, span := startChildSpan(ctx, "admin.send_ping", c.Name(), attribute.String("ip", ip.String()))
		defer span.End()
		return c.SendPing(ip)
	})
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]interface{}{"ip": ip.String(), "queued": true})
}

// CheckPingReply reports and clears a pending echo reply from "ip".
func (s *Service) CheckPingReply(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ip, err := requireIPv4(req, "ip")
	if err != nil {
		return nil, err
	}
	var (
		rtt     time.Duration
		replied bool
	)
	err = s.runner.Do(ctx, func(n *core.Network) error {
		c, err := controllerFor(n, req)
		if err != nil {
			return err
		}
		rtt, replied = c.CheckPingReply(ip)
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{
		"ip":      ip.String(),
		"replied": replied,
	}
	if replied {
		out["rtt_ms"] = float64(rtt) / float64(time.Millisecond)
	}
	return structpb.NewStruct(out)
}

// SetAddress changes any of "ip", "subnet_mask" and "mac" and returns the
// resulting controller status. The change is applied whole or not at all.
func (s *Service) SetAddress(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var (
		ip   = stringField(req, "ip")
		mask = stringField(req, "subnet_mask")
		mac  = stringField(req, "mac")
	)
	if ip == "" && mask == "" && mac == "" {
		return nil, fmt.Errorf("%w: one of ip, subnet_mask or mac is required", ErrInvalidRequest)
	}

	var change core.AddressChange
	if ip != "" {
		addr, err := parseIPv4("ip", ip)
		if err != nil {
			return nil, err
		}
		change.IP = addr
	}
	if mask != "" {
		m, err := parseMask("subnet_mask", mask)
		if err != nil {
			return nil, err
		}
		change.SubnetMask = m
	}
	if mac != "" {
		hw, err := parseMAC("mac", mac)
		if err != nil {
			return nil, err
		}
		change.MAC = hw
	}

	var status map[string]interface{}
	err := s.runner.Do(ctx, func(n *core.Network) error {
		c, err := controllerFor(n, req)
		if err != nil {
			return err
		}
		if err := c.Reconfigure(change); err != nil {
			return err
		}
		status = controllerStatus(c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(status)
}

// PortStats returns the ports of a controller, or only "port" when named.
func (s *Service) PortStats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	portName := stringField(req, "port")
	var ports []interface{}
	err := s.runner.Do(ctx, func(n *core.Network) error {
		c, err := controllerFor(n, req)
		if err != nil {
			return err
		}
		if portName != "" {
			p, err := c.PortByName(portName)
			if err != nil {
				return err
			}
			ports = append(ports, portStatus(p))
			return nil
		}
		for _, p := range c.Ports().All() {
			ports = append(ports, portStatus(p))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]interface{}{"ports": ports})
}

func controllerFor(n *core.Network, req *structpb.Struct) (*core.Controller, error) {
	name := stringField(req, "controller")
	if name != "" {
		return n.Controller(name)
	}
	controllers := n.Controllers()
	if len(controllers) != 1 {
		return nil, fmt.Errorf("%w: controller is required when %d controllers are configured", ErrInvalidRequest, len(controllers))
	}
	return controllers[0], nil
}

func controllerStatus(c *core.Controller) map[string]interface{} {
	valid, pending := c.Arp().Counts()
	st := c.Stats()
	return map[string]interface{}{
		"name":        c.Name(),
		"ip":          c.IPAddress().String(),
		"subnet_mask": net.IP(c.SubnetMask()).String(),
		"mac":         c.MACAddress().String(),
		"ports":       c.Ports().Len(),
		"arp": map[string]interface{}{
			"valid":   valid,
			"pending": pending,
		},
		"stats": map[string]interface{}{
			"ticks":         st.Ticks,
			"rx_frames":     st.RxFrames,
			"rx_dropped":    st.RxDropped,
			"rx_unmatched":  st.RxUnmatched,
			"rx_delivered":  st.RxDelivered,
			"echo_requests": st.EchoRequests,
			"tx_frames":     st.TxFrames,
			"tx_busy":       st.TxBusy,
			"tx_failed":     st.TxFailed,
			"tx_dropped":    st.TxDropped,
			"arp_requests":  st.ArpRequests,
			"arp_replies":   st.ArpReplies,
			"ping_replies":  st.PingReplies,
		},
	}
}

func arpEntry(e core.ArpEntry) map[string]interface{} {
	state := "stale"
	switch {
	case e.Valid:
		state = "valid"
	case e.Pending:
		state = "pending"
	}
	out := map[string]interface{}{
		"ip":       e.IP.String(),
		"state":    state,
		"static":   e.Static,
		"attempts": e.Attempts,
	}
	if len(e.MAC) > 0 && e.Valid {
		out["mac"] = e.MAC.String()
	}
	if !e.RefreshedAt.IsZero() {
		out["refreshed_at"] = e.RefreshedAt.UTC().Format(time.RFC3339Nano)
	}
	return out
}

func portStatus(p *core.Port) map[string]interface{} {
	st := p.Stats()
	return map[string]interface{}{
		"id":           int(p.ID()),
		"name":         p.Name(),
		"mode":         p.Mode().String(),
		"in_port":      int(p.InPort()),
		"out_port":     int(p.OutPort()),
		"dst_ip":       p.DstIP().String(),
		"rx_available": p.RxAvailable(),
		"tx_free":      p.TxFreeSpace(),
		"rx_bytes":     st.RxBytes,
		"rx_datagrams": st.RxDatagrams,
		"rx_overflows": st.RxOverflows,
		"tx_bytes":     st.TxBytes,
		"tx_datagrams": st.TxDatagrams,
		"tx_dropped":   st.TxDropped,
	}
}
