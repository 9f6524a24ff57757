package main

import (
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"strings"

	"github.com/signalsfoundry/netctrl/core"
	"github.com/signalsfoundry/netctrl/internal/logging"
	"github.com/signalsfoundry/netctrl/link/channel"
	"github.com/signalsfoundry/netctrl/link/simpeer"
	"github.com/signalsfoundry/netctrl/link/sniffer"
	"github.com/signalsfoundry/netctrl/link/udptunnel"
	"github.com/signalsfoundry/netctrl/model"
	"github.com/signalsfoundry/netctrl/timectrl"
)

const simQueueSize = 64

// links builds the drivers of a network definition and owns their
// resources until close.
type links struct {
	clock timectrl.SimClock
	log   logging.Logger

	peers   []*simpeer.Peer
	closers []io.Closer
}

func newLinks(clock timectrl.SimClock, log logging.Logger) *links {
	return &links{clock: clock, log: log}
}

// driver implements core.DriverFactory.
func (l *links) driver(def model.ControllerDefinition) (core.CommunicationInterface, error) {
	var (
		drv core.CommunicationInterface
		err error
	)
	switch strings.ToLower(def.Link.Type) {
	case "udp":
		drv, err = l.udp(def)
	case "sim", "":
		drv, err = l.sim(def)
	default:
		return nil, fmt.Errorf("%w: unknown link type %q", core.ErrInvalidArgument, def.Link.Type)
	}
	if err != nil {
		return nil, err
	}
	return l.sniff(def, drv)
}

func (l *links) udp(def model.ControllerDefinition) (core.CommunicationInterface, error) {
	ep, err := udptunnel.Open(udptunnel.Config{
		Listen: def.Link.Listen,
		Remote: def.Link.Remote,
	}, l.log.With(logging.String("controller", def.Name)))
	if err != nil {
		return nil, err
	}
	l.closers = append(l.closers, ep)
	return ep, nil
}

func (l *links) sim(def model.ControllerDefinition) (core.CommunicationInterface, error) {
	ip, err := netip.ParseAddr(def.Link.PeerIP)
	if err != nil {
		return nil, fmt.Errorf("%w: peer_ip %q", core.ErrInvalidArgument, def.Link.PeerIP)
	}
	mac, err := net.ParseMAC(def.Link.PeerMAC)
	if err != nil {
		return nil, fmt.Errorf("%w: peer_mac %q", core.ErrInvalidArgument, def.Link.PeerMAC)
	}
	near, far := channel.NewPair(simQueueSize)
	peer, err := simpeer.New(simpeer.Config{IP: ip, MAC: mac, EchoUDP: true}, far,
		l.log.With(logging.String("controller", def.Name)))
	if err != nil {
		return nil, err
	}
	l.peers = append(l.peers, peer)
	return near, nil
}

// sniff wraps drv when the definition asks for a capture file or debug
// logging is wanted.
func (l *links) sniff(def model.ControllerDefinition, drv core.CommunicationInterface) (core.CommunicationInterface, error) {
	var w io.Writer
	if def.Link.Pcap != "" {
		f, err := os.Create(def.Link.Pcap)
		if err != nil {
			return nil, fmt.Errorf("create capture %q: %w", def.Link.Pcap, err)
		}
		l.closers = append(l.closers, f)
		w = f
	}
	s, err := sniffer.New(drv, w,
		sniffer.WithLogger(l.log.With(logging.String("controller", def.Name))),
		sniffer.WithClock(l.clock),
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// processPeers lets every simulated peer answer what reached it.
func (l *links) processPeers() {
	for _, p := range l.peers {
		p.Process()
	}
}

func (l *links) close() {
	for i := len(l.closers) - 1; i >= 0; i-- {
		_ = l.closers[i].Close()
	}
	l.closers = nil
}
