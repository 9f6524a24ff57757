package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/signalsfoundry/netctrl/core"
	"github.com/signalsfoundry/netctrl/internal/logging"
	"github.com/signalsfoundry/netctrl/link/channel"
	"github.com/signalsfoundry/netctrl/link/simpeer"
	"github.com/signalsfoundry/netctrl/link/sniffer"
	"github.com/signalsfoundry/netctrl/timectrl"
)

// Options controls one simulator run.
type Options struct {
	Ticks    int
	Tick     time.Duration
	PingEach int // ticks between pings; zero disables pinging
	Pcap     io.Writer
	Log      logging.Logger
}

// Summary is what a run observed.
type Summary struct {
	Ticks          int
	PingReplies    int
	WireDatagrams  int
	PeerDatagrams  int
	LastRTT        time.Duration
	ControllerStat map[string]core.Stats
}

var (
	alphaIP = netip.MustParseAddr("192.168.2.101")
	betaIP  = netip.MustParseAddr("192.168.2.102")
	gammaIP = netip.MustParseAddr("10.0.0.2")
	peerIP  = netip.MustParseAddr("10.0.0.1")

	lanMask = net.IPv4Mask(255, 255, 255, 0)
)

func main() {
	ticks := flag.Int("ticks", 200, "number of control ticks to run")
	tick := flag.Duration("tick", 10*time.Millisecond, "loop time per tick")
	pingEach := flag.Int("ping-every", 50, "ticks between pings (0 disables)")
	pcapPath := flag.String("pcap", "", "write the alpha<->beta wire to this pcap file")
	flag.Parse()

	opts := Options{
		Ticks:    *ticks,
		Tick:     *tick,
		PingEach: *pingEach,
		Log:      logging.NewFromEnv(),
	}
	if *pcapPath != "" {
		f, err := os.Create(*pcapPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "create capture: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		opts.Pcap = f
	}

	sum, err := simulate(os.Stdout, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "simulation failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Simulation complete: %d ticks, %d ping replies, %d wire datagrams, %d peer datagrams\n",
		sum.Ticks, sum.PingReplies, sum.WireDatagrams, sum.PeerDatagrams)
}

// simulate joins controllers alpha and beta with an in-memory wire and
// attaches gamma to a simulated host. Alpha pings beta and streams
// telemetry to it; gamma pings the host and gets its datagrams echoed.
func simulate(out io.Writer, opts Options) (Summary, error) {
	if opts.Log == nil {
		opts.Log = logging.Noop()
	}
	if opts.Tick <= 0 {
		opts.Tick = 10 * time.Millisecond
	}
	clock := timectrl.NewTimeController(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), opts.Tick, timectrl.Accelerated)

	wireA, wireB := channel.NewPair(32)
	var alphaLink core.CommunicationInterface = wireA
	if opts.Pcap != nil {
		s, err := sniffer.New(wireA, opts.Pcap, sniffer.WithClock(clock), sniffer.WithLogger(opts.Log))
		if err != nil {
			return Summary{}, err
		}
		alphaLink = s
	}
	hostNear, hostFar := channel.NewPair(32)

	network := core.NewNetwork(core.NetworkConfig{MaxControllers: 3})
	common := []core.Option{core.WithClock(clock), core.WithLogger(opts.Log)}

	alpha, err := network.AddController(core.ControllerConfig{
		Name: "alpha", IP: alphaIP, SubnetMask: lanMask,
		MAC: net.HardwareAddr{0x02, 0, 0, 0, 0x02, 0x65},
	}, alphaLink, common...)
	if err != nil {
		return Summary{}, err
	}
	beta, err := network.AddController(core.ControllerConfig{
		Name: "beta", IP: betaIP, SubnetMask: lanMask,
		MAC: net.HardwareAddr{0x02, 0, 0, 0, 0x02, 0x66},
	}, wireB, common...)
	if err != nil {
		return Summary{}, err
	}
	gamma, err := network.AddController(core.ControllerConfig{
		Name: "gamma", IP: gammaIP, SubnetMask: lanMask,
		MAC: net.HardwareAddr{0x02, 0, 0, 0, 0x0a, 0x02},
	}, hostNear, common...)
	if err != nil {
		return Summary{}, err
	}

	peer, err := simpeer.New(simpeer.Config{
		IP: peerIP, MAC: net.HardwareAddr{0x02, 0, 0, 0, 0x0a, 0x01}, EchoUDP: true,
	}, hostFar, opts.Log)
	if err != nil {
		return Summary{}, err
	}

	telemetryID, err := alpha.AddPort(core.PortConfig{
		Name: "telemetry", Mode: core.PortModeDatagram, InPort: 10101, OutPort: 10201, DstIP: betaIP,
	})
	if err != nil {
		return Summary{}, err
	}
	sinkID, err := beta.AddPort(core.PortConfig{
		Name: "sink", Mode: core.PortModeDatagram, InPort: 10201, OutPort: 10101, DstIP: alphaIP,
	})
	if err != nil {
		return Summary{}, err
	}
	echoID, err := gamma.AddPort(core.PortConfig{
		Name: "echo", Mode: core.PortModeDatagram, InPort: 7000, OutPort: 7, DstIP: peerIP,
	})
	if err != nil {
		return Summary{}, err
	}
	telemetry, _ := alpha.Port(telemetryID)
	sink, _ := beta.Port(sinkID)
	echo, _ := gamma.Port(echoID)

	var sum Summary
	engine := core.NewSimulationEngine(network, func() {
		clock.Step()
		peer.Process()
	})

	pings := []struct {
		from *core.Controller
		to   netip.Addr
	}{
		{alpha, betaIP},
		{gamma, peerIP},
	}

	engine.RegisterTickListener(func(tick int) {
		now := clock.Now().Format("15:04:05.000")

		for _, p := range pings {
			if rtt, ok := p.from.CheckPingReply(p.to); ok {
				sum.PingReplies++
				sum.LastRTT = rtt
				fmt.Fprintf(out, "[%s] tick %4d %-5s ping %v rtt=%v\n", now, tick, p.from.Name(), p.to, rtt)
			}
		}
		for !sink.IsRxEmpty() {
			b, from, err := sink.ReadFrom(core.MaxDatagramSize)
			if err != nil {
				break
			}
			sum.WireDatagrams++
			fmt.Fprintf(out, "[%s] tick %4d beta  <- %v %q\n", now, tick, from, b)
		}
		for !echo.IsRxEmpty() {
			b, err := echo.Read(core.MaxDatagramSize)
			if err != nil {
				break
			}
			sum.PeerDatagrams++
			fmt.Fprintf(out, "[%s] tick %4d gamma <- echo %q\n", now, tick, b)
		}

		if opts.PingEach > 0 && tick%opts.PingEach == 0 {
			for _, p := range pings {
				if err := p.from.SendPing(p.to); err != nil {
					fmt.Fprintf(out, "[%s] tick %4d %-5s ping %v: %v\n", now, tick, p.from.Name(), p.to, err)
				}
			}
		}
		if tick%10 == 0 {
			msg := fmt.Sprintf("sample %d", tick/10)
			if err := telemetry.Send([]byte(msg)); err != nil {
				fmt.Fprintf(out, "[%s] tick %4d alpha telemetry: %v\n", now, tick, err)
			}
			_ = echo.Send([]byte(msg))
		}
	})

	fmt.Fprintf(out, "Starting simulation: ticks=%d, tick=%s\n", opts.Ticks, opts.Tick)
	engine.Run(opts.Ticks)

	sum.Ticks = opts.Ticks
	sum.ControllerStat = make(map[string]core.Stats)
	for _, c := range network.Controllers() {
		st := c.Stats()
		sum.ControllerStat[c.Name()] = st
		fmt.Fprintf(out, "%-5s rx=%d tx=%d dropped=%d arp_req=%d arp_rep=%d\n",
			c.Name(), st.RxFrames, st.TxFrames, st.RxDropped+st.TxDropped, st.ArpRequests, st.ArpReplies)
	}
	return sum, nil
}
