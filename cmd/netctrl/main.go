package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/signalsfoundry/netctrl/core"
	"github.com/signalsfoundry/netctrl/internal/admin"
	"github.com/signalsfoundry/netctrl/internal/logging"
	"github.com/signalsfoundry/netctrl/internal/observability"
	"github.com/signalsfoundry/netctrl/internal/runtime"
	"github.com/signalsfoundry/netctrl/link/sniffer"
	"github.com/signalsfoundry/netctrl/timectrl"
)

// Config holds the command line settings of the daemon.
type Config struct {
	DefinitionPath string
	ListenAddress  string
	MetricsAddress string
	LogLevel       string
	LogFormat      string
	TickInterval   time.Duration
	Accelerated    bool
	HealthInterval time.Duration
}

func parseFlags(args []string) (Config, error) {
	fs := flag.NewFlagSet("netctrl", flag.ContinueOnError)
	var cfg Config
	fs.StringVar(&cfg.DefinitionPath, "network", "configs/network.json", "path to the JSON network definition")
	fs.StringVar(&cfg.ListenAddress, "grpc-addr", ":50051", "TCP address the admin gRPC server listens on")
	fs.StringVar(&cfg.MetricsAddress, "metrics-addr", ":9090", "HTTP address for /metrics and /debug/status; empty disables")
	fs.StringVar(&cfg.LogLevel, "log-level", envOr("LOG_LEVEL", "info"), "debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", envOr("LOG_FORMAT", "text"), "text or json")
	fs.DurationVar(&cfg.TickInterval, "tick", 10*time.Millisecond, "control loop tick interval")
	fs.BoolVar(&cfg.Accelerated, "accelerated", false, "step as fast as possible instead of once per tick")
	fs.DurationVar(&cfg.HealthInterval, "health-interval", 2*time.Second, "how often loop progress is checked for health reporting")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.TickInterval <= 0 {
		return Config{}, fmt.Errorf("tick must be positive, got %s", cfg.TickInterval)
	}
	return cfg, nil
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	lis, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.ListenAddress), logging.Err(err))
		os.Exit(1)
	}

	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "netctrl exited", logging.Err(err))
		os.Exit(1)
	}
}

// run builds the network described by cfg, serves the admin API on lis and
// drives the control loop until ctx is cancelled.
func run(ctx context.Context, cfg Config, log logging.Logger, lis net.Listener) error {
	if log == nil {
		log = logging.Noop()
	}

	f, err := os.Open(cfg.DefinitionPath)
	if err != nil {
		return fmt.Errorf("open network definition: %w", err)
	}
	def, err := core.LoadNetworkDefinition(f)
	f.Close()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	netMetrics, err := observability.NewNetCollector(reg)
	if err != nil {
		return err
	}
	adminMetrics, err := observability.NewAdminCollector(reg)
	if err != nil {
		return err
	}

	mode := timectrl.RealTime
	if cfg.Accelerated {
		mode = timectrl.Accelerated
	}
	clock := timectrl.NewTimeController(time.Now().UTC(), cfg.TickInterval, mode)

	if !strings.EqualFold(cfg.LogLevel, "debug") {
		atomic.StoreUint32(&sniffer.LogPackets, 0)
	}
	drivers := newLinks(clock, log)
	defer drivers.close()

	network, err := core.BuildNetwork(def, drivers.driver,
		core.WithLogger(log),
		core.WithMetricsRecorder(netMetrics),
		core.WithGenericInterface(core.GenericInterface{
			Clock: clock,
			NotifyError: func(err error) {
				log.Debug(context.Background(), "transmit error", logging.Err(err))
			},
		}),
	)
	if err != nil {
		return err
	}
	log.Info(ctx, "network loaded",
		logging.String("path", cfg.DefinitionPath),
		logging.Int("controllers", len(network.Controllers())),
	)

	runner, err := runtime.NewRunner(network, clock,
		runtime.WithLogger(log),
		runtime.WithTickObserver(netMetrics),
		runtime.WithBeforeTick(drivers.processPeers),
	)
	if err != nil {
		return err
	}

	server := admin.NewServer(runner, adminMetrics, log)
	metricsSrv := serveMetrics(cfg.MetricsAddress, adminMetrics, server, log)

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting admin gRPC server", logging.String("addr", lis.Addr().String()))
		serveErr <- server.GRPC.Serve(lis)
	}()

	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()
	go server.WatchHealth(loopCtx, cfg.HealthInterval)
	done := runner.Start(loopCtx, 0)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, net.ErrClosed) {
			runErr = fmt.Errorf("admin server: %w", err)
		}
	}

	log.Info(ctx, "shutting down", logging.Int("ticks", int(runner.Ticks())))
	cancelLoop()
	<-done
	server.GRPC.GracefulStop()

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return runErr
}

func serveMetrics(addr string, collector *observability.AdminCollector, server *admin.Server, log logging.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.Handle("/debug/status", server.StatusHandler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
