package admin

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/signalsfoundry/netctrl/core"
	"github.com/signalsfoundry/netctrl/internal/logging"
	"github.com/signalsfoundry/netctrl/internal/observability"
	"github.com/signalsfoundry/netctrl/internal/runtime"
)

// Server bundles the admin gRPC server, its health service and the service
// implementation.
type Server struct {
	GRPC    *grpc.Server
	Health  *health.Server
	Service *Service

	watcher *healthWatcher
}

// NewServer builds a gRPC server exposing ControlService and the standard
// health service. collector may be nil.
func NewServer(runner *runtime.Runner, collector *observability.AdminCollector, log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			RequestIDUnaryServerInterceptor(log),
			TracingUnaryServerInterceptor(),
			collector.UnaryServerInterceptor(),
			ErrorMappingUnaryServerInterceptor(),
		),
	)

	svc := NewService(runner, log)
	RegisterControlServiceServer(srv, svc)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	w := &healthWatcher{health: hs, runner: runner, log: log}
	w.init()

	return &Server{GRPC: srv, Health: hs, Service: svc, watcher: w}
}

// WatchHealth marks the server NOT_SERVING whenever the control loop made no
// progress during interval. It returns when ctx is done.
func (s *Server) WatchHealth(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Health.Shutdown()
			return
		case <-ticker.C:
			s.watcher.check(ctx)
		}
	}
}

// StatusHandler serves GetStatus as JSON for curl-friendly debugging.
func (s *Server) StatusHandler() http.Handler {
	marshal := protojson.MarshalOptions{Multiline: true, Indent: "  "}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, err := s.Service.GetStatus(r.Context(), nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		body, err := marshal.Marshal(status)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})
}

// healthWatcher tracks loop progress between checks.
type healthWatcher struct {
	health *health.Server
	runner *runtime.Runner
	log    logging.Logger

	mu        sync.Mutex
	lastTicks uint64
	serving   bool
}

// ControllerHealthService is the health service name of one controller.
func ControllerHealthService(name string) string {
	return ServiceName + "/" + name
}

func (w *healthWatcher) init() {
	w.serving = true
	w.setAll(healthpb.HealthCheckResponse_SERVING)
}

func (w *healthWatcher) check(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ticks := w.runner.Ticks()
	progressing := ticks != w.lastTicks
	w.lastTicks = ticks
	if progressing == w.serving {
		return
	}
	w.serving = progressing
	if progressing {
		w.log.Info(ctx, "control loop progressing again", logging.Int("ticks", int(ticks)))
		w.setAll(healthpb.HealthCheckResponse_SERVING)
		return
	}
	w.log.Warn(ctx, "control loop stalled", logging.Int("ticks", int(ticks)))
	w.setAll(healthpb.HealthCheckResponse_NOT_SERVING)
}

func (w *healthWatcher) setAll(status healthpb.HealthCheckResponse_ServingStatus) {
	w.health.SetServingStatus("", status)
	w.health.SetServingStatus(ServiceName, status)
	_ = w.runner.Do(context.Background(), func(n *core.Network) error {
		for _, c := range n.Controllers() {
			w.health.SetServingStatus(ControllerHealthService(c.Name()), status)
		}
		return nil
	})
}
