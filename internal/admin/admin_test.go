package admin

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/netctrl/core"
	"github.com/signalsfoundry/netctrl/internal/observability"
	"github.com/signalsfoundry/netctrl/internal/runtime"
	"github.com/signalsfoundry/netctrl/link/channel"
	"github.com/signalsfoundry/netctrl/link/simpeer"
	"github.com/signalsfoundry/netctrl/timectrl"
)

var (
	localIP = netip.MustParseAddr("10.1.0.2")
	peerIP  = netip.MustParseAddr("10.1.0.1")
	peerMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}
)

type fixture struct {
	runner    *runtime.Runner
	server    *Server
	client    *ControlClient
	health    healthpb.HealthClient
	collector *observability.AdminCollector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	near, far := channel.NewPair(16)
	clock := timectrl.NewTimeController(time.Unix(0, 0), 10*time.Millisecond, timectrl.Accelerated)
	network := core.NewNetwork(core.NetworkConfig{})
	c, err := network.AddController(core.ControllerConfig{
		Name:       "eth0",
		IP:         localIP,
		SubnetMask: net.IPv4Mask(255, 255, 255, 0),
		MAC:        net.HardwareAddr{0x02, 0, 0, 0, 0, 0x02},
	}, near, core.WithClock(clock))
	if err != nil {
		t.Fatalf("AddController: %v", err)
	}
	if _, err := c.AddPort(core.PortConfig{Name: "telemetry", InPort: 4000, OutPort: 5000, DstIP: peerIP}); err != nil {
		t.Fatalf("AddPort: %v", err)
	}
	peer, err := simpeer.New(simpeer.Config{IP: peerIP, MAC: peerMAC}, far, nil)
	if err != nil {
		t.Fatalf("simpeer.New: %v", err)
	}
	runner, err := runtime.NewRunner(network, clock, runtime.WithBeforeTick(func() { peer.Process() }))
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	collector, err := observability.NewAdminCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewAdminCollector: %v", err)
	}
	srv := NewServer(runner, collector, nil)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	go func() { _ = srv.GRPC.Serve(lis) }()
	t.Cleanup(srv.GRPC.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return &fixture{
		runner:    runner,
		server:    srv,
		client:    NewControlClient(conn),
		health:    healthpb.NewHealthClient(conn),
		collector: collector,
	}
}

func (f *fixture) tick(n int) {
	for i := 0; i < n; i++ {
		f.runner.Tick(context.Background(), f.runner.Clock.Step())
	}
}

func mustStruct(t *testing.T, m map[string]interface{}) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("structpb.NewStruct: %v", err)
	}
	return s
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGetStatus(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)
	f.tick(2)

	resp, err := f.client.GetStatus(ctx, nil)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if got := resp.Fields["ticks"].GetNumberValue(); got != 2 {
		t.Fatalf("ticks = %v, want 2", got)
	}
	controllers := resp.Fields["controllers"].GetListValue().GetValues()
	if len(controllers) != 1 {
		t.Fatalf("controllers = %d, want 1", len(controllers))
	}
	c := controllers[0].GetStructValue().GetFields()
	if c["name"].GetStringValue() != "eth0" || c["ip"].GetStringValue() != "10.1.0.2" {
		t.Fatalf("unexpected controller status: %v", c)
	}
	if c["subnet_mask"].GetStringValue() != "255.255.255.0" {
		t.Fatalf("subnet_mask = %q", c["subnet_mask"].GetStringValue())
	}
	if got := c["stats"].GetStructValue().GetFields()["ticks"].GetNumberValue(); got != 2 {
		t.Fatalf("controller ticks = %v, want 2", got)
	}
}

func TestPingOverAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	if _, err := f.client.SendPing(ctx, mustStruct(t, map[string]interface{}{"ip": peerIP.String()})); err != nil {
		t.Fatalf("SendPing: %v", err)
	}
	f.tick(3)

	req := mustStruct(t, map[string]interface{}{"controller": "eth0", "ip": peerIP.String()})
	resp, err := f.client.CheckPingReply(ctx, req)
	if err != nil {
		t.Fatalf("CheckPingReply: %v", err)
	}
	if !resp.Fields["replied"].GetBoolValue() {
		t.Fatalf("expected a reply, got %v", resp)
	}
	if got := resp.Fields["rtt_ms"].GetNumberValue(); got != 10 {
		t.Fatalf("rtt_ms = %v, want 10", got)
	}

	resp, err = f.client.CheckPingReply(ctx, req)
	if err != nil {
		t.Fatalf("second CheckPingReply: %v", err)
	}
	if resp.Fields["replied"].GetBoolValue() {
		t.Fatalf("reply should be cleared on read")
	}

	arp, err := f.client.ListArp(ctx, nil)
	if err != nil {
		t.Fatalf("ListArp: %v", err)
	}
	entries := arp.Fields["entries"].GetListValue().GetValues()
	if len(entries) != 1 {
		t.Fatalf("arp entries = %d, want 1", len(entries))
	}
	e := entries[0].GetStructValue().GetFields()
	if e["ip"].GetStringValue() != peerIP.String() || e["mac"].GetStringValue() != peerMAC.String() || e["state"].GetStringValue() != "valid" {
		t.Fatalf("unexpected arp entry: %v", e)
	}
}

func TestAddStaticArpEntry(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	_, err := f.client.AddArpEntry(ctx, mustStruct(t, map[string]interface{}{
		"ip":     "10.1.0.50",
		"mac":    "02:00:00:00:00:50",
		"static": true,
	}))
	if err != nil {
		t.Fatalf("AddArpEntry: %v", err)
	}

	arp, err := f.client.ListArp(ctx, nil)
	if err != nil {
		t.Fatalf("ListArp: %v", err)
	}
	entries := arp.Fields["entries"].GetListValue().GetValues()
	if len(entries) != 1 || !entries[0].GetStructValue().GetFields()["static"].GetBoolValue() {
		t.Fatalf("expected one static entry, got %v", arp)
	}
}

func TestForceArpRequestQueuesWhoHas(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	if _, err := f.client.ForceArpRequest(ctx, mustStruct(t, map[string]interface{}{"ip": peerIP.String()})); err != nil {
		t.Fatalf("ForceArpRequest: %v", err)
	}
	f.tick(2)

	resp, err := f.client.GetStatus(ctx, nil)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	stats := resp.Fields["controllers"].GetListValue().GetValues()[0].GetStructValue().GetFields()["stats"].GetStructValue().GetFields()
	if stats["arp_requests"].GetNumberValue() != 1 {
		t.Fatalf("arp_requests = %v, want 1", stats["arp_requests"].GetNumberValue())
	}
}

func TestSetAddress(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	resp, err := f.client.SetAddress(ctx, mustStruct(t, map[string]interface{}{
		"ip":          "10.1.0.3",
		"subnet_mask": "255.255.0.0",
		"mac":         "02:00:00:00:00:33",
	}))
	if err != nil {
		t.Fatalf("SetAddress: %v", err)
	}
	if resp.Fields["ip"].GetStringValue() != "10.1.0.3" ||
		resp.Fields["subnet_mask"].GetStringValue() != "255.255.0.0" ||
		resp.Fields["mac"].GetStringValue() != "02:00:00:00:00:33" {
		t.Fatalf("unexpected status after SetAddress: %v", resp)
	}
}

func TestSetAddressRejectedChangeLeavesAddresses(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	_, err := f.client.SetAddress(ctx, mustStruct(t, map[string]interface{}{
		"ip":          "10.1.0.9",
		"subnet_mask": "255.255.255.255",
	}))
	if code := status.Code(err); code != codes.InvalidArgument {
		t.Fatalf("SetAddress code = %v, want InvalidArgument", code)
	}

	resp, err := f.client.GetStatus(ctx, nil)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	ctrl := resp.Fields["controllers"].GetListValue().GetValues()[0].GetStructValue().GetFields()
	if ip := ctrl["ip"].GetStringValue(); ip != localIP.String() {
		t.Fatalf("ip = %s after rejected SetAddress, want %s", ip, localIP)
	}
	if mask := ctrl["subnet_mask"].GetStringValue(); mask != "255.255.255.0" {
		t.Fatalf("subnet_mask = %s after rejected SetAddress", mask)
	}
}

func TestPortStats(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	resp, err := f.client.PortStats(ctx, mustStruct(t, map[string]interface{}{"port": "telemetry"}))
	if err != nil {
		t.Fatalf("PortStats: %v", err)
	}
	ports := resp.Fields["ports"].GetListValue().GetValues()
	if len(ports) != 1 {
		t.Fatalf("ports = %d, want 1", len(ports))
	}
	p := ports[0].GetStructValue().GetFields()
	if p["in_port"].GetNumberValue() != 4000 || p["out_port"].GetNumberValue() != 5000 || p["mode"].GetStringValue() != "stream" {
		t.Fatalf("unexpected port: %v", p)
	}
}

func TestAdminErrorCodes(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	tests := []struct {
		name string
		call func() error
		code codes.Code
	}{
		{"missing ip", func() error {
			_, err := f.client.SendPing(ctx, nil)
			return err
		}, codes.InvalidArgument},
		{"malformed ip", func() error {
			_, err := f.client.SendPing(ctx, mustStruct(t, map[string]interface{}{"ip": "10.1.0"}))
			return err
		}, codes.InvalidArgument},
		{"unknown controller", func() error {
			_, err := f.client.ListArp(ctx, mustStruct(t, map[string]interface{}{"controller": "wlan0"}))
			return err
		}, codes.NotFound},
		{"arp outside subnet", func() error {
			_, err := f.client.ForceArpRequest(ctx, mustStruct(t, map[string]interface{}{"ip": "192.168.9.9"}))
			return err
		}, codes.InvalidArgument},
		{"unknown port", func() error {
			_, err := f.client.PortStats(ctx, mustStruct(t, map[string]interface{}{"port": "console"}))
			return err
		}, codes.NotFound},
		{"empty set address", func() error {
			_, err := f.client.SetAddress(ctx, nil)
			return err
		}, codes.InvalidArgument},
		{"bad mask", func() error {
			_, err := f.client.SetAddress(ctx, mustStruct(t, map[string]interface{}{"subnet_mask": "255.0.255.0"}))
			return err
		}, codes.InvalidArgument},
		{"bad mac", func() error {
			_, err := f.client.AddArpEntry(ctx, mustStruct(t, map[string]interface{}{"ip": "10.1.0.9", "mac": "zz"}))
			return err
		}, codes.InvalidArgument},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if code := status.Code(tc.call()); code != tc.code {
				t.Fatalf("code = %v, want %v", code, tc.code)
			}
		})
	}

	if got := testutil.ToFloat64(f.collector.RPCRequests.WithLabelValues("ControlService", "SendPing", "InvalidArgument")); got != 2 {
		t.Fatalf("SendPing InvalidArgument count = %v, want 2", got)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	f := newFixture(t)
	ctx := metadata.AppendToOutgoingContext(testContext(t), "x-request-id", "req-42")

	var header metadata.MD
	if _, err := f.client.GetStatus(ctx, nil, grpc.Header(&header)); err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if got := header.Get("x-request-id"); len(got) != 1 || got[0] != "req-42" {
		t.Fatalf("x-request-id header = %v, want [req-42]", got)
	}
}

func TestHealthTracksLoopProgress(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		resp, err := f.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			t.Fatalf("health check %q: %v", service, err)
		}
		return resp.GetStatus()
	}

	if got := check(ControllerHealthService("eth0")); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("initial status = %v, want SERVING", got)
	}

	f.server.watcher.check(ctx)
	if got := check(""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status without ticks = %v, want NOT_SERVING", got)
	}

	f.tick(1)
	f.server.watcher.check(ctx)
	if got := check(ControllerHealthService("eth0")); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status after tick = %v, want SERVING", got)
	}
}

func TestStatusHandler(t *testing.T) {
	f := newFixture(t)

	rr := httptest.NewRecorder()
	f.server.StatusHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/status", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"eth0"`) {
		t.Fatalf("body missing controller name: %s", rr.Body.String())
	}
}
