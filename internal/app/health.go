package app

import (
	"errors"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/nuetzliches/sbinspect/internal/inspector"
)

// inspectorHealthService follows the Service Bus connection; the overall
// service "" stays SERVING while the process runs.
const inspectorHealthService = "sbinspect.Inspector"

type healthReporter struct {
	srv *health.Server
}

func newHealthReporter() *healthReporter {
	srv := health.NewServer()
	srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	srv.SetServingStatus(inspectorHealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &healthReporter{srv: srv}
}

func (h *healthReporter) observeConnection(_ inspector.ConnectionInfo, connected bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if connected {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.srv.SetServingStatus(inspectorHealthService, status)
}

func (h *healthReporter) shutdown() {
	h.srv.Shutdown()
}

// startHealthServer serves the gRPC health protocol on addr. The returned
// stop func drains in-flight checks.
func startHealthServer(addr string, reporter *healthReporter, logger *slog.Logger, cancel func()) (func(), net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, reporter.srv)

	go func() {
		err := grpcServer.Serve(ln)
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return
		}
		logger.Error("grpc_server_error", slog.Any("err", err))
		if cancel != nil {
			cancel()
		}
	}()
	logger.Info("grpc_health_listening", slog.String("addr", ln.Addr().String()))

	return func() {
		reporter.shutdown()
		grpcServer.GracefulStop()
	}, ln.Addr(), nil
}
