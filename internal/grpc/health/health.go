// Package health exposes the standard gRPC health service for the report
// backends so orchestrators can probe the API process without HTTP.
package health

import (
	"context"
	"sort"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"safereport/pkg/logger"
)

// ServiceName is the service name reported alongside the overall status
const ServiceName = "safereport.v1.Reports"

// Pinger is a backend that can be probed
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Monitor keeps the gRPC health status in line with backend reachability
type Monitor struct {
	server   *health.Server
	backends map[string]Pinger
	timeout  time.Duration
	logger   *logger.Logger
}

// NewMonitor creates a monitor over the named backends
func NewMonitor(backends map[string]Pinger, log *logger.Logger) *Monitor {
	m := &Monitor{
		server:   health.NewServer(),
		backends: backends,
		timeout:  2 * time.Second,
		logger:   log.WithComponent("grpc-health"),
	}
	m.set(grpc_health_v1.HealthCheckResponse_SERVING)
	return m
}

// Register attaches the health service to a gRPC server
func (m *Monitor) Register(grpcServer *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(grpcServer, m.server)
}

// Server returns the underlying health server
func (m *Monitor) Server() *health.Server {
	return m.server
}

// CheckOnce probes every backend and updates the serving status. It returns
// the names of unhealthy backends, sorted.
func (m *Monitor) CheckOnce(ctx context.Context) []string {
	var failed []string
	for name, b := range m.backends {
		pctx, cancel := context.WithTimeout(ctx, m.timeout)
		err := b.Ping(pctx)
		cancel()
		if err != nil {
			m.logger.Warn().Err(err).Str("backend", name).Msg("backend unhealthy")
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)

	if len(failed) == 0 {
		m.set(grpc_health_v1.HealthCheckResponse_SERVING)
	} else {
		m.set(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}
	return failed
}

// Run checks every interval until ctx is done, then marks the service as
// shutting down
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.CheckOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			m.server.Shutdown()
			return
		case <-ticker.C:
			m.CheckOnce(ctx)
		}
	}
}

func (m *Monitor) set(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	m.server.SetServingStatus("", status)
	m.server.SetServingStatus(ServiceName, status)
}
