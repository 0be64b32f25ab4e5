package grpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Probe checks one dependency of the service
type Probe func(ctx context.Context) error

// HealthHandler keeps the standard gRPC health service in sync with the
// service's dependencies (database, Redis).
type HealthHandler struct {
	server  *health.Server
	service string
	probes  map[string]Probe
	timeout time.Duration
	logger  *zap.Logger
}

func NewHealthHandler(service string, probes map[string]Probe, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		server:  health.NewServer(),
		service: service,
		probes:  probes,
		timeout: 3 * time.Second,
		logger:  logger,
	}
}

// Server returns the health service to register on a gRPC server
func (h *HealthHandler) Server() *health.Server {
	return h.server
}

// Check runs every probe once and publishes the overall status
// under both the empty service name and the service's own name.
func (h *HealthHandler) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	for name, probe := range h.probes {
		probeCtx, cancel := context.WithTimeout(ctx, h.timeout)
		err := probe(probeCtx)
		cancel()
		if err != nil {
			h.logger.Warn("Health probe failed",
				zap.String("probe", name),
				zap.Error(err))
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}

	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(h.service, status)
	return status
}

// Run re-checks the probes every interval until ctx is done
func (h *HealthHandler) Run(ctx context.Context, interval time.Duration) {
	h.Check(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}

// Shutdown reports NOT_SERVING to every watcher
func (h *HealthHandler) Shutdown() {
	h.server.Shutdown()
}
