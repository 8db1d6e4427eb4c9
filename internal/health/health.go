// Package health serves the gRPC health checking protocol for the scheduler
// daemon. The pipeline service turns NOT_SERVING after a failed pass and
// back to SERVING after a successful one.
package health

import (
	"context"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// PipelineService is the service name reporting pipeline outcomes.
const PipelineService = "openet.Pipeline"

// HealthChecker implements the gRPC health checking protocol
type HealthChecker struct {
	grpc_health_v1.UnimplementedHealthServer
	mu     sync.RWMutex
	status map[string]grpc_health_v1.HealthCheckResponse_ServingStatus
}

// NewHealthChecker reports the server itself as SERVING and the pipeline as
// UNKNOWN until its first pass.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		status: map[string]grpc_health_v1.HealthCheckResponse_ServingStatus{
			"":              grpc_health_v1.HealthCheckResponse_SERVING,
			PipelineService: grpc_health_v1.HealthCheckResponse_UNKNOWN,
		},
	}
}

func (h *HealthChecker) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if s, ok := h.status[req.Service]; ok {
		return &grpc_health_v1.HealthCheckResponse{Status: s}, nil
	}
	return nil, status.Error(codes.NotFound, "unknown service")
}

func (h *HealthChecker) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	return status.Error(codes.Unimplemented, "watching is not supported")
}

// SetServingStatus sets the serving status of a service
func (h *HealthChecker) SetServingStatus(service string, s grpc_health_v1.HealthCheckResponse_ServingStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status[service] = s
}

// Observe records the outcome of a pipeline pass.
func (h *HealthChecker) Observe(err error) {
	if err != nil {
		h.SetServingStatus(PipelineService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		return
	}
	h.SetServingStatus(PipelineService, grpc_health_v1.HealthCheckResponse_SERVING)
}

// Shutdown marks every service NOT_SERVING.
func (h *HealthChecker) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name := range h.status {
		h.status[name] = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
}
