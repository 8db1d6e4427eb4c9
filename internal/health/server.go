package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ServerConfig holds configuration options for the health server
type ServerConfig struct {
	RateLimit      float64 // Requests per second, 0 disables limiting
	RateLimitBurst int
}

// DefaultServerConfig returns a ServerConfig with sensible defaults
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		RateLimit:      5.0,
		RateLimitBurst: 10,
	}
}

// SetupServer builds a gRPC server exposing checker. A nil reg skips
// metrics.
func SetupServer(checker *HealthChecker, logger *logrus.Logger, reg prometheus.Registerer, config ServerConfig) (*grpc.Server, error) {
	interceptors := []grpc.UnaryServerInterceptor{ContextInterceptor}
	if config.RateLimit > 0 {
		interceptors = append(interceptors, NewRateLimitingInterceptor(config.RateLimit, config.RateLimitBurst))
	}
	interceptors = append(interceptors, NewLoggingInterceptor(logger))
	if reg != nil {
		m, err := NewMetrics(reg)
		if err != nil {
			return nil, err
		}
		interceptors = append(interceptors, NewMetricsInterceptor(m))
	}

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))
	grpc_health_v1.RegisterHealthServer(server, checker)
	return server, nil
}
