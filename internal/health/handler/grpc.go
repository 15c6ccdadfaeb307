// Package handler serves the standard gRPC health protocol for the auth core.
package handler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// ServiceName is the service name accepted by Check besides the empty string.
const ServiceName = "authcore"

const checkTimeout = 2 * time.Second

// Pinger checks a backing store. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// PolicyChecker verifies the suspicious-activity policy engine evaluates.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server implements grpc_health_v1.HealthServer. A nil dependency is skipped.
type Server struct {
	healthpb.UnimplementedHealthServer
	db     Pinger
	cache  Pinger
	policy PolicyChecker
	logger *zap.Logger
}

// NewServer returns a health server. Any argument may be nil.
func NewServer(db, cache Pinger, policy PolicyChecker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{db: db, cache: cache, policy: policy, logger: logger}
}

// Check reports SERVING when every configured dependency responds. Dependency
// failures are a NOT_SERVING status, not a gRPC error.
func (s *Server) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if svc := req.GetService(); svc != "" && svc != ServiceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", svc)
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	serving := true
	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			s.logger.Warn("health: database ping failed", zap.Error(err))
			serving = false
		}
	}
	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			s.logger.Warn("health: cache ping failed", zap.Error(err))
			serving = false
		}
	}
	if s.policy != nil {
		if err := s.policy.HealthCheck(ctx); err != nil {
			s.logger.Warn("health: policy check failed", zap.Error(err))
			serving = false
		}
	}
	st := healthpb.HealthCheckResponse_SERVING
	if !serving {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	return &healthpb.HealthCheckResponse{Status: st}, nil
}
