package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthhandler "auth-session-core/internal/health/handler"
	"auth-session-core/internal/server/interceptors"
)

// HealthCheckMethod is the full method name of the unary health probe.
const HealthCheckMethod = "/grpc.health.v1.Health/Check"

// Deps holds the dependencies of the gRPC surface.
type Deps struct {
	// Health answers grpc.health.v1 probes. If nil, a server with no dependency checks is used.
	Health *healthhandler.Server
	// Verifier validates Bearer tokens for protected RPCs. If nil, no auth interceptor is installed.
	// Only embedding services register protected RPCs; the health check is always public.
	Verifier interceptors.TokenVerifier
	// PublicMethods lists full method names that skip Bearer validation. The health
	// probe is always public.
	PublicMethods map[string]bool
	Logger        *zap.Logger
}

// NewGRPCServer returns a server with OpenTelemetry stats, request logging and,
// when a verifier is configured, Bearer authentication. Services are registered.
func NewGRPCServer(deps Deps, opts ...grpc.ServerOption) *grpc.Server {
	public := map[string]bool{HealthCheckMethod: true}
	for m, ok := range deps.PublicMethods {
		public[m] = ok
	}
	chain := []grpc.UnaryServerInterceptor{interceptors.LoggingUnary(deps.Logger, map[string]bool{HealthCheckMethod: true})}
	if deps.Verifier != nil {
		chain = append(chain, interceptors.AuthUnary(deps.Verifier, public))
	}
	serverOpts := append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(chain...),
	}, opts...)
	s := grpc.NewServer(serverOpts...)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers all gRPC services with the given server.
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	health := deps.Health
	if health == nil {
		health = healthhandler.NewServer(nil, nil, nil, deps.Logger)
	}
	healthpb.RegisterHealthServer(s, health)
}
