package interceptors

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"auth-session-core/internal/security"
)

const bearerPrefix = "bearer "

// TokenVerifier validates an access token, including the revocation blacklist.
type TokenVerifier interface {
	VerifyAccessToken(ctx context.Context, token string) (*security.AccessClaims, error)
}

// AuthUnary returns a unary server interceptor that validates the Bearer (access) token
// from gRPC metadata and sets account_id and session_id in context for protected RPCs.
// publicMethods is the set of full method names that do not require a Bearer token.
//
// cmd/server registers only the public health check, so there the interceptor guards
// nothing. It is for host services that embed this core and register their own RPCs
// on the server returned by server.NewGRPCServer.
func AuthUnary(verifier TokenVerifier, publicMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if publicMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		token := extractBearer(ctx)
		if token == "" {
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}
		claims, err := verifier.VerifyAccessToken(ctx, token)
		if err != nil {
			if security.IsRejected(err) {
				return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
			}
			return nil, status.Error(codes.Unavailable, "token verification unavailable")
		}
		ctx = WithIdentity(ctx, claims.Subject, claims.SessionID)
		return handler(ctx, req)
	}
}

// extractBearer returns the Bearer token from ctx metadata, or "" if missing or malformed.
func extractBearer(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	v := firstValue(md, "authorization")
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
