package grpc

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/jeeves-cluster-organization/onboarding/coreengine/observability"
)

// RequestIDMetadataKey carries the request id in and out of a call.
const RequestIDMetadataKey = "x-request-id"

type requestIDKey struct{}

// RequestIDFromContext returns the id assigned by RequestIDInterceptor.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// sessionAddressed is implemented by requests that name a session.
type sessionAddressed interface {
	sessionKey() string
}

func (r *SessionRequest) sessionKey() string        { return r.SessionID }
func (r *SelectOptionRequest) sessionKey() string   { return r.SessionID }
func (r *ChooseBranchRequest) sessionKey() string   { return r.SessionID }
func (r *UpdateDraftRequest) sessionKey() string    { return r.SessionID }
func (r *AttachDocumentRequest) sessionKey() string { return r.SessionID }
func (r *WaitIdleRequest) sessionKey() string       { return r.SessionID }

// methodName strips the service prefix: "/pkg.Service/Confirm" is "Confirm".
func methodName(fullMethod string) string {
	return fullMethod[strings.LastIndexByte(fullMethod, '/')+1:]
}

// callerFault lists codes caused by the client rather than the server.
var callerFault = map[codes.Code]bool{
	codes.InvalidArgument:    true,
	codes.NotFound:           true,
	codes.FailedPrecondition: true,
	codes.Unauthenticated:    true,
	codes.PermissionDenied:   true,
	codes.ResourceExhausted:  true,
	codes.Canceled:           true,
	codes.DeadlineExceeded:   true,
}

// =============================================================================
// REQUEST ID
// =============================================================================

// RequestIDInterceptor assigns each call a request id, keeping one sent by
// the client, and echoes it in the response header.
func RequestIDInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		var id string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(RequestIDMetadataKey); len(vals) > 0 {
				id = strings.TrimSpace(vals[0])
			}
		}
		if id == "" {
			id = uuid.NewString()
		}
		// Fails outside a real server transport, which only matters in tests.
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDMetadataKey, id))
		return handler(context.WithValue(ctx, requestIDKey{}, id), req)
	}
}

// =============================================================================
// LOGGING
// =============================================================================

// LoggingInterceptor logs each call with its method, request id, and
// session. Caller faults log at info, everything else at error.
func LoggingInterceptor(logger Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		fields := []any{"method", methodName(info.FullMethod)}
		if id := RequestIDFromContext(ctx); id != "" {
			fields = append(fields, "request_id", id)
		}
		if s, ok := req.(sessionAddressed); ok && s.sessionKey() != "" {
			fields = append(fields, "session_id", s.sessionKey())
		}
		logger.Debug("grpc_request_started", fields...)

		resp, err := handler(ctx, req)
		fields = append(fields, "duration_ms", time.Since(start).Milliseconds())
		if err == nil {
			logger.Debug("grpc_request_completed", fields...)
			return resp, nil
		}

		st := status.Convert(err)
		fields = append(fields, "code", st.Code().String(), "error", st.Message())
		if callerFault[st.Code()] {
			logger.Info("grpc_request_failed", fields...)
		} else {
			logger.Error("grpc_request_failed", fields...)
		}
		return resp, err
	}
}

// =============================================================================
// RECOVERY
// =============================================================================

// RecoveryHandler turns a recovered panic value into the error returned to
// the client.
type RecoveryHandler func(p any) error

// DefaultRecoveryHandler returns Internal with the panic value.
func DefaultRecoveryHandler(p any) error {
	return status.Errorf(codes.Internal, "panic recovered: %v", p)
}

// RecoveryInterceptor keeps a panicking handler from taking the server down.
func RecoveryInterceptor(logger Logger, handler RecoveryHandler) grpc.UnaryServerInterceptor {
	if handler == nil {
		handler = DefaultRecoveryHandler
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			p := recover()
			if p == nil {
				return
			}
			logger.Error("grpc_panic_recovered",
				"method", methodName(info.FullMethod),
				"panic", fmt.Sprint(p),
				"stack", string(debug.Stack()),
			)
			resp, err = nil, handler(p)
		}()
		return next(ctx, req)
	}
}

// =============================================================================
// METRICS
// =============================================================================

// MetricsInterceptor records count and latency per method and status code.
func MetricsInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observability.RecordGRPCRequest(
			methodName(info.FullMethod),
			status.Code(err).String(),
			int(time.Since(start).Milliseconds()),
		)
		return resp, err
	}
}

// =============================================================================
// SERVER OPTIONS
// =============================================================================

// ServerOptions returns the stats handler and the unary interceptor chain,
// outermost first: recovery, request id, metrics, logging.
func ServerOptions(logger Logger) []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(logger, nil),
			RequestIDInterceptor(),
			MetricsInterceptor(),
			LoggingInterceptor(logger),
		),
	}
}
