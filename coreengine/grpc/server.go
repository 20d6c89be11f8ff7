package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/jeeves-cluster-organization/onboarding/coreengine/kernel"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/wizard"
)

// Logger interface for the server.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// DefaultWaitIdleTimeout bounds a WaitIdle call without an explicit timeout.
const DefaultWaitIdleTimeout = 30 * time.Second

// OnboardingServer implements OnboardingServiceServer on top of a Kernel.
// Every session RPC authenticates the caller and checks session ownership.
type OnboardingServer struct {
	logger Logger
	kernel *kernel.Kernel
}

var _ OnboardingServiceServer = (*OnboardingServer)(nil)

// NewOnboardingServer creates a new gRPC service implementation.
func NewOnboardingServer(logger Logger, k *kernel.Kernel) *OnboardingServer {
	return &OnboardingServer{
		logger: logger,
		kernel: k,
	}
}

// =============================================================================
// Session Lifecycle
// =============================================================================

// StartSession authenticates the caller and starts a new session. Without an
// identity the call fails with Unauthenticated and the login path in the
// RedirectMetadataKey trailer.
func (s *OnboardingServer) StartSession(ctx context.Context, _ *StartSessionRequest) (*SessionResponse, error) {
	w, err := s.kernel.StartSession(ctx, tokenFromContext(ctx))
	if err != nil {
		setRedirectTrailer(ctx, err)
		return nil, toStatus("start session", "", err)
	}

	s.logger.Debug("session_start_served", "session_id", w.SessionID())
	return &SessionResponse{Session: w.Snapshot()}, nil
}

// GetSession returns the current snapshot.
func (s *OnboardingServer) GetSession(ctx context.Context, req *SessionRequest) (*SessionResponse, error) {
	w, err := s.authorize(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	return &SessionResponse{Session: w.Snapshot()}, nil
}

// DiscardSession destroys the session; nothing is submitted or persisted.
func (s *OnboardingServer) DiscardSession(ctx context.Context, req *SessionRequest) (*DiscardSessionResponse, error) {
	if _, err := s.authorize(ctx, req.SessionID); err != nil {
		return nil, err
	}
	if err := s.kernel.Discard(ctx, req.SessionID, kernel.ReasonClient); err != nil {
		return nil, toStatus("discard session", req.SessionID, err)
	}
	return &DiscardSessionResponse{SessionID: req.SessionID}, nil
}

// WaitIdle blocks until the agent stops typing or the timeout elapses, then
// returns the snapshot. Reaching the timeout is not an error.
func (s *OnboardingServer) WaitIdle(ctx context.Context, req *WaitIdleRequest) (*SessionResponse, error) {
	w, err := s.authorize(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if req.TimeoutMS < 0 {
		return nil, InvalidArgument("non-negative timeout_ms")
	}

	timeout := DefaultWaitIdleTimeout
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := w.WaitIdle(waitCtx); err != nil {
		if !errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, toStatus("wait idle", req.SessionID, err)
		}
	}
	return &SessionResponse{Session: w.Snapshot()}, nil
}

// =============================================================================
// Session Actions
// =============================================================================

// SelectOption picks an option for the goal, industry, or review step.
func (s *OnboardingServer) SelectOption(ctx context.Context, req *SelectOptionRequest) (*SessionResponse, error) {
	if err := validateRequired(req.Option, "option"); err != nil {
		return nil, err
	}
	return s.act(ctx, "select option", req.SessionID, func(w *wizard.Wizard) (bool, error) {
		return w.SelectOption(ctx, req.Option)
	})
}

// ChooseBranch answers the use-existing or override question.
func (s *OnboardingServer) ChooseBranch(ctx context.Context, req *ChooseBranchRequest) (*SessionResponse, error) {
	if err := validateBranchMode(req.Mode); err != nil {
		return nil, err
	}
	return s.act(ctx, "choose branch", req.SessionID, func(w *wizard.Wizard) (bool, error) {
		return w.ChooseBranch(ctx, req.Mode)
	})
}

// UpdateDraft edits a draft value.
func (s *OnboardingServer) UpdateDraft(ctx context.Context, req *UpdateDraftRequest) (*SessionResponse, error) {
	if err := validateRequired(string(req.Field), "field"); err != nil {
		return nil, err
	}
	return s.act(ctx, "update draft", req.SessionID, func(w *wizard.Wizard) (bool, error) {
		return false, w.UpdateDraft(req.Field, req.Value)
	})
}

// AttachDocument sets the document draft.
func (s *OnboardingServer) AttachDocument(ctx context.Context, req *AttachDocumentRequest) (*SessionResponse, error) {
	if err := validateRequired(req.Name, "name"); err != nil {
		return nil, err
	}
	if limit := s.kernel.Config().MaxDocumentBytes; limit > 0 && len(req.Data) > limit {
		return nil, ResourceExhausted("document size", fmt.Sprintf("%d bytes", limit))
	}
	return s.act(ctx, "attach document", req.SessionID, func(w *wizard.Wizard) (bool, error) {
		return false, w.AttachDocument(req.Name, req.Data)
	})
}

// Confirm commits the current draft. Advanced is false when the draft does
// not satisfy the step.
func (s *OnboardingServer) Confirm(ctx context.Context, req *SessionRequest) (*SessionResponse, error) {
	return s.act(ctx, "confirm", req.SessionID, func(w *wizard.Wizard) (bool, error) {
		return w.Confirm(ctx)
	})
}

// Skip leaves the document or review step without a value.
func (s *OnboardingServer) Skip(ctx context.Context, req *SessionRequest) (*SessionResponse, error) {
	return s.act(ctx, "skip", req.SessionID, func(w *wizard.Wizard) (bool, error) {
		return w.Skip(ctx)
	})
}

// =============================================================================
// Helpers
// =============================================================================

func (s *OnboardingServer) act(
	ctx context.Context,
	operation, sessionID string,
	fn func(*wizard.Wizard) (bool, error),
) (*SessionResponse, error) {
	w, err := s.authorize(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	advanced, err := fn(w)
	if err != nil {
		return nil, toStatus(operation, sessionID, err)
	}
	if advanced {
		s.logger.Debug("session_advanced", "session_id", sessionID, "operation", operation, "step", w.Step().String())
	}
	return &SessionResponse{Session: w.Snapshot(), Advanced: advanced}, nil
}

func (s *OnboardingServer) authorize(ctx context.Context, sessionID string) (*wizard.Wizard, error) {
	if err := validateRequired(sessionID, "session_id"); err != nil {
		return nil, err
	}
	w, err := s.kernel.Authorize(ctx, tokenFromContext(ctx), sessionID)
	if err != nil {
		setRedirectTrailer(ctx, err)
		return nil, toStatus("authorize", sessionID, err)
	}
	return w, nil
}

// tokenFromContext reads the token from incoming metadata. A "Bearer "
// prefix is optional.
func tokenFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(TokenMetadataKey)
	if len(values) == 0 {
		return ""
	}
	token := strings.TrimSpace(values[0])
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}

func setRedirectTrailer(ctx context.Context, err error) {
	var redirect *kernel.RedirectError
	if errors.As(err, &redirect) {
		_ = grpc.SetTrailer(ctx, metadata.Pairs(RedirectMetadataKey, redirect.Target))
	}
}

// =============================================================================
// Graceful Server
// =============================================================================

// GracefulServer wraps a gRPC server with graceful shutdown support.
// It listens for context cancellation and shuts down cleanly.
type GracefulServer struct {
	grpcServer *grpc.Server
	logger     Logger
	address    string
	listener   net.Listener
	shutdownMu sync.Mutex
	isShutdown bool
}

// NewGracefulServer creates a new GracefulServer with interceptors.
func NewGracefulServer(service *OnboardingServer, address string, opts ...grpc.ServerOption) (*GracefulServer, error) {
	if service == nil {
		return nil, errors.New("onboarding service is required")
	}
	if len(opts) == 0 {
		opts = ServerOptions(service.logger)
	}

	grpcServer := grpc.NewServer(opts...)
	RegisterOnboardingServiceServer(grpcServer, service)

	return &GracefulServer{
		grpcServer: grpcServer,
		logger:     service.logger,
		address:    address,
	}, nil
}

// Start starts the server and blocks until ctx is cancelled.
// When ctx is cancelled, it performs graceful shutdown.
func (s *GracefulServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled.
func (s *GracefulServer) Serve(ctx context.Context, lis net.Listener) error {
	s.listener = lis
	s.logger.Info("grpc_graceful_server_started",
		"address", lis.Addr().String(),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("grpc_graceful_shutdown_initiated",
			"reason", ctx.Err().Error(),
		)
		s.GracefulStop()
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

// GracefulStop gracefully stops the server.
// It stops accepting new connections and waits for existing ones to complete.
func (s *GracefulServer) GracefulStop() {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()

	if s.isShutdown {
		return
	}
	s.isShutdown = true

	s.logger.Info("grpc_graceful_stop_started")
	s.grpcServer.GracefulStop()
	s.logger.Info("grpc_graceful_stop_completed")
}

// ShutdownWithTimeout performs graceful shutdown with a timeout.
// If shutdown doesn't complete within timeout, it forces an immediate stop.
func (s *GracefulServer) ShutdownWithTimeout(timeout time.Duration) {
	done := make(chan struct{})

	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(timeout):
		s.logger.Warn("grpc_graceful_shutdown_timeout",
			"timeout_ms", timeout.Milliseconds(),
		)
		s.grpcServer.Stop()
	}
}

// GetGRPCServer returns the underlying grpc.Server.
func (s *GracefulServer) GetGRPCServer() *grpc.Server {
	return s.grpcServer
}

// Address returns the configured listen address.
func (s *GracefulServer) Address() string {
	return s.address
}
