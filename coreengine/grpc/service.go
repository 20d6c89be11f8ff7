package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/jeeves-cluster-organization/onboarding/coreengine/session"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/wizard"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "onboarding.v1.OnboardingService"

// TokenMetadataKey carries the caller's identity token.
const TokenMetadataKey = "authorization"

// RedirectMetadataKey is set in the trailer when the caller must navigate
// elsewhere (login).
const RedirectMetadataKey = "x-redirect-to"

// =============================================================================
// MESSAGES
// =============================================================================

// StartSessionRequest starts a session for the token in metadata.
type StartSessionRequest struct{}

// SessionRequest addresses an existing session.
type SessionRequest struct {
	SessionID string `json:"session_id"`
}

// SelectOptionRequest picks a goal, industry, or review platform option.
type SelectOptionRequest struct {
	SessionID string `json:"session_id"`
	Option    string `json:"option"`
}

// ChooseBranchRequest answers the Phase A question of steps 2 and 4.
type ChooseBranchRequest struct {
	SessionID string             `json:"session_id"`
	Mode      session.BranchMode `json:"mode"`
}

// UpdateDraftRequest edits a draft value of the current step.
type UpdateDraftRequest struct {
	SessionID string            `json:"session_id"`
	Field     wizard.DraftField `json:"field"`
	Value     string            `json:"value"`
}

// AttachDocumentRequest sets the document draft of step 6.
type AttachDocumentRequest struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
	Data      []byte `json:"data"`
}

// WaitIdleRequest blocks until input is ready, up to TimeoutMS.
type WaitIdleRequest struct {
	SessionID string `json:"session_id"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
}

// SessionResponse is returned by every session RPC.
type SessionResponse struct {
	Session wizard.Snapshot `json:"session"`
	// Advanced reports whether the call moved the script forward.
	Advanced bool `json:"advanced"`
}

// DiscardSessionResponse acknowledges a discard.
type DiscardSessionResponse struct {
	SessionID string `json:"session_id"`
}

// =============================================================================
// SERVICE DEFINITION
// =============================================================================

// OnboardingServiceServer is the server API for OnboardingService.
type OnboardingServiceServer interface {
	StartSession(context.Context, *StartSessionRequest) (*SessionResponse, error)
	GetSession(context.Context, *SessionRequest) (*SessionResponse, error)
	SelectOption(context.Context, *SelectOptionRequest) (*SessionResponse, error)
	ChooseBranch(context.Context, *ChooseBranchRequest) (*SessionResponse, error)
	UpdateDraft(context.Context, *UpdateDraftRequest) (*SessionResponse, error)
	AttachDocument(context.Context, *AttachDocumentRequest) (*SessionResponse, error)
	Confirm(context.Context, *SessionRequest) (*SessionResponse, error)
	Skip(context.Context, *SessionRequest) (*SessionResponse, error)
	WaitIdle(context.Context, *WaitIdleRequest) (*SessionResponse, error)
	DiscardSession(context.Context, *SessionRequest) (*DiscardSessionResponse, error)
}

func unaryMethod[Req, Resp any](
	name string,
	call func(OnboardingServiceServer, context.Context, *Req) (*Resp, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(OnboardingServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(OnboardingServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes OnboardingService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OnboardingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("StartSession", OnboardingServiceServer.StartSession),
		unaryMethod("GetSession", OnboardingServiceServer.GetSession),
		unaryMethod("SelectOption", OnboardingServiceServer.SelectOption),
		unaryMethod("ChooseBranch", OnboardingServiceServer.ChooseBranch),
		unaryMethod("UpdateDraft", OnboardingServiceServer.UpdateDraft),
		unaryMethod("AttachDocument", OnboardingServiceServer.AttachDocument),
		unaryMethod("Confirm", OnboardingServiceServer.Confirm),
		unaryMethod("Skip", OnboardingServiceServer.Skip),
		unaryMethod("WaitIdle", OnboardingServiceServer.WaitIdle),
		unaryMethod("DiscardSession", OnboardingServiceServer.DiscardSession),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "onboarding/v1/onboarding.json",
}

// RegisterOnboardingServiceServer registers srv on s.
func RegisterOnboardingServiceServer(s grpc.ServiceRegistrar, srv OnboardingServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// =============================================================================
// CLIENT
// =============================================================================

// Client calls OnboardingService with the JSON codec and a bearer token.
type Client struct {
	cc    grpc.ClientConnInterface
	token string
}

// NewClient wraps an existing connection.
func NewClient(cc grpc.ClientConnInterface, token string) *Client {
	return &Client{cc: cc, token: token}
}

// Dial opens an insecure connection to address and returns a client and
// the connection to close.
func Dial(address, token string, opts ...grpc.DialOption) (*Client, *grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return nil, nil, err
	}
	return NewClient(conn, token), conn, nil
}

func (c *Client) invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, TokenMetadataKey, c.token)
	}
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...)
}

func invokeAs[Resp any](ctx context.Context, c *Client, method string, in any, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := c.invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// StartSession starts a session. Pass grpc.Trailer to read RedirectMetadataKey
// on an Unauthenticated error.
func (c *Client) StartSession(ctx context.Context, opts ...grpc.CallOption) (*SessionResponse, error) {
	return invokeAs[SessionResponse](ctx, c, "StartSession", &StartSessionRequest{}, opts...)
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (*SessionResponse, error) {
	return invokeAs[SessionResponse](ctx, c, "GetSession", &SessionRequest{SessionID: sessionID})
}

func (c *Client) SelectOption(ctx context.Context, sessionID, option string) (*SessionResponse, error) {
	return invokeAs[SessionResponse](ctx, c, "SelectOption", &SelectOptionRequest{SessionID: sessionID, Option: option})
}

func (c *Client) ChooseBranch(ctx context.Context, sessionID string, mode session.BranchMode) (*SessionResponse, error) {
	return invokeAs[SessionResponse](ctx, c, "ChooseBranch", &ChooseBranchRequest{SessionID: sessionID, Mode: mode})
}

func (c *Client) UpdateDraft(ctx context.Context, sessionID string, field wizard.DraftField, value string) (*SessionResponse, error) {
	return invokeAs[SessionResponse](ctx, c, "UpdateDraft", &UpdateDraftRequest{SessionID: sessionID, Field: field, Value: value})
}

func (c *Client) AttachDocument(ctx context.Context, sessionID, name string, data []byte) (*SessionResponse, error) {
	return invokeAs[SessionResponse](ctx, c, "AttachDocument", &AttachDocumentRequest{SessionID: sessionID, Name: name, Data: data})
}

func (c *Client) Confirm(ctx context.Context, sessionID string) (*SessionResponse, error) {
	return invokeAs[SessionResponse](ctx, c, "Confirm", &SessionRequest{SessionID: sessionID})
}

func (c *Client) Skip(ctx context.Context, sessionID string) (*SessionResponse, error) {
	return invokeAs[SessionResponse](ctx, c, "Skip", &SessionRequest{SessionID: sessionID})
}

func (c *Client) WaitIdle(ctx context.Context, sessionID string, timeoutMS int) (*SessionResponse, error) {
	return invokeAs[SessionResponse](ctx, c, "WaitIdle", &WaitIdleRequest{SessionID: sessionID, TimeoutMS: timeoutMS})
}

func (c *Client) DiscardSession(ctx context.Context, sessionID string) (*DiscardSessionResponse, error) {
	return invokeAs[DiscardSessionResponse](ctx, c, "DiscardSession", &SessionRequest{SessionID: sessionID})
}
