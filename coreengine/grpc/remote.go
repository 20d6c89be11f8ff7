package grpc

import (
	"context"
	"fmt"

	"github.com/jeeves-cluster-organization/onboarding/coreengine/session"
	"github.com/jeeves-cluster-organization/onboarding/coreengine/wizard"
)

// RemoteSession drives one served session with wizard actions.
type RemoteSession struct {
	client *Client
	id     string
}

// Session binds the client to sessionID.
func (c *Client) Session(sessionID string) *RemoteSession {
	return &RemoteSession{client: c, id: sessionID}
}

// ID returns the session id.
func (r *RemoteSession) ID() string { return r.id }

// Snapshot fetches the current view.
func (r *RemoteSession) Snapshot(ctx context.Context) (wizard.Snapshot, error) {
	resp, err := r.client.GetSession(ctx, r.id)
	if err != nil {
		return wizard.Snapshot{}, err
	}
	return resp.Session, nil
}

// Apply maps a onto the matching RPC and reports whether the step advanced.
func (r *RemoteSession) Apply(ctx context.Context, a wizard.Action) (bool, error) {
	var (
		resp *SessionResponse
		err  error
	)
	switch a.Kind {
	case wizard.ActionSelectOption:
		resp, err = r.client.SelectOption(ctx, r.id, a.Value)
	case wizard.ActionUseExisting:
		resp, err = r.client.ChooseBranch(ctx, r.id, session.BranchUseExisting)
	case wizard.ActionOverride:
		resp, err = r.client.ChooseBranch(ctx, r.id, session.BranchOverride)
	case wizard.ActionUpdateDraft:
		resp, err = r.client.UpdateDraft(ctx, r.id, a.Field, a.Value)
	case wizard.ActionAttachDocument:
		resp, err = r.client.AttachDocument(ctx, r.id, a.DocumentName, a.DocumentData)
	case wizard.ActionConfirm:
		resp, err = r.client.Confirm(ctx, r.id)
	case wizard.ActionSkip:
		resp, err = r.client.Skip(ctx, r.id)
	default:
		return false, fmt.Errorf("unknown action %q", a.Kind)
	}
	if err != nil {
		return false, err
	}
	return resp.Advanced, nil
}

// WaitIdle long-polls until input is ready or timeoutMS elapses.
func (r *RemoteSession) WaitIdle(ctx context.Context, timeoutMS int) (wizard.Snapshot, error) {
	resp, err := r.client.WaitIdle(ctx, r.id, timeoutMS)
	if err != nil {
		return wizard.Snapshot{}, err
	}
	return resp.Session, nil
}

// Discard tells the server the client navigated away.
func (r *RemoteSession) Discard(ctx context.Context) error {
	_, err := r.client.DiscardSession(ctx, r.id)
	return err
}
