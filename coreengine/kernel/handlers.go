package kernel

import (
	"context"
	"fmt"

	"github.com/jeeves-cluster-organization/onboarding/commbus"
)

// RegisterHandlers exposes the registry on the bus: the GetSessionStatus
// query and the DiscardSession command.
func (k *Kernel) RegisterHandlers(bus commbus.CommBus) error {
	if err := bus.RegisterHandler("GetSessionStatus", k.handleGetSessionStatus); err != nil {
		return err
	}
	return bus.RegisterHandler("DiscardSession", k.handleDiscardSession)
}

func (k *Kernel) handleGetSessionStatus(ctx context.Context, msg commbus.Message) (any, error) {
	q, ok := msg.(*commbus.GetSessionStatus)
	if !ok {
		return nil, fmt.Errorf("unexpected message %T", msg)
	}
	w, err := k.Session(q.SessionID)
	if err != nil {
		return &commbus.SessionStatusResponse{SessionID: q.SessionID}, nil
	}
	step := w.Step()
	return &commbus.SessionStatusResponse{
		SessionID: q.SessionID,
		UserID:    w.UserID(),
		Step:      int(step),
		Done:      step.IsTerminal(),
		Found:     true,
	}, nil
}

func (k *Kernel) handleDiscardSession(ctx context.Context, msg commbus.Message) (any, error) {
	cmd, ok := msg.(*commbus.DiscardSession)
	if !ok {
		return nil, fmt.Errorf("unexpected message %T", msg)
	}
	reason := cmd.Reason
	if reason == "" {
		reason = ReasonClient
	}
	return nil, k.Discard(ctx, cmd.SessionID, reason)
}
