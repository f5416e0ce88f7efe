package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// MessageContentComponentFactory creates actions that send a message to a
// content component on the client.
// Params:
//   - content_component (required): id of the receiving component
//   - message (required): any JSON value, delivered as-is
//   - wait_for_ack (optional): hold later events until the client acks
type MessageContentComponentFactory struct{}

func (f *MessageContentComponentFactory) ValidateParams(params map[string]any) error {
	if _, err := stringParam(params, "content_component"); err != nil {
		return err
	}
	if _, ok := params["message"]; !ok {
		return fmt.Errorf("message is required")
	}
	_, err := boolParam(params, "wait_for_ack")
	return err
}

func (f *MessageContentComponentFactory) Create(params map[string]any) (Action, error) {
	ref, err := stringParam(params, "content_component")
	if err != nil {
		return nil, err
	}
	msg, err := json.Marshal(params["message"])
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	wait, err := boolParam(params, "wait_for_ack")
	if err != nil {
		return nil, err
	}
	return &messageContentComponent{ref: ref, message: msg, waitForAck: wait}, nil
}

type messageContentComponent struct {
	ref        string
	message    json.RawMessage
	waitForAck bool
}

func (a *messageContentComponent) Kind() string {
	return KindMessageContentComponent
}

func (a *messageContentComponent) Describe() string {
	return fmt.Sprintf("message content component %s", a.ref)
}

// Apply emits the message only when the component is on screen in the state
// current at this point of the set. Otherwise the message is dropped.
func (a *messageContentComponent) Apply(ctx context.Context, s *Scope) error {
	if !s.Current().HasComponent(a.ref) {
		slog.DebugContext(ctx, "dropping message for inactive component",
			"component", a.ref, "state", s.Current().Ref().String())
		return nil
	}

	s.Emit(Event{
		EventName: KindMessageContentComponent,
		Payload: EventPayload{
			ContentComponentRef: a.ref,
			Message:             a.message,
		},
		WaitForAck: a.waitForAck,
	})
	return nil
}
