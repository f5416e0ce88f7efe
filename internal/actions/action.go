package actions

import (
	"context"
	"encoding/json"

	"github.com/pixil98/go-quest/internal/game"
)

// Action is one compiled step of an action set.
type Action interface {
	Kind() string
	// Describe returns a short human readable summary for logs.
	Describe() string
	// Apply records the action's effects on s. Effects only reach the
	// session once the whole set has succeeded.
	Apply(ctx context.Context, s *Scope) error
}

// Factory builds actions of one kind from authored params.
type Factory interface {
	// ValidateParams checks that params carry the fields the kind needs.
	ValidateParams(params map[string]any) error
	// Create builds an action from validated params.
	Create(params map[string]any) (Action, error)
}

// GameValidator is implemented by actions whose params refer to other parts
// of the owning game. It runs once when the game is compiled.
type GameValidator interface {
	ValidateIn(g *game.Game) error
}

// Event is a message for a content component on the client.
type Event struct {
	EventName  string       `json:"eventName"`
	Payload    EventPayload `json:"payload"`
	WaitForAck bool         `json:"waitForAck"`
}

type EventPayload struct {
	ContentComponentRef string          `json:"contentComponentRef"`
	Message             json.RawMessage `json:"message"`
}

// Outcome is the aggregate result of running an action set.
type Outcome struct {
	Transitioned bool
	NewGameState *game.GameState
	Events       []Event
	// Vars holds user variable writes to apply to the session.
	Vars map[string]json.RawMessage
}

// Mutated reports whether the session must be persisted.
func (o *Outcome) Mutated() bool {
	return o.Transitioned || len(o.Vars) > 0
}
