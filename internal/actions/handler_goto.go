package actions

import (
	"context"
	"fmt"

	"github.com/pixil98/go-quest/internal/game"
)

// GoToGameStateFactory creates actions that move the session to another
// state of the same game.
// Params:
//   - game_state (required): id of the target state
type GoToGameStateFactory struct{}

func (f *GoToGameStateFactory) ValidateParams(params map[string]any) error {
	_, err := stringParam(params, "game_state")
	return err
}

func (f *GoToGameStateFactory) Create(params map[string]any) (Action, error) {
	target, err := stringParam(params, "game_state")
	if err != nil {
		return nil, err
	}
	return &goToGameState{target: target}, nil
}

type goToGameState struct {
	target string
}

func (a *goToGameState) Kind() string {
	return KindGoToGameState
}

func (a *goToGameState) Describe() string {
	return fmt.Sprintf("go to game state %s", a.target)
}

func (a *goToGameState) ValidateIn(g *game.Game) error {
	if g.State(a.target) == nil {
		return fmt.Errorf("target state %q is not part of game %s", a.target, g.Name())
	}
	return nil
}

func (a *goToGameState) Apply(_ context.Context, s *Scope) error {
	return s.GoTo(a.target)
}
