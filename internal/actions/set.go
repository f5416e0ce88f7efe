package actions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pixil98/go-quest/internal/game"
	"golang.org/x/sync/errgroup"
)

// Set is a compiled action set.
type Set struct {
	Concurrent bool
	Actions    []Action
}

// Execute runs the set against the session's current state and variables.
// vars is only read. On error the returned outcome is nil and nothing the
// actions recorded should be applied.
func (s *Set) Execute(ctx context.Context, g *game.Game, current *game.GameState, vars map[string]json.RawMessage) (*Outcome, error) {
	if s.Concurrent {
		return s.executeConcurrent(ctx, g, current, vars)
	}
	return s.executeSequential(ctx, g, current, vars)
}

// executeSequential runs actions in order on one scope. Later transitions
// replace earlier ones and events accumulate in order.
func (s *Set) executeSequential(ctx context.Context, g *game.Game, current *game.GameState, vars map[string]json.RawMessage) (*Outcome, error) {
	scope := newScope(g, current, vars)
	for i, a := range s.Actions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := a.Apply(ctx, scope); err != nil {
			return nil, fmt.Errorf("action %d (%s): %w", i, a.Describe(), err)
		}
	}
	return scope.outcome(), nil
}

// executeConcurrent runs every action against its own snapshot of the
// session. Events and variable writes are merged in action order. More than
// one transition cannot be resolved and is reported as a configuration
// error.
func (s *Set) executeConcurrent(ctx context.Context, g *game.Game, current *game.GameState, vars map[string]json.RawMessage) (*Outcome, error) {
	scopes := make([]*Scope, len(s.Actions))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, a := range s.Actions {
		scopes[i] = newScope(g, current, vars)
		eg.Go(func() error {
			if err := a.Apply(egCtx, scopes[i]); err != nil {
				return fmt.Errorf("action %d (%s): %w", i, a.Describe(), err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	out := &Outcome{
		Events: []Event{},
		Vars:   map[string]json.RawMessage{},
	}
	transitions := 0
	for _, sc := range scopes {
		o := sc.outcome()
		if o.Transitioned {
			transitions++
			out.Transitioned = true
			out.NewGameState = o.NewGameState
		}
		out.Events = append(out.Events, o.Events...)
		for k, v := range o.Vars {
			out.Vars[k] = v
		}
	}
	if transitions > 1 {
		return nil, game.Configurationf("concurrent action set in %s requested %d transitions", current.Ref(), transitions)
	}
	return out, nil
}
