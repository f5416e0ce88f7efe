package actions

import (
	"fmt"

	"github.com/pixil98/go-errors"
	"github.com/pixil98/go-quest/internal/game"
)

// Library holds the compiled action sets of every loaded game, keyed by
// the state that offers them.
type Library struct {
	sets map[game.StateRef][]*Set
}

// NewLibrary compiles the action sets of games. Any unknown kind, invalid
// params or cross-game reference fails the whole load.
func NewLibrary(r *Registry, games map[string]*game.Game) (*Library, error) {
	l := &Library{sets: map[game.StateRef][]*Set{}}
	el := errors.NewErrorList()

	for name, g := range games {
		for _, stateId := range g.StateIds() {
			st := g.State(stateId)
			sets, err := compileState(r, g, st)
			if err != nil {
				el.Add(fmt.Errorf("game %s state %s: %w", name, stateId, err))
				continue
			}
			l.sets[st.Ref()] = sets
		}
	}

	if err := el.Err(); err != nil {
		return nil, err
	}
	return l, nil
}

func compileState(r *Registry, g *game.Game, st *game.GameState) ([]*Set, error) {
	sets := make([]*Set, 0, len(st.ActionSets))
	for i, spec := range st.ActionSets {
		set := &Set{
			Concurrent: spec.Concurrent,
			Actions:    make([]Action, 0, len(spec.Actions)),
		}
		for j, as := range spec.Actions {
			a, err := r.Compile(as)
			if err != nil {
				return nil, fmt.Errorf("action set %d action %d: %w", i, j, err)
			}
			if v, ok := a.(GameValidator); ok {
				if err := v.ValidateIn(g); err != nil {
					return nil, fmt.Errorf("action set %d action %d: %w", i, j, err)
				}
			}
			set.Actions = append(set.Actions, a)
		}
		sets = append(sets, set)
	}
	return sets, nil
}

// Lookup returns the index'th action set offered by the state at ref.
func (l *Library) Lookup(ref game.StateRef, index int) (*Set, error) {
	sets, ok := l.sets[ref]
	if !ok {
		return nil, game.Wrap(game.ErrUnknownGameState, fmt.Errorf("state %s has no compiled action sets", ref))
	}
	if index < 0 || index >= len(sets) {
		return nil, game.Wrap(game.ErrInvalidActionSet, fmt.Errorf("state %s has %d action sets, requested %d", ref, len(sets), index))
	}
	return sets[index], nil
}
