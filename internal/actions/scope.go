package actions

import (
	"encoding/json"
	"maps"

	"github.com/pixil98/go-quest/internal/game"
)

// Scope is the view an action has of the session while its set runs.
// Reads see the session as it was plus earlier writes from the same scope.
type Scope struct {
	game    *game.Game
	current *game.GameState
	base    map[string]json.RawMessage

	transitions int
	writes      map[string]json.RawMessage
	events      []Event
}

func newScope(g *game.Game, current *game.GameState, vars map[string]json.RawMessage) *Scope {
	return &Scope{
		game:    g,
		current: current,
		base:    vars,
		writes:  map[string]json.RawMessage{},
	}
}

func (s *Scope) Game() *game.Game {
	return s.game
}

// Current returns the state the session is in at this point of the set.
func (s *Scope) Current() *game.GameState {
	return s.current
}

func (s *Scope) Var(name string) (json.RawMessage, bool) {
	if v, ok := s.writes[name]; ok {
		return v, true
	}
	v, ok := s.base[name]
	return v, ok
}

// GoTo records a transition to a state of the active game.
func (s *Scope) GoTo(stateId string) error {
	st := s.game.State(stateId)
	if st == nil {
		return game.Configurationf("game %s has no state %q", s.game.Name(), stateId)
	}
	s.current = st
	s.transitions++
	return nil
}

func (s *Scope) SetVar(name string, v json.RawMessage) {
	s.writes[name] = v
}

func (s *Scope) Emit(e Event) {
	s.events = append(s.events, e)
}

func (s *Scope) outcome() *Outcome {
	o := &Outcome{
		Events: s.events,
		Vars:   maps.Clone(s.writes),
	}
	if s.transitions > 0 {
		o.Transitioned = true
		o.NewGameState = s.current
	}
	if o.Events == nil {
		o.Events = []Event{}
	}
	return o
}
