package game

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pixil98/go-errors"
	"github.com/pixil98/go-quest/internal/storage"
)

// Access controls who may open a game.
type Access string

const (
	AccessPublic    Access = "public"
	AccessProtected Access = "protected"
	AccessPrivate   Access = "private"
)

func (a Access) Valid() bool {
	switch a {
	case AccessPublic, AccessProtected, AccessPrivate:
		return true
	}
	return false
}

// Game is a published game definition. The asset id is the game's name.
type Game struct {
	DisplayName  string                `json:"display_name"`
	Access       Access                `json:"access"`
	InitialState string                `json:"initial_state"`
	States       map[string]*GameState `json:"states"`
	// Draft games load and validate but cannot be played.
	Draft bool `json:"draft,omitempty"`

	name  string
	order []string
}

func (g *Game) Validate() error {
	el := errors.NewErrorList()

	if !g.Access.Valid() {
		el.Add(fmt.Errorf("unknown access policy %q", g.Access))
	}
	if len(g.States) == 0 {
		el.Add(fmt.Errorf("at least one game state is required"))
	}
	if g.InitialState == "" {
		el.Add(fmt.Errorf("initial_state is required"))
	} else if _, ok := g.States[g.InitialState]; !ok {
		el.Add(fmt.Errorf("initial_state %q is not a state of this game", g.InitialState))
	}

	for id, st := range g.States {
		if !storage.Identifier(id).Valid() {
			el.Add(fmt.Errorf("state id %q must be alphanumeric", id))
		}
		if st == nil {
			el.Add(fmt.Errorf("state %q is empty", id))
			continue
		}
		if err := st.Validate(); err != nil {
			el.Add(fmt.Errorf("state %q: %w", id, err))
		}
	}

	return el.Err()
}

// Name returns the identifier the game was registered under.
func (g *Game) Name() string {
	return g.name
}

// State returns the named state, or nil when it is not part of this game.
func (g *Game) State(id string) *GameState {
	return g.States[id]
}

// StateIds lists the game's states in a stable order.
func (g *Game) StateIds() []string {
	return g.order
}

// bind records the game's registered name and back-links every state.
func (g *Game) bind(name string) {
	g.name = name
	g.order = make([]string, 0, len(g.States))
	for id, st := range g.States {
		st.id = id
		st.game = name
		g.order = append(g.order, id)
	}
	sort.Strings(g.order)
}

// GameState is one node of a game's state graph.
type GameState struct {
	Name       string          `json:"name,omitempty"`
	Layout     []Placement     `json:"layout"`
	ActionSets []ActionSetSpec `json:"action_sets"`

	id   string
	game string
}

func (s *GameState) Validate() error {
	el := errors.NewErrorList()

	for i := range s.Layout {
		if err := s.Layout[i].Component.Validate(); err != nil {
			el.Add(fmt.Errorf("layout %d: %w", i, err))
		}
	}
	for i := range s.ActionSets {
		if err := s.ActionSets[i].Validate(); err != nil {
			el.Add(fmt.Errorf("action set %d: %w", i, err))
		}
	}

	return el.Err()
}

// Id returns the state's key within its game.
func (s *GameState) Id() string {
	return s.id
}

// Ref returns the fully qualified reference to this state.
func (s *GameState) Ref() StateRef {
	return StateRef{Game: s.game, State: s.id}
}

// HasComponent reports whether the component is placed in this state's
// layout.
func (s *GameState) HasComponent(componentId string) bool {
	for _, p := range s.Layout {
		if p.Component.Id() == componentId {
			return true
		}
	}
	return false
}

// StateRef addresses a state by game and state id.
type StateRef struct {
	Game  string `json:"game"`
	State string `json:"state"`
}

func (r StateRef) String() string {
	return r.Game + "/" + r.State
}

// Geometry positions a component on the page. Values are CSS lengths and
// are passed through to the client untouched.
type Geometry struct {
	Left   string `json:"left,omitempty"`
	Top    string `json:"top,omitempty"`
	Right  string `json:"right,omitempty"`
	Bottom string `json:"bottom,omitempty"`
	Width  string `json:"width,omitempty"`
	Height string `json:"height,omitempty"`
}

// Placement puts a content component at a position in a state's layout.
type Placement struct {
	Geometry  Geometry                                  `json:"geometry"`
	Component storage.SmartIdentifier[*ContentComponent] `json:"component"`
}

// ActionSetSpec is the authored form of a group of actions the player can
// choose as one unit.
type ActionSetSpec struct {
	Concurrent bool         `json:"concurrent,omitempty"`
	Actions    []ActionSpec `json:"actions"`
}

// UnmarshalJSON accepts "async" as an alias for "concurrent".
func (a *ActionSetSpec) UnmarshalJSON(b []byte) error {
	type plain ActionSetSpec
	var raw struct {
		plain
		Async *bool `json:"async,omitempty"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*a = ActionSetSpec(raw.plain)
	if raw.Async != nil && *raw.Async {
		a.Concurrent = true
	}
	return nil
}

func (a *ActionSetSpec) Validate() error {
	el := errors.NewErrorList()
	for i, act := range a.Actions {
		if act.Kind == "" {
			el.Add(fmt.Errorf("action %d: kind is required", i))
		}
	}
	return el.Err()
}

// ActionSpec is the authored form of a single action. Params are validated
// by the factory registered for Kind.
type ActionSpec struct {
	Kind   string         `json:"kind"`
	Params map[string]any `json:"params,omitempty"`
}
