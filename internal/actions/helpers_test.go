package actions

import (
	"context"
	"errors"
	"testing"

	"github.com/pixil98/go-quest/internal/game"
	"github.com/pixil98/go-quest/internal/storage"
)

type memStore[T storage.ValidatingSpec] map[string]T

func (m memStore[T]) Save(id string, o T) error { m[id] = o; return nil }
func (m memStore[T]) Get(id string) T           { return m[id] }
func (m memStore[T]) GetAll() map[string]T {
	out := make(map[string]T, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func place(id string) game.Placement {
	return game.Placement{Component: storage.NewSmartIdentifier[*game.ContentComponent](id)}
}

func act(kind string, params map[string]any) game.ActionSpec {
	return game.ActionSpec{Kind: kind, Params: params}
}

func goTo(state string) game.ActionSpec {
	return act(KindGoToGameState, map[string]any{"game_state": state})
}

func message(component string, msg any) game.ActionSpec {
	return act(KindMessageContentComponent, map[string]any{"content_component": component, "message": msg})
}

// testGames builds a catalog with one game:
//
//	start (banner) --0--> middle (banner, map) --0--> end (dialog)
func testGames(t *testing.T, extra map[string]*game.GameState) *game.Game {
	t.Helper()

	states := map[string]*game.GameState{
		"start": {
			Layout:     []game.Placement{place("banner")},
			ActionSets: []game.ActionSetSpec{{Actions: []game.ActionSpec{goTo("middle")}}},
		},
		"middle": {
			Layout:     []game.Placement{place("banner"), place("map")},
			ActionSets: []game.ActionSetSpec{{Actions: []game.ActionSpec{goTo("end")}}},
		},
		"end": {
			Layout: []game.Placement{place("dialog")},
		},
	}
	for id, st := range extra {
		states[id] = st
	}

	games := memStore[*game.Game]{
		"quest": {Access: game.AccessPublic, InitialState: "start", States: states},
	}
	comps := memStore[*game.ContentComponent]{
		"banner": {Type: "basic-html"},
		"map":    {Type: "map"},
		"dialog": {Type: "dialog"},
	}

	c, err := game.NewCatalog(games, comps, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g, err := c.FindGameByName(context.Background(), "quest")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return g
}

// failing is an action kind that always errors.
type failing struct{}

func (failing) Kind() string     { return "fail" }
func (failing) Describe() string { return "fail" }
func (failing) Apply(context.Context, *Scope) error {
	return errors.New("boom")
}

type failingFactory struct{}

func (failingFactory) ValidateParams(map[string]any) error   { return nil }
func (failingFactory) Create(map[string]any) (Action, error) { return failing{}, nil }
