package game

import (
	"context"
	"fmt"

	"github.com/pixil98/go-errors"
	"github.com/pixil98/go-quest/internal/storage"
)

// ComponentTypes reports which content component types can be displayed.
type ComponentTypes interface {
	Known(componentType string) bool
}

// Catalog is the read-mostly store of game definitions and the content
// components their layouts reference.
type Catalog struct {
	games      storage.Storer[*Game]
	components storage.Storer[*ContentComponent]
}

// NewCatalog wires the stores together and resolves every reference.
func NewCatalog(games storage.Storer[*Game], components storage.Storer[*ContentComponent], types ComponentTypes) (*Catalog, error) {
	c := &Catalog{
		games:      games,
		components: components,
	}

	if err := c.resolve(types); err != nil {
		return nil, fmt.Errorf("resolving catalog: %w", err)
	}

	return c, nil
}

func (c *Catalog) resolve(types ComponentTypes) error {
	el := errors.NewErrorList()

	for id, comp := range c.components.GetAll() {
		if types != nil && !types.Known(comp.Type) {
			el.Add(fmt.Errorf("component %s: unknown type %q", id, comp.Type))
		}
	}

	for name, g := range c.games.GetAll() {
		g.bind(name)
		for _, stateId := range g.StateIds() {
			st := g.States[stateId]
			for i := range st.Layout {
				if err := st.Layout[i].Component.Resolve(c.components); err != nil {
					el.Add(fmt.Errorf("game %s state %s layout %d: %w", name, stateId, i, err))
				}
			}
		}
	}

	return el.Err()
}

// FindGameByName returns a playable game.
func (c *Catalog) FindGameByName(_ context.Context, name string) (*Game, error) {
	g := c.games.Get(name)
	if g == nil || g.Draft {
		return nil, Wrap(ErrInvalidGame, fmt.Errorf("game %q not found", name))
	}
	return g, nil
}

// ResolveGameState returns the state addressed by ref.
func (c *Catalog) ResolveGameState(ctx context.Context, ref StateRef) (*GameState, error) {
	g, err := c.FindGameByName(ctx, ref.Game)
	if err != nil {
		return nil, err
	}
	st := g.State(ref.State)
	if st == nil {
		return nil, Wrap(ErrUnknownGameState, fmt.Errorf("state %s not found", ref))
	}
	return st, nil
}

// Component returns a content component by id.
func (c *Catalog) Component(id string) (*ContentComponent, error) {
	comp := c.components.Get(id)
	if comp == nil {
		return nil, Wrap(ErrUnknownComponent, fmt.Errorf("component %q not found", id))
	}
	return comp, nil
}

// Games returns every loaded game, drafts included.
func (c *Catalog) Games() map[string]*Game {
	return c.games.GetAll()
}
