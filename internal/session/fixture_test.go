package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pixil98/go-quest/internal/actions"
	"github.com/pixil98/go-quest/internal/game"
	"github.com/pixil98/go-quest/internal/identity"
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

func set(concurrent bool, specs ...game.ActionSpec) game.ActionSetSpec {
	return game.ActionSetSpec{Concurrent: concurrent, Actions: specs}
}

func spec(kind string, params map[string]any) game.ActionSpec {
	return game.ActionSpec{Kind: kind, Params: params}
}

const (
	setGoMiddle = iota
	setMessageInactive
	setMessageAck
	setBlock
	setVisit
)

// testGames is:
//
//	quest (public):   start [banner] -> middle [banner, map] -> end [dialog]
//	members (protected) and secret (private): a single start state.
func testGames() (memStore[*game.Game], memStore[*game.ContentComponent]) {
	games := memStore[*game.Game]{
		"quest": {
			Access:       game.AccessPublic,
			InitialState: "start",
			States: map[string]*game.GameState{
				"start": {
					Layout: []game.Placement{place("banner")},
					ActionSets: []game.ActionSetSpec{
						setGoMiddle:        set(false, spec("goToGameState", map[string]any{"game_state": "middle"})),
						setMessageInactive: set(false, spec("messageContentComponent", map[string]any{"content_component": "dialog", "message": "hi"})),
						setMessageAck:      set(false, spec("messageContentComponent", map[string]any{"content_component": "banner", "message": map[string]any{"n": 1.0}, "wait_for_ack": true})),
						setBlock:           set(false, spec("block", nil)),
						setVisit: set(false,
							spec("setUserVar", map[string]any{"name": "visited", "value": true}),
							spec("goToGameState", map[string]any{"game_state": "middle"}),
						),
					},
				},
				"middle": {
					Layout:     []game.Placement{place("banner"), place("map")},
					ActionSets: []game.ActionSetSpec{set(false, spec("goToGameState", map[string]any{"game_state": "end"}))},
				},
				"end": {
					Layout: []game.Placement{place("dialog")},
				},
			},
		},
		"members": {
			Access:       game.AccessProtected,
			InitialState: "start",
			States:       map[string]*game.GameState{"start": {Layout: []game.Placement{place("banner")}}},
		},
		"secret": {
			Access:       game.AccessPrivate,
			InitialState: "start",
			States:       map[string]*game.GameState{"start": {Layout: []game.Placement{place("banner")}}},
		},
	}
	comps := memStore[*game.ContentComponent]{
		"banner": {Type: "basic-html", Vars: []byte(`{"html":"<b>hi</b>"}`)},
		"map":    {Type: "map", Data: []byte(`{"zoom":3}`)},
		"dialog": {Type: "dialog"},
	}
	return games, comps
}

// blockFactory builds actions that wait until released.
type blockFactory struct {
	started chan struct{}
	release chan struct{}
}

func (f *blockFactory) ValidateParams(map[string]any) error { return nil }
func (f *blockFactory) Create(map[string]any) (actions.Action, error) {
	return &blockAction{f: f}, nil
}

type blockAction struct {
	f *blockFactory
}

func (a *blockAction) Kind() string     { return "block" }
func (a *blockAction) Describe() string { return "block" }
func (a *blockAction) Apply(ctx context.Context, _ *actions.Scope) error {
	a.f.started <- struct{}{}
	select {
	case <-a.f.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// flakyStore wraps an identity store with injectable failures and delays.
type flakyStore struct {
	inner *identity.Store

	mu        sync.Mutex
	saveErr   error
	saveDelay time.Duration
	saving    chan struct{}
}

func (s *flakyStore) FindIdentityByToken(ctx context.Context, token string) (*identity.Identity, error) {
	return s.inner.FindIdentityByToken(ctx, token)
}

func (s *flakyStore) FindIdentityByTokenId(ctx context.Context, tokenId string) (*identity.Identity, error) {
	return s.inner.FindIdentityByTokenId(ctx, tokenId)
}

func (s *flakyStore) Save(ctx context.Context, id *identity.Identity) error {
	s.mu.Lock()
	err, delay, saving := s.saveErr, s.saveDelay, s.saving
	s.mu.Unlock()

	if saving != nil {
		saving <- struct{}{}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	return s.inner.Save(ctx, id)
}

func (s *flakyStore) set(f func(s *flakyStore)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(s)
}

type fixture struct {
	registry *Registry
	ids      *identity.Store
	store    *flakyStore
	block    *blockFactory
}

func newFixture(t *testing.T, opts ...RegistryOpt) *fixture {
	t.Helper()

	games, comps := testGames()
	catalog, err := game.NewCatalog(games, comps, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	block := &blockFactory{started: make(chan struct{}, 1), release: make(chan struct{})}
	reg := actions.NewRegistry()
	if err := reg.RegisterFactory("block", block); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lib, err := actions.NewLibrary(reg, catalog.Games())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	backend, err := identity.NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ids := identity.NewStore(backend)
	store := &flakyStore{inner: ids}

	r := NewRegistry(catalog, store, lib, opts...)
	t.Cleanup(r.closeAll)

	return &fixture{registry: r, ids: ids, store: store, block: block}
}

func (f *fixture) newToken(t *testing.T) string {
	t.Helper()
	id, err := f.ids.NewToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return id.Token.Token
}

// userToken returns a token logged in as a new user.
func (f *fixture) userToken(t *testing.T, username string, allowed ...string) string {
	t.Helper()
	ctx := context.Background()
	if err := f.ids.AddUser(ctx, &identity.User{Username: username, AllowedGames: allowed}, "pw"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	token := f.newToken(t)
	if _, err := f.ids.Login(ctx, token, username, "pw"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return token
}

func (f *fixture) ready(t *testing.T, token, gameName string) *Engine {
	t.Helper()
	e := f.registry.Open(context.Background())
	r := e.Handshake(context.Background(), ReadyRequest{IdentityToken: token, GameIdentifier: gameName})
	if r.Err != nil {
		t.Fatalf("handshake failed: %v", r.Err)
	}
	return e
}

func (f *fixture) storedSession(t *testing.T, token, gameName string) (identity.SessionState, bool) {
	t.Helper()
	id, err := f.ids.FindIdentityByToken(context.Background(), token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return id.SessionState(gameName)
}

func componentIds(layout []LayoutEntry) string {
	ids := ""
	for i, l := range layout {
		if i > 0 {
			ids += ","
		}
		ids += l.ComponentId
	}
	return ids
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
