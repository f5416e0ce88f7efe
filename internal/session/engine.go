package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pixil98/go-quest/internal/actions"
	"github.com/pixil98/go-quest/internal/game"
	"github.com/pixil98/go-quest/internal/identity"
)

// GameStore looks up published games.
type GameStore interface {
	FindGameByName(ctx context.Context, name string) (*game.Game, error)
	ResolveGameState(ctx context.Context, ref game.StateRef) (*game.GameState, error)
}

// IdentityStore resolves tokens and persists identities.
type IdentityStore interface {
	FindIdentityByToken(ctx context.Context, token string) (*identity.Identity, error)
	FindIdentityByTokenId(ctx context.Context, tokenId string) (*identity.Identity, error)
	Save(ctx context.Context, id *identity.Identity) error
}

// ActionLibrary returns the compiled action sets offered by a state.
type ActionLibrary interface {
	Lookup(ref game.StateRef, index int) (*actions.Set, error)
}

// State is the lifecycle position of an Engine.
type State int32

const (
	StateUnauthenticated State = iota
	StateHandshaking
	StateActive
	StateTransitioning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateTransitioning:
		return "transitioning"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type request struct {
	typ   RequestType
	op    func() Reply
	reply chan Reply
}

// Engine serves one client connection. Requests are handled one at a time,
// in arrival order, by a single goroutine that owns the session state.
type Engine struct {
	id       string
	registry *Registry

	ctx    context.Context
	cancel context.CancelFunc

	inbox   chan *request
	pushes  chan Push
	closed  chan struct{}
	stopped chan struct{}

	mu       sync.Mutex
	isClosed bool

	state      atomic.Int32
	choosing   atomic.Bool
	created    time.Time
	lastActive atomic.Int64

	// Owned by the run goroutine after a successful handshake. The token is
	// kept by id since its value may be rotated while the session is live.
	tokenId  string
	identity *identity.Identity
	game     *game.Game
	session  identity.SessionState
}

func newEngine(ctx context.Context, id string, r *Registry) *Engine {
	ctx, cancel := context.WithCancel(ctx)
	e := &Engine{
		id:       id,
		registry: r,
		ctx:      ctx,
		cancel:   cancel,
		inbox:    make(chan *request, r.queueSize),
		pushes:   make(chan Push, r.queueSize),
		closed:   make(chan struct{}),
		stopped:  make(chan struct{}),
		created:  r.now(),
	}
	e.lastActive.Store(e.created.UnixNano())
	e.state.Store(int32(StateUnauthenticated))
	return e
}

// Id returns the connection id the engine is registered under.
func (e *Engine) Id() string {
	return e.id
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// transition moves from one state to another unless the engine has moved on,
// typically by being closed.
func (e *Engine) transition(from, to State) bool {
	return e.state.CompareAndSwap(int32(from), int32(to))
}

// Pushes delivers messages the server sends without a request.
func (e *Engine) Pushes() <-chan Push {
	return e.pushes
}

// Done is closed once the engine has been closed.
func (e *Engine) Done() <-chan struct{} {
	return e.closed
}

// Close moves the engine to Closed. A request already being handled runs to
// completion but its reply reports closed; queued requests are answered
// with closed.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.isClosed {
		e.mu.Unlock()
		return
	}
	e.isClosed = true
	e.setState(StateClosed)
	close(e.closed)
	e.mu.Unlock()

	e.cancel()
	e.registry.release(e)
}

// evict notifies the client that another connection took the session over
// and closes the engine.
func (e *Engine) evict() {
	e.push(Push{Type: PushSessionEvicted})
	e.Close()
}

func (e *Engine) push(p Push) {
	select {
	case e.pushes <- p:
	default:
		slog.WarnContext(e.ctx, "dropping push for slow connection", "conn", e.id, "type", p.Type)
	}
}

func (e *Engine) touch() {
	e.lastActive.Store(e.registry.now().UnixNano())
}

func (e *Engine) idleSince() time.Time {
	return time.Unix(0, e.lastActive.Load())
}

func (e *Engine) run() {
	defer close(e.stopped)
	for {
		select {
		case <-e.closed:
			e.drain()
			return
		case req := <-e.inbox:
			r := req.op()
			if req.typ == RequestChooseActionSet {
				e.choosing.Store(false)
			}
			e.touch()
			if e.State() == StateClosed {
				r = Reply{Err: game.ErrClosed}
			}
			req.reply <- r
		}
	}
}

func (e *Engine) drain() {
	for {
		select {
		case req := <-e.inbox:
			req.reply <- Reply{Err: game.ErrClosed}
		default:
			return
		}
	}
}

// submit queues op and returns the channel its reply arrives on. A second
// chooseActionSet while one is queued or running is refused with busy.
func (e *Engine) submit(typ RequestType, op func() Reply) <-chan Reply {
	reply := make(chan Reply, 1)
	e.touch()

	if typ == RequestChooseActionSet && !e.choosing.CompareAndSwap(false, true) {
		reply <- Reply{Err: game.ErrBusy}
		return reply
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isClosed {
		reply <- Reply{Err: game.ErrClosed}
		return reply
	}

	select {
	case e.inbox <- &request{typ: typ, op: op, reply: reply}:
	default:
		if typ == RequestChooseActionSet {
			e.choosing.Store(false)
		}
		reply <- Reply{Err: game.ErrBusy}
	}
	return reply
}

// Dispatch decodes a wire request and queues it.
func (e *Engine) Dispatch(typ RequestType, data json.RawMessage) <-chan Reply {
	switch typ {
	case RequestReady:
		var req ReadyRequest
		if err := decode(data, &req); err != nil {
			return e.submit(typ, failed(err))
		}
		return e.submit(typ, func() Reply { return e.handshake(req) })

	case RequestGetUserVar:
		var req GetUserVarRequest
		if err := decode(data, &req); err != nil {
			return e.submit(typ, failed(err))
		}
		return e.submit(typ, func() Reply { return e.getUserVar(req.Name) })

	case RequestSetUserVar:
		var req SetUserVarRequest
		if err := decode(data, &req); err != nil {
			return e.submit(typ, failed(err))
		}
		return e.submit(typ, func() Reply { return e.setUserVar(req.Name, req.Value) })

	case RequestChooseActionSet:
		var req ChooseActionSetRequest
		if err := decode(data, &req); err != nil {
			return e.submit(typ, failed(err))
		}
		if req.ActionSetIndex == nil {
			return e.submit(typ, failed(game.Invalidf("actionSetIndex is required")))
		}
		index := *req.ActionSetIndex
		return e.submit(typ, func() Reply { return e.chooseActionSet(index) })
	}

	return e.submit(typ, failed(game.Invalidf("unknown request type %q", typ)))
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return game.Invalidf("request data is required")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return game.Wrap(game.ErrInvalidData, err)
	}
	return nil
}

func failed(err error) func() Reply {
	return func() Reply { return Reply{Err: err} }
}

func wait(ctx context.Context, ch <-chan Reply) Reply {
	select {
	case r := <-ch:
		return r
	case <-ctx.Done():
		return Reply{Err: ctx.Err()}
	}
}

// Handshake validates the token and game and loads the session.
func (e *Engine) Handshake(ctx context.Context, req ReadyRequest) Reply {
	return wait(ctx, e.submit(RequestReady, func() Reply { return e.handshake(req) }))
}

func (e *Engine) GetUserVar(ctx context.Context, name string) Reply {
	return wait(ctx, e.submit(RequestGetUserVar, func() Reply { return e.getUserVar(name) }))
}

func (e *Engine) SetUserVar(ctx context.Context, name string, value json.RawMessage) Reply {
	return wait(ctx, e.submit(RequestSetUserVar, func() Reply { return e.setUserVar(name, value) }))
}

func (e *Engine) ChooseActionSet(ctx context.Context, index int) Reply {
	return wait(ctx, e.submit(RequestChooseActionSet, func() Reply { return e.chooseActionSet(index) }))
}

// opContext bounds a lookup or action execution. It ends early when the
// engine closes.
func (e *Engine) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(e.ctx, e.registry.opTimeout)
}

// persistContext bounds a save. It survives the engine closing so an
// accepted write is not lost to a disconnect.
func (e *Engine) persistContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(e.ctx), e.registry.opTimeout)
}

// classify turns a deadline expiry into a timeout regardless of how the
// collaborator wrapped it.
func classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return game.Wrap(game.ErrTimeout, err)
	}
	return err
}

func (e *Engine) fail(err error) Reply {
	if game.KindOf(err) == game.KindConfiguration {
		attrs := []any{"conn", e.id, "error", err}
		if e.game != nil {
			attrs = append(attrs, "game", e.game.Name(), "state", e.session.CurrentGameState)
		}
		slog.ErrorContext(e.ctx, "invalid game configuration", attrs...)
	}
	return Reply{Err: err}
}

func (e *Engine) requireActive() error {
	switch e.State() {
	case StateActive, StateTransitioning:
		return nil
	case StateClosed:
		return game.ErrClosed
	}
	return game.ErrNotReady
}

func (e *Engine) handshake(req ReadyRequest) Reply {
	switch e.State() {
	case StateActive, StateTransitioning:
		return Reply{Err: game.ErrAlreadyReady}
	case StateClosed:
		return Reply{Err: game.ErrClosed}
	}

	if !e.transition(StateUnauthenticated, StateHandshaking) {
		return Reply{Err: game.ErrClosed}
	}
	defer e.transition(StateHandshaking, StateUnauthenticated)

	ctx, cancel := e.opContext()
	defer cancel()

	id, err := e.registry.identities.FindIdentityByToken(ctx, req.IdentityToken)
	if err != nil {
		return e.fail(classify(ctx, err))
	}

	g, err := e.registry.games.FindGameByName(ctx, req.GameIdentifier)
	if err != nil {
		return e.fail(classify(ctx, err))
	}

	if err := id.Authorize(g); err != nil {
		return e.fail(err)
	}

	now := e.registry.now()
	st, found := id.SessionState(g.Name())
	if !found {
		st = identity.NewSessionState(g)
	}
	current := g.State(st.CurrentGameState)
	if current == nil {
		slog.WarnContext(ctx, "saved game state no longer exists, restarting game",
			"identity", id.Id(), "game", g.Name(), "state", st.CurrentGameState)
		st.CurrentGameState = g.InitialState
		current = g.State(g.InitialState)
	}
	st.LastPlayed = now
	id.PutSessionState(g.Name(), st)
	id.Touch(now)

	pctx, pcancel := e.persistContext()
	defer pcancel()
	if err := e.registry.identities.Save(pctx, id); err != nil {
		return e.fail(classify(pctx, err))
	}

	e.tokenId = id.Token.Id
	e.identity = id
	e.game = g
	e.session = st
	if !e.transition(StateHandshaking, StateActive) {
		return Reply{Err: game.ErrClosed}
	}

	e.registry.claim(e, id.Id(), g.Name())

	slog.InfoContext(ctx, "session ready",
		"conn", e.id, "identity", id.Id(), "game", g.Name(), "state", st.CurrentGameState, "new", !found)

	return Reply{Layout: buildLayout(current)}
}

func (e *Engine) getUserVar(name string) Reply {
	if err := e.requireActive(); err != nil {
		return Reply{Err: err}
	}
	if name == "" {
		return Reply{Err: game.Invalidf("name is required")}
	}

	v, ok := e.session.UserVars[name]
	if !ok {
		return Reply{Err: game.Wrap(game.ErrUnknownVariable, fmt.Errorf("variable %q", name))}
	}
	return Reply{Value: v}
}

func (e *Engine) setUserVar(name string, value json.RawMessage) Reply {
	if err := e.requireActive(); err != nil {
		return Reply{Err: err}
	}
	if name == "" {
		return Reply{Err: game.Invalidf("name is required")}
	}
	if len(value) == 0 {
		return Reply{Err: game.Invalidf("value is required")}
	}

	next := e.session.Clone()
	next.UserVars[name] = value
	if err := e.save(next); err != nil {
		return e.fail(err)
	}
	return Reply{}
}

func (e *Engine) chooseActionSet(index int) Reply {
	if err := e.requireActive(); err != nil {
		return Reply{Err: err}
	}

	if !e.transition(StateActive, StateTransitioning) {
		return Reply{Err: game.ErrClosed}
	}
	defer e.transition(StateTransitioning, StateActive)

	ref := game.StateRef{Game: e.game.Name(), State: e.session.CurrentGameState}
	set, err := e.registry.library.Lookup(ref, index)
	if err != nil {
		return e.fail(err)
	}
	current := e.game.State(e.session.CurrentGameState)
	if current == nil {
		return e.fail(game.Configurationf("current state %s is not part of game %s", ref, e.game.Name()))
	}

	ctx, cancel := e.opContext()
	defer cancel()

	out, err := e.execute(ctx, set, current)
	if err != nil {
		return e.fail(classify(ctx, err))
	}

	if out.Mutated() {
		next := e.session.Clone()
		if out.Transitioned {
			next.CurrentGameState = out.NewGameState.Id()
		}
		for k, v := range out.Vars {
			next.UserVars[k] = v
		}
		if err := e.save(next); err != nil {
			return e.fail(err)
		}
	}

	slog.DebugContext(ctx, "action set executed",
		"conn", e.id, "state", ref.String(), "index", index,
		"transitioned", out.Transitioned, "events", len(out.Events))

	r := Reply{Events: out.Events}
	if out.Transitioned {
		r.NewLayout = buildLayout(out.NewGameState)
	}
	return r
}

// execute runs set in its own goroutine so a stalled action cannot hold the
// engine past its deadline. The set only sees a copy of the variables.
func (e *Engine) execute(ctx context.Context, set *actions.Set, current *game.GameState) (*actions.Outcome, error) {
	type result struct {
		out *actions.Outcome
		err error
	}

	vars := maps.Clone(e.session.UserVars)
	done := make(chan result, 1)
	go func() {
		out, err := set.Execute(ctx, e.game, current, vars)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// save persists next as the session for the active game. On failure the
// identity is rolled back so memory matches storage, and a conflict reloads
// the identity so later requests work against the stored record. When the
// conflicting write left this game's progress alone, as a token rotation or
// a login does, next is applied again on top of the reloaded record.
func (e *Engine) save(next identity.SessionState) error {
	err := e.persist(next)
	if !errors.Is(err, game.ErrConflict) {
		return err
	}

	prev := e.session
	if !e.reload() || !e.session.Equal(prev) {
		return err
	}

	slog.DebugContext(e.ctx, "retrying save on reloaded identity", "conn", e.id, "identity", e.identity.Id())
	if err := e.persist(next); err != nil {
		if errors.Is(err, game.ErrConflict) {
			e.reload()
		}
		return err
	}
	return nil
}

func (e *Engine) persist(next identity.SessionState) error {
	e.identity.PutSessionState(e.game.Name(), next)

	ctx, cancel := e.persistContext()
	defer cancel()

	if err := e.registry.identities.Save(ctx, e.identity); err != nil {
		e.identity.PutSessionState(e.game.Name(), e.session)
		return classify(ctx, err)
	}

	e.session = next
	return nil
}

// reload replaces the working identity with the stored one. It reports
// false and keeps the working copy when the stored record has no usable
// session for the active game.
func (e *Engine) reload() bool {
	ctx, cancel := e.opContext()
	defer cancel()

	id, err := e.registry.identities.FindIdentityByTokenId(ctx, e.tokenId)
	if err != nil {
		slog.WarnContext(ctx, "reloading identity after conflict", "conn", e.id, "error", err)
		return false
	}
	st, ok := id.SessionState(e.game.Name())
	if !ok || e.game.State(st.CurrentGameState) == nil {
		slog.WarnContext(ctx, "stored session missing after conflict", "conn", e.id, "game", e.game.Name())
		return false
	}

	owner := e.identity.Id()
	e.identity = id
	e.session = st

	// A login moves the session from the token to the user.
	if id.Id() != owner {
		e.registry.claim(e, id.Id(), e.game.Name())
	}
	return true
}
