package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultOperationTimeout = 5 * time.Second
	DefaultIdleTimeout      = 30 * time.Minute
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultQueueSize        = 32

	takeoverSubject = "quest.session"
)

// Notifier carries takeover notices between server processes.
type Notifier interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(data []byte)) (func(), error)
}

type ownerKey struct {
	identity string
	game     string
}

func (k ownerKey) subject() string {
	return fmt.Sprintf("%s.%s.%s", takeoverSubject, k.identity, k.game)
}

// takeover is published when a connection claims a session so other
// processes can evict their copy.
type takeover struct {
	Node     string `json:"node"`
	Conn     string `json:"conn"`
	Identity string `json:"identity"`
	Game     string `json:"game"`
}

type RegistryOpt func(*Registry)

func WithOperationTimeout(d time.Duration) RegistryOpt {
	return func(r *Registry) {
		r.opTimeout = d
	}
}

func WithIdleTimeout(d time.Duration) RegistryOpt {
	return func(r *Registry) {
		r.idleTimeout = d
	}
}

func WithHandshakeTimeout(d time.Duration) RegistryOpt {
	return func(r *Registry) {
		r.handshakeTimeout = d
	}
}

func WithQueueSize(n int) RegistryOpt {
	return func(r *Registry) {
		r.queueSize = n
	}
}

// WithNotifier shares takeover notices with other processes.
func WithNotifier(n Notifier) RegistryOpt {
	return func(r *Registry) {
		r.notifier = n
	}
}

func WithClock(now func() time.Time) RegistryOpt {
	return func(r *Registry) {
		r.now = now
	}
}

// Registry tracks every live engine by connection id, and which engine owns
// each (identity, game) session. A session has at most one owner: claiming
// it evicts the previous one, locally or in another process.
type Registry struct {
	games      GameStore
	identities IdentityStore
	library    ActionLibrary
	notifier   Notifier

	node             string
	opTimeout        time.Duration
	idleTimeout      time.Duration
	handshakeTimeout time.Duration
	queueSize        int
	now              func() time.Time

	mu      sync.Mutex
	engines map[string]*Engine
	owners  map[ownerKey]*Engine
	keys    map[*Engine]ownerKey
}

func NewRegistry(games GameStore, identities IdentityStore, library ActionLibrary, opts ...RegistryOpt) *Registry {
	r := &Registry{
		games:            games,
		identities:       identities,
		library:          library,
		node:             uuid.NewString(),
		opTimeout:        DefaultOperationTimeout,
		idleTimeout:      DefaultIdleTimeout,
		handshakeTimeout: DefaultHandshakeTimeout,
		queueSize:        DefaultQueueSize,
		now:              time.Now,
		engines:          map[string]*Engine{},
		owners:           map[ownerKey]*Engine{},
		keys:             map[*Engine]ownerKey{},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Open starts an engine for a new connection.
func (r *Registry) Open(ctx context.Context) *Engine {
	e := newEngine(ctx, uuid.NewString(), r)

	r.mu.Lock()
	r.engines[e.id] = e
	r.mu.Unlock()

	go e.run()
	return e
}

// Get returns the engine registered under a connection id.
func (r *Registry) Get(connId string) *Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engines[connId]
}

// Len returns the number of live engines.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.engines)
}

// Owner returns the engine that owns an identity's session for a game.
func (r *Registry) Owner(identityId, gameName string) *Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owners[ownerKey{identity: identityId, game: gameName}]
}

func (r *Registry) claim(e *Engine, identityId, gameName string) {
	key := ownerKey{identity: identityId, game: gameName}

	r.mu.Lock()
	if e.State() == StateClosed {
		r.mu.Unlock()
		return
	}
	if old, ok := r.keys[e]; ok && old != key && r.owners[old] == e {
		delete(r.owners, old)
	}
	prev := r.owners[key]
	r.owners[key] = e
	r.keys[e] = key
	r.mu.Unlock()

	if prev != nil && prev != e {
		slog.InfoContext(e.ctx, "session taken over", "identity", identityId, "game", gameName, "from", prev.id, "to", e.id)
		prev.evict()
	}

	if r.notifier == nil {
		return
	}
	data, err := json.Marshal(takeover{Node: r.node, Conn: e.id, Identity: identityId, Game: gameName})
	if err != nil {
		slog.WarnContext(e.ctx, "encoding takeover notice", "error", err)
		return
	}
	if err := r.notifier.Publish(key.subject(), data); err != nil {
		slog.WarnContext(e.ctx, "publishing takeover notice", "subject", key.subject(), "error", err)
	}
}

func (r *Registry) release(e *Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.engines, e.id)
	if key, ok := r.keys[e]; ok {
		if r.owners[key] == e {
			delete(r.owners, key)
		}
		delete(r.keys, e)
	}
}

// handleTakeover evicts the local owner of a session claimed elsewhere.
func (r *Registry) handleTakeover(data []byte) {
	var t takeover
	if err := json.Unmarshal(data, &t); err != nil {
		slog.Warn("decoding takeover notice", "error", err)
		return
	}
	if t.Node == r.node {
		return
	}

	r.mu.Lock()
	e := r.owners[ownerKey{identity: t.Identity, game: t.Game}]
	r.mu.Unlock()

	if e != nil {
		slog.Info("session taken over by another server", "identity", t.Identity, "game", t.Game, "conn", e.id)
		e.evict()
	}
}

// Start listens for takeover notices until ctx ends, then closes every
// engine.
func (r *Registry) Start(ctx context.Context) error {
	if r.notifier != nil {
		unsubscribe, err := r.subscribe(ctx)
		if err != nil {
			return err
		}
		if unsubscribe != nil {
			defer unsubscribe()
		}
	}

	<-ctx.Done()
	r.closeAll()
	return nil
}

// subscribe retries until the notifier is ready, since it may be starting
// alongside the registry.
func (r *Registry) subscribe(ctx context.Context) (func(), error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		unsubscribe, err := r.notifier.Subscribe(takeoverSubject+".>", r.handleTakeover)
		if err == nil {
			slog.InfoContext(ctx, "listening for session takeovers", "node", r.node)
			return unsubscribe, nil
		}

		select {
		case <-ctx.Done():
			return nil, nil
		case <-ticker.C:
		}
	}
}

func (r *Registry) closeAll() {
	r.mu.Lock()
	engines := make([]*Engine, 0, len(r.engines))
	for _, e := range r.engines {
		engines = append(engines, e)
	}
	r.mu.Unlock()

	for _, e := range engines {
		e.Close()
	}
}

// Tick closes engines that never finished a handshake in time and engines
// that have been idle too long.
func (r *Registry) Tick(ctx context.Context) error {
	now := r.now()

	r.mu.Lock()
	var expired []*Engine
	for _, e := range r.engines {
		switch {
		case e.State() == StateUnauthenticated && now.Sub(e.created) > r.handshakeTimeout:
			expired = append(expired, e)
		case now.Sub(e.idleSince()) > r.idleTimeout:
			expired = append(expired, e)
		}
	}
	r.mu.Unlock()

	for _, e := range expired {
		slog.InfoContext(ctx, "closing expired session", "conn", e.id, "state", e.State().String())
		e.push(Push{Type: PushSessionExpired})
		e.Close()
	}
	return nil
}
