package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pixil98/go-quest/internal/session"
)

const (
	DefaultAckTimeout = 5 * time.Second

	shutdownTimeout = 5 * time.Second
)

type WebsocketListenerOpt func(*WebsocketListener)

// WithAckTimeout bounds how long an event waits for the client's ack before
// the next event is pushed.
func WithAckTimeout(d time.Duration) WebsocketListenerOpt {
	return func(l *WebsocketListener) {
		l.ackTimeout = d
	}
}

// WithAllowedOrigins accepts websocket upgrades from the given origins in
// addition to same-origin pages. "*" accepts any origin.
func WithAllowedOrigins(origins ...string) WebsocketListenerOpt {
	return func(l *WebsocketListener) {
		l.origins = append(l.origins, origins...)
	}
}

// WithStaticDir serves the files under dir at /static/, where component
// scripts and styles are referenced from.
func WithStaticDir(dir string) WebsocketListenerOpt {
	return func(l *WebsocketListener) {
		l.staticDir = dir
	}
}

// WebsocketListener serves the game socket at /ws alongside the token,
// login and component page endpoints.
type WebsocketListener struct {
	addr       string
	sessions   *session.Registry
	tokens     TokenService
	components ComponentStore
	pages      PageRenderer

	ackTimeout time.Duration
	origins    []string
	staticDir  string
	upgrader   websocket.Upgrader

	wg sync.WaitGroup
}

func NewWebsocketListener(addr string, sessions *session.Registry, tokens TokenService, components ComponentStore, pages PageRenderer, opts ...WebsocketListenerOpt) *WebsocketListener {
	l := &WebsocketListener{
		addr:       addr,
		sessions:   sessions,
		tokens:     tokens,
		components: components,
		pages:      pages,
		ackTimeout: DefaultAckTimeout,
	}

	for _, opt := range opts {
		opt(l)
	}

	l.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	if len(l.origins) > 0 {
		l.upgrader.CheckOrigin = l.checkOrigin
	}

	return l
}

func (l *WebsocketListener) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(l.origins, "*") || slices.Contains(l.origins, origin) {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// Handler returns the http routes served by the listener.
func (l *WebsocketListener) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", l.handleSocket)
	mux.HandleFunc("POST /api/tokens", l.handleNewToken)
	mux.HandleFunc("POST /api/tokens/rotate", l.handleRotateToken)
	mux.HandleFunc("POST /api/login", l.handleLogin)
	mux.HandleFunc("GET /content/{id}", l.handleContent)
	if l.staticDir != "" {
		mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(l.staticDir))))
	}
	return mux
}

func (l *WebsocketListener) Start(ctx context.Context) error {
	// Connections outlive the request that upgraded them, so they share a
	// context that is canceled on shutdown instead.
	connCtx, cancelConns := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelConns()

	listener, err := net.Listen("tcp", l.addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("address %s is already in use (another server running?)", l.addr)
		}
		return fmt.Errorf("listening on %s: %w", l.addr, err)
	}

	srv := &http.Server{
		Handler:           l.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return connCtx },
	}

	slog.InfoContext(ctx, "listening for websockets", "addr", listener.Addr().String())

	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(listener)
	}()

	select {
	case err := <-done:
		return fmt.Errorf("serving http on %s: %w", l.addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.WarnContext(ctx, "shutting down http server", "error", err)
	}

	// Hijacked websockets are not tracked by the http server.
	cancelConns()
	l.wg.Wait()
	return nil
}

func (l *WebsocketListener) handleSocket(w http.ResponseWriter, r *http.Request) {
	// Counted while the http server still tracks the request; the upgrade
	// hijacks it out of Shutdown's view.
	l.wg.Add(1)
	defer l.wg.Done()

	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.DebugContext(r.Context(), "upgrading websocket", "remote", r.RemoteAddr, "error", err)
		return
	}

	ctx := r.Context()
	engine := l.sessions.Open(ctx)

	c := newConnection(ws, engine, l.ackTimeout)
	stop := context.AfterFunc(ctx, engine.Close)
	defer stop()

	c.serve(ctx)
}
