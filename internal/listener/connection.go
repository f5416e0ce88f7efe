package listener

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pixil98/go-quest/internal/game"
	"github.com/pixil98/go-quest/internal/session"
)

const (
	writeTimeout   = 10 * time.Second
	maxFrameSize   = 64 * 1024
	maxPending     = 256
	closeGraceTime = time.Second
)

type pending struct {
	id    json.RawMessage
	reply <-chan session.Reply
}

// connection pumps frames between one websocket and its engine. Replies are
// written in request order; the events of a chooseActionSet reply are then
// pushed one by one, waiting for the client's ack where asked to. The reader
// never waits on the writer, so an ack is seen while the writer waits for it.
type connection struct {
	ws         *websocket.Conn
	engine     *session.Engine
	ackTimeout time.Duration

	mu      sync.Mutex
	outbox  []pending
	queued  chan struct{}
	acks    chan struct{}
	written chan struct{}
}

func newConnection(ws *websocket.Conn, engine *session.Engine, ackTimeout time.Duration) *connection {
	return &connection{
		ws:         ws,
		engine:     engine,
		ackTimeout: ackTimeout,
		queued:     make(chan struct{}, 1),
		acks:       make(chan struct{}, 1),
		written:    make(chan struct{}),
	}
}

func (c *connection) serve(ctx context.Context) {
	slog.InfoContext(ctx, "connection opened", "conn", c.engine.Id(), "remote", c.ws.RemoteAddr().String())

	go c.writeLoop(ctx)
	c.readLoop(ctx)

	c.engine.Close()
	<-c.written
	if err := c.ws.Close(); err != nil {
		slog.DebugContext(ctx, "closing websocket", "conn", c.engine.Id(), "error", err)
	}

	slog.InfoContext(ctx, "connection closed", "conn", c.engine.Id())
}

func (c *connection) readLoop(ctx context.Context) {
	c.ws.SetReadLimit(maxFrameSize)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.WarnContext(ctx, "reading websocket", "conn", c.engine.Id(), "error", err)
			}
			return
		}

		var f clientFrame
		var reply <-chan session.Reply
		if err := json.Unmarshal(data, &f); err != nil {
			reply = failed(game.Wrap(game.ErrInvalidData, err))
		} else if f.Type == frameAck {
			select {
			case c.acks <- struct{}{}:
			default:
			}
			continue
		} else {
			reply = c.engine.Dispatch(session.RequestType(f.Type), f.Data)
		}

		if !c.enqueue(pending{id: f.Id, reply: reply}) {
			slog.WarnContext(ctx, "too many unanswered requests, dropping connection", "conn", c.engine.Id())
			return
		}
	}
}

// enqueue hands p to the writer. It fails once maxPending replies are
// waiting to be written.
func (c *connection) enqueue(p pending) bool {
	c.mu.Lock()
	if len(c.outbox) >= maxPending {
		c.mu.Unlock()
		return false
	}
	c.outbox = append(c.outbox, p)
	c.mu.Unlock()

	select {
	case c.queued <- struct{}{}:
	default:
	}
	return true
}

// dequeue takes the oldest pending reply.
func (c *connection) dequeue() (pending, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.outbox) == 0 {
		return pending{}, false
	}
	p := c.outbox[0]
	c.outbox[0] = pending{}
	c.outbox = c.outbox[1:]
	if len(c.outbox) > 0 {
		select {
		case c.queued <- struct{}{}:
		default:
		}
	}
	return p, true
}

func failed(err error) <-chan session.Reply {
	ch := make(chan session.Reply, 1)
	ch <- session.Reply{Err: err}
	return ch
}

func (c *connection) writeLoop(ctx context.Context) {
	defer close(c.written)

	for {
		select {
		case <-c.queued:
			p, ok := c.dequeue()
			if ok && !c.writeReply(ctx, p) {
				return
			}
		case push := <-c.engine.Pushes():
			if !c.write(ctx, serverFrame{Type: string(push.Type), Data: push.Data}) {
				return
			}
		case <-c.engine.Done():
			c.flush(ctx)
			return
		}
	}
}

// flush writes whatever the engine left behind once it has closed, such as
// an eviction notice and the closed replies of queued requests, then says
// goodbye.
func (c *connection) flush(ctx context.Context) {
drain:
	for {
		select {
		case push := <-c.engine.Pushes():
			if !c.write(ctx, serverFrame{Type: string(push.Type), Data: push.Data}) {
				return
			}
		default:
			break drain
		}
	}
	for {
		p, ok := c.dequeue()
		if !ok {
			break
		}
		if !c.writeReply(ctx, p) {
			return
		}
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed")
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGraceTime)); err != nil {
		slog.DebugContext(ctx, "writing close frame", "conn", c.engine.Id(), "error", err)
	}
	// Give the client a moment to answer the close before the reader gives up.
	if err := c.ws.SetReadDeadline(time.Now().Add(closeGraceTime)); err != nil {
		slog.DebugContext(ctx, "setting read deadline", "conn", c.engine.Id(), "error", err)
	}
}

func (c *connection) writeReply(ctx context.Context, p pending) bool {
	r := <-p.reply
	if !c.write(ctx, serverFrame{Id: p.id, Type: frameReply, Data: r}) {
		return false
	}

	for _, e := range r.Events {
		if e.WaitForAck {
			c.discardAcks()
		}
		if !c.write(ctx, serverFrame{Type: string(session.PushEvent), Data: session.EventPush(e).Data}) {
			return false
		}
		if e.WaitForAck {
			c.awaitAck(ctx, e.Payload.ContentComponentRef)
		}
	}
	return true
}

func (c *connection) discardAcks() {
	for {
		select {
		case <-c.acks:
		default:
			return
		}
	}
}

func (c *connection) awaitAck(ctx context.Context, ref string) {
	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()

	select {
	case <-c.acks:
	case <-timer.C:
		slog.DebugContext(ctx, "event not acknowledged", "conn", c.engine.Id(), "component", ref)
	case <-c.engine.Done():
	}
}

func (c *connection) write(ctx context.Context, f serverFrame) bool {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		slog.WarnContext(ctx, "setting write deadline", "conn", c.engine.Id(), "error", err)
	}
	if err := c.ws.WriteJSON(f); err != nil {
		slog.WarnContext(ctx, "writing websocket", "conn", c.engine.Id(), "type", f.Type, "error", err)
		c.engine.Close()
		// Unblock the reader.
		_ = c.ws.Close()
		return false
	}
	return true
}
