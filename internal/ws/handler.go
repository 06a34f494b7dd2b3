package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/DoyleJ11/checker-lobby/internal/hub"
	"github.com/DoyleJ11/checker-lobby/internal/lobby"
	"github.com/DoyleJ11/checker-lobby/pkg/types"
)

const (
	readLimit      = 4096
	releaseTimeout = time.Second
)

type Options struct {
	BroadcastInterval time.Duration
	WriteTimeout      time.Duration
	OriginPatterns    []string
}

// Handler upgrades to a presence connection. The connection starts
// unbound; the first SelectSession binds it to a session for its lifetime.
func Handler(h *hub.Hub, opts Options, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			logger.Debug("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")
		conn.SetReadLimit(readLimit)

		c := &channel{
			id:     uuid.NewString(),
			conn:   conn,
			hub:    h,
			opts:   opts,
			logger: logger.With(zap.String("component", "presence")),
		}
		c.logger = c.logger.With(zap.String("client_id", c.id))
		c.run(r.Context())
	}
}

type channel struct {
	id     string
	conn   *websocket.Conn
	hub    *hub.Hub
	opts   Options
	logger *zap.Logger

	// nil until the client selects a session
	lobby *lobby.Lobby
}

func (c *channel) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer c.release()

	incoming := make(chan types.ClientMessage)
	readErr := make(chan error, 1)
	go c.readLoop(ctx, incoming, readErr)

	ticker := time.NewTicker(c.opts.BroadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-readErr:
			if errors.Is(err, types.ErrDecode) {
				c.logger.Warn("closing connection on malformed message", zap.Error(err))
				_ = c.conn.Close(websocket.StatusUnsupportedData, "malformed message")
				return
			}
			// Treat clean close/going-away as normal:
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				c.logger.Debug("client closed connection")
			default:
				c.logger.Debug("read failed", zap.Error(err))
			}
			return

		case m := <-incoming:
			if err := c.handle(ctx, m); err != nil {
				c.logger.Debug("stopping presence loop", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := c.push(ctx); err != nil {
				c.logger.Debug("snapshot write failed", zap.Error(err))
				return
			}
		}
	}
}

// readLoop owns the read side. It stops on the first error; a decode error
// is handed back as such so the caller can close with the right status.
func (c *channel) readLoop(ctx context.Context, incoming chan<- types.ClientMessage, readErr chan<- error) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			readErr <- err
			return
		}

		m, err := types.DecodeClientMessage(data)
		if err != nil {
			readErr <- err
			return
		}

		select {
		case incoming <- m:
		case <-ctx.Done():
			return
		}
	}
}

func (c *channel) handle(ctx context.Context, m types.ClientMessage) error {
	switch msg := m.(type) {
	case types.SelectSession:
		return c.bind(ctx, msg.SessionID)

	case types.Heartbeat:
		if c.lobby == nil {
			c.logger.Warn("heartbeat before session selection", zap.Stringer("session_id", msg.SessionID))
			return nil
		}
		if msg.SessionID != c.lobby.ID() {
			c.logger.Warn("heartbeat for foreign session",
				zap.Stringer("session_id", msg.SessionID),
				zap.Stringer("bound_session_id", c.lobby.ID()),
			)
			return nil
		}
		return c.lobby.Heartbeat(ctx, msg.SlotIndex, msg.Secret)
	}
	return nil
}

// bind moves the connection from unbound to bound. The first selection
// wins; later selections of another session are ignored.
func (c *channel) bind(ctx context.Context, id uuid.UUID) error {
	if c.lobby != nil {
		if id != c.lobby.ID() {
			c.logger.Warn("ignoring second session selection",
				zap.Stringer("session_id", id),
				zap.Stringer("bound_session_id", c.lobby.ID()),
			)
		}
		return nil
	}

	lb, err := c.hub.Ensure(ctx, id)
	if err != nil {
		return err
	}
	if err := lb.Watch(ctx, c.id); err != nil {
		return err
	}

	c.lobby = lb
	c.logger = c.logger.With(zap.Stringer("session_id", id))
	c.logger.Debug("presence bound")

	// Don't make the client wait a full interval for its first view.
	return c.push(ctx)
}

func (c *channel) push(ctx context.Context) error {
	if c.lobby == nil {
		return nil
	}

	wctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()

	snap, err := c.lobby.Snapshot(wctx)
	if err != nil {
		return err
	}
	return wsjson.Write(wctx, c.conn, snap)
}

func (c *channel) release() {
	if c.lobby == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	_ = c.lobby.Unwatch(ctx, c.id)
}
