package hub

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/checker-lobby/internal/lobby"
)

var ErrClosed = errors.New("hub closed")

type HubMsg interface{ isHubMsg() }

type GetLobby struct {
	ID    uuid.UUID
	Reply chan *lobby.Lobby
}

// EnsureLobby returns the lobby for ID, creating it on first use.
type EnsureLobby struct {
	ID    uuid.UUID
	Reply chan *lobby.Lobby
}

type CountLobbies struct {
	Reply chan int
}

type ShutdownHub struct{}

func (GetLobby) isHubMsg()     {}
func (EnsureLobby) isHubMsg()  {}
func (CountLobbies) isHubMsg() {}
func (ShutdownHub) isHubMsg()  {}

// Hub is the session registry. The map is only touched by the loop
// goroutine, so there is exactly one lobby per id no matter how many
// callers race on EnsureLobby. Lobbies live until the hub shuts down.
type Hub struct {
	inbox     chan HubMsg
	lobbies   map[uuid.UUID]*lobby.Lobby
	lobbyOpts []lobby.Option
	logger    *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

type Option func(*Hub)

func WithLogger(logger *zap.Logger) Option {
	return func(h *Hub) { h.logger = logger }
}

// WithLobbyOptions are applied to every lobby the hub creates.
func WithLobbyOptions(opts ...lobby.Option) Option {
	return func(h *Hub) { h.lobbyOpts = append(h.lobbyOpts, opts...) }
}

func NewHub(parent context.Context, opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[uuid.UUID]*lobby.Lobby),
		logger:  zap.NewNop(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	go h.loop()
	return h
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			clear(h.lobbies)
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case GetLobby:
				msg.Reply <- h.lobbies[msg.ID] // May be nil

			case EnsureLobby:
				if lb := h.lobbies[msg.ID]; lb != nil {
					msg.Reply <- lb
					break
				}

				opts := append([]lobby.Option{lobby.WithLogger(h.logger)}, h.lobbyOpts...)
				lb := lobby.NewLobby(h.ctx, msg.ID, opts...)
				h.lobbies[msg.ID] = lb
				h.logger.Info("session created", zap.Stringer("session_id", msg.ID), zap.Int("sessions", len(h.lobbies)))
				msg.Reply <- lb

			case CountLobbies:
				msg.Reply <- len(h.lobbies)

			case ShutdownHub:
				// Lobbies derive their context from the hub, so cancelling
				// it stops every lobby loop too.
				clear(h.lobbies)
				h.cancel()
				return
			}
		}
	}
}

func (h *Hub) request(ctx context.Context, m HubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-h.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func reply[T any](ctx context.Context, h *Hub, ch <-chan T) (T, error) {
	var zero T
	select {
	case v := <-ch:
		return v, nil
	case <-h.ctx.Done():
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Ensure returns the lobby for id, creating an empty one if needed.
func (h *Hub) Ensure(ctx context.Context, id uuid.UUID) (*lobby.Lobby, error) {
	ch := make(chan *lobby.Lobby, 1)
	if err := h.request(ctx, EnsureLobby{ID: id, Reply: ch}); err != nil {
		return nil, err
	}
	return reply(ctx, h, ch)
}

// Get returns the lobby for id or nil if no client referenced it yet.
func (h *Hub) Get(ctx context.Context, id uuid.UUID) (*lobby.Lobby, error) {
	ch := make(chan *lobby.Lobby, 1)
	if err := h.request(ctx, GetLobby{ID: id, Reply: ch}); err != nil {
		return nil, err
	}
	return reply(ctx, h, ch)
}

func (h *Hub) Count(ctx context.Context) (int, error) {
	ch := make(chan int, 1)
	if err := h.request(ctx, CountLobbies{Reply: ch}); err != nil {
		return 0, err
	}
	return reply(ctx, h, ch)
}

// Shutdown stops the hub and every lobby it owns.
func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.ctx.Done():
	}
}
