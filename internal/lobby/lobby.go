package lobby

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/checker-lobby/internal/engine"
	"github.com/DoyleJ11/checker-lobby/pkg/types"
)

// ErrClosed is returned once the lobby loop has stopped.
var ErrClosed = errors.New("lobby closed")

type Msg interface{ isLobbyMsg() }

type Assign struct {
	Slot  int
	Name  string
	Reply chan Result
}

func (Assign) isLobbyMsg() {}

type Reassign struct {
	Slot   int
	Secret string
	Reply  chan Result
}

func (Reassign) isLobbyMsg() {}

type Unassign struct {
	Slot   int
	Secret string
	Reply  chan Result
}

func (Unassign) isLobbyMsg() {}

// Heartbeat has no reply: a mismatching secret is dropped without telling
// the sender whether the slot exists.
type Heartbeat struct {
	Slot   int
	Secret string
}

func (Heartbeat) isLobbyMsg() {}

type Watch struct{ ClientID string }

func (Watch) isLobbyMsg() {}

type Unwatch struct{ ClientID string }

func (Unwatch) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type Result struct {
	Slot   int
	Secret string
	Err    error
}

// View is a copy of the lobby state taken inside the loop.
type View struct {
	Version  int
	Watchers int
	State    engine.State
}

type Option func(*Lobby)

// WithClock replaces time.Now for heartbeat timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Lobby) { l.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Lobby) { l.logger = logger }
}

// Lobby owns the slot table of one session. Every read and write of the
// table happens on the loop goroutine, which serialises all operations on
// the session without blocking any other session.
type Lobby struct {
	id       uuid.UUID
	inbox    chan Msg
	state    engine.State
	version  int
	watchers map[string]struct{}
	now      func() time.Time
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewLobby(parent context.Context, id uuid.UUID, opts ...Option) *Lobby {
	ctx, cancel := context.WithCancel(parent)

	l := &Lobby{
		id:       id,
		inbox:    make(chan Msg, 64), // Small buffer
		state:    engine.NewEmptyState(),
		watchers: make(map[string]struct{}),
		now:      time.Now,
		logger:   zap.NewNop(),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(zap.Stringer("session_id", id))

	go l.loop()
	return l
}

func (l *Lobby) ID() uuid.UUID { return l.id }

// Done is closed when the loop exits.
func (l *Lobby) Done() <-chan struct{} { return l.done }

func (l *Lobby) loop() {
	defer close(l.done)

	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Assign:
				msg.Reply <- l.apply(engine.Command{Type: engine.CmdAssign, Slot: msg.Slot, Name: msg.Name})

			case Reassign:
				msg.Reply <- l.apply(engine.Command{Type: engine.CmdReassign, Slot: msg.Slot, Secret: msg.Secret})

			case Unassign:
				msg.Reply <- l.apply(engine.Command{Type: engine.CmdUnassign, Slot: msg.Slot, Secret: msg.Secret})

			case Heartbeat:
				res := l.apply(engine.Command{Type: engine.CmdHeartbeat, Slot: msg.Slot, Secret: msg.Secret})
				if res.Err != nil {
					l.logger.Debug("heartbeat ignored", zap.Int("slot", msg.Slot), zap.Error(res.Err))
				}

			case Watch:
				l.watchers[msg.ClientID] = struct{}{}

			case Unwatch:
				delete(l.watchers, msg.ClientID)

			case GetState:
				msg.Reply <- View{
					Version:  l.version,
					Watchers: len(l.watchers),
					State:    l.state,
				}

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) apply(cmd engine.Command) Result {
	cmd.At = l.now()

	evt, newState, err := engine.Apply(l.state, cmd)
	if err != nil {
		return Result{Slot: cmd.Slot, Err: err}
	}

	l.state = newState
	l.version++

	if evt.Type != engine.EvtHeartbeat {
		l.logger.Info("slot updated",
			zap.String("event", string(evt.Type)),
			zap.Int("slot", evt.Slot),
			zap.String("name", evt.Name),
			zap.Int("assigned", l.state.AssignedCount()),
			zap.Int("version", l.version),
		)
	}
	return Result{Slot: evt.Slot, Secret: evt.Secret}
}

func (l *Lobby) shutdown() {
	clear(l.watchers)
	l.cancel()
}

// Close stops the loop. It does not wait for it; use Done for that.
func (l *Lobby) Close() {
	select {
	case l.inbox <- Shutdown{}:
	case <-l.ctx.Done():
	}
}

func (l *Lobby) send(ctx context.Context, m Msg) error {
	select {
	case l.inbox <- m:
		return nil
	case <-l.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func await[T any](ctx context.Context, l *Lobby, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-l.done:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (l *Lobby) call(ctx context.Context, build func(chan Result) Msg) (Result, error) {
	reply := make(chan Result, 1)
	if err := l.send(ctx, build(reply)); err != nil {
		return Result{}, err
	}
	res, err := await(ctx, l, reply)
	if err != nil {
		return Result{}, err
	}
	return res, res.Err
}

// Assign claims a free slot for name and returns the new secret.
func (l *Lobby) Assign(ctx context.Context, slot int, name string) (types.AssignmentResult, error) {
	res, err := l.call(ctx, func(reply chan Result) Msg {
		return Assign{Slot: slot, Name: name, Reply: reply}
	})
	if err != nil {
		return types.AssignmentResult{}, err
	}
	return types.AssignmentResult{SlotIndex: res.Slot, Secret: res.Secret}, nil
}

// Reassign resumes an existing claim. The secret stays the same.
func (l *Lobby) Reassign(ctx context.Context, slot int, secret string) (types.AssignmentResult, error) {
	res, err := l.call(ctx, func(reply chan Result) Msg {
		return Reassign{Slot: slot, Secret: secret, Reply: reply}
	})
	if err != nil {
		return types.AssignmentResult{}, err
	}
	return types.AssignmentResult{SlotIndex: res.Slot, Secret: res.Secret}, nil
}

func (l *Lobby) Unassign(ctx context.Context, slot int, secret string) error {
	_, err := l.call(ctx, func(reply chan Result) Msg {
		return Unassign{Slot: slot, Secret: secret, Reply: reply}
	})
	return err
}

// Heartbeat refreshes the slot's liveness if the secret matches. Only
// delivery failures are reported.
func (l *Lobby) Heartbeat(ctx context.Context, slot int, secret string) error {
	return l.send(ctx, Heartbeat{Slot: slot, Secret: secret})
}

func (l *Lobby) Watch(ctx context.Context, clientID string) error {
	return l.send(ctx, Watch{ClientID: clientID})
}

func (l *Lobby) Unwatch(ctx context.Context, clientID string) error {
	return l.send(ctx, Unwatch{ClientID: clientID})
}

func (l *Lobby) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := l.send(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	return await(ctx, l, reply)
}

// Snapshot returns the public slot views, ready for the wire.
func (l *Lobby) Snapshot(ctx context.Context) (types.SlotSnapshot, error) {
	v, err := l.View(ctx)
	if err != nil {
		return types.SlotSnapshot{}, err
	}
	return types.SlotSnapshot{Slots: v.State.Views()}, nil
}
