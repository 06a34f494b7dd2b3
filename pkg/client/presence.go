package client

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/DoyleJ11/checker-lobby/pkg/types"
)

type ConnState int

const (
	Connecting ConnState = iota
	Connected
	Reconnecting
	Stopped
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	DefaultHeartbeatInterval = time.Second
	DefaultMinBackoff        = 250 * time.Millisecond
	DefaultMaxBackoff        = 10 * time.Second
)

// IdentitySource reports the identity to heartbeat with, if any.
type IdentitySource func() (types.Identity, bool)

type PresenceOption func(*Presence)

func WithHeartbeatInterval(d time.Duration) PresenceOption {
	return func(p *Presence) { p.interval = d }
}

// WithBackoff sets the first reconnect delay and the cap it doubles up to.
func WithBackoff(initial, ceiling time.Duration) PresenceOption {
	return func(p *Presence) { p.minBackoff, p.maxBackoff = initial, ceiling }
}

func WithIdentitySource(src IdentitySource) PresenceOption {
	return func(p *Presence) { p.identity = src }
}

func WithPresenceLogger(logger *zap.Logger) PresenceOption {
	return func(p *Presence) { p.logger = logger }
}

// Presence keeps a presence connection to one session alive. It re-dials
// forever with exponential backoff and re-announces the session and the
// current identity after every reconnect.
type Presence struct {
	url        string
	sessionID  uuid.UUID
	identity   IdentitySource
	interval   time.Duration
	minBackoff time.Duration
	maxBackoff time.Duration
	logger     *zap.Logger

	snapshots chan types.SlotSnapshot
	states    chan ConnState
}

func NewPresence(url string, sessionID uuid.UUID, opts ...PresenceOption) *Presence {
	p := &Presence{
		url:        url,
		sessionID:  sessionID,
		identity:   func() (types.Identity, bool) { return types.Identity{}, false },
		interval:   DefaultHeartbeatInterval,
		minBackoff: DefaultMinBackoff,
		maxBackoff: DefaultMaxBackoff,
		logger:     zap.NewNop(),
		snapshots:  make(chan types.SlotSnapshot, 1),
		states:     make(chan ConnState, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.Stringer("session_id", sessionID))
	return p
}

// Snapshots delivers the most recent snapshot. Older undelivered ones are
// dropped.
func (p *Presence) Snapshots() <-chan types.SlotSnapshot { return p.snapshots }

// States delivers connection state changes, latest first.
func (p *Presence) States() <-chan ConnState { return p.states }

// Run blocks until ctx is done.
func (p *Presence) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.minBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = p.maxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	offer(p.states, Connecting)
	for {
		err := p.session(ctx, b)
		if ctx.Err() != nil {
			offer(p.states, Stopped)
			return ctx.Err()
		}

		wait := b.NextBackOff()
		p.logger.Debug("presence dropped", zap.Error(err), zap.Duration("retry_in", wait))
		offer(p.states, Reconnecting)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			offer(p.states, Stopped)
			return ctx.Err()
		case <-t.C:
		}
	}
}

// session runs one connection until it fails.
func (p *Presence) session(ctx context.Context, b backoff.BackOff) error {
	conn, _, err := websocket.Dial(ctx, p.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := p.write(ctx, conn, types.SelectSession{SessionID: p.sessionID}); err != nil {
		return err
	}
	b.Reset()
	offer(p.states, Connected)

	readErr := make(chan error, 1)
	go func() { readErr <- p.readLoop(ctx, conn) }()

	if err := p.heartbeat(ctx, conn); err != nil {
		return err
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case <-ticker.C:
			if err := p.heartbeat(ctx, conn); err != nil {
				return err
			}
		}
	}
}

func (p *Presence) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		m, err := types.DecodeServerMessage(data)
		if err != nil {
			// Unknown server message kinds are skipped, not fatal.
			p.logger.Debug("ignoring server message", zap.Error(err))
			continue
		}
		if snap, ok := m.(types.SlotSnapshot); ok {
			offer(p.snapshots, snap)
		}
	}
}

func (p *Presence) heartbeat(ctx context.Context, conn *websocket.Conn) error {
	id, ok := p.identity()
	if !ok || id.SessionID != p.sessionID {
		return nil
	}
	return p.write(ctx, conn, types.Heartbeat{Identity: id})
}

func (p *Presence) write(ctx context.Context, conn *websocket.Conn, m types.ClientMessage) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return wsjson.Write(ctx, conn, m)
}

// offer replaces whatever is buffered in ch with v.
func offer[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
