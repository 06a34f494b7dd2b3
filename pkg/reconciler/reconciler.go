// Package reconciler keeps a client's local view of its slot claim in line
// with the server. Each kind of operation has its own pending guard with a
// local timeout; a response that arrives after its guard expired is dropped.
package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/checker-lobby/pkg/client"
	"github.com/DoyleJ11/checker-lobby/pkg/types"
)

const DefaultTimeout = 10 * time.Second

var (
	ErrPending    = errors.New("operation already pending")
	ErrNoIdentity = errors.New("no slot claimed")
	ErrHolding    = errors.New("already holding a slot")
)

// API is the assignment surface. *client.Client satisfies it.
type API interface {
	Assign(ctx context.Context, id uuid.UUID, slot int, name string) (types.AssignmentResult, error)
	Reassign(ctx context.Context, id uuid.UUID, slot int, secret string) (types.AssignmentResult, error)
	Unassign(ctx context.Context, id uuid.UUID, slot int, secret string) error
}

type Op string

const (
	OpAssign   Op = "assign"
	OpReassign Op = "reassign"
	OpUnassign Op = "unassign"
)

var ops = [...]Op{OpAssign, OpReassign, OpUnassign}

// Event reports how an operation ended. Identity is the claim held
// afterwards, nil when none.
type Event struct {
	Op       Op
	Identity *types.Identity
	Err      error
	Message  string
}

type Option func(*Reconciler)

func WithTimeout(d time.Duration) Option {
	return func(r *Reconciler) { r.timeout = d }
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Reconciler) { r.logger = logger }
}

type guard struct {
	gen    uint64
	active bool
	timer  *time.Timer
}

type Reconciler struct {
	api       API
	store     client.IdentityStore
	sessionID uuid.UUID
	timeout   time.Duration
	logger    *zap.Logger

	// requests outlive their guards; ctx bounds them to the reconciler
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	identity  *types.Identity
	confirmed bool
	guards    map[Op]*guard
	events    chan Event
}

func New(api API, store client.IdentityStore, sessionID uuid.UUID, opts ...Option) *Reconciler {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reconciler{
		api:       api,
		store:     store,
		sessionID: sessionID,
		timeout:   DefaultTimeout,
		logger:    zap.NewNop(),
		ctx:       ctx,
		cancel:    cancel,
		guards:    make(map[Op]*guard, len(ops)),
		events:    make(chan Event, 16),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, op := range ops {
		r.guards[op] = &guard{}
	}
	r.logger = r.logger.With(zap.Stringer("session_id", sessionID))
	return r
}

// Events delivers one Event per finished operation.
func (r *Reconciler) Events() <-chan Event { return r.events }

// Close abandons in-flight requests. Pending guards never fire afterwards.
func (r *Reconciler) Close() {
	r.cancel()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.guards {
		r.release(g)
	}
}

// Identity returns the current claim.
func (r *Reconciler) Identity() (types.Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.identity == nil {
		return types.Identity{}, false
	}
	return *r.identity, true
}

// Confirmed reports whether the server has accepted the current claim
// during this process's lifetime.
func (r *Reconciler) Confirmed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.identity != nil && r.confirmed
}

// Pending lists the operations still waiting for an answer.
func (r *Reconciler) Pending() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Op
	for _, op := range ops {
		if r.guards[op].active {
			out = append(out, op)
		}
	}
	return out
}

// Assign claims slot under name. It fails fast when a claim is already held.
func (r *Reconciler) Assign(slot int, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.identity != nil {
		return ErrHolding
	}
	return r.start(OpAssign, func(ctx context.Context) (*types.Identity, error) {
		res, err := r.api.Assign(ctx, r.sessionID, slot, name)
		if err != nil {
			return nil, err
		}
		return &types.Identity{SessionID: r.sessionID, SlotIndex: res.SlotIndex, Secret: res.Secret}, nil
	})
}

// Reassign re-confirms the held claim.
func (r *Reconciler) Reassign() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.identity == nil {
		return ErrNoIdentity
	}
	return r.reassign(*r.identity)
}

func (r *Reconciler) reassign(id types.Identity) error {
	return r.start(OpReassign, func(ctx context.Context) (*types.Identity, error) {
		res, err := r.api.Reassign(ctx, r.sessionID, id.SlotIndex, id.Secret)
		if err != nil {
			return nil, err
		}
		return &types.Identity{SessionID: r.sessionID, SlotIndex: res.SlotIndex, Secret: res.Secret}, nil
	})
}

// Unassign gives the held claim back.
func (r *Reconciler) Unassign() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.identity == nil {
		return ErrNoIdentity
	}
	id := *r.identity
	return r.start(OpUnassign, func(ctx context.Context) (*types.Identity, error) {
		return nil, r.api.Unassign(ctx, r.sessionID, id.SlotIndex, id.Secret)
	})
}

// Resume loads a persisted claim and, if this process has not confirmed it
// yet, reassigns it. It reports whether a reassign was started.
func (r *Reconciler) Resume() (bool, error) {
	id, ok, err := r.store.Load(r.sessionID)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !ok {
		return false, nil
	}
	if r.identity != nil && r.confirmed && *r.identity == id {
		return false, nil
	}
	if r.guards[OpReassign].active {
		return false, nil
	}

	r.identity = &id
	r.confirmed = false
	if err := r.reassign(id); err != nil {
		return false, err
	}
	return true, nil
}

// start arms the guard for op and issues call in the background. Callers
// hold r.mu.
func (r *Reconciler) start(op Op, call func(context.Context) (*types.Identity, error)) error {
	g := r.guards[op]
	if g.active {
		return ErrPending
	}

	g.gen++
	g.active = true
	gen := g.gen
	g.timer = time.AfterFunc(r.timeout, func() { r.expire(op, gen) })

	go func() {
		id, err := call(r.ctx)
		r.settle(op, gen, id, err)
	}()
	return nil
}

// expire fires when op's guard runs out before its response.
func (r *Reconciler) expire(op Op, gen uint64) {
	r.mu.Lock()
	g := r.guards[op]
	if !g.active || g.gen != gen {
		r.mu.Unlock()
		return
	}
	r.release(g)
	r.logger.Warn("operation timed out", zap.String("op", string(op)), zap.Duration("timeout", r.timeout))
	r.forget()
	r.mu.Unlock()

	r.emit(Event{Op: op, Err: client.ErrTimeout, Message: client.UserMessage(client.ErrTimeout)})
}

func (r *Reconciler) settle(op Op, gen uint64, id *types.Identity, err error) {
	r.mu.Lock()
	g := r.guards[op]
	if !g.active || g.gen != gen {
		r.mu.Unlock()
		r.logger.Debug("discarding late response", zap.String("op", string(op)), zap.Error(err))
		return
	}
	r.release(g)

	var ev Event
	switch {
	case err == nil && op == OpUnassign:
		r.forget()
		ev = Event{Op: op}

	case err == nil:
		r.identity = id
		r.confirmed = true
		if serr := r.store.Save(*id); serr != nil {
			r.logger.Warn("failed to persist identity", zap.Error(serr))
		}
		cp := *id
		ev = Event{Op: op, Identity: &cp}

	case op == OpUnassign && !rejected(err):
		// The claim may still be ours; keep it so the player can retry.
		r.logger.Warn("unassign failed", zap.Error(err))
		ev = Event{Op: op, Identity: r.current(), Err: err, Message: client.UserMessage(err)}

	default:
		r.logger.Warn("operation failed", zap.String("op", string(op)), zap.Error(err))
		r.forget()
		ev = Event{Op: op, Err: err, Message: client.UserMessage(err)}
	}
	r.mu.Unlock()

	r.emit(ev)
}

func (r *Reconciler) release(g *guard) {
	g.active = false
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

// forget drops the local claim and its persisted copy. Callers hold r.mu.
func (r *Reconciler) forget() {
	r.identity = nil
	r.confirmed = false
	if err := r.store.Clear(r.sessionID); err != nil {
		r.logger.Warn("failed to clear identity", zap.Error(err))
	}
}

func (r *Reconciler) current() *types.Identity {
	if r.identity == nil {
		return nil
	}
	cp := *r.identity
	return &cp
}

func (r *Reconciler) emit(ev Event) {
	select {
	case r.events <- ev:
	default:
		r.logger.Warn("event dropped, nobody is listening", zap.String("op", string(ev.Op)))
	}
}

// rejected reports whether the server refused the credential itself, as
// opposed to the request failing to get an answer.
func rejected(err error) bool {
	return errors.Is(err, client.ErrInvalidSecret) || errors.Is(err, client.ErrInvalidSlot)
}
