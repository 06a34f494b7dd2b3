package lobby

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/checker-lobby/internal/engine"
)

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

func newTestLobby(t *testing.T, opts ...Option) *Lobby {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewLobby(ctx, uuid.New(), opts...)
}

// helper: fetch the view with a timeout so tests never hang
func recvView(t *testing.T, l *Lobby) View {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := l.View(ctx)
	require.NoError(t, err)
	return v
}

func TestLobby_AssignReassignUnassign(t *testing.T) {
	ctx := context.Background()
	l := newTestLobby(t)

	res, err := l.Assign(ctx, 0, "Alice")
	require.NoError(t, err)
	assert.Equal(t, 0, res.SlotIndex)
	assert.NotEmpty(t, res.Secret)

	again, err := l.Reassign(ctx, 0, res.Secret)
	require.NoError(t, err)
	assert.Equal(t, res, again)

	_, err = l.Reassign(ctx, 0, "wrong")
	assert.ErrorIs(t, err, engine.ErrInvalidSecret)

	require.NoError(t, l.Unassign(ctx, 0, res.Secret))
	assert.ErrorIs(t, l.Unassign(ctx, 0, res.Secret), engine.ErrInvalidSlot)

	v := recvView(t, l)
	assert.Equal(t, 3, v.Version, "only successful commands bump the version")
	assert.False(t, v.State.Slots[0].Assigned)
}

func TestLobby_ConcurrentAssignSameSlot_ExactlyOneWins(t *testing.T) {
	l := newTestLobby(t)

	const contenders = 32
	var wins, taken atomic.Int32

	var g errgroup.Group
	for i := 0; i < contenders; i++ {
		g.Go(func() error {
			_, err := l.Assign(context.Background(), 1, "player")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, engine.ErrAlreadyAssigned):
				taken.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 1, wins.Load())
	assert.EqualValues(t, contenders-1, taken.Load())
}

func TestLobby_HeartbeatRefreshesOnlyWithSecret(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	l := newTestLobby(t, WithClock(clock.Now))
	ctx := context.Background()

	res, err := l.Assign(ctx, 0, "Alice")
	require.NoError(t, err)
	assignedAt := clock.Now()

	clock.Advance(5 * time.Second)
	require.NoError(t, l.Heartbeat(ctx, 0, "forged"))
	require.NoError(t, l.Heartbeat(ctx, 1, res.Secret))
	assert.Equal(t, assignedAt, recvView(t, l).State.Slots[0].LastHeartbeat)

	require.NoError(t, l.Heartbeat(ctx, 0, res.Secret))
	assert.Equal(t, clock.Now(), recvView(t, l).State.Slots[0].LastHeartbeat)
}

func TestLobby_SnapshotHasNoSecrets(t *testing.T) {
	ctx := context.Background()
	l := newTestLobby(t)

	_, err := l.Assign(ctx, 1, "Bob")
	require.NoError(t, err)

	snap, err := l.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Slots, engine.NumSlots)
	assert.False(t, snap.Slots[0].IsAssigned)
	assert.True(t, snap.Slots[1].IsAssigned)
	assert.Equal(t, "Bob", *snap.Slots[1].Name)
}

func TestLobby_WatchersAreCounted(t *testing.T) {
	ctx := context.Background()
	l := newTestLobby(t)

	require.NoError(t, l.Watch(ctx, "c1"))
	require.NoError(t, l.Watch(ctx, "c2"))
	require.NoError(t, l.Watch(ctx, "c2"))
	assert.Equal(t, 2, recvView(t, l).Watchers)

	require.NoError(t, l.Unwatch(ctx, "c1"))
	assert.Equal(t, 1, recvView(t, l).Watchers)
}

func TestLobby_Shutdown_RejectsFurtherCalls(t *testing.T) {
	l := newTestLobby(t)
	l.Close()

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatalf("lobby loop did not stop")
	}

	_, err := l.Assign(context.Background(), 0, "Alice")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLobby_ParentCancelStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := NewLobby(ctx, uuid.New())
	cancel()

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatalf("lobby loop did not stop")
	}
}
