package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/DoyleJ11/checker-lobby/pkg/types"
)

func runPresence(t *testing.T, p *Presence) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Errorf("presence did not stop")
		}
	})
}

func recvSnapshot(t *testing.T, p *Presence, cond func(types.SlotSnapshot) bool) types.SlotSnapshot {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case snap := <-p.Snapshots():
			if cond(snap) {
				return snap
			}
		case <-deadline:
			t.Fatalf("no matching snapshot")
			return types.SlotSnapshot{}
		}
	}
}

func TestPresence_HeartbeatsKeepSlotFresh(t *testing.T) {
	srv := newLobbyServer(t)
	c := New(srv.URL)
	ctx := context.Background()

	id, err := c.CreateSession(ctx)
	require.NoError(t, err)
	res, err := c.Assign(ctx, id, 1, "Bob")
	require.NoError(t, err)

	var heartbeats atomic.Bool
	identity := types.Identity{SessionID: id, SlotIndex: res.SlotIndex, Secret: res.Secret}

	p := NewPresence(c.PresenceURL(), id,
		WithHeartbeatInterval(20*time.Millisecond),
		WithIdentitySource(func() (types.Identity, bool) { return identity, heartbeats.Load() }),
	)
	runPresence(t, p)

	first := recvSnapshot(t, p, func(s types.SlotSnapshot) bool { return s.Slots[1].IsAssigned })
	require.NotNil(t, first.Slots[1].LastHeartbeat)
	assignedAt := *first.Slots[1].LastHeartbeat

	heartbeats.Store(true)
	snap := recvSnapshot(t, p, func(s types.SlotSnapshot) bool {
		return s.Slots[1].LastHeartbeat.After(assignedAt)
	})
	assert.Equal(t, types.LivenessFresh, types.Classify(time.Now(), snap.Slots[1]))
}

func TestPresence_ReconnectsAndReannounces(t *testing.T) {
	var conns atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()
		var sel map[string]any
		if err := wsjson.Read(ctx, conn, &sel); err != nil {
			return
		}
		if sel["type"] != string(types.TypeSelectSession) {
			conn.Close(websocket.StatusPolicyViolation, "expected SelectSession")
			return
		}

		// Drop the first two connections straight away.
		if conns.Add(1) <= 2 {
			conn.Close(websocket.StatusGoingAway, "restarting")
			return
		}

		name := "Alice"
		_ = wsjson.Write(ctx, conn, types.SlotSnapshot{Slots: []types.SlotView{
			{SlotIndex: 0, Name: &name, IsAssigned: true},
			{SlotIndex: 1},
		}})
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	p := NewPresence("ws"+strings.TrimPrefix(srv.URL, "http"), uuid.New(),
		WithBackoff(10*time.Millisecond, 40*time.Millisecond),
	)
	runPresence(t, p)

	snap := recvSnapshot(t, p, func(types.SlotSnapshot) bool { return true })
	assert.Equal(t, "Alice", *snap.Slots[0].Name)
	assert.EqualValues(t, 3, conns.Load())
}

func TestPresence_ReportsReconnecting(t *testing.T) {
	// Nothing listens here.
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	p := NewPresence(url, uuid.New(), WithBackoff(10*time.Millisecond, 20*time.Millisecond))
	runPresence(t, p)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-p.States():
			if s == Reconnecting {
				return
			}
		case <-deadline:
			t.Fatalf("never reported reconnecting")
		}
	}
}

func TestConnState_String(t *testing.T) {
	assert.Equal(t, "reconnecting", Reconnecting.String())
	assert.Equal(t, "unknown", ConnState(42).String())
}
