package hub

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/kuhhandel/internal/dispatcher"
	"github.com/DoyleJ11/kuhhandel/internal/transport"
	"github.com/DoyleJ11/kuhhandel/internal/transport/memory"
)

func newTestHub(t *testing.T, bus *memory.Bus) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewHub(ctx, Options{
		Dial: func(_ context.Context, channel string) (transport.Transport, error) {
			return bus.Connect(channel), nil
		},
		Logger: zap.NewNop(),
		Base: dispatcher.Config{
			ReconcileInterval: 50 * time.Millisecond,
			RequestStateAfter: 100 * time.Millisecond,
		},
	})
}

func TestHub_Join_Get_SamePointer(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t, memory.NewBus())

	r1, err := h.Join(ctx, "ZED123", "alice", "Alice")
	require.NoError(t, err)
	r2, err := h.Get(ctx, "ZED123")
	require.NoError(t, err)
	require.NotNil(t, r1)
	assert.Same(t, r1, r2)

	// Joining again reuses the running replica.
	r3, err := h.Join(ctx, "ZED123", "someone-else", "X")
	require.NoError(t, err)
	assert.Same(t, r1, r3)
	assert.Equal(t, "alice", r3.Dispatcher().PlayerID())

	missing, err := h.Get(ctx, "NOPE00")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestHub_RoomServesState(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t, memory.NewBus())
	r, err := h.Join(ctx, "ABC123", "alice", "Alice")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v, err := r.Dispatcher().State(ctx)
		return err == nil && v.IsHost && len(v.State.Players) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_DuplicateIdentityReconnects(t *testing.T) {
	ctx := context.Background()
	bus := memory.NewBus()
	h1 := newTestHub(t, bus)
	h2 := newTestHub(t, bus)

	r1, err := h1.Join(ctx, "DUP123", "alice", "Alice")
	require.NoError(t, err)
	r2, err := h2.Join(ctx, "DUP123", "alice", "Alice")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		a, b := r1.Dispatcher().PlayerID(), r2.Dispatcher().PlayerID()
		return a != b && (strings.HasPrefix(a, "p-") || strings.HasPrefix(b, "p-"))
	}, 3*time.Second, 10*time.Millisecond)
}

func TestHub_RemovesStoppedRoom(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t, memory.NewBus())
	r, err := h.Join(ctx, "END123", "alice", "Alice")
	require.NoError(t, err)

	r.Dispatcher().Inbox() <- dispatcher.Shutdown{}
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("room did not stop")
	}
	assert.NoError(t, r.Err())

	require.Eventually(t, func() bool {
		got, err := h.Get(ctx, "END123")
		return err == nil && got == nil
	}, time.Second, 10*time.Millisecond)
}

func TestHub_ShutdownStopsRooms(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t, memory.NewBus())
	r, err := h.Join(ctx, "OFF123", "alice", "Alice")
	require.NoError(t, err)

	h.Inbox() <- ShutdownHub{}
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("room did not stop")
	}
}
