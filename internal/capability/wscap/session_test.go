package wscap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxelswarm.ai/internal/capability"
	"voxelswarm.ai/internal/logging"
	"voxelswarm.ai/internal/protocol"
	"voxelswarm.ai/internal/transport/wstest"
)

func startServer(t *testing.T) (*wstest.Server, *Dialer) {
	t.Helper()
	srv := wstest.NewServer(wstest.Options{TickInterval: 5 * time.Millisecond, Logger: logging.Discard()})
	url := srv.Start()
	t.Cleanup(srv.Close)
	d, err := NewDialer(Options{URL: url, RequestTimeout: 2 * time.Second, Logger: logging.Discard()})
	require.NoError(t, err)
	return srv, d
}

func dial(t *testing.T, d *Dialer, name string) *Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sess, err := d.Dial(ctx, name)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Disconnect("test done") })
	return sess.(*Session)
}

// waitEvent returns the next event of kind, skipping others.
func waitEvent(t *testing.T, s *Session, kind capability.EventKind) capability.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", kind)
			return capability.Event{}
		}
	}
}

func ctx2s(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewDialer_RequiresURL(t *testing.T) {
	_, err := NewDialer(Options{})
	assert.Error(t, err)
}

func TestSession_SpawnHeartbeatAndWorldView(t *testing.T) {
	srv, d := startServer(t)
	srv.SetBlock([3]int{2, 0, 1}, "LOG")
	srv.SetBlock([3]int{-3, 0, 0}, "LOG")
	srv.PutEntity(protocol.EntityObs{ID: "p1", Type: "PLAYER", Name: "Steve", Pos: [3]int{3, 0, 3}})

	s := dial(t, d, "FrostRaven1")
	waitEvent(t, s, capability.EventSpawned)
	waitEvent(t, s, capability.EventHeartbeat)

	assert.Equal(t, capability.Vec3{}, s.Position())
	assert.Equal(t, 20, s.Vitals().Food)

	id, ok := s.BlockAt(capability.Vec3{X: 2.4, Y: 0.2, Z: 1.9})
	require.True(t, ok)
	assert.Equal(t, "LOG", id)
	_, ok = s.BlockAt(capability.Vec3{X: 100})
	assert.False(t, ok)

	logs := s.FindBlocks([]string{"LOG"}, 10)
	require.Len(t, logs, 2)
	assert.Equal(t, capability.Vec3{X: 2, Z: 1}, logs[0])

	ents := s.Entities()
	require.Len(t, ents, 1)
	assert.Equal(t, "Steve", ents[0].Identity())
	assert.Equal(t, "PLAYER", ents[0].Kind)
}

func TestSession_ActionsRoundTrip(t *testing.T) {
	srv, d := startServer(t)
	srv.SetBlock([3]int{1, 0, 0}, "STONE")
	s := dial(t, d, "IronWolf7")
	waitEvent(t, s, capability.EventSpawned)
	conn := srv.Conn("IronWolf7")
	require.NotNil(t, conn)
	ctx := ctx2s(t)

	require.NoError(t, s.PathfindTo(ctx, capability.Goal{Position: capability.Vec3{X: 2, Y: 0, Z: 2}, Range: 1}))
	assert.Equal(t, [3]int{2, 0, 2}, conn.Pos())

	require.NoError(t, s.Harvest(ctx, capability.Vec3{X: 1}))
	assert.Equal(t, "AIR", srv.Block([3]int{1, 0, 0}))
	require.NoError(t, s.WaitTicks(ctx, 2))
	assert.Equal(t, 1, capability.Count(s.Inventory(), "STONE"))

	require.NoError(t, s.Craft(ctx, "STONE_PICKAXE", 1))
	require.NoError(t, s.Equip(ctx, "STONE", capability.SlotHand))
	assert.Equal(t, "STONE", conn.Held())
	require.NoError(t, s.PlaceBlock(ctx, capability.Vec3{X: 1}, capability.Vec3{Y: 1}))
	assert.Equal(t, "STONE", srv.Block([3]int{1, 1, 0}))

	require.NoError(t, s.Attack(ctx, "p1"))
	assert.Equal(t, []string{"p1"}, conn.Attacked())

	require.NoError(t, s.SetSprint(true))
	require.Eventually(t, conn.Sprinting, time.Second, time.Millisecond)
	require.NoError(t, s.SetSprint(false))
	require.Eventually(t, func() bool { return !conn.Sprinting() }, time.Second, time.Millisecond)
}

func TestSession_EatWithHeldFood(t *testing.T) {
	srv, d := startServer(t)
	s := dial(t, d, "Eater")
	waitEvent(t, s, capability.EventSpawned)
	conn := srv.Conn("Eater")
	conn.Give("BREAD", 2)
	conn.SetVitals(20, 5)
	ctx := ctx2s(t)

	assert.Error(t, s.Consume(ctx), "nothing held yet")
	require.NoError(t, s.Equip(ctx, "BREAD", capability.SlotHand))
	require.NoError(t, s.Consume(ctx))
	require.NoError(t, s.ReleaseUse())
	require.NoError(t, s.WaitTicks(ctx, 2))
	assert.Equal(t, 11, s.Vitals().Food)
	assert.Equal(t, 1, capability.Count(s.Inventory(), "BREAD"))
}

func TestSession_RejectedAction(t *testing.T) {
	srv, d := startServer(t)
	srv.Fail(protocol.TaskCraft, protocol.ErrNoResource)
	s := dial(t, d, "Crafter")
	waitEvent(t, s, capability.EventSpawned)

	err := s.Craft(ctx2s(t), "IRON_PICKAXE", 1)
	var ae *protocol.ActionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, protocol.ErrNoResource, ae.Code)

	err = s.Equip(ctx2s(t), "DIAMOND_SWORD", capability.SlotHand)
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, protocol.ErrNoResource, ae.Code)
}

func TestSession_ProtocolErrors(t *testing.T) {
	srv, d := startServer(t)
	s := dial(t, d, "Noisy")
	waitEvent(t, s, capability.EventSpawned)
	conn := srv.Conn("Noisy")

	conn.SendRaw([]byte("{not json"))
	ev := waitEvent(t, s, capability.EventProtocolError)
	assert.Error(t, ev.Err)

	// Valid JSON that fails the OBS schema.
	conn.SendRaw([]byte(`{"type":"OBS","protocol_version":"1.0","tick":-4}`))
	waitEvent(t, s, capability.EventProtocolError)

	conn.SendRaw([]byte(`{"type":"OBS","protocol_version":"7.0","tick":1,"self":{"pos":[0,0,0],"hp":1,"hunger":1}}`))
	waitEvent(t, s, capability.EventProtocolError)

	// The session keeps working afterwards.
	waitEvent(t, s, capability.EventHeartbeat)
}

func TestSession_KickAndDrop(t *testing.T) {
	srv, d := startServer(t)

	s := dial(t, d, "Kicked")
	waitEvent(t, s, capability.EventSpawned)
	srv.Conn("Kicked").Kick("flying is not enabled")
	ev := waitEvent(t, s, capability.EventKicked)
	assert.Equal(t, "flying is not enabled", ev.Reason)

	s2 := dial(t, d, "Dropped")
	waitEvent(t, s2, capability.EventSpawned)
	srv.Conn("Dropped").Drop()
	ev = waitEvent(t, s2, capability.EventDisconnected)
	assert.Error(t, ev.Err)
}

func TestSession_DisconnectFailsPendingAndLaterCalls(t *testing.T) {
	srv, d := startServer(t)
	s := dial(t, d, "Quitter")
	waitEvent(t, s, capability.EventSpawned)
	srv.Conn("Quitter").PauseObs(true)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Craft(context.Background(), "PLANK", 4) }()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Disconnect("bye"))

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, capability.ErrClosed), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call not released")
	}
	assert.ErrorIs(t, s.SetSprint(true), capability.ErrNotConnected)
	assert.ErrorIs(t, s.WaitTicks(context.Background(), 1), capability.ErrClosed)
}

func TestSession_CancelledTaskSendsCancel(t *testing.T) {
	srv, d := startServer(t)
	s := dial(t, d, "Canceller")
	waitEvent(t, s, capability.EventSpawned)
	conn := srv.Conn("Canceller")
	conn.PauseObs(true)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := s.PathfindTo(ctx, capability.Goal{Position: capability.Vec3{X: 3}, Range: 1})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.Eventually(t, func() bool {
		acts := conn.Acts()
		return len(acts) == 2 && len(acts[1].Cancel) == 1 && acts[1].Cancel[0] == acts[0].Tasks[0].ID
	}, time.Second, time.Millisecond)
}

func TestSession_SetGoalReplacesPrevious(t *testing.T) {
	srv, d := startServer(t)
	s := dial(t, d, "Wanderer")
	waitEvent(t, s, capability.EventSpawned)
	conn := srv.Conn("Wanderer")

	require.NoError(t, s.SetGoal(capability.Goal{Position: capability.Vec3{X: 1}, Range: 1}))
	require.NoError(t, s.SetGoal(capability.Goal{Position: capability.Vec3{X: 2}, Range: 1}))
	require.Eventually(t, func() bool { return len(conn.Acts()) == 2 }, time.Second, time.Millisecond)
	acts := conn.Acts()
	assert.Empty(t, acts[0].Cancel)
	assert.Equal(t, []string{acts[0].Tasks[0].ID}, acts[1].Cancel)
	assert.Equal(t, [3]int{2, 0, 0}, acts[1].Tasks[0].Target)
}
