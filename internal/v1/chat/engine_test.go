package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RoseWrightdev/Parlor/internal/v1/wire"
)

func TestNewEngineCreatesLobby(t *testing.T) {
	e, _ := testEngine(Params{LobbyName: "Front Desk"})

	lobby := e.rooms[LobbyID]
	require.NotNil(t, lobby)
	assert.Equal(t, "Front Desk", lobby.Name())
	assert.Equal(t, UserID(0), lobby.Op())
	assert.Equal(t, LobbyID, e.roomsByName["frontdesk"])
}

func TestAdmissionThroughHandoff(t *testing.T) {
	e, handoff := testEngine(Params{Welcome: "Welcome to the server."})
	ctx := context.Background()
	c := newFakeConn()
	u := NewUser(c, 100)
	u.SetName("alice")

	handoff <- u
	e.tick(ctx, time.Now())

	require.Contains(t, e.users, UserID(100))
	assert.Equal(t, UserID(100), e.usersByName["alice"])
	assert.True(t, e.rooms[LobbyID].HasMember(100))

	got := c.wrote(t)
	require.NotEmpty(t, got)
	assert.Equal(t, wire.Info("Welcome to the server."), got[0])

	// The Lobby announces the arrival when it next gets a turn.
	e.tick(ctx, time.Now())
	assert.Equal(t, 1, countMsg(c.wrote(t), wire.Msg(wire.Misc{
		What: "join",
		Data: []string{"alice", "Lobby"},
		Alt:  "alice joins Lobby.",
	})))
}

func TestAdmissionDrainsBacklog(t *testing.T) {
	e, handoff := testEngine(Params{})
	ctx := context.Background()

	for i, name := range []string{"alice", "bob", "carol"} {
		u := NewUser(newFakeConn(), UserID(100+i))
		u.SetName(name)
		handoff <- u
	}
	e.tick(ctx, time.Now())

	assert.Len(t, e.users, 3)
	assert.Len(t, e.rooms[LobbyID].Members(), 3)
}

func TestAdmissionRenamesCollidingName(t *testing.T) {
	e, handoff := testEngine(Params{})
	ctx := context.Background()
	admitUser(t, e, 100, "alice")

	c := newFakeConn()
	u := NewUser(c, 101)
	u.SetName("ALICE")
	handoff <- u
	e.tick(ctx, time.Now())

	assert.Equal(t, "user101", u.Name())
	assert.Equal(t, UserID(101), e.usersByName["user101"])
	// The original holder keeps the contested name.
	assert.Equal(t, UserID(100), e.usersByName["alice"])

	got := c.wrote(t)
	assert.Equal(t, 1, countMsg(got, wire.Msg(wire.Err(`There is already a user named "alice".`))))
	assert.Equal(t, 1, countMsg(got, wire.Msg(wire.Misc{
		What: "name",
		Data: []string{"ALICE", "user101"},
		Alt:  "You are now known as user101.",
	})))
}

func TestAdmissionRenamesUnusableNames(t *testing.T) {
	e, handoff := testEngine(Params{})
	ctx := context.Background()

	blank := NewUser(newFakeConn(), 100)
	blank.SetName("   ")
	handoff <- blank

	long := NewUser(newFakeConn(), 101)
	long.SetName(strings.Repeat("x", 25))
	handoff <- long

	e.tick(ctx, time.Now())

	assert.Equal(t, "user100", blank.Name())
	assert.Equal(t, "user101", long.Name())
}

func TestAdmissionGeneratedNameSkipsTakenOnes(t *testing.T) {
	e, handoff := testEngine(Params{})
	ctx := context.Background()
	admitUser(t, e, 100, "user102")

	c := newFakeConn()
	u := NewUser(c, 102)
	u.SetName(" ")
	handoff <- u
	e.tick(ctx, time.Now())

	assert.Equal(t, "user103", u.Name())
	assert.Equal(t, UserID(102), e.usersByName["user103"])
}

func TestIdlePingThenKick(t *testing.T) {
	e, _ := testEngine(Params{})
	ctx := context.Background()
	alice, ac := admitUser(t, e, 100, "alice")
	bob, bc := admitUser(t, e, 101, "bob")

	t0 := time.Now()
	alice.lastData = t0
	bob.lastData = t0
	e.tick(ctx, t0.Add(500*time.Millisecond))
	ac.reset()
	bc.reset()

	// Past the ping threshold both silent users get probed.
	e.tick(ctx, t0.Add(10*time.Second+time.Millisecond))
	assert.GreaterOrEqual(t, countMsg(ac.wrote(t), wire.Msg(wire.Ping{})), 1)
	assert.GreaterOrEqual(t, countMsg(bc.wrote(t), wire.Msg(wire.Ping{})), 1)

	// Alice answers; her clock resets.
	ac.push(wire.Ping{})
	e.tick(ctx, t0.Add(11*time.Second))
	assert.Equal(t, t0.Add(11*time.Second), alice.LastDataTime())

	// Bob stays silent past the kick threshold.
	ac.reset()
	bc.reset()
	e.tick(ctx, t0.Add(20*time.Second+500*time.Millisecond))

	assert.Equal(t, 1, countMsg(bc.wrote(t), wire.Msg(wire.Logout("Too long since the server received data from the client."))))
	assert.True(t, bc.closed)
	assert.NotContains(t, e.users, bob.ID())
	assert.Equal(t, []UserID{alice.ID()}, e.rooms[LobbyID].Members())
	assert.Equal(t, 1, countMsg(ac.wrote(t), wire.Msg(wire.Misc{
		What: "leave",
		Data: []string{"bob", "[ disconnected by server ]"},
		Alt:  "bob leaves: [ disconnected by server ]",
	})))

	// Alice is inside her window and stays.
	assert.Contains(t, e.users, alice.ID())
}

func TestThrottleLifecycle(t *testing.T) {
	e, _ := testEngine(Params{ByteLimit: 16, BytesPerTick: 50})
	ctx := context.Background()
	_, _, ac, bc := lobbyPair(t, e)

	throttled := wire.Msg(wire.Err("You have exceeded your data quota and your messages will be ignored until it refills."))
	recovered := wire.Msg(wire.Err("You may send messages again."))

	// One oversized message blows straight through the limit; it is still
	// processed, and the warning arrives exactly once.
	big := wire.Text{Lines: []string{strings.Repeat("a", 64)}}
	ac.push(big)
	e.tick(ctx, time.Now())
	assert.Equal(t, 1, countMsg(ac.wrote(t), throttled))
	assert.Equal(t, 1, countMsg(bc.wrote(t), wire.Msg(wire.Text{Who: "alice", Lines: big.Lines})))

	// While over quota a noisy message is read but has no effect, and no
	// second warning is sent.
	ac.push(wire.Text{Lines: []string{"x"}})
	e.tick(ctx, time.Now())
	assert.Equal(t, 0, countMsg(bc.wrote(t), wire.Msg(wire.Text{Who: "alice", Lines: []string{"x"}})))
	assert.Equal(t, 1, countMsg(ac.wrote(t), throttled))

	// Drain back under the limit: the all-clear arrives exactly once.
	for i := 0; i < 4; i++ {
		e.tick(ctx, time.Now())
	}
	assert.Equal(t, 1, countMsg(ac.wrote(t), recovered))

	// Messages flow again.
	ac.push(wire.Text{Lines: []string{"back"}})
	e.tick(ctx, time.Now())
	assert.Equal(t, 1, countMsg(bc.wrote(t), wire.Msg(wire.Text{Who: "alice", Lines: []string{"back"}})))
}

func TestSocketErrorForcesLogout(t *testing.T) {
	e, _ := testEngine(Params{})
	ctx := context.Background()
	alice, _, ac, bc := lobbyPair(t, e)

	ac.suckErr = assert.AnError

	// The failing read is observed on this tick, the logout happens on
	// the next.
	e.tick(ctx, time.Now())
	require.Contains(t, e.users, alice.ID())

	e.tick(ctx, time.Now())
	assert.NotContains(t, e.users, alice.ID())
	assert.NotContains(t, e.usersByName, "alice")
	assert.True(t, ac.closed)
	assert.Equal(t, 1, countMsg(bc.wrote(t), wire.Msg(wire.Misc{
		What: "leave",
		Data: []string{"alice", "[ lost connection ]"},
		Alt:  "alice leaves: [ lost connection ]",
	})))
}

func TestRoomCreatedAndReapedWithinTicks(t *testing.T) {
	e, _ := testEngine(Params{})
	ctx := context.Background()
	_, _, ac, _ := lobbyPair(t, e)

	ac.push(wire.Join("Fleeting"))
	e.tick(ctx, time.Now())
	require.Contains(t, e.roomsByName, "fleeting")
	rid := e.roomsByName["fleeting"]

	// The sole member idles out; the emptied room goes with them at the
	// end of the same tick.
	alice := e.users[100]
	alice.lastData = time.Now().Add(-time.Minute)
	e.tick(ctx, time.Now())

	assert.NotContains(t, e.users, UserID(100))
	assert.NotContains(t, e.rooms, rid)
	assert.NotContains(t, e.roomsByName, "fleeting")
}

func TestRoomIDsAreReused(t *testing.T) {
	e, _ := testEngine(Params{})
	ctx := context.Background()
	_, _, ac, bc := lobbyPair(t, e)

	ac.push(wire.Join("First"))
	e.tick(ctx, time.Now())
	first := e.roomsByName["first"]

	// Back to the Lobby; "First" empties and is reaped.
	ac.push(wire.Join("Lobby"))
	e.tick(ctx, time.Now())
	require.NotContains(t, e.roomsByName, "first")

	bc.push(wire.Join("Second"))
	e.tick(ctx, time.Now())

	assert.Equal(t, first, e.roomsByName["second"])
}

func TestRunStopsOnCancelAndLogsEveryoneOut(t *testing.T) {
	e, handoff := testEngine(Params{MinTick: 5 * time.Millisecond})
	c := newFakeConn()
	u := NewUser(c, 100)
	u.SetName("alice")
	handoff <- u

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	time.Sleep(25 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after cancellation")
	}

	assert.Equal(t, 1, countMsg(c.wrote(t), wire.Msg(wire.Logout("Server is shutting down."))))
	assert.True(t, c.closed)
	assert.Empty(t, e.users)
	assert.Empty(t, e.rooms[LobbyID].Members())

	stats := e.Snapshot()
	require.NotNil(t, stats)
	assert.Equal(t, 0, stats.Users)
}

func TestSnapshotPublishing(t *testing.T) {
	e, _ := testEngine(Params{})
	ctx := context.Background()

	assert.Nil(t, e.Snapshot())

	_, _, ac, _ := lobbyPair(t, e)
	ac.push(wire.Join("Gaming"))
	now := time.Now()
	e.tick(ctx, now)

	stats := e.Snapshot()
	require.NotNil(t, stats)
	assert.Equal(t, 2, stats.Users)
	assert.Equal(t, 2, stats.Rooms)
	assert.Equal(t, now, stats.LastTick)
	require.Len(t, stats.Occupancy, 2)
	assert.Equal(t, uint64(LobbyID), stats.Occupancy[0].ID)
	assert.Equal(t, 1, stats.Occupancy[0].Members)
	assert.Equal(t, "Gaming", stats.Occupancy[1].Name)
	assert.Equal(t, 1, stats.Occupancy[1].Members)
}
