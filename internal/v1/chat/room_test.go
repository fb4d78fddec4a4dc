package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RoseWrightdev/Parlor/internal/v1/wire"
)

func TestRoomMembersKeepJoinOrder(t *testing.T) {
	r := NewRoom(1, "Gaming", 100)

	r.Join(100)
	r.Join(101)
	r.Join(102)
	r.Leave(101)

	assert.Equal(t, []UserID{100, 102}, r.Members())
	assert.True(t, r.HasMember(100))
	assert.False(t, r.HasMember(101))
}

func TestRoomNameCollapses(t *testing.T) {
	r := NewRoom(1, "  GAMING Höhle ", 100)

	assert.Equal(t, "  GAMING Höhle ", r.Name())
	assert.Equal(t, "gaminghohle", r.IDStr())
}

func TestBanAndInviteStayDisjoint(t *testing.T) {
	r := NewRoom(1, "Gaming", 100)

	r.Invite(101)
	require.True(t, r.IsInvited(101))

	// Banning revokes the invitation.
	r.Ban(101)
	assert.True(t, r.IsBanned(101))
	assert.False(t, r.IsInvited(101))

	// Inviting lifts the ban.
	r.Invite(101)
	assert.False(t, r.IsBanned(101))
	assert.True(t, r.IsInvited(101))
}

func TestRoomOperatorSeat(t *testing.T) {
	r := NewRoom(1, "Gaming", 100)

	assert.Equal(t, UserID(100), r.Op())
	r.SetOp(101)
	assert.Equal(t, UserID(101), r.Op())

	assert.False(t, r.Closed())
	r.SetClosed(true)
	assert.True(t, r.Closed())
}

func TestDeliverFansOutToMembers(t *testing.T) {
	r := NewRoom(1, "Gaming", 100)
	ca, cb := newFakeConn(), newFakeConn()
	users := map[UserID]*User{
		100: NewUser(ca, 100),
		101: NewUser(cb, 101),
	}
	r.Join(100)
	r.Join(101)
	r.Join(999) // departed, no longer in the user table

	env := wire.Seal(wire.UserEndpoint(100), wire.RoomEndpoint(1), wire.Text{Who: "alice", Lines: []string{"hi"}})
	r.Deliver(env, users)

	assert.Len(t, ca.wrote(t), 1)
	assert.Len(t, cb.wrote(t), 1)
}

func TestDeliverRoutesUserDestGlobally(t *testing.T) {
	// The recipient of a user-destined envelope need not be a member of
	// the delivering room.
	r := NewRoom(1, "Gaming", 100)
	ca, cb := newFakeConn(), newFakeConn()
	users := map[UserID]*User{
		100: NewUser(ca, 100),
		101: NewUser(cb, 101),
	}
	r.Join(100)

	env := wire.Seal(wire.UserEndpoint(100), wire.UserEndpoint(101), wire.Priv{Who: "alice", Text: "psst"})
	r.Deliver(env, users)

	assert.Empty(t, ca.wrote(t))
	got := cb.wrote(t)
	require.Len(t, got, 1)
	assert.Equal(t, wire.Priv{Who: "alice", Text: "psst"}, got[0])
}

func TestDeliverInboxDrainsInArrivalOrder(t *testing.T) {
	r := NewRoom(1, "Gaming", 100)
	c := newFakeConn()
	users := map[UserID]*User{100: NewUser(c, 100)}
	r.Join(100)

	r.Enqueue(wire.Seal(wire.ServerEndpoint(), wire.RoomEndpoint(1), wire.Info("first")))
	r.Enqueue(wire.Seal(wire.ServerEndpoint(), wire.RoomEndpoint(1), wire.Info("second")))
	require.Equal(t, 2, r.InboxLen())

	r.DeliverInbox(users)

	assert.Equal(t, 0, r.InboxLen())
	got := c.wrote(t)
	require.Len(t, got, 2)
	assert.Equal(t, wire.Info("first"), got[0])
	assert.Equal(t, wire.Info("second"), got[1])
}
