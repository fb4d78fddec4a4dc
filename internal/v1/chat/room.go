package chat

import (
	"slices"

	"k8s.io/utils/set"

	"github.com/RoseWrightdev/Parlor/internal/v1/ident"
	"github.com/RoseWrightdev/Parlor/internal/v1/wire"
)

// Room is a named channel in the IRC sense: formed on the fly from any
// unique name, gone again when the last member leaves. Members are kept in
// join order; the oldest member inherits the operator seat when the current
// operator departs.
type Room struct {
	id      RoomID
	name    string
	idstr   string
	members []UserID // join order
	op      UserID   // 0 in the Lobby, which has no operator
	closed  bool
	bans    set.Set[UserID]
	invites set.Set[UserID]
	inbox   []wire.Envelope
}

// NewRoom creates a room with creator as its operator. The Lobby is the one
// room created with creator 0.
func NewRoom(id RoomID, name string, creator UserID) *Room {
	return &Room{
		id:      id,
		name:    name,
		idstr:   ident.Collapse(name),
		op:      creator,
		bans:    set.New[UserID](),
		invites: set.New[UserID](),
	}
}

// ID returns the room's identifier.
func (r *Room) ID() RoomID { return r.id }

// Name returns the display name.
func (r *Room) Name() string { return r.name }

// IDStr returns the normalized name used as the lookup key.
func (r *Room) IDStr() string { return r.idstr }

// Members returns the member ids in join order. Callers must not mutate the
// returned slice; the engine clones it before dispatching handlers.
func (r *Room) Members() []UserID { return r.members }

// HasMember reports whether uid is currently in the room.
func (r *Room) HasMember(uid UserID) bool { return slices.Contains(r.members, uid) }

// Join appends uid to the member list.
func (r *Room) Join(uid UserID) { r.members = append(r.members, uid) }

// Leave removes every occurrence of uid from the member list.
func (r *Room) Leave(uid UserID) {
	r.members = slices.DeleteFunc(r.members, func(m UserID) bool { return m == uid })
}

// Ban forbids uid from entering. Banning revokes any standing invitation,
// keeping the two sets disjoint.
func (r *Room) Ban(uid UserID) {
	r.invites.Delete(uid)
	r.bans.Insert(uid)
}

// Invite permits uid to enter even when the room is closed. Inviting lifts
// any standing ban.
func (r *Room) Invite(uid UserID) {
	r.bans.Delete(uid)
	r.invites.Insert(uid)
}

// IsBanned reports whether uid is banned from the room.
func (r *Room) IsBanned(uid UserID) bool { return r.bans.Has(uid) }

// IsInvited reports whether uid holds an invitation.
func (r *Room) IsInvited(uid UserID) bool { return r.invites.Has(uid) }

// Op returns the operator's user id, 0 for the Lobby.
func (r *Room) Op() UserID { return r.op }

// SetOp transfers the operator seat to uid.
func (r *Room) SetOp(uid UserID) { r.op = uid }

// Closed reports whether entry requires an invitation.
func (r *Room) Closed() bool { return r.closed }

// SetClosed opens or closes the room.
func (r *Room) SetClosed(closed bool) { r.closed = closed }

// Enqueue posts an envelope to the room's inbox for delivery the next time
// this room is processed. Used by handlers running in another room's turn.
func (r *Room) Enqueue(env wire.Envelope) { r.inbox = append(r.inbox, env) }

// InboxLen reports how many envelopes await delivery.
func (r *Room) InboxLen() int { return len(r.inbox) }

// Deliver routes one envelope: a user-destined envelope goes to that user
// if still connected (wherever they are), anything else fans out to every
// current member. Source-based block filtering happens in User.Deliver.
func (r *Room) Deliver(env wire.Envelope, users map[UserID]*User) {
	if env.Dest.Kind == wire.EndUser {
		if u, ok := users[UserID(env.Dest.ID)]; ok {
			u.Deliver(env)
		}
		return
	}
	for _, uid := range r.members {
		if u, ok := users[uid]; ok {
			u.Deliver(env)
		}
	}
}

// DeliverInbox drains and delivers every queued envelope in arrival order.
func (r *Room) DeliverInbox(users map[UserID]*User) {
	for _, env := range r.inbox {
		r.Deliver(env, users)
	}
	r.inbox = r.inbox[:0]
}
