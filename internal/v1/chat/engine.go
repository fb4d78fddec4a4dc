package chat

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/RoseWrightdev/Parlor/internal/v1/ident"
	"github.com/RoseWrightdev/Parlor/internal/v1/logging"
	"github.com/RoseWrightdev/Parlor/internal/v1/metrics"
	"github.com/RoseWrightdev/Parlor/internal/v1/wire"
)

// Engine is the room processor. One goroutine calls Run and thereafter owns
// every User, every Room, and the four lookup tables; each tick it gives
// every room a turn, admits users the listener handed over, and reaps rooms
// that emptied.
type Engine struct {
	cfg Params

	users       map[UserID]*User
	usersByName map[string]UserID
	rooms       map[RoomID]*Room
	roomsByName map[string]RoomID

	handoff <-chan *User
	now     func() time.Time
	ticks   uint64
	stats   atomic.Pointer[Stats]
}

// pendingLogout defers a forced departure to the logout phase of the tick,
// after every member has had their turn.
type pendingLogout struct {
	uid    UserID
	toUser string // Logout text sent to the departing user
	toRoom string // shown to the room in the leave notice
	reason string // metrics label
}

// NewEngine builds an engine that admits users from handoff. The Lobby
// exists from the start and is joinable by its configured name.
func NewEngine(cfg Params, handoff <-chan *User) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:         cfg,
		users:       make(map[UserID]*User),
		usersByName: make(map[string]UserID),
		rooms:       make(map[RoomID]*Room),
		roomsByName: make(map[string]RoomID),
		handoff:     handoff,
		now:         time.Now,
	}
	lobby := NewRoom(LobbyID, cfg.LobbyName, 0)
	e.rooms[LobbyID] = lobby
	if lobby.IDStr() != "" {
		e.roomsByName[lobby.IDStr()] = LobbyID
	}
	return e
}

// Run ticks until ctx is cancelled, then logs every remaining user out and
// returns. All engine state is confined to the calling goroutine.
func (e *Engine) Run(ctx context.Context) error {
	logging.Info(ctx, "engine running",
		zap.Duration("min_tick", e.cfg.MinTick),
		zap.String("lobby", e.cfg.LobbyName))

	for {
		start := e.now()
		e.tick(ctx, start)

		wait := e.cfg.MinTick - e.now().Sub(start)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			e.close(ctx)
			return nil
		case <-time.After(wait):
		}
	}
}

// tick runs one full iteration: every room in ascending id order, then the
// empty-room sweep, then admission of newly accepted users.
func (e *Engine) tick(ctx context.Context, now time.Time) {
	rids := make([]RoomID, 0, len(e.rooms))
	for rid := range e.rooms {
		rids = append(rids, rid)
	}
	slices.Sort(rids)

	for _, rid := range rids {
		if err := e.processRoom(ctx, rid, now); err != nil {
			logging.Warn(ctx, "room processing failed",
				zap.Uint64("room_id", uint64(rid)), zap.Error(err))
		}
	}

	e.reapEmptyRooms(ctx)
	e.admitNewUsers(ctx)

	e.ticks++
	e.publishStats(now)
	metrics.ActiveUsers.Set(float64(len(e.users)))
	metrics.ActiveRooms.Set(float64(len(e.rooms)))
	metrics.Ticks.Inc()
	metrics.TickDuration.Observe(e.now().Sub(now).Seconds())
}

// processRoom gives one room its turn: read and dispatch one message per
// member, force out the dead and the idle, repair the operator seat, then
// deliver everything that accumulated and push the sockets.
func (e *Engine) processRoom(ctx context.Context, rid RoomID, now time.Time) error {
	r, ok := e.rooms[rid]
	if !ok {
		return fmt.Errorf("room %d does not exist", rid)
	}

	// Handlers mutate the member list, so each turn works off a snapshot.
	members := slices.Clone(r.Members())
	var pending []wire.Envelope
	var logouts []pendingLogout

	for _, uid := range members {
		if !r.HasMember(uid) {
			// An earlier handler this turn moved them elsewhere; their
			// next message belongs to their new room.
			continue
		}
		u, ok := e.users[uid]
		if !ok {
			logging.Warn(ctx, "member missing from user table",
				zap.Uint64("room_id", uint64(rid)), zap.Uint64("user_id", uint64(uid)))
			continue
		}

		// Errors accumulated since this user's last turn are fatal.
		if u.HasErrors() {
			logging.Debug(ctx, "user has socket errors",
				zap.Uint64("user_id", uint64(uid)), zap.Error(u.Errors()))
			logouts = append(logouts, pendingLogout{
				uid:    uid,
				toUser: "You are being disconnected due to a connection error.",
				toRoom: "[ lost connection ]",
				reason: metrics.ReasonError,
			})
			continue
		}

		over := u.ByteQuota() > e.cfg.ByteLimit
		u.DrainByteQuota(e.cfg.BytesPerTick)
		if over && u.ByteQuota() <= e.cfg.ByteLimit {
			u.DeliverMsg(wire.Err("You may send messages again."))
		}

		m := u.TryGet(now)
		if m == nil {
			idle := now.Sub(u.LastDataTime())
			switch {
			case idle > e.cfg.BlackoutToKick:
				logouts = append(logouts, pendingLogout{
					uid:    uid,
					toUser: "Too long since the server received data from the client.",
					toRoom: "[ disconnected by server ]",
					reason: metrics.ReasonIdle,
				})
			case idle > e.cfg.BlackoutToPing:
				u.DeliverMsg(wire.Ping{})
			}
			continue
		}

		if over {
			// Throttled: the message was read but has no effect.
			continue
		}

		metrics.Messages.WithLabelValues(kind(m)).Inc()
		envs, err := e.dispatch(ctx, rid, uid, m)
		if err != nil {
			logging.Warn(ctx, "handler error",
				zap.Uint64("room_id", uint64(rid)),
				zap.Uint64("user_id", uint64(uid)),
				zap.String("kind", kind(m)),
				zap.Error(err))
		} else {
			pending = append(pending, envs...)
		}

		// The decode above may have pushed the quota over the line; tell
		// the user once, on the crossing.
		if u, still := e.users[uid]; still && u.ByteQuota() > e.cfg.ByteLimit {
			u.DeliverMsg(wire.Err("You have exceeded your data quota and your messages will be ignored until it refills."))
		}
	}

	for _, lo := range logouts {
		pending = append(pending, e.removeUser(ctx, rid, lo.uid, lo.toUser, lo.toRoom, lo.reason)...)
	}

	// The operator seat may point at someone who departed this tick; the
	// oldest remaining member inherits it.
	if rid != LobbyID && !r.HasMember(r.Op()) {
		if mm := r.Members(); len(mm) > 0 {
			heir := mm[0]
			r.SetOp(heir)
			if hu, ok := e.users[heir]; ok {
				pending = append(pending, serverToRoom(rid, wire.Info(fmt.Sprintf(textNewOperatorFmt, hu.Name()))))
			}
		}
	}

	// Envelopes other rooms posted here are delivered before this turn's.
	delivered := r.InboxLen() + len(pending)
	r.DeliverInbox(e.users)
	for _, env := range pending {
		r.Deliver(env, e.users)
	}
	metrics.Envelopes.Add(float64(delivered))

	for _, uid := range r.Members() {
		if u, ok := e.users[uid]; ok {
			u.Nudge()
		}
	}
	return nil
}

// removeUser takes a user out of every table, closes them down with toUser
// as the farewell, and returns the leave notice for their room.
func (e *Engine) removeUser(ctx context.Context, rid RoomID, uid UserID, toUser, toRoom, reason string) []wire.Envelope {
	if r, ok := e.rooms[rid]; ok {
		r.Leave(uid)
	}
	u, ok := e.users[uid]
	if !ok {
		logging.Warn(ctx, "logout for unknown user", zap.Uint64("user_id", uint64(uid)))
		return nil
	}
	delete(e.users, uid)
	delete(e.usersByName, u.IDStr())
	u.Logout(toUser)
	metrics.Logouts.WithLabelValues(reason).Inc()
	logging.Info(ctx, "user logged out",
		zap.Uint64("user_id", uint64(uid)),
		zap.String("name", u.Name()),
		zap.String("reason", reason))

	return []wire.Envelope{userToRoom(uid, rid, leaveMisc(u.Name(), toRoom))}
}

// reapEmptyRooms removes every room that has no members. The Lobby stays.
func (e *Engine) reapEmptyRooms(ctx context.Context) {
	for rid, r := range e.rooms {
		if rid == LobbyID || len(r.Members()) > 0 {
			continue
		}
		delete(e.rooms, rid)
		delete(e.roomsByName, r.IDStr())
		logging.Debug(ctx, "reaped empty room",
			zap.Uint64("room_id", uint64(rid)), zap.String("name", r.Name()))
	}
}

// admitNewUsers drains the listener handoff queue without blocking and
// places each arrival in the Lobby.
func (e *Engine) admitNewUsers(ctx context.Context) {
	for {
		select {
		case u := <-e.handoff:
			if u != nil {
				e.admit(ctx, u)
			}
		default:
			return
		}
	}
}

// admit welcomes one accepted user. A name that is unusable (collapses to
// nothing, too long, or already taken) is replaced with a generated one
// before the user becomes visible to anyone.
func (e *Engine) admit(ctx context.Context, u *User) {
	u.DeliverMsg(wire.Info(e.cfg.Welcome))

	var reason string
	switch {
	case u.IDStr() == "":
		reason = textNameTooShort
	case len(u.Name()) > e.cfg.MaxUserNameLen:
		reason = fmt.Sprintf(textNameTooLongFmt, e.cfg.MaxUserNameLen)
	default:
		if ouid, taken := e.usersByName[u.IDStr()]; taken {
			current := u.IDStr()
			if ou, ok := e.users[ouid]; ok {
				current = ou.Name()
			}
			reason = fmt.Sprintf(textNameTakenFmt, current)
		}
	}

	if reason != "" {
		assigned := e.freeGeneratedName(uint64(u.ID()))
		previous := u.Name()
		u.DeliverMsg(wire.Err(reason))
		u.SetName(assigned)
		u.DeliverMsg(wire.Misc{
			What: "name",
			Data: []string{previous, assigned},
			Alt:  fmt.Sprintf("You are now known as %s.", assigned),
		})
		logging.Debug(ctx, "renamed incoming user",
			zap.Uint64("user_id", uint64(u.ID())),
			zap.String("requested", previous),
			zap.String("assigned", assigned))
	}

	lobby := e.rooms[LobbyID]
	lobby.Enqueue(wire.Seal(wire.ServerEndpoint(), wire.RoomEndpoint(uint64(LobbyID)),
		joinMisc(u.Name(), lobby.Name())))
	lobby.Join(u.ID())
	e.users[u.ID()] = u
	e.usersByName[u.IDStr()] = u.ID()

	logging.Info(ctx, "admitted user",
		zap.Uint64("user_id", uint64(u.ID())),
		zap.String("name", u.Name()))
}

// freeGeneratedName returns the first "user<n>" name, counting up from
// start, whose collapsed form is unclaimed.
func (e *Engine) freeGeneratedName(start uint64) string {
	for n := start; ; n++ {
		candidate := fmt.Sprintf("user%d", n)
		if _, taken := e.usersByName[ident.Collapse(candidate)]; !taken {
			return candidate
		}
	}
}

// firstFreeRoomID returns the lowest unclaimed room id. Unlike user ids,
// room ids are reused once a room winks out.
func (e *Engine) firstFreeRoomID() RoomID {
	for id := RoomID(0); ; id++ {
		if _, ok := e.rooms[id]; !ok {
			return id
		}
	}
}

// close logs every remaining user out ahead of process exit.
func (e *Engine) close(ctx context.Context) {
	logging.Info(ctx, "engine stopping", zap.Int("users", len(e.users)))
	for uid, u := range e.users {
		u.Logout("Server is shutting down.")
		metrics.Logouts.WithLabelValues(metrics.ReasonShutdown).Inc()
		delete(e.users, uid)
		delete(e.usersByName, u.IDStr())
	}
	for rid, r := range e.rooms {
		if rid == LobbyID {
			continue
		}
		delete(e.rooms, rid)
		delete(e.roomsByName, r.IDStr())
	}
	e.rooms[LobbyID].members = nil
	e.publishStats(e.now())
	metrics.ActiveUsers.Set(0)
	metrics.ActiveRooms.Set(float64(len(e.rooms)))
	logging.Info(ctx, "engine stopped")
}
