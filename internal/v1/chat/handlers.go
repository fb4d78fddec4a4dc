package chat

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/RoseWrightdev/Parlor/internal/v1/ident"
	"github.com/RoseWrightdev/Parlor/internal/v1/metrics"
	"github.com/RoseWrightdev/Parlor/internal/v1/wire"
)

// Client-facing texts used from more than one path. Single-use texts stay
// inline at their call sites.
const (
	textNameTooShort   = "Your name must have more non-whitespace characters."
	textNameTooLongFmt = "Your name cannot be longer than %d bytes."
	textNameTakenFmt   = "There is already a user named %q."
	textNoSuchUserFmt  = "There is no user named %q."
	textNewOperatorFmt = "%s is now the Room operator."
)

// dispatch routes one decoded client message to its handler. The returned
// envelopes are delivered at the end of the room's turn; an error means the
// message was unusable and is only logged.
func (e *Engine) dispatch(ctx context.Context, rid RoomID, uid UserID, m wire.Msg) ([]wire.Envelope, error) {
	switch v := m.(type) {
	case wire.Text:
		return e.handleText(rid, uid, v)
	case wire.Ping:
		// Pong of our own probe; receiving it already refreshed liveness.
		return nil, nil
	case wire.Priv:
		return e.handlePriv(rid, uid, v)
	case wire.Logout:
		return e.removeUser(ctx, rid, uid, "You have logged out.", string(v), metrics.ReasonLogout), nil
	case wire.Name:
		return e.handleName(rid, uid, v)
	case wire.Join:
		return e.handleJoin(rid, uid, v)
	case wire.Block:
		return e.handleBlock(rid, uid, v)
	case wire.Unblock:
		return e.handleUnblock(rid, uid, v)
	case wire.Query:
		return e.handleQuery(rid, uid, v)
	case wire.Op:
		return e.handleOp(rid, uid, v)
	default:
		return nil, fmt.Errorf("client sent server-only message %s", kind(m))
	}
}

func (e *Engine) handleText(rid RoomID, uid UserID, t wire.Text) ([]wire.Envelope, error) {
	u, err := e.sender(uid)
	if err != nil {
		return nil, err
	}
	t.Who = u.Name()
	return []wire.Envelope{userToRoom(uid, rid, t)}, nil
}

func (e *Engine) handlePriv(rid RoomID, uid UserID, p wire.Priv) ([]wire.Envelope, error) {
	u, err := e.sender(uid)
	if err != nil {
		return nil, err
	}
	collapsed := ident.Collapse(p.Who)
	if collapsed == "" {
		return []wire.Envelope{serverToUser(uid, wire.Err("You must specify a recipient for a private message."))}, nil
	}
	tid, ok := e.usersByName[collapsed]
	if !ok {
		return []wire.Envelope{serverToUser(uid, wire.Err(fmt.Sprintf(textNoSuchUserFmt, collapsed)))}, nil
	}
	target, ok := e.users[tid]
	if !ok {
		return nil, fmt.Errorf("user table missing %d (name %q)", tid, collapsed)
	}

	echo := wire.Misc{
		What: "priv_echo",
		Data: []string{target.Name(), p.Text},
		Alt:  fmt.Sprintf("$ You > %s: %s", target.Name(), p.Text),
	}
	return []wire.Envelope{
		serverToUser(uid, echo),
		userToUser(uid, tid, wire.Priv{Who: u.Name(), Text: p.Text}),
	}, nil
}

func (e *Engine) handleName(rid RoomID, uid UserID, n wire.Name) ([]wire.Envelope, error) {
	u, err := e.sender(uid)
	if err != nil {
		return nil, err
	}
	proposed := string(n)
	collapsed := ident.Collapse(proposed)
	if collapsed == "" {
		return []wire.Envelope{serverToUser(uid, wire.Err(textNameTooShort))}, nil
	}
	if len(proposed) > e.cfg.MaxUserNameLen {
		return []wire.Envelope{serverToUser(uid, wire.Err(fmt.Sprintf(textNameTooLongFmt, e.cfg.MaxUserNameLen)))}, nil
	}
	// A collision with the sender's own collapsed name is a restyling
	// ("fred" to "Fred"), not a collision.
	if holder, taken := e.usersByName[collapsed]; taken && holder != uid {
		current := collapsed
		if hu, ok := e.users[holder]; ok {
			current = hu.Name()
		}
		return []wire.Envelope{serverToUser(uid, wire.Err(fmt.Sprintf(textNameTakenFmt, current)))}, nil
	}

	previous := u.Name()
	delete(e.usersByName, u.IDStr())
	u.SetName(proposed)
	e.usersByName[u.IDStr()] = uid

	notice := wire.Misc{
		What: "name",
		Data: []string{previous, proposed},
		Alt:  fmt.Sprintf("%s is now known as %s.", previous, proposed),
	}
	return []wire.Envelope{serverToRoom(rid, notice)}, nil
}

func (e *Engine) handleJoin(rid RoomID, uid UserID, j wire.Join) ([]wire.Envelope, error) {
	u, err := e.sender(uid)
	if err != nil {
		return nil, err
	}
	proposed := string(j)
	collapsed := ident.Collapse(proposed)
	if collapsed == "" {
		return []wire.Envelope{serverToUser(uid, wire.Err("Room names must have more non-whitespace characters."))}, nil
	}
	if len(proposed) > e.cfg.MaxRoomNameLen {
		return []wire.Envelope{serverToUser(uid, wire.Err(fmt.Sprintf("Room names cannot be longer than %d bytes.", e.cfg.MaxRoomNameLen)))}, nil
	}

	var envs []wire.Envelope
	tid, ok := e.roomsByName[collapsed]
	if !ok {
		tid = e.firstFreeRoomID()
		nr := NewRoom(tid, proposed, uid)
		e.rooms[tid] = nr
		e.roomsByName[nr.IDStr()] = tid
		envs = append(envs, serverToUser(uid, wire.Info(fmt.Sprintf("You create room %q.", proposed))))
	}
	target := e.rooms[tid]

	switch {
	case tid == rid:
		return append(envs, serverToUser(uid, wire.Info(fmt.Sprintf("You are already in %s.", target.Name())))), nil
	case target.IsBanned(uid):
		return append(envs, serverToUser(uid, wire.Info(fmt.Sprintf("You are banned from %s.", target.Name())))), nil
	case target.Closed() && !target.IsInvited(uid):
		return append(envs, serverToUser(uid, wire.Info(fmt.Sprintf("%s is closed.", target.Name())))), nil
	}

	target.Join(uid)
	target.Enqueue(wire.Seal(wire.UserEndpoint(uint64(uid)), wire.RoomEndpoint(uint64(tid)),
		joinMisc(u.Name(), target.Name())))

	cur, ok := e.rooms[rid]
	if !ok {
		return nil, fmt.Errorf("current room %d does not exist", rid)
	}
	cur.Leave(uid)
	envs = append(envs, userToRoom(uid, rid, leaveMisc(u.Name(), "[ moved to another room ]")))
	return envs, nil
}

func (e *Engine) handleBlock(rid RoomID, uid UserID, b wire.Block) ([]wire.Envelope, error) {
	u, err := e.sender(uid)
	if err != nil {
		return nil, err
	}
	target, env := e.blockTarget(uid, string(b), "block")
	if target == nil {
		return []wire.Envelope{env}, nil
	}
	if u.BlockID(target.ID()) {
		return []wire.Envelope{serverToUser(uid, wire.Info(fmt.Sprintf("You are now blocking %s.", target.Name())))}, nil
	}
	return []wire.Envelope{serverToUser(uid, wire.Err(fmt.Sprintf("You are already blocking %s.", target.Name())))}, nil
}

func (e *Engine) handleUnblock(rid RoomID, uid UserID, b wire.Unblock) ([]wire.Envelope, error) {
	u, err := e.sender(uid)
	if err != nil {
		return nil, err
	}
	target, env := e.blockTarget(uid, string(b), "unblock")
	if target == nil {
		return []wire.Envelope{env}, nil
	}
	if u.UnblockID(target.ID()) {
		return []wire.Envelope{serverToUser(uid, wire.Info(fmt.Sprintf("You are no longer blocking %s.", target.Name())))}, nil
	}
	return []wire.Envelope{serverToUser(uid, wire.Err(fmt.Sprintf("You are not blocking %s.", target.Name())))}, nil
}

// blockTarget resolves the argument of a Block or Unblock. Either the
// target is returned, or an Err envelope for the sender.
func (e *Engine) blockTarget(uid UserID, name, verb string) (*User, wire.Envelope) {
	collapsed := ident.Collapse(name)
	if collapsed == "" {
		return nil, serverToUser(uid, wire.Err("That cannot be a name."))
	}
	tid, ok := e.usersByName[collapsed]
	if !ok {
		return nil, serverToUser(uid, wire.Err(fmt.Sprintf(textNoSuchUserFmt, collapsed)))
	}
	if tid == uid {
		return nil, serverToUser(uid, wire.Err(fmt.Sprintf("You cannot %s yourself.", verb)))
	}
	target, ok := e.users[tid]
	if !ok {
		return nil, serverToUser(uid, wire.Err(fmt.Sprintf(textNoSuchUserFmt, collapsed)))
	}
	return target, wire.Envelope{}
}

func (e *Engine) handleQuery(rid RoomID, uid UserID, q wire.Query) ([]wire.Envelope, error) {
	u, err := e.sender(uid)
	if err != nil {
		return nil, err
	}

	switch q.What {
	case "addr":
		addr, ok := u.Addr()
		if !ok {
			addr = "???"
		}
		reply := wire.Misc{
			What: "addr",
			Data: []string{addr},
			Alt:  fmt.Sprintf("Your address is %s.", addr),
		}
		return []wire.Envelope{serverToUser(uid, reply)}, nil

	case "roster":
		r, ok := e.rooms[rid]
		if !ok {
			return nil, fmt.Errorf("current room %d does not exist", rid)
		}
		names := e.rosterNames(r)
		reply := wire.Misc{
			What: "roster",
			Data: names,
			Alt:  strings.Join(names, ", "),
		}
		return []wire.Envelope{serverToUser(uid, reply)}, nil

	case "who":
		pattern := ident.Collapse(q.Arg)
		matches := prefixMatches(pattern, e.usersByName)
		if len(matches) == 0 {
			return []wire.Envelope{serverToUser(uid, wire.Info(fmt.Sprintf("No users matching the pattern %q.", pattern)))}, nil
		}
		reply := wire.Misc{
			What: "who",
			Data: matches,
			Alt:  fmt.Sprintf("Users matching %q: %s", pattern, strings.Join(matches, ", ")),
		}
		return []wire.Envelope{serverToUser(uid, reply)}, nil

	case "rooms":
		pattern := ident.Collapse(q.Arg)
		matches := prefixMatches(pattern, e.roomsByName)
		if len(matches) == 0 {
			return []wire.Envelope{serverToUser(uid, wire.Info(fmt.Sprintf("No rooms matching the pattern %q.", pattern)))}, nil
		}
		reply := wire.Misc{
			What: "rooms",
			Data: matches,
			Alt:  fmt.Sprintf("Rooms matching %q: %s", pattern, strings.Join(matches, ", ")),
		}
		return []wire.Envelope{serverToUser(uid, reply)}, nil

	default:
		return []wire.Envelope{serverToUser(uid, wire.Err(fmt.Sprintf(`Unknown "Query" type: %q.`, q.What)))}, nil
	}
}

func (e *Engine) handleOp(rid RoomID, uid UserID, op wire.Op) ([]wire.Envelope, error) {
	r, ok := e.rooms[rid]
	if !ok {
		return nil, fmt.Errorf("current room %d does not exist", rid)
	}
	// The Lobby's operator id is 0, never a real user, so this also covers
	// operator commands sent from the Lobby.
	if r.Op() != uid {
		return []wire.Envelope{serverToUser(uid, wire.Err("You are not the operator of this Room."))}, nil
	}

	switch op.Verb {
	case wire.OpOpen:
		if !r.Closed() {
			return []wire.Envelope{serverToUser(uid, wire.Info("The Room is already open."))}, nil
		}
		r.SetClosed(false)
		return []wire.Envelope{serverToRoom(rid, wire.Info(fmt.Sprintf("%s is now open.", r.Name())))}, nil

	case wire.OpClose:
		if r.Closed() {
			return []wire.Envelope{serverToUser(uid, wire.Info("The Room is already closed."))}, nil
		}
		r.SetClosed(true)
		return []wire.Envelope{serverToRoom(rid, wire.Info(fmt.Sprintf("%s is now closed.", r.Name())))}, nil

	case wire.OpGive:
		target, env := e.opTarget(uid, op.Name)
		if target == nil {
			return []wire.Envelope{env}, nil
		}
		if target.ID() == uid {
			return []wire.Envelope{serverToUser(uid, wire.Info(fmt.Sprintf("You are already the operator of %s.", r.Name())))}, nil
		}
		if !r.HasMember(target.ID()) {
			return []wire.Envelope{serverToUser(uid, wire.Info(fmt.Sprintf("%s is not in this Room.", target.Name())))}, nil
		}
		r.SetOp(target.ID())
		return []wire.Envelope{serverToRoom(rid, wire.Info(fmt.Sprintf(textNewOperatorFmt, target.Name())))}, nil

	case wire.OpInvite:
		target, env := e.opTarget(uid, op.Name)
		if target == nil {
			return []wire.Envelope{env}, nil
		}
		if target.ID() == uid {
			return []wire.Envelope{serverToUser(uid, wire.Info("You cannot invite yourself."))}, nil
		}
		r.Invite(target.ID())
		if r.HasMember(target.ID()) {
			return []wire.Envelope{serverToUser(uid, wire.Info(fmt.Sprintf("%s may now return to %s.", target.Name(), r.Name())))}, nil
		}
		return []wire.Envelope{
			serverToUser(uid, wire.Info(fmt.Sprintf("You invite %s to %s.", target.Name(), r.Name()))),
			serverToUser(target.ID(), wire.Info(fmt.Sprintf("You have been invited to %s.", r.Name()))),
		}, nil

	case wire.OpKick:
		target, env := e.opTarget(uid, op.Name)
		if target == nil {
			return []wire.Envelope{env}, nil
		}
		if target.ID() == uid {
			return []wire.Envelope{serverToUser(uid, wire.Info("You cannot kick yourself."))}, nil
		}
		tid := target.ID()
		r.Ban(tid)
		if !r.HasMember(tid) {
			return []wire.Envelope{serverToUser(uid, wire.Info(fmt.Sprintf("You ban %s from %s.", target.Name(), r.Name())))}, nil
		}

		envs := []wire.Envelope{serverToUser(tid, wire.Info(fmt.Sprintf("You have been kicked from %s.", r.Name())))}
		r.Leave(tid)
		lobby := e.rooms[LobbyID]
		lobby.Join(tid)
		lobby.Enqueue(wire.Seal(wire.UserEndpoint(uint64(tid)), wire.RoomEndpoint(uint64(LobbyID)),
			joinMisc(target.Name(), lobby.Name())))
		kicked := wire.Misc{
			What: "kick_other",
			Data: []string{target.Name(), r.Name()},
			Alt:  fmt.Sprintf("%s has been kicked from %s.", target.Name(), r.Name()),
		}
		return append(envs, serverToRoom(rid, kicked)), nil

	default:
		return nil, fmt.Errorf("unknown Op verb %q", op.Verb)
	}
}

// opTarget resolves the name argument of an operator subcommand. Either the
// target is returned, or an Info envelope for the sender; operator replies
// are informational even on failure.
func (e *Engine) opTarget(uid UserID, name string) (*User, wire.Envelope) {
	collapsed := ident.Collapse(name)
	tid, ok := e.usersByName[collapsed]
	if !ok {
		return nil, serverToUser(uid, wire.Info(fmt.Sprintf(textNoSuchUserFmt, collapsed)))
	}
	target, ok := e.users[tid]
	if !ok {
		return nil, serverToUser(uid, wire.Info(fmt.Sprintf(textNoSuchUserFmt, collapsed)))
	}
	return target, wire.Envelope{}
}

// sender fetches the dispatching user, which every handler needs.
func (e *Engine) sender(uid UserID) (*User, error) {
	u, ok := e.users[uid]
	if !ok {
		return nil, fmt.Errorf("user %d not in user table", uid)
	}
	return u, nil
}

// rosterNames lists a room's member names in join order, operator first for
// any room that has one.
func (e *Engine) rosterNames(r *Room) []string {
	members := r.Members()
	names := make([]string, 0, len(members))
	opID := r.Op()
	withOp := r.ID() != LobbyID && r.HasMember(opID)
	if withOp {
		if op, ok := e.users[opID]; ok {
			names = append(names, op.Name())
		}
	}
	for _, uid := range members {
		if withOp && uid == opID {
			continue
		}
		if u, ok := e.users[uid]; ok {
			names = append(names, u.Name())
		}
	}
	return names
}

// prefixMatches returns the sorted table keys beginning with pattern. An
// empty pattern matches everything.
func prefixMatches[V any](pattern string, table map[string]V) []string {
	var out []string
	for k := range table {
		if strings.HasPrefix(k, pattern) {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

// kind names a message variant for logs and metrics labels.
func kind(m wire.Msg) string {
	switch m.(type) {
	case wire.Text:
		return "Text"
	case wire.Ping:
		return "Ping"
	case wire.Priv:
		return "Priv"
	case wire.Logout:
		return "Logout"
	case wire.Name:
		return "Name"
	case wire.Join:
		return "Join"
	case wire.Block:
		return "Block"
	case wire.Unblock:
		return "Unblock"
	case wire.Query:
		return "Query"
	case wire.Op:
		return "Op"
	case wire.Info:
		return "Info"
	case wire.Err:
		return "Err"
	case wire.Misc:
		return "Misc"
	}
	return "unknown"
}

func joinMisc(name, room string) wire.Misc {
	return wire.Misc{
		What: "join",
		Data: []string{name, room},
		Alt:  fmt.Sprintf("%s joins %s.", name, room),
	}
}

func leaveMisc(name, message string) wire.Misc {
	return wire.Misc{
		What: "leave",
		Data: []string{name, message},
		Alt:  fmt.Sprintf("%s leaves: %s", name, message),
	}
}

func serverToUser(uid UserID, m wire.Msg) wire.Envelope {
	return wire.Seal(wire.ServerEndpoint(), wire.UserEndpoint(uint64(uid)), m)
}

func serverToRoom(rid RoomID, m wire.Msg) wire.Envelope {
	return wire.Seal(wire.ServerEndpoint(), wire.RoomEndpoint(uint64(rid)), m)
}

func userToRoom(uid UserID, rid RoomID, m wire.Msg) wire.Envelope {
	return wire.Seal(wire.UserEndpoint(uint64(uid)), wire.RoomEndpoint(uint64(rid)), m)
}

func userToUser(from, to UserID, m wire.Msg) wire.Envelope {
	return wire.Seal(wire.UserEndpoint(uint64(from)), wire.UserEndpoint(uint64(to)), m)
}
