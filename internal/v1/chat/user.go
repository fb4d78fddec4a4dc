package chat

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/RoseWrightdev/Parlor/internal/v1/ident"
	"github.com/RoseWrightdev/Parlor/internal/v1/wire"
)

// User is a connected client's server-side state: the owned connection, the
// identity the name tables key on, the throttling counter, the liveness
// timestamp, and the block list consulted on delivery.
//
// Error discipline:
// The non-blocking send and receive paths never return errors. Failures
// accumulate in an internal list so the engine can check the user at one
// point in its loop and log them out cleanly. Only the listener's blocking
// handshake helpers surface errors directly.
type User struct {
	conn      Conn
	id        UserID
	name      string
	idstr     string
	byteQuota int
	lastData  time.Time
	blocks    []UserID // sorted, no duplicates
	errs      []error
}

// NewUser wraps conn as a freshly accepted user. The placeholder name
// "user<id>" holds until the handshake's Name message replaces it.
func NewUser(conn Conn, id UserID) *User {
	u := &User{
		conn:     conn,
		id:       id,
		lastData: time.Now(),
	}
	u.SetName(fmt.Sprintf("user%d", id))
	return u
}

// ID returns the user's stable identifier.
func (u *User) ID() UserID { return u.id }

// Name returns the display name.
func (u *User) Name() string { return u.name }

// IDStr returns the normalized name used as the lookup key.
func (u *User) IDStr() string { return u.idstr }

// SetName updates the display name and recomputes the normalized form.
// Callers owning the name table must re-key it around this call.
func (u *User) SetName(name string) {
	u.name = name
	u.idstr = ident.Collapse(name)
}

// Addr reports the connection's remote address. A lookup failure
// accumulates like any other socket error and reports false.
func (u *User) Addr() (string, bool) {
	a, err := u.conn.PeerAddr()
	if err != nil {
		u.errs = append(u.errs, err)
		return "", false
	}
	return a, true
}

// ByteQuota returns the throttling counter.
func (u *User) ByteQuota() int { return u.byteQuota }

// DrainByteQuota lowers the throttling counter, saturating at zero.
func (u *User) DrainByteQuota(amount int) {
	if amount > u.byteQuota {
		u.byteQuota = 0
		return
	}
	u.byteQuota -= amount
}

// LastDataTime returns when the last message was decoded from this user.
func (u *User) LastDataTime() time.Time { return u.lastData }

// HasErrors reports whether socket errors have accumulated.
func (u *User) HasErrors() bool { return len(u.errs) > 0 }

// Errors joins the accumulated socket errors, or nil when there are none.
func (u *User) Errors() error { return errors.Join(u.errs...) }

// BlockID adds id to the block list, keeping it sorted. Reports false when
// id was already blocked.
func (u *User) BlockID(id UserID) bool {
	i, found := slices.BinarySearch(u.blocks, id)
	if found {
		return false
	}
	u.blocks = slices.Insert(u.blocks, i, id)
	return true
}

// UnblockID removes id from the block list. Reports false when id was not
// blocked.
func (u *User) UnblockID(id UserID) bool {
	i, found := slices.BinarySearch(u.blocks, id)
	if !found {
		return false
	}
	u.blocks = slices.Delete(u.blocks, i, i+1)
	return true
}

// Blocks reports whether messages sourced from id are suppressed.
func (u *User) Blocks(id UserID) bool {
	_, found := slices.BinarySearch(u.blocks, id)
	return found
}

// Deliver queues an envelope's bytes for this user unless its source is a
// blocked user, in which case it is dropped silently.
func (u *User) Deliver(env wire.Envelope) {
	if env.Source.Kind == wire.EndUser && u.Blocks(UserID(env.Source.ID)) {
		return
	}
	u.conn.Enqueue(env.Bytes())
}

// DeliverMsg encodes m straight onto the outbound queue with no source
// filtering. Used only for messages the server originates for this user.
func (u *User) DeliverMsg(m wire.Msg) {
	u.conn.Enqueue(wire.Encode(m))
}

// Nudge pushes queued outbound bytes, accumulating any write error.
func (u *User) Nudge() {
	if u.conn.SendBufLen() == 0 {
		return
	}
	if _, err := u.conn.Blow(); err != nil {
		u.errs = append(u.errs, err)
	}
}

// TryGet attempts to read and decode one message. A successful decode
// refreshes the liveness timestamp and, for quota-counting messages, grows
// the byte quota by the bytes the message consumed from the receive buffer.
// Socket errors accumulate rather than surface; the caller sees nil.
func (u *User) TryGet(now time.Time) wire.Msg {
	if _, err := u.conn.Suck(); err != nil {
		u.errs = append(u.errs, err)
		return nil
	}

	buffered := u.conn.RecvBufLen()
	if buffered == 0 {
		return nil
	}

	m, err := u.conn.TryGet()
	if err != nil {
		u.errs = append(u.errs, err)
		return nil
	}
	if m == nil {
		return nil
	}

	u.lastData = now
	if wire.Noisy(m) {
		u.byteQuota += buffered - u.conn.RecvBufLen()
	}
	return m
}

// Logout makes a best-effort send of a Logout message, flushes, and shuts
// the connection down. Suitable for clean and forced departures alike.
func (u *User) Logout(message string) {
	u.DeliverMsg(wire.Logout(message))
	_, _ = u.conn.Blow()
	_ = u.conn.Shutdown()
}
