// Package chat implements the server's room-processing core: connected
// users, the rooms they occupy, and the single-goroutine Engine that ticks
// over every room, reads one message per member, dispatches it, and routes
// the resulting envelopes back out.
//
// Ownership model:
// The Engine goroutine exclusively owns every User, every Room, and the four
// lookup tables relating them. Nothing else may touch that state; the
// listener hands fully-constructed Users across a channel, and the ops
// surface reads only the immutable Stats snapshot the Engine publishes after
// each tick. This single-writer discipline is what lets the handlers mutate
// several tables in one pass without locks.
package chat

import (
	"time"

	"github.com/RoseWrightdev/Parlor/internal/v1/wire"
)

// UserID identifies a connected user. IDs are assigned by the listener,
// start at 100, and are never reused within a process lifetime.
type UserID uint64

// RoomID identifies a room. Room 0 is always the Lobby.
type RoomID uint64

// LobbyID is the reserved id of the always-present Lobby room.
const LobbyID RoomID = 0

// Conn is the connection surface a User drives. In production it is a
// *frame.Socket; tests substitute scripted fakes.
type Conn interface {
	// Suck performs one non-blocking read into the decode buffer.
	Suck() (int, error)
	// TryGet decodes at most one message from the buffered bytes;
	// (nil, nil) means no complete message has arrived yet.
	TryGet() (wire.Msg, error)
	// Enqueue appends bytes to the outbound queue.
	Enqueue(b []byte)
	// Blow performs one non-blocking write and reports bytes still queued.
	Blow() (int, error)
	// Shutdown closes the connection.
	Shutdown() error
	// PeerAddr reports the remote address.
	PeerAddr() (string, error)
	// SendBufLen reports queued outbound bytes.
	SendBufLen() int
	// RecvBufLen reports received bytes awaiting decode.
	RecvBufLen() int
}

// Params carries the engine's tunable behavior. Values come from the
// daemon's configuration; zero fields fall back to the listed defaults so
// partially-populated Params stay usable.
type Params struct {
	LobbyName      string        // display name of room 0 (default "Lobby")
	Welcome        string        // Info sent to each newly admitted user
	MinTick        time.Duration // minimum main-loop period (default 500ms)
	BlackoutToPing time.Duration // silence span before a server Ping (default 10s)
	BlackoutToKick time.Duration // silence span before disconnect (default 20s)
	MaxUserNameLen int           // bytes, display form (default 24)
	MaxRoomNameLen int           // bytes, display form (default 24)
	ByteLimit      int           // quota ceiling before throttling (default 512)
	BytesPerTick   int           // quota drained per tick (default 6)
}

func (p Params) withDefaults() Params {
	if p.LobbyName == "" {
		p.LobbyName = "Lobby"
	}
	if p.MinTick <= 0 {
		p.MinTick = 500 * time.Millisecond
	}
	if p.BlackoutToPing <= 0 {
		p.BlackoutToPing = 10 * time.Second
	}
	if p.BlackoutToKick <= 0 {
		p.BlackoutToKick = 20 * time.Second
	}
	if p.MaxUserNameLen <= 0 {
		p.MaxUserNameLen = 24
	}
	if p.MaxRoomNameLen <= 0 {
		p.MaxRoomNameLen = 24
	}
	if p.ByteLimit <= 0 {
		p.ByteLimit = 512
	}
	if p.BytesPerTick <= 0 {
		p.BytesPerTick = 6
	}
	return p
}
