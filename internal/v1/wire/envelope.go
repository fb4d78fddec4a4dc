package wire

import "fmt"

// EndpointKind discriminates the parties an envelope can name.
type EndpointKind uint8

const (
	EndUser EndpointKind = iota
	EndRoom
	EndServer
	EndAll
)

// Endpoint names one side of an envelope: a user, a room, the server
// itself, or everyone.
type Endpoint struct {
	Kind EndpointKind
	ID   uint64
}

func UserEndpoint(id uint64) Endpoint { return Endpoint{Kind: EndUser, ID: id} }
func RoomEndpoint(id uint64) Endpoint { return Endpoint{Kind: EndRoom, ID: id} }
func ServerEndpoint() Endpoint        { return Endpoint{Kind: EndServer} }
func AllEndpoint() Endpoint           { return Endpoint{Kind: EndAll} }

func (e Endpoint) String() string {
	switch e.Kind {
	case EndUser:
		return fmt.Sprintf("user(%d)", e.ID)
	case EndRoom:
		return fmt.Sprintf("room(%d)", e.ID)
	case EndServer:
		return "server"
	case EndAll:
		return "all"
	}
	return fmt.Sprintf("endpoint(%d)", e.Kind)
}

// Envelope pairs one pre-encoded message with routing metadata. Source is
// consulted by recipients' block lists; Dest drives fan-out. The message is
// encoded once so a broadcast writes identical bytes to every member.
type Envelope struct {
	Source Endpoint
	Dest   Endpoint
	data   []byte
}

// Seal encodes m and wraps it for routing.
func Seal(source, dest Endpoint, m Msg) Envelope {
	return Envelope{Source: source, Dest: dest, data: Encode(m)}
}

// Bytes returns the encoded message.
func (e Envelope) Bytes() []byte { return e.data }
