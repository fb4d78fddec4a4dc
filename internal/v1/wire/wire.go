// Package wire defines the protocol messages exchanged between clients and
// the server, their JSON codec, and the envelope type the engine routes
// internally. On the wire a message is one externally tagged JSON value: a
// bare string for variants with no payload, otherwise an object with exactly
// one key naming the variant. Objects are concatenated on the stream with no
// separator; the frame layer splits them.
package wire

// Msg is one protocol message. Each variant is a concrete type; dispatch is
// a type switch. The unexported method keeps the set closed.
type Msg interface {
	noisy() bool
}

// Noisy reports whether m counts against the sender's byte quota.
func Noisy(m Msg) bool { return m.noisy() }

// Text carries chat lines. Clients send it with an empty Who; the server
// fills Who with the sender's name before fanning it out.
type Text struct {
	Who   string   `json:"who"`
	Lines []string `json:"lines"`
}

// Ping is the liveness probe and its reply.
type Ping struct{}

// Priv is a private message. Who names the recipient on the way in and the
// sender on the way out.
type Priv struct {
	Who  string `json:"who"`
	Text string `json:"text"`
}

// Logout carries a goodbye in either direction.
type Logout string

// Name requests a display-name change; it is also the mandatory first
// message of a connection.
type Name string

// Join switches the sender to (or creates) the named room.
type Join string

// Query is a read-only request. What selects addr, roster, who or rooms;
// Arg is a name-prefix pattern for who and rooms.
type Query struct {
	What string `json:"what"`
	Arg  string `json:"arg"`
}

// Block suppresses delivery of future messages from the named user.
type Block string

// Unblock reverses Block.
type Unblock string

// OpVerb enumerates the room-operator subcommands.
type OpVerb string

const (
	OpOpen   OpVerb = "Open"
	OpClose  OpVerb = "Close"
	OpKick   OpVerb = "Kick"
	OpInvite OpVerb = "Invite"
	OpGive   OpVerb = "Give"
)

// Op is a room-operator action. Name is the target for Kick, Invite and
// Give, and empty for Open and Close.
type Op struct {
	Verb OpVerb
	Name string
}

// Info is a benign server notice.
type Info string

// Err reports a protocol or policy violation to a client.
type Err string

// Misc is a structured event the client may render specially. Data is
// positional per What; Alt is a prebuilt human-readable fallback.
type Misc struct {
	What string   `json:"what"`
	Data []string `json:"data"`
	Alt  string   `json:"alt"`
}

func (Text) noisy() bool { return true }
func (Priv) noisy() bool { return true }
func (Name) noisy() bool { return true }
func (Join) noisy() bool { return true }

func (Ping) noisy() bool    { return false }
func (Logout) noisy() bool  { return false }
func (Query) noisy() bool   { return false }
func (Block) noisy() bool   { return false }
func (Unblock) noisy() bool { return false }
func (Op) noisy() bool      { return false }
func (Info) noisy() bool    { return false }
func (Err) noisy() bool     { return false }
func (Misc) noisy() bool    { return false }
