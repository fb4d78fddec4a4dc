package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/RoseWrightdev/Parlor/internal/v1/wire"
)

// fakeConn implements Conn with scripted input. Messages pushed onto the
// queue become readable after the next Suck, the way bytes land in a real
// socket's receive buffer; everything the server writes is kept for
// inspection.
type fakeConn struct {
	queued   []wire.Msg // scripted peer sends, not yet past Suck
	arrived  []wire.Msg // past Suck, awaiting decode
	arrivedB int        // encoded size of arrived, mirrors the receive buffer

	out     []byte // enqueued, unflushed
	flushed []byte // pushed out by Blow

	suckErr   error
	blowErr   error
	peer      string
	peerErr   error
	blowCalls int
	closed    bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{peer: "203.0.113.7:40000"}
}

// push scripts messages the peer sends.
func (c *fakeConn) push(ms ...wire.Msg) {
	c.queued = append(c.queued, ms...)
}

// reset forgets everything the server wrote so far.
func (c *fakeConn) reset() {
	c.out = nil
	c.flushed = nil
}

func (c *fakeConn) Suck() (int, error) {
	if c.suckErr != nil {
		return 0, c.suckErr
	}
	n := 0
	for _, m := range c.queued {
		n += len(wire.Encode(m))
	}
	c.arrived = append(c.arrived, c.queued...)
	c.arrivedB += n
	c.queued = nil
	return n, nil
}

func (c *fakeConn) TryGet() (wire.Msg, error) {
	if len(c.arrived) == 0 {
		return nil, nil
	}
	m := c.arrived[0]
	c.arrived = c.arrived[1:]
	c.arrivedB -= len(wire.Encode(m))
	return m, nil
}

func (c *fakeConn) Enqueue(b []byte) {
	c.out = append(c.out, b...)
}

func (c *fakeConn) Blow() (int, error) {
	c.blowCalls++
	if c.blowErr != nil {
		return len(c.out), c.blowErr
	}
	c.flushed = append(c.flushed, c.out...)
	c.out = nil
	return 0, nil
}

func (c *fakeConn) Shutdown() error {
	c.closed = true
	return nil
}

func (c *fakeConn) PeerAddr() (string, error) {
	if c.peerErr != nil {
		return "", c.peerErr
	}
	return c.peer, nil
}

func (c *fakeConn) SendBufLen() int { return len(c.out) }
func (c *fakeConn) RecvBufLen() int { return c.arrivedB }

// wrote decodes every message the server produced for this conn, flushed
// or not, in write order.
func (c *fakeConn) wrote(t *testing.T) []wire.Msg {
	t.Helper()
	raw := append(append([]byte{}, c.flushed...), c.out...)
	return decodeStream(t, raw)
}

func decodeStream(t *testing.T, raw []byte) []wire.Msg {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader(raw))
	var out []wire.Msg
	for {
		var rm json.RawMessage
		if err := dec.Decode(&rm); err != nil {
			if errors.Is(err, io.EOF) {
				return out
			}
			t.Fatalf("undecodable server output: %v", err)
		}
		m, err := wire.Decode(rm)
		require.NoError(t, err)
		out = append(out, m)
	}
}

// decodeEnv exposes the message sealed inside an envelope.
func decodeEnv(t *testing.T, env wire.Envelope) wire.Msg {
	t.Helper()
	m, err := wire.Decode(env.Bytes())
	require.NoError(t, err)
	return m
}

// countMsg counts exact occurrences of want in ms, compared in encoded form.
func countMsg(ms []wire.Msg, want wire.Msg) int {
	n := 0
	wantB := string(wire.Encode(want))
	for _, m := range ms {
		if string(wire.Encode(m)) == wantB {
			n++
		}
	}
	return n
}

func testEngine(p Params) (*Engine, chan *User) {
	handoff := make(chan *User, 8)
	return NewEngine(p, handoff), handoff
}

// admitUser builds a user on a fake conn and admits it directly, the way
// the admission phase would after a listener handoff.
func admitUser(t *testing.T, e *Engine, id UserID, name string) (*User, *fakeConn) {
	t.Helper()
	c := newFakeConn()
	u := NewUser(c, id)
	u.SetName(name)
	e.admit(context.Background(), u)
	require.Contains(t, e.users, id)
	return u, c
}

// gamingPair admits alice and bob, moves both into a fresh "Gaming" room
// (alice creating it, so she is its operator), settles all deliveries, and
// hands back clean conns.
func gamingPair(t *testing.T, e *Engine) (alice, bob *User, ac, bc *fakeConn) {
	t.Helper()
	ctx := context.Background()
	alice, ac = admitUser(t, e, 100, "alice")
	bob, bc = admitUser(t, e, 101, "bob")

	ac.push(wire.Join("Gaming"))
	e.tick(ctx, time.Now())
	bc.push(wire.Join("Gaming"))
	e.tick(ctx, time.Now())
	e.tick(ctx, time.Now())

	require.Contains(t, e.roomsByName, "gaming")
	rid := e.roomsByName["gaming"]
	require.True(t, e.rooms[rid].HasMember(alice.ID()))
	require.True(t, e.rooms[rid].HasMember(bob.ID()))
	require.Equal(t, alice.ID(), e.rooms[rid].Op())

	ac.reset()
	bc.reset()
	return alice, bob, ac, bc
}
