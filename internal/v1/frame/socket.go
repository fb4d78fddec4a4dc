// Package frame wraps a TCP stream in the message framing both sides of the
// protocol speak: JSON objects concatenated with no separator. A Socket
// buffers partial reads until a whole object is decodable and queues
// outbound bytes so writes never block the engine's tick.
package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/RoseWrightdev/Parlor/internal/v1/wire"
)

const (
	// DefaultReadSize is the per-call read buffer size.
	DefaultReadSize = 1024

	// pollGrain bounds how long a "non-blocking" read or write may wait.
	// Deadlines already in the past make the runtime skip the syscall
	// entirely, so a small positive grain is the closest Go gets to a true
	// non-blocking attempt.
	pollGrain = time.Millisecond
)

// ErrBlockingTimeout is returned by the Blocking helpers when their limit
// elapses before the operation completes.
var ErrBlockingTimeout = errors.New("frame: blocking operation timed out")

// Socket owns one client connection. None of its methods are safe for
// concurrent use; ownership passes whole from the listener to the engine.
type Socket struct {
	conn    net.Conn
	readBuf []byte
	current []byte // received, not yet decoded
	sendBuf []byte // queued, not yet written
}

// New wraps conn. Nagle's algorithm is disabled when conn is a TCP
// connection so small protocol messages leave immediately.
func New(conn net.Conn) *Socket {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return &Socket{
		conn:    conn,
		readBuf: make([]byte, DefaultReadSize),
	}
}

// SetReadSize resizes the read buffer. Values below one are ignored.
func (s *Socket) SetReadSize(n int) {
	if n > 0 {
		s.readBuf = make([]byte, n)
	}
}

// ReadSize returns the current read buffer size.
func (s *Socket) ReadSize() int { return len(s.readBuf) }

// RecvBufLen returns how many received bytes await decoding.
func (s *Socket) RecvBufLen() int { return len(s.current) }

// SendBufLen returns how many outbound bytes await writing.
func (s *Socket) SendBufLen() int { return len(s.sendBuf) }

// PeerAddr returns the remote address of the connection.
func (s *Socket) PeerAddr() (string, error) {
	addr := s.conn.RemoteAddr()
	if addr == nil {
		return "", errors.New("frame: no peer address")
	}
	return addr.String(), nil
}

// Suck performs one bounded read and appends whatever arrives to the decode
// buffer. A deadline expiry means no data was ready and reports zero bytes
// with no error, as does EOF: a peer that vanished without a Logout is
// reaped by the liveness timers, not by the read path. Any other failure is
// fatal.
func (s *Socket) Suck() (int, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(pollGrain)); err != nil {
		return 0, fmt.Errorf("frame: set read deadline: %w", err)
	}

	n, err := s.conn.Read(s.readBuf)
	if n > 0 {
		s.current = append(s.current, s.readBuf[:n]...)
	}
	if err != nil && !isTimeout(err) && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("frame: read: %w", err)
	}
	return n, nil
}

// TryGet attempts to decode exactly one message from the buffered bytes.
// It returns (nil, nil) when no complete object has arrived yet. On success
// the consumed bytes leave the buffer and any trailing remainder stays for
// the next call. A malformed stream or an unrecognized message is fatal.
func (s *Socket) TryGet() (wire.Msg, error) {
	if len(s.current) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(s.current))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("frame: decode: %w", err)
	}

	msg, err := wire.Decode(raw)
	if err != nil {
		return nil, err
	}

	// InputOffset is the end of the decoded value, which is exactly the
	// frame boundary in a concatenated-object stream.
	consumed := int(dec.InputOffset())
	rest := copy(s.current, s.current[consumed:])
	s.current = s.current[:rest]
	return msg, nil
}

// Enqueue appends b to the outbound queue. Nothing is written until Blow.
func (s *Socket) Enqueue(b []byte) {
	s.sendBuf = append(s.sendBuf, b...)
}

// Blow performs one bounded write of the outbound queue and returns how many
// bytes remain queued. A deadline expiry keeps the unwritten tail for the
// next call; any other failure is fatal.
func (s *Socket) Blow() (int, error) {
	if len(s.sendBuf) == 0 {
		return 0, nil
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(pollGrain)); err != nil {
		return len(s.sendBuf), fmt.Errorf("frame: set write deadline: %w", err)
	}

	n, err := s.conn.Write(s.sendBuf)
	if n > 0 {
		kept := copy(s.sendBuf, s.sendBuf[n:])
		s.sendBuf = s.sendBuf[:kept]
	}
	if err != nil && !isTimeout(err) {
		return len(s.sendBuf), fmt.Errorf("frame: write: %w", err)
	}
	return len(s.sendBuf), nil
}

// Shutdown closes the connection. Queued but unwritten bytes are dropped.
func (s *Socket) Shutdown() error {
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("frame: close: %w", err)
	}
	return nil
}

// BlockingGet polls Suck and TryGet every tick until a message arrives, a
// fatal error occurs, or limit elapses. Used only during the handshake,
// never on the engine's thread.
func (s *Socket) BlockingGet(tick, limit time.Duration) (wire.Msg, error) {
	deadline := time.Now().Add(limit)
	for {
		if _, err := s.Suck(); err != nil {
			return nil, err
		}
		msg, err := s.TryGet()
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrBlockingTimeout
		}
		time.Sleep(tick)
	}
}

// BlockingSend enqueues b and polls Blow every tick until the queue drains,
// a fatal error occurs, or limit elapses. Used only during the handshake.
func (s *Socket) BlockingSend(b []byte, tick, limit time.Duration) error {
	s.Enqueue(b)
	deadline := time.Now().Add(limit)
	for {
		remaining, err := s.Blow()
		if err != nil {
			return err
		}
		if remaining == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrBlockingTimeout
		}
		time.Sleep(tick)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
