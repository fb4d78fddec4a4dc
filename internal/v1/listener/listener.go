// Package listener accepts TCP connections, performs the initial name
// handshake, and hands fully-constructed users to the engine over a
// channel. The channel send transfers exclusive ownership of the user and
// its socket; after a successful handoff the listener never touches either
// again.
package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/RoseWrightdev/Parlor/internal/v1/chat"
	"github.com/RoseWrightdev/Parlor/internal/v1/config"
	"github.com/RoseWrightdev/Parlor/internal/v1/frame"
	"github.com/RoseWrightdev/Parlor/internal/v1/logging"
	"github.com/RoseWrightdev/Parlor/internal/v1/metrics"
	"github.com/RoseWrightdev/Parlor/internal/v1/wire"
)

// FirstUserID is the id assigned to the first accepted user. Ids only grow
// and advance only on a successful handoff, so a failed handshake never
// consumes one.
const FirstUserID chat.UserID = 100

// handshakeTick paces the blocking get and send used during the handshake.
const handshakeTick = 10 * time.Millisecond

const textBusy = "The server is too busy to accept new connections."
const textBadFirstMessage = `Protocol error: Initial message should be of type "Name".`

// Listener owns the accept loop. Accepts and handshakes run serially on a
// single goroutine; the only shared structure is the handoff channel.
type Listener struct {
	ln       net.Listener
	handoff  chan<- *chat.User
	guard    *rate.Limiter
	timeout  time.Duration
	readSize int
	nextID   chat.UserID
}

// New binds the configured chat address. Binding happens here rather than
// in Run so a taken port fails startup immediately.
func New(cfg *config.Config, handoff chan<- *chat.User) (*Listener, error) {
	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listener: bind %s: %w", cfg.Address, err)
	}
	return &Listener{
		ln:       ln,
		handoff:  handoff,
		guard:    rate.NewLimiter(rate.Limit(cfg.AcceptsPerSec), cfg.AcceptsPerSec),
		timeout:  cfg.HandshakeTimeout(),
		readSize: cfg.ReadSize,
		nextID:   FirstUserID,
	}, nil
}

// Addr returns the bound address, which main logs and the ops readiness
// probe reports.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Run accepts connections until ctx is cancelled, then closes the listener
// and returns nil. Any other accept failure is fatal.
func (l *Listener) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = l.ln.Close()
	}()

	logging.Info(ctx, "listener accepting connections",
		zap.String("addr", l.ln.Addr().String()))

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("listener: accept: %w", err)
		}

		if !l.guard.Allow() {
			metrics.Throttled.Inc()
			logging.Warn(ctx, "refusing connection, accept rate exceeded",
				zap.String("peer", conn.RemoteAddr().String()))
			refuse(conn)
			continue
		}

		l.handshake(ctx, conn)
	}
}

// handshake waits for the mandatory first message, which must be a Name,
// and hands the resulting user to the engine. Any failure sends a Logout
// best-effort, closes the connection, and leaves the id counter untouched.
func (l *Listener) handshake(ctx context.Context, conn net.Conn) {
	hctx := context.WithValue(ctx, logging.CorrelationIDKey, uuid.New().String())
	logging.Debug(hctx, "accepted connection",
		zap.String("peer", conn.RemoteAddr().String()))

	sock := frame.New(conn)
	sock.SetReadSize(l.readSize)

	msg, err := sock.BlockingGet(handshakeTick, l.timeout)
	if err != nil {
		reason := "read"
		if errors.Is(err, frame.ErrBlockingTimeout) {
			reason = "timeout"
		}
		metrics.HandshakeFailures.WithLabelValues(reason).Inc()
		logging.Debug(hctx, "handshake read failed", zap.Error(err))
		l.drop(sock, fmt.Sprintf("Error reading initial \"Name\" message: %v", err))
		return
	}

	name, ok := msg.(wire.Name)
	if !ok {
		metrics.HandshakeFailures.WithLabelValues("bad_first_message").Inc()
		logging.Debug(hctx, "handshake got wrong first message")
		l.drop(sock, textBadFirstMessage)
		return
	}

	// The requested name goes in verbatim; the engine validates it and
	// assigns a replacement at admission if it is unusable.
	u := chat.NewUser(sock, l.nextID)
	u.SetName(string(name))

	select {
	case l.handoff <- u:
		l.nextID++
		metrics.Accepted.Inc()
		logging.Info(hctx, "user handed to engine",
			zap.Uint64("user_id", uint64(u.ID())),
			zap.String("name", u.Name()))
	case <-ctx.Done():
		_ = sock.Shutdown()
	}
}

// drop sends reason as a Logout, best-effort, then closes the socket.
func (l *Listener) drop(sock *frame.Socket, reason string) {
	_ = sock.BlockingSend(wire.Encode(wire.Logout(reason)), handshakeTick, l.timeout)
	_ = sock.Shutdown()
}

// refuse turns away a connection that exceeded the accept rate with a
// single write attempt, so a slow peer cannot stall the accept loop.
func refuse(conn net.Conn) {
	sock := frame.New(conn)
	sock.Enqueue(wire.Encode(wire.Logout(textBusy)))
	_, _ = sock.Blow()
	_ = sock.Shutdown()
}
