package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/cimd/internal/logging"
	"github.com/danmuck/cimd/internal/protocol"
	"github.com/danmuck/cimd/internal/protocol/frame"
	"github.com/rs/zerolog"
)

// InboundHandler receives requests the message center originates (deliver,
// delivery report, alive). It runs on the reader goroutine and must not
// call Send on the same Connection.
type InboundHandler func(protocol.Packet)

// ConnectionConfig is used as given. A Codec without a Sequence generator
// fails every Send that carries no explicit sequence number.
type ConnectionConfig struct {
	Codec         frame.Codec
	Username      string
	Password      string
	ReplyTimeout  time.Duration
	WriteTimeout  time.Duration
	LogoutTimeout time.Duration
	Inbound       InboundHandler
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Connection is one logged-in transport to the message center. Requests are
// sent one at a time; a reader goroutine owns the inbound half of the stream.
type Connection struct {
	cfg ConnectionConfig
	rw  io.ReadWriteCloser
	log zerolog.Logger

	sendMu  sync.Mutex
	writeMu sync.Mutex
	pending *replyRegistry

	loggedIn atomic.Bool
	closed   atomic.Bool

	done    chan struct{}
	readErr error

	abortOnce sync.Once
	closeOnce sync.Once
	closeErr  error
}

func NewConnection(rw io.ReadWriteCloser, cfg ConnectionConfig) *Connection {
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = defaultReplyTimeout
	}
	c := &Connection{
		cfg:     cfg,
		rw:      rw,
		log:     logging.For("connection"),
		pending: newReplyRegistry(),
		done:    make(chan struct{}),
	}
	go c.readLoop(bufio.NewReader(rw))
	return c
}

// Send writes req and waits for its reply. The returned packet may be any
// reply the peer correlated to req, positive or not.
func (c *Connection) Send(ctx context.Context, req protocol.Packet) (protocol.Packet, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.Closed() {
		return protocol.Packet{}, ErrConnectionClosed
	}
	req, err := c.cfg.Codec.Resolve(req)
	if err != nil {
		return protocol.Packet{}, err
	}
	seq, _ := req.Sequence()

	replies := c.pending.register(seq)
	defer c.pending.remove(seq)

	if err := c.write(ctx, req); err != nil {
		c.abort()
		return protocol.Packet{}, err
	}

	timer := time.NewTimer(c.cfg.ReplyTimeout)
	defer timer.Stop()
	select {
	case reply := <-replies:
		return reply, nil
	case <-timer.C:
		c.log.Warn().Int("op", req.OperationCode()).Int("seq", seq).Dur("after", c.cfg.ReplyTimeout).Msg("reply timeout")
		return protocol.Packet{}, fmt.Errorf("%w: op=%02d seq=%03d", ErrTimeout, req.OperationCode(), seq)
	case <-ctx.Done():
		return protocol.Packet{}, ctx.Err()
	case <-c.done:
		select {
		case reply := <-replies:
			return reply, nil
		default:
		}
		if c.readErr != nil {
			return protocol.Packet{}, fmt.Errorf("%w: %v", ErrConnectionClosed, c.readErr)
		}
		return protocol.Packet{}, ErrConnectionClosed
	}
}

func (c *Connection) Login(ctx context.Context) error {
	req := protocol.MustPacket(protocol.OpLogin,
		protocol.Param(protocol.ParamUserIdentity, c.cfg.Username),
		protocol.Param(protocol.ParamPassword, c.cfg.Password),
	)
	reply, err := c.Send(ctx, req)
	if err == nil {
		err = checkReply(req, reply)
	}
	if err != nil {
		return &LoginError{Username: c.cfg.Username, Err: err}
	}
	c.loggedIn.Store(true)
	c.log.Info().Str("user", c.cfg.Username).Msg("logged in")
	return nil
}

func (c *Connection) Logout(ctx context.Context) error {
	req := protocol.MustPacket(protocol.OpLogout)
	reply, err := c.Send(ctx, req)
	c.loggedIn.Store(false)
	if err != nil {
		return err
	}
	return checkReply(req, reply)
}

// Close logs out when logged in, closes the transport and waits for the
// reader to exit. Logout failures are ignored.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		if c.loggedIn.Load() && !c.Closed() {
			ctx, cancel := context.WithTimeout(context.Background(), c.logoutTimeout())
			if err := c.Logout(ctx); err != nil {
				c.log.Debug().Err(err).Msg("logout on close")
			}
			cancel()
		}
		c.abort()
		<-c.done
	})
	return c.closeErr
}

func (c *Connection) Closed() bool {
	return c.closed.Load()
}

// Done is closed once the reader goroutine has exited.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) LoggedIn() bool {
	return c.loggedIn.Load()
}

// abort closes the transport without a logout.
func (c *Connection) abort() {
	c.closed.Store(true)
	c.abortOnce.Do(func() {
		c.closeErr = c.rw.Close()
	})
}

func (c *Connection) logoutTimeout() time.Duration {
	if c.cfg.LogoutTimeout > 0 {
		return c.cfg.LogoutTimeout
	}
	return c.cfg.ReplyTimeout
}

func (c *Connection) write(ctx context.Context, p protocol.Packet) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if d, ok := c.rw.(writeDeadliner); ok {
		deadline := time.Time{}
		if c.cfg.WriteTimeout > 0 {
			deadline = time.Now().Add(c.cfg.WriteTimeout)
		}
		if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
			deadline = ctxDeadline
		}
		if err := d.SetWriteDeadline(deadline); err != nil {
			return err
		}
	}
	return c.cfg.Codec.WriteFrame(c.rw, p)
}

func (c *Connection) readLoop(r *bufio.Reader) {
	defer close(c.done)
	for {
		p, err := c.cfg.Codec.ReadFrame(r)
		if err != nil {
			if !c.Closed() {
				event := c.log.Warn()
				if errors.Is(err, frame.ErrMissingSTX) {
					event = c.log.Info()
				}
				event.Err(err).Msg("reader stopped")
			}
			c.readErr = err
			c.abort()
			return
		}
		if p.IsResponse() {
			if !c.pending.deliver(p) {
				c.log.Warn().Stringer("packet", p).Msg("dropping reply with no waiting request")
			}
			continue
		}
		c.handleInbound(p)
	}
}

func (c *Connection) handleInbound(p protocol.Packet) {
	if c.cfg.Inbound != nil {
		c.cfg.Inbound(p)
	}
	seq, _ := p.Sequence()
	ack, err := protocol.NewPacketWithSequence(protocol.ResponseCode(p.OperationCode()), seq)
	if err != nil {
		c.log.Warn().Err(err).Stringer("packet", p).Msg("cannot acknowledge inbound request")
		return
	}
	if err := c.write(context.Background(), ack); err != nil {
		c.log.Warn().Err(err).Int("op", p.OperationCode()).Msg("acknowledge inbound request")
	}
}
