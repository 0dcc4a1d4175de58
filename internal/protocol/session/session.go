package session

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/cimd/internal/logging"
	"github.com/danmuck/cimd/internal/observability"
	"github.com/danmuck/cimd/internal/protocol"
	"github.com/danmuck/cimd/internal/segment"
	"github.com/rs/zerolog"
)

// Session sends requests over a Connection it acquires on first use and
// replaces after any failure. Requests are never retried automatically.
type Session struct {
	factory   Factory
	cfg       Config
	log       zerolog.Logger
	rng       *rand.Rand
	segmenter *segment.Segmenter

	mu     sync.Mutex
	conn   *Connection
	closed bool
}

func NewSession(factory Factory, cfg Config) *Session {
	cfg = cfg.WithDefaults()
	seg, _ := segment.New(segment.DefaultMaxPartSize)
	return &Session{
		factory:   factory,
		cfg:       cfg,
		log:       logging.For("session"),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		segmenter: seg,
	}
}

// Dial builds a Session over a Dialer for cfg.
func Dial(cfg Config, inbound InboundHandler) (*Session, error) {
	d, err := NewDialer(cfg, inbound)
	if err != nil {
		return nil, err
	}
	return NewSession(d, cfg), nil
}

// SetSegmenter replaces the segmenter used by SubmitText.
func (s *Session) SetSegmenter(seg *segment.Segmenter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segmenter = seg
}

// Send delivers req and returns its positive reply. Any other outcome closes
// the current connection; the next call reconnects.
func (s *Session) Send(ctx context.Context, req protocol.Packet) (protocol.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send(ctx, req)
}

func (s *Session) send(ctx context.Context, req protocol.Packet) (protocol.Packet, error) {
	op := req.OperationCode()
	if s.closed {
		return protocol.Packet{}, ErrSessionClosed
	}
	conn, err := s.acquire(ctx)
	if err != nil {
		observability.RecordRequest(op, "connect", 0)
		var loginErr *LoginError
		if errors.As(err, &loginErr) {
			return protocol.Packet{}, err
		}
		return protocol.Packet{}, &SessionError{Op: op, Err: err}
	}

	start := time.Now()
	reply, err := conn.Send(ctx, req)
	if err != nil {
		observability.RecordRequest(op, outcome(err), time.Since(start))
		s.discard()
		return protocol.Packet{}, &SessionError{Op: op, Err: err}
	}
	if err := checkReply(req, reply); err != nil {
		observability.RecordRequest(op, outcome(err), time.Since(start))
		s.log.Warn().Err(err).Stringer("reply", reply).Msg("non-positive reply")
		s.discard()
		return protocol.Packet{}, err
	}
	observability.RecordRequest(op, outcome(nil), time.Since(start))
	return reply, nil
}

// acquire returns the live connection, dialing a new one when needed.
func (s *Session) acquire(ctx context.Context) (*Connection, error) {
	if s.conn != nil && !s.conn.Closed() {
		return s.conn, nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
		observability.RecordConnect("reconnect")
	}

	var attempt int
	for {
		attempt++
		conn, err := s.factory.Connect(ctx)
		if err == nil {
			observability.RecordConnect("ok")
			s.conn = conn
			return conn, nil
		}
		s.log.Warn().Int("attempt", attempt).Err(err).Msg("connect")
		if isLoginRejection(err) {
			observability.RecordConnect("rejected")
			return nil, err
		}
		observability.RecordConnect("failed")
		if !s.shouldRetry(attempt) {
			return nil, err
		}
		if err := sleepContext(ctx, NextBackoffDelay(s.cfg.Backoff, attempt, s.rng)); err != nil {
			return nil, err
		}
	}
}

func (s *Session) shouldRetry(attempt int) bool {
	if s.cfg.MaxConnectAttempts <= 0 {
		return true
	}
	return attempt < s.cfg.MaxConnectAttempts
}

func (s *Session) discard() {
	if s.conn == nil {
		return
	}
	_ = s.conn.Close()
	s.conn = nil
}

// Close logs out and closes the current connection. Later calls fail with
// ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
