// Package cimdtest runs an in-process message center for tests. It answers
// every request with the matching response code and sequence number, adds a
// timestamp to submit replies and answers unknown operations with a general
// error.
package cimdtest

import (
	"bufio"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/danmuck/cimd/internal/auth"
	"github.com/danmuck/cimd/internal/protocol"
	"github.com/danmuck/cimd/internal/protocol/frame"
	"github.com/danmuck/cimd/internal/protocol/sequence"
)

// Timestamp is the message center timestamp returned for every submit.
const Timestamp = "230412101112"

const invalidLogin = 100

// Handler overrides the reply to req. Returning ok=false sends nothing.
type Handler func(req protocol.Packet) (reply protocol.Packet, ok bool)

type Option func(*Server)

// WithRejectLogin answers every login with error code.
func WithRejectLogin(code int) Option {
	return func(s *Server) {
		s.rejectLogin = code
	}
}

// WithHandler consults h before the default replies. h returning the zero
// Packet with ok=true falls through to the default reply.
func WithHandler(h Handler) Option {
	return func(s *Server) {
		s.handler = h
	}
}

// WithCredentials checks every login against v and answers failures with
// error code 100.
func WithCredentials(v auth.Validator) Option {
	return func(s *Server) {
		s.credentials = v
	}
}

func WithTLS(cfg *tls.Config) Option {
	return func(s *Server) {
		s.tls = cfg
	}
}

type Server struct {
	t           testing.TB
	ln          net.Listener
	codec       frame.Codec
	rejectLogin int
	credentials auth.Validator
	handler     Handler
	tls         *tls.Config

	writeMu sync.Mutex

	mu       sync.Mutex
	received []protocol.Packet
	conns    []net.Conn
	accepted int

	wg sync.WaitGroup
}

func Start(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s := &Server{
		t: t,
		codec: frame.Codec{
			Checksum:     true,
			MaxFrameSize: frame.DefaultMaxFrameSize,
			Sequence:     sequence.NewPeer(),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if s.tls != nil {
		ln = tls.NewListener(ln, s.tls)
	}
	s.ln = ln
	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Received returns every packet read so far, across connections.
func (s *Server) Received() []protocol.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Packet, len(s.received))
	copy(out, s.received)
	return out
}

// Ops returns the operation codes of Received in order.
func (s *Server) Ops() []int {
	packets := s.Received()
	out := make([]int, 0, len(packets))
	for _, p := range packets {
		out = append(out, p.OperationCode())
	}
	return out
}

func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// DropConnections closes every open client connection without a reply.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

// SendRequest writes a message center originated request on the newest
// connection and returns the packet as sent.
func (s *Server) SendRequest(op int, params ...protocol.Parameter) protocol.Packet {
	s.t.Helper()
	s.mu.Lock()
	var conn net.Conn
	if len(s.conns) > 0 {
		conn = s.conns[len(s.conns)-1]
	}
	s.mu.Unlock()
	if conn == nil {
		s.t.Fatalf("cimdtest: no open connection")
	}
	p, err := s.codec.Resolve(protocol.MustPacket(op, params...))
	if err != nil {
		s.t.Fatalf("cimdtest: resolve: %v", err)
	}
	if err := s.write(conn, p); err != nil {
		s.t.Fatalf("cimdtest: write request: %v", err)
	}
	return p
}

func (s *Server) Close() {
	_ = s.ln.Close()
	s.DropConnections()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.accepted++
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		req, err := s.codec.ReadFrame(r)
		if err != nil {
			if !errors.Is(err, frame.ErrMissingSTX) && !errors.Is(err, net.ErrClosed) {
				s.t.Logf("cimdtest: read: %v", err)
			}
			return
		}
		s.mu.Lock()
		s.received = append(s.received, req)
		s.mu.Unlock()

		if req.IsResponse() {
			continue
		}
		reply, ok := s.reply(req)
		if !ok {
			continue
		}
		if err := s.write(conn, reply); err != nil {
			return
		}
	}
}

func (s *Server) write(conn net.Conn, p protocol.Packet) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.codec.WriteFrame(conn, p)
}

func (s *Server) reply(req protocol.Packet) (protocol.Packet, bool) {
	if s.handler != nil {
		reply, ok := s.handler(req)
		if !ok {
			return protocol.Packet{}, false
		}
		if reply.OperationCode() != 0 {
			return reply, true
		}
	}

	seq, _ := req.Sequence()
	op := req.OperationCode()
	var params []protocol.Parameter
	switch op {
	case protocol.OpLogin:
		code := s.rejectLogin
		if code == 0 && s.credentials != nil {
			user, _ := req.Value(protocol.ParamUserIdentity)
			password, _ := req.Value(protocol.ParamPassword)
			if err := s.credentials.Validate(user, password); err != nil {
				code = invalidLogin
			}
		}
		if code != 0 {
			params = append(params, protocol.IntParameter(protocol.ParamErrorCode, code))
		}
	case protocol.OpSubmit:
		if dest, ok := req.Value(protocol.ParamDestinationAddress); ok {
			params = append(params, protocol.Param(protocol.ParamDestinationAddress, dest))
		}
		params = append(params, protocol.Param(protocol.ParamMCTimestamp, Timestamp))
	case protocol.OpEnquireStatus:
		params = append(params,
			protocol.IntParameter(protocol.ParamStatusCode, 4),
			protocol.Param(protocol.ParamDischargeTime, Timestamp),
		)
	case protocol.OpLogout, protocol.OpCancel, protocol.OpAlive:
	default:
		op = protocol.OpGeneralError - protocol.ResponseOffset
	}
	reply, err := protocol.NewPacketWithSequence(protocol.ResponseCode(op), seq, params...)
	if err != nil {
		s.t.Errorf("cimdtest: build reply: %v", err)
		return protocol.Packet{}, false
	}
	return reply, true
}

// Reply builds a response to req with the given operation code and params.
func Reply(req protocol.Packet, op int, params ...protocol.Parameter) protocol.Packet {
	seq, _ := req.Sequence()
	p, err := protocol.NewPacketWithSequence(op, seq, params...)
	if err != nil {
		panic(err)
	}
	return p
}
