package session

import (
	"context"
	"crypto/tls"
	"errors"
	"net"

	"github.com/danmuck/cimd/internal/logging"
	"github.com/danmuck/cimd/internal/protocol/frame"
	"github.com/danmuck/cimd/internal/protocol/sequence"
	"github.com/rs/zerolog"
)

// Factory produces logged-in connections.
type Factory interface {
	Connect(ctx context.Context) (*Connection, error)
}

// Dialer is the TCP (optionally TLS) Factory.
type Dialer struct {
	cfg     Config
	inbound InboundHandler
	log     zerolog.Logger
}

func NewDialer(cfg Config, inbound InboundHandler) (*Dialer, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Dialer{
		cfg:     cfg,
		inbound: inbound,
		log:     logging.For("dialer").With().Str("addr", cfg.Address).Logger(),
	}, nil
}

// Connect dials, starts a Connection and logs in. A rejected login closes
// the transport and returns a *LoginError.
func (d *Dialer) Connect(ctx context.Context) (*Connection, error) {
	conn, err := d.dial(ctx)
	if err != nil {
		return nil, err
	}
	d.log.Debug().Str("local", conn.LocalAddr().String()).Msg("connected")

	c := NewConnection(conn, ConnectionConfig{
		Codec: frame.Codec{
			Checksum:     d.cfg.Checksum,
			MaxFrameSize: d.cfg.MaxFrameSize,
			Sequence:     sequence.NewApplication(),
		},
		Username:      d.cfg.Username,
		Password:      d.cfg.Password,
		ReplyTimeout:  d.cfg.ReplyTimeout,
		WriteTimeout:  d.cfg.WriteTimeout,
		LogoutTimeout: d.cfg.LogoutTimeout,
		Inbound:       d.inbound,
	})
	if err := c.Login(ctx); err != nil {
		c.abort()
		<-c.Done()
		return nil, err
	}
	return c, nil
}

func (d *Dialer) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", d.cfg.Address)
	if err != nil {
		return nil, err
	}
	if !d.cfg.TLS.Enabled {
		return rawConn, nil
	}

	tlsCfg, err := d.cfg.clientTLSConfig()
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, d.cfg.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

// isLoginRejection reports a login the message center answered with a
// refusal, as opposed to one that failed in transit.
func isLoginRejection(err error) bool {
	var loginErr *LoginError
	if !errors.As(err, &loginErr) {
		return false
	}
	switch outcome(loginErr.Err) {
	case "nack", "negative", "general_error", "unexpected":
		return true
	}
	return false
}
