package session

import (
	"errors"
	"strings"
	"time"

	"github.com/danmuck/cimd/internal/protocol/frame"
)

var (
	ErrAddressRequired  = errors.New("session: address required")
	ErrUsernameRequired = errors.New("session: username required")
)

const defaultReplyTimeout = 10 * time.Second

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// TLSConfig configures an optional TLS layer over the TCP link. An empty
// CAFile verifies against the system roots.
type TLSConfig struct {
	Enabled            bool
	Mutual             bool
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// Config defines how a Session reaches and talks to the message center.
type Config struct {
	Address  string
	Username string
	Password string

	Checksum     bool
	MaxFrameSize int

	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	// ReadTimeout bounds the wait for a reply when ReplyTimeout is unset.
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	ReplyTimeout  time.Duration
	LogoutTimeout time.Duration

	// MaxConnectAttempts caps dial attempts per acquisition; <= 0 retries
	// until the context ends.
	MaxConnectAttempts int
	Backoff            BackoffConfig
	TLS                TLSConfig
}

func DefaultConfig() Config {
	return Config{
		Checksum:           true,
		MaxFrameSize:       frame.DefaultMaxFrameSize,
		ConnectTimeout:     5 * time.Second,
		HandshakeTimeout:   5 * time.Second,
		WriteTimeout:       10 * time.Second,
		ReplyTimeout:       defaultReplyTimeout,
		LogoutTimeout:      2 * time.Second,
		MaxConnectAttempts: 3,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero durations and limits. Checksum is left as given.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	c.Address = strings.TrimSpace(c.Address)
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = def.MaxFrameSize
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = c.ReadTimeout
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = defaultReplyTimeout
	}
	if c.LogoutTimeout <= 0 {
		c.LogoutTimeout = def.LogoutTimeout
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = def.Backoff
	}
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return ErrAddressRequired
	}
	if strings.TrimSpace(c.Username) == "" {
		return ErrUsernameRequired
	}
	return c.ValidateClientTransport()
}
