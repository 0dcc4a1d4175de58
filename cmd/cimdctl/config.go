package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/cimd/internal/protocol/session"
	"github.com/danmuck/cimd/internal/segment"
)

type fileConfig struct {
	Address            string  `toml:"address"`
	Username           string  `toml:"username"`
	Password           string  `toml:"password"`
	Checksum           bool    `toml:"checksum"`
	MaxFrameSize       int     `toml:"max_frame_size"`
	ConnectTimeout     string  `toml:"connect_timeout"`
	ReplyTimeout       string  `toml:"reply_timeout"`
	WriteTimeout       string  `toml:"write_timeout"`
	LogoutTimeout      string  `toml:"logout_timeout"`
	MaxConnectAttempts int     `toml:"max_connect_attempts"`
	MaxPartSize        int     `toml:"max_part_size"`
	MetricsAddr        string  `toml:"metrics_addr"`
	TLS                fileTLS `toml:"tls"`
}

type fileTLS struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	CAFile             string `toml:"ca_file"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type clientConfig struct {
	Session     session.Config
	MaxPartSize int
	MetricsAddr string
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		Session:     session.DefaultConfig(),
		MaxPartSize: segment.DefaultMaxPartSize,
	}
}

// loadClientConfig applies the keys present in path on top of cfg.
func loadClientConfig(path string, cfg clientConfig) (clientConfig, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return clientConfig{}, fmt.Errorf("load cimdctl config: %w", err)
	}

	if meta.IsDefined("address") {
		cfg.Session.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("username") {
		cfg.Session.Username = strings.TrimSpace(raw.Username)
	}
	if meta.IsDefined("password") {
		cfg.Session.Password = raw.Password
	}
	if meta.IsDefined("checksum") {
		cfg.Session.Checksum = raw.Checksum
	}
	if meta.IsDefined("max_frame_size") {
		cfg.Session.MaxFrameSize = raw.MaxFrameSize
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.Session.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("max_part_size") {
		cfg.MaxPartSize = raw.MaxPartSize
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.Session.ConnectTimeout},
		{"reply_timeout", raw.ReplyTimeout, &cfg.Session.ReplyTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.Session.WriteTimeout},
		{"logout_timeout", raw.LogoutTimeout, &cfg.Session.LogoutTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return clientConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("tls", "enabled") {
		cfg.Session.TLS.Enabled = raw.TLS.Enabled
	}
	if meta.IsDefined("tls", "mutual") {
		cfg.Session.TLS.Mutual = raw.TLS.Mutual
	}
	if meta.IsDefined("tls", "ca_file") {
		cfg.Session.TLS.CAFile = strings.TrimSpace(raw.TLS.CAFile)
	}
	if meta.IsDefined("tls", "cert_file") {
		cfg.Session.TLS.CertFile = strings.TrimSpace(raw.TLS.CertFile)
	}
	if meta.IsDefined("tls", "key_file") {
		cfg.Session.TLS.KeyFile = strings.TrimSpace(raw.TLS.KeyFile)
	}
	if meta.IsDefined("tls", "server_name") {
		cfg.Session.TLS.ServerName = strings.TrimSpace(raw.TLS.ServerName)
	}
	if meta.IsDefined("tls", "insecure_skip_verify") {
		cfg.Session.TLS.InsecureSkipVerify = raw.TLS.InsecureSkipVerify
	}
	return cfg, nil
}
