package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/cimd/internal/logging"
	"github.com/danmuck/cimd/internal/observability"
	"github.com/danmuck/cimd/internal/protocol"
	"github.com/danmuck/cimd/internal/protocol/session"
	"github.com/danmuck/cimd/internal/segment"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

type options struct {
	configPath   string
	to           string
	from         string
	text         string
	alive        bool
	statusReport int
	timeout      time.Duration
}

func main() {
	logging.ConfigureRuntime()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "cimdctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	if opts.to == "" && !opts.alive {
		return errors.New("nothing to do: pass --to and --text, or --alive")
	}

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	s, err := session.Dial(cfg.Session, func(p protocol.Packet) {
		log.Info().Str("component", "cimdctl").Stringer("packet", p).Msg("inbound request")
	})
	if err != nil {
		return err
	}
	defer s.Close()

	seg, err := segment.New(cfg.MaxPartSize)
	if err != nil {
		return err
	}
	s.SetSegmenter(seg)

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	if opts.alive {
		if err := s.Alive(ctx); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "alive")
	}
	if opts.to == "" {
		return nil
	}

	req := session.SubmitRequest{OriginatingAddress: opts.from}
	if opts.statusReport > 0 {
		req.StatusReportRequest = &opts.statusReport
	}
	stamps, err := s.SubmitText(ctx, opts.to, opts.text, req)
	for _, ts := range stamps {
		fmt.Fprintln(stdout, ts)
	}
	return err
}

func parseArgs(args []string) (clientConfig, options, error) {
	fs := pflag.NewFlagSet("cimdctl", pflag.ContinueOnError)
	var opts options
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to a TOML config file")
	address := fs.String("address", "", "message center host:port")
	user := fs.StringP("user", "u", "", "login user identity")
	password := fs.StringP("password", "p", "", "login password")
	checksum := fs.Bool("checksum", true, "append and require frame checksums")
	useTLS := fs.Bool("tls", false, "dial with TLS")
	caFile := fs.String("ca-file", "", "CA bundle for TLS verification")
	metricsAddr := fs.String("metrics-addr", "", "serve Prometheus metrics on this address")
	partSize := fs.Int("max-part-size", segment.DefaultMaxPartSize, "maximum user data bytes per message part")
	fs.StringVar(&opts.to, "to", "", "destination address")
	fs.StringVar(&opts.from, "from", "", "originating address")
	fs.StringVarP(&opts.text, "text", "t", "", "message text")
	fs.BoolVar(&opts.alive, "alive", false, "send an alive request")
	fs.IntVar(&opts.statusReport, "status-report", 0, "status report request flags")
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall deadline, 0 for none")
	if err := fs.Parse(args); err != nil {
		return clientConfig{}, options{}, err
	}

	cfg := defaultClientConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = loadClientConfig(opts.configPath, cfg); err != nil {
			return clientConfig{}, options{}, err
		}
	}

	if fs.Changed("address") {
		cfg.Session.Address = *address
	}
	if fs.Changed("user") {
		cfg.Session.Username = *user
	}
	if fs.Changed("password") {
		cfg.Session.Password = *password
	}
	if fs.Changed("checksum") {
		cfg.Session.Checksum = *checksum
	}
	if fs.Changed("tls") {
		cfg.Session.TLS.Enabled = *useTLS
	}
	if fs.Changed("ca-file") {
		cfg.Session.TLS.CAFile = *caFile
	}
	if fs.Changed("metrics-addr") {
		cfg.MetricsAddr = *metricsAddr
	}
	if fs.Changed("max-part-size") {
		cfg.MaxPartSize = *partSize
	}
	return cfg, opts, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	log.Info().Str("component", "cimdctl").Str("addr", addr).Msg("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Str("component", "cimdctl").Err(err).Msg("metrics server stopped")
	}
}
