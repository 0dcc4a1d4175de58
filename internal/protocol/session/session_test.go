package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/cimd/internal/auth"
	"github.com/danmuck/cimd/internal/protocol"
	"github.com/danmuck/cimd/internal/segment"
	"github.com/danmuck/cimd/internal/testutil/cimdtest"
	"github.com/danmuck/cimd/internal/testutil/testlog"
	"github.com/danmuck/cimd/internal/testutil/tlstest"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func testConfig(addr string) Config {
	cfg := DefaultConfig()
	cfg.Address = addr
	cfg.Username = "user"
	cfg.Password = "secret"
	cfg.ReplyTimeout = 2 * time.Second
	cfg.Backoff = BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1}
	return cfg
}

func dialSession(t *testing.T, cfg Config, inbound InboundHandler) *Session {
	t.Helper()
	s, err := Dial(cfg, inbound)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func paramNumbers(p protocol.Packet) []int {
	var out []int
	for _, param := range p.Params() {
		out = append(out, param.Number)
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSubmitRequestParameterOrder(t *testing.T) {
	testlog.Start(t)
	ud, err := protocol.BinaryUserData([]byte{0x01}, []byte{0x05, 0x00, 0x03, 0x01, 0x02, 0x01}, protocol.DCS8Bit)
	if err != nil {
		t.Fatalf("user data: %v", err)
	}
	validity, _ := protocol.AbsolutePeriod(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	firstDelivery, _ := protocol.RelativePeriod(10)
	req := SubmitRequest{
		DestinationAddress:     "+358401234567",
		OriginatingAddress:     "12345",
		AlphanumericOriginator: "ACME",
		UserData:               &ud,
		MoreMessagesToSend:     boolPtr(true),
		ValidityPeriod:         &validity,
		ProtocolIdentifier:     intPtr(0),
		FirstDeliveryTime:      &firstDelivery,
		ReplyPath:              boolPtr(false),
		StatusReportRequest:    intPtr(62),
		CancelEnabled:          boolPtr(true),
		TariffClass:            intPtr(1),
		ServiceDescription:     intPtr(2),
		Priority:               intPtr(3),
	}
	p, err := req.Packet()
	if err != nil {
		t.Fatalf("packet: %v", err)
	}
	want := []int{21, 23, 27, 30, 32, 34, 44, 51, 52, 53, 55, 56, 58, 64, 65, 67}
	if got := paramNumbers(p); !equalInts(got, want) {
		t.Fatalf("order got=%v want=%v", got, want)
	}
	if v, _ := p.Value(protocol.ParamValidityAbsolute); v != "240102030405" {
		t.Fatalf("validity got %q", v)
	}

	minimal, err := SubmitRequest{DestinationAddress: "1"}.Packet()
	if err != nil {
		t.Fatalf("minimal packet: %v", err)
	}
	if got := paramNumbers(minimal); !equalInts(got, []int{21}) {
		t.Fatalf("minimal order got=%v", got)
	}
	if _, err := (SubmitRequest{}).Packet(); !errors.Is(err, ErrDestinationRequired) {
		t.Fatalf("expected ErrDestinationRequired, got %v", err)
	}

	zeroBody := SubmitRequest{DestinationAddress: "123", UserData: &protocol.UserData{}}
	if _, err := zeroBody.Packet(); !errors.Is(err, protocol.ErrUnsetVariant) {
		t.Fatalf("zero user data: expected ErrUnsetVariant, got %v", err)
	}
	zeroValidity := SubmitRequest{DestinationAddress: "123", ValidityPeriod: &protocol.TimePeriod{}}
	if _, err := zeroValidity.Packet(); !errors.Is(err, protocol.ErrUnsetVariant) {
		t.Fatalf("zero validity period: expected ErrUnsetVariant, got %v", err)
	}
	zeroFirst := SubmitRequest{DestinationAddress: "123", FirstDeliveryTime: &protocol.TimePeriod{}}
	if _, err := zeroFirst.Packet(); !errors.Is(err, protocol.ErrUnsetVariant) {
		t.Fatalf("zero first delivery time: expected ErrUnsetVariant, got %v", err)
	}
}

func TestCheckReplyClassification(t *testing.T) {
	testlog.Start(t)
	req, _ := protocol.NewPacketWithSequence(protocol.OpSubmit, 1)

	if err := checkReply(req, cimdtest.Reply(req, 53, protocol.Param(protocol.ParamMCTimestamp, "x"))); err != nil {
		t.Fatalf("positive reply: %v", err)
	}

	var nack *NackError
	if err := checkReply(req, cimdtest.Reply(req, protocol.OpNack)); !errors.As(err, &nack) || nack.Expected != 1 {
		t.Fatalf("expected NackError, got %v", err)
	}

	var general *GeneralErrorResponseError
	err := checkReply(req, cimdtest.Reply(req, protocol.OpGeneralError, protocol.IntParameter(protocol.ParamErrorCode, 2)))
	if !errors.As(err, &general) || general.Code != 2 || general.Text != "Syntax error" {
		t.Fatalf("expected GeneralErrorResponseError, got %v", err)
	}

	var negative *NegativeResponseError
	err = checkReply(req, cimdtest.Reply(req, 53,
		protocol.IntParameter(protocol.ParamErrorCode, 9),
		protocol.Param(protocol.ParamErrorText, "try later"),
	))
	if !errors.As(err, &negative) || negative.Code != 9 || negative.Text != "try later" || negative.Op != protocol.OpSubmit {
		t.Fatalf("expected NegativeResponseError, got %v", err)
	}

	if err := checkReply(req, cimdtest.Reply(req, 90)); !errors.Is(err, ErrUnexpectedReply) {
		t.Fatalf("expected ErrUnexpectedReply, got %v", err)
	}
}

func TestConfigDefaultsAndValidation(t *testing.T) {
	testlog.Start(t)
	cfg := Config{Address: " 127.0.0.1:9971 ", ReadTimeout: 3 * time.Second}.WithDefaults()
	if cfg.ReplyTimeout != 3*time.Second {
		t.Fatalf("reply timeout should fall back to read timeout, got %v", cfg.ReplyTimeout)
	}
	if cfg.Address != "127.0.0.1:9971" {
		t.Fatalf("address not trimmed: %q", cfg.Address)
	}
	if got := (Config{}).WithDefaults().ReplyTimeout; got != 10*time.Second {
		t.Fatalf("default reply timeout got %v", got)
	}
	if err := cfg.Validate(); !errors.Is(err, ErrUsernameRequired) {
		t.Fatalf("expected ErrUsernameRequired, got %v", err)
	}
	if err := (Config{Username: "u"}).Validate(); !errors.Is(err, ErrAddressRequired) {
		t.Fatalf("expected ErrAddressRequired, got %v", err)
	}

	cases := []struct {
		tls  TLSConfig
		want error
	}{
		{TLSConfig{Mutual: true}, ErrTLSRequired},
		{TLSConfig{Enabled: true, Mutual: true, KeyFile: "k"}, ErrTLSCertFileRequired},
		{TLSConfig{Enabled: true, Mutual: true, CertFile: "c"}, ErrTLSKeyFileRequired},
		{TLSConfig{Enabled: true, CAFile: "ca", InsecureSkipVerify: true}, ErrTLSInsecureSkipNotAllow},
		{TLSConfig{Enabled: true}, nil},
	}
	for i, tc := range cases {
		err := Config{TLS: tc.tls}.ValidateClientTransport()
		if !errors.Is(err, tc.want) {
			t.Fatalf("case %d: got=%v want=%v", i, err, tc.want)
		}
	}
}

func TestSessionSubmitMessage(t *testing.T) {
	testlog.Start(t)
	server := cimdtest.Start(t)
	s := dialSession(t, testConfig(server.Addr()), nil)

	ud := protocol.TextUserData("hello", nil, protocol.DCSDefaultAlphabet)
	validity, _ := protocol.RelativePeriod(167)
	stamp, err := s.SubmitMessage(context.Background(), SubmitRequest{
		DestinationAddress:     "+358401234567",
		OriginatingAddress:     "12345",
		AlphanumericOriginator: "ACME",
		UserData:               &ud,
		ValidityPeriod:         &validity,
		StatusReportRequest:    intPtr(1),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if stamp != cimdtest.Timestamp {
		t.Fatalf("timestamp got %q", stamp)
	}

	received := server.Received()
	if len(received) != 2 || received[0].OperationCode() != protocol.OpLogin {
		t.Fatalf("unexpected server log: %v", server.Ops())
	}
	if user, _ := received[0].Value(protocol.ParamUserIdentity); user != "user" {
		t.Fatalf("login user got %q", user)
	}
	if got := paramNumbers(received[1]); !equalInts(got, []int{21, 23, 27, 30, 33, 50, 56}) {
		t.Fatalf("submit params got %v", got)
	}
	if seq, _ := received[1].Sequence(); seq != 3 {
		t.Fatalf("submit sequence got %d", seq)
	}
}

func TestSessionMissingTimestamp(t *testing.T) {
	testlog.Start(t)
	server := cimdtest.Start(t, cimdtest.WithHandler(func(req protocol.Packet) (protocol.Packet, bool) {
		if req.OperationCode() == protocol.OpSubmit {
			return cimdtest.Reply(req, 53), true
		}
		return protocol.Packet{}, true
	}))
	s := dialSession(t, testConfig(server.Addr()), nil)
	if _, err := s.SubmitMessage(context.Background(), SubmitRequest{DestinationAddress: "1"}); !errors.Is(err, ErrMissingTimestamp) {
		t.Fatalf("expected ErrMissingTimestamp, got %v", err)
	}
}

func TestSessionReconnectsAfterPeerDrop(t *testing.T) {
	testlog.Start(t)
	server := cimdtest.Start(t)
	s := dialSession(t, testConfig(server.Addr()), nil)
	ctx := context.Background()

	if err := s.Alive(ctx); err != nil {
		t.Fatalf("alive: %v", err)
	}
	conn := s.conn
	server.DropConnections()
	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("connection did not notice the drop")
	}
	if !conn.Closed() {
		t.Fatalf("connection should be marked closed")
	}

	if err := s.Alive(ctx); err != nil {
		t.Fatalf("alive after reconnect: %v", err)
	}
	if got := server.Accepted(); got != 2 {
		t.Fatalf("expected 2 connections, got %d", got)
	}
	logins := 0
	for _, op := range server.Ops() {
		if op == protocol.OpLogin {
			logins++
		}
	}
	if logins != 2 {
		t.Fatalf("expected 2 logins, got %d (%v)", logins, server.Ops())
	}
}

func TestSessionLoginRejectedIsNotRetried(t *testing.T) {
	testlog.Start(t)
	server := cimdtest.Start(t, cimdtest.WithRejectLogin(100))
	s := dialSession(t, testConfig(server.Addr()), nil)

	err := s.Alive(context.Background())
	var loginErr *LoginError
	if !errors.As(err, &loginErr) {
		t.Fatalf("expected LoginError, got %v", err)
	}
	var negative *NegativeResponseError
	if !errors.As(err, &negative) || negative.Code != 100 {
		t.Fatalf("expected wrapped NegativeResponseError 100, got %v", err)
	}
	if text, _ := protocol.ErrorText(100); negative.Text != text {
		t.Fatalf("error text got %q want %q", negative.Text, text)
	}
	if got := server.Accepted(); got != 1 {
		t.Fatalf("login rejection should not be retried, got %d connections", got)
	}
}

func TestSessionWrongPasswordSurfacesLoginError(t *testing.T) {
	testlog.Start(t)
	server := cimdtest.Start(t, cimdtest.WithCredentials(auth.StaticCredentials{Username: "user", Password: "other"}))
	s := dialSession(t, testConfig(server.Addr()), nil)

	_, err := s.SubmitMessage(context.Background(), SubmitRequest{DestinationAddress: "1"})
	var loginErr *LoginError
	if !errors.As(err, &loginErr) || loginErr.Username != "user" {
		t.Fatalf("expected LoginError for user, got %v", err)
	}
	var negative *NegativeResponseError
	if !errors.As(err, &negative) || negative.Code != 100 {
		t.Fatalf("expected invalid login code, got %v", err)
	}
	for _, op := range server.Ops() {
		if op == protocol.OpSubmit {
			t.Fatalf("submit must not be sent after a failed login")
		}
	}
}

type failingFactory struct {
	calls int
	err   error
}

func (f *failingFactory) Connect(context.Context) (*Connection, error) {
	f.calls++
	return nil, f.err
}

func TestSessionConnectRetriesUpToLimit(t *testing.T) {
	testlog.Start(t)
	factory := &failingFactory{err: errors.New("connection refused")}
	cfg := testConfig("127.0.0.1:1")
	cfg.MaxConnectAttempts = 3
	s := NewSession(factory, cfg)

	err := s.Alive(context.Background())
	var sessErr *SessionError
	if !errors.As(err, &sessErr) || !errors.Is(err, factory.err) {
		t.Fatalf("expected SessionError wrapping dial error, got %v", err)
	}
	if factory.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", factory.calls)
	}
}

func TestSessionNegativeResponseDiscardsConnection(t *testing.T) {
	testlog.Start(t)
	server := cimdtest.Start(t, cimdtest.WithHandler(func(req protocol.Packet) (protocol.Packet, bool) {
		if req.OperationCode() == protocol.OpSubmit {
			return cimdtest.Reply(req, 53, protocol.IntParameter(protocol.ParamErrorCode, 101)), true
		}
		return protocol.Packet{}, true
	}))
	s := dialSession(t, testConfig(server.Addr()), nil)
	ctx := context.Background()

	_, err := s.SubmitMessage(ctx, SubmitRequest{DestinationAddress: "1"})
	var negative *NegativeResponseError
	if !errors.As(err, &negative) || negative.Code != 101 {
		t.Fatalf("expected NegativeResponseError 101, got %v", err)
	}
	if s.conn != nil {
		t.Fatalf("connection should be discarded after a failure")
	}
	if err := s.Alive(ctx); err != nil {
		t.Fatalf("alive after failure: %v", err)
	}
	if got := server.Accepted(); got != 2 {
		t.Fatalf("expected reconnect, got %d connections", got)
	}
}

func TestSessionGeneralErrorResponse(t *testing.T) {
	testlog.Start(t)
	server := cimdtest.Start(t)
	s := dialSession(t, testConfig(server.Addr()), nil)

	_, err := s.Send(context.Background(), protocol.MustPacket(protocol.OpSet))
	var general *GeneralErrorResponseError
	if !errors.As(err, &general) {
		t.Fatalf("expected GeneralErrorResponseError, got %v", err)
	}
}

func TestSessionReplyTimeout(t *testing.T) {
	testlog.Start(t)
	server := cimdtest.Start(t, cimdtest.WithHandler(func(req protocol.Packet) (protocol.Packet, bool) {
		return protocol.Packet{}, req.OperationCode() != protocol.OpAlive
	}))
	cfg := testConfig(server.Addr())
	cfg.ReplyTimeout = 100 * time.Millisecond
	s := dialSession(t, cfg, nil)

	err := s.Alive(context.Background())
	var sessErr *SessionError
	if !errors.As(err, &sessErr) || !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected SessionError wrapping ErrTimeout, got %v", err)
	}
}

func TestSessionSubmitTextSegments(t *testing.T) {
	testlog.Start(t)
	server := cimdtest.Start(t)
	s := dialSession(t, testConfig(server.Addr()), nil)
	seg, err := segment.New(15)
	if err != nil {
		t.Fatalf("segmenter: %v", err)
	}
	s.SetSegmenter(seg)

	stamps, err := s.SubmitText(context.Background(), "+358401234567", "first part, 2nd part", SubmitRequest{})
	if err != nil {
		t.Fatalf("submit text: %v", err)
	}
	if len(stamps) != 2 {
		t.Fatalf("expected 2 timestamps, got %d", len(stamps))
	}

	var headers []string
	for _, p := range server.Received() {
		if p.OperationCode() != protocol.OpSubmit {
			continue
		}
		h, ok := p.Value(protocol.ParamUserDataHeader)
		if !ok {
			t.Fatalf("submit without header: %s", p)
		}
		headers = append(headers, h)
	}
	if len(headers) != 2 || headers[0][:6] != "050003" || headers[0][8:] != "0201" || headers[1][8:] != "0202" {
		t.Fatalf("unexpected headers %v", headers)
	}
	if headers[0][6:8] != headers[1][6:8] {
		t.Fatalf("parts should share a reference: %v", headers)
	}
}

func TestSessionEnquireAndCancel(t *testing.T) {
	testlog.Start(t)
	server := cimdtest.Start(t)
	s := dialSession(t, testConfig(server.Addr()), nil)
	ctx := context.Background()

	status, err := s.EnquireMessageStatus(ctx, "+358401234567", cimdtest.Timestamp)
	if err != nil {
		t.Fatalf("enquire: %v", err)
	}
	if status.Code != StatusDelivered {
		t.Fatalf("status got %v", status.Code)
	}
	want, _ := time.Parse(protocol.TimestampLayout, cimdtest.Timestamp)
	if !status.DischargeTime.Equal(want) {
		t.Fatalf("discharge time got %v", status.DischargeTime)
	}

	if err := s.CancelMessage(ctx, "+358401234567", cimdtest.Timestamp); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	received := server.Received()
	last := received[len(received)-1]
	if last.OperationCode() != protocol.OpCancel {
		t.Fatalf("expected cancel, got %s", last)
	}
	if mode, _ := last.Value(protocol.ParamCancelMode); mode != "2" {
		t.Fatalf("cancel mode got %q", mode)
	}
}

func TestSessionAcknowledgesDeliveries(t *testing.T) {
	testlog.Start(t)
	server := cimdtest.Start(t)
	delivered := make(chan protocol.Packet, 1)
	s := dialSession(t, testConfig(server.Addr()), func(p protocol.Packet) {
		delivered <- p
	})
	if err := s.Alive(context.Background()); err != nil {
		t.Fatalf("alive: %v", err)
	}

	sent := server.SendRequest(protocol.OpDeliver, protocol.Param(protocol.ParamUserData, "hi"))
	select {
	case p := <-delivered:
		if !p.Equal(sent) {
			t.Fatalf("delivered got=%s want=%s", p, sent)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("inbound handler not called")
	}

	seq, _ := sent.Sequence()
	waitFor(t, "deliver ack", func() bool {
		for _, p := range server.Received() {
			if got, _ := p.Sequence(); p.OperationCode() == 70 && got == seq {
				return true
			}
		}
		return false
	})
}

func TestSessionCloseLogsOut(t *testing.T) {
	testlog.Start(t)
	server := cimdtest.Start(t)
	s := dialSession(t, testConfig(server.Addr()), nil)
	if err := s.Alive(context.Background()); err != nil {
		t.Fatalf("alive: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	ops := server.Ops()
	if ops[len(ops)-1] != protocol.OpLogout {
		t.Fatalf("expected logout last, got %v", ops)
	}
	if err := s.Alive(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestSessionOverTLS(t *testing.T) {
	testlog.Start(t)
	ca := tlstest.NewAuthority(t, t.TempDir())
	server := cimdtest.Start(t, cimdtest.WithTLS(ca.ServerConfig(t)))

	cfg := testConfig(server.Addr())
	cfg.TLS = TLSConfig{Enabled: true, CAFile: ca.CAFile()}
	s := dialSession(t, cfg, nil)
	if err := s.Alive(context.Background()); err != nil {
		t.Fatalf("alive over tls: %v", err)
	}
}
