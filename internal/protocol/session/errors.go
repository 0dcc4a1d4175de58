package session

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/danmuck/cimd/internal/protocol"
)

var (
	ErrTimeout          = errors.New("session: timed out waiting for reply")
	ErrConnectionClosed = errors.New("session: connection closed")
	ErrSessionClosed    = errors.New("session: session closed")
	ErrUnexpectedReply  = errors.New("session: reply does not match request operation")
	ErrMissingTimestamp = errors.New("session: reply has no message center timestamp")
)

// NackError reports a packet the message center could not accept. Expected
// is the sequence number the peer asked for.
type NackError struct {
	Expected int
}

func (e *NackError) Error() string {
	return fmt.Sprintf("session: nack, expected sequence number %d", e.Expected)
}

// NegativeResponseError is a reply to Op carrying error parameter 900.
type NegativeResponseError struct {
	Op   int
	Code int
	Text string
}

func (e *NegativeResponseError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("session: op %02d rejected with error %d", e.Op, e.Code)
	}
	return fmt.Sprintf("session: op %02d rejected with error %d: %s", e.Op, e.Code, e.Text)
}

// GeneralErrorResponseError is a general error reply (op 98).
type GeneralErrorResponseError struct {
	Code int
	Text string
}

func (e *GeneralErrorResponseError) Error() string {
	if e.Code == 0 && e.Text == "" {
		return "session: general error response"
	}
	return fmt.Sprintf("session: general error response %d: %s", e.Code, e.Text)
}

// SessionError wraps a transport, timeout or cancellation failure of Op.
type SessionError struct {
	Op  int
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session: op %02d: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// LoginError reports a rejected or failed login.
type LoginError struct {
	Username string
	Err      error
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("session: login as %q failed: %v", e.Username, e.Err)
}

func (e *LoginError) Unwrap() error {
	return e.Err
}

// checkReply classifies reply against req. It returns nil only for a
// positive response to req's operation.
func checkReply(req, reply protocol.Packet) error {
	switch {
	case reply.IsNack():
		seq, _ := reply.Sequence()
		return &NackError{Expected: seq}
	case reply.IsGeneralErrorResponse():
		code, text := errorDetails(reply)
		return &GeneralErrorResponseError{Code: code, Text: text}
	case reply.OperationCode() != protocol.ResponseCode(req.OperationCode()):
		return fmt.Errorf("%w: request=%02d reply=%02d", ErrUnexpectedReply, req.OperationCode(), reply.OperationCode())
	case reply.IsNegativeResponse():
		code, text := errorDetails(reply)
		return &NegativeResponseError{Op: req.OperationCode(), Code: code, Text: text}
	}
	return nil
}

// errorDetails reads parameters 900 and 901, falling back to the catalogue
// text when the peer sends a code alone.
func errorDetails(p protocol.Packet) (int, string) {
	code := 0
	if raw, ok := p.Value(protocol.ParamErrorCode); ok {
		if n, err := strconv.Atoi(raw); err == nil {
			code = n
		}
	}
	text, ok := p.Value(protocol.ParamErrorText)
	if !ok {
		text, _ = protocol.ErrorText(code)
	}
	return code, text
}

// outcome labels err for metrics.
func outcome(err error) string {
	var (
		nack     *NackError
		negative *NegativeResponseError
		general  *GeneralErrorResponseError
	)
	switch {
	case err == nil:
		return "positive"
	case errors.As(err, &nack):
		return "nack"
	case errors.As(err, &negative):
		return "negative"
	case errors.As(err, &general):
		return "general_error"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrUnexpectedReply):
		return "unexpected"
	default:
		return "transport"
	}
}
