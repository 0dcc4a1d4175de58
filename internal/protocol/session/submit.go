package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/danmuck/cimd/internal/protocol"
)

var ErrDestinationRequired = errors.New("session: destination address required")

// SubmitRequest describes one submit operation. Empty strings and nil
// pointers leave the parameter out.
type SubmitRequest struct {
	DestinationAddress     string
	OriginatingAddress     string
	AlphanumericOriginator string
	UserData               *protocol.UserData
	MoreMessagesToSend     *bool
	ValidityPeriod         *protocol.TimePeriod
	ProtocolIdentifier     *int
	FirstDeliveryTime      *protocol.TimePeriod
	ReplyPath              *bool
	StatusReportRequest    *int
	CancelEnabled          *bool
	TariffClass            *int
	ServiceDescription     *int
	Priority               *int
}

// Packet assembles the submit request in wire order.
func (r SubmitRequest) Packet() (protocol.Packet, error) {
	if r.DestinationAddress == "" {
		return protocol.Packet{}, ErrDestinationRequired
	}
	params := []protocol.Parameter{protocol.Param(protocol.ParamDestinationAddress, r.DestinationAddress)}
	if r.OriginatingAddress != "" {
		params = append(params, protocol.Param(protocol.ParamOriginatingAddress, r.OriginatingAddress))
	}
	if r.AlphanumericOriginator != "" {
		params = append(params, protocol.Param(protocol.ParamAlphanumericOriginator, r.AlphanumericOriginator))
	}
	if r.UserData != nil {
		if err := r.UserData.Validate(); err != nil {
			return protocol.Packet{}, err
		}
		params = append(params, r.UserData.Parameters()...)
	}
	params = appendBool(params, protocol.ParamMoreMessagesToSend, r.MoreMessagesToSend)
	if r.ValidityPeriod != nil {
		if err := r.ValidityPeriod.Validate(); err != nil {
			return protocol.Packet{}, err
		}
		params = append(params, r.ValidityPeriod.Parameter(protocol.ParamValidityRelative, protocol.ParamValidityAbsolute))
	}
	params = appendInt(params, protocol.ParamProtocolIdentifier, r.ProtocolIdentifier)
	if r.FirstDeliveryTime != nil {
		if err := r.FirstDeliveryTime.Validate(); err != nil {
			return protocol.Packet{}, err
		}
		params = append(params, r.FirstDeliveryTime.Parameter(protocol.ParamFirstDeliveryRelative, protocol.ParamFirstDeliveryAbsolute))
	}
	params = appendBool(params, protocol.ParamReplyPath, r.ReplyPath)
	params = appendInt(params, protocol.ParamStatusReportRequest, r.StatusReportRequest)
	params = appendBool(params, protocol.ParamCancelEnabled, r.CancelEnabled)
	params = appendInt(params, protocol.ParamTariffClass, r.TariffClass)
	params = appendInt(params, protocol.ParamServiceDescription, r.ServiceDescription)
	params = appendInt(params, protocol.ParamPriority, r.Priority)
	return protocol.NewPacket(protocol.OpSubmit, params...)
}

func appendBool(params []protocol.Parameter, number int, v *bool) []protocol.Parameter {
	if v == nil {
		return params
	}
	return append(params, protocol.BoolParameter(number, *v))
}

func appendInt(params []protocol.Parameter, number int, v *int) []protocol.Parameter {
	if v == nil {
		return params
	}
	return append(params, protocol.IntParameter(number, *v))
}

// SubmitMessage submits one message and returns the message center
// timestamp (yyMMddHHmmss) that identifies it.
func (s *Session) SubmitMessage(ctx context.Context, req SubmitRequest) (string, error) {
	p, err := req.Packet()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submit(ctx, p)
}

func (s *Session) submit(ctx context.Context, p protocol.Packet) (string, error) {
	reply, err := s.send(ctx, p)
	if err != nil {
		return "", err
	}
	ts, ok := reply.Value(protocol.ParamMCTimestamp)
	if !ok {
		return "", ErrMissingTimestamp
	}
	return ts, nil
}

// SubmitText segments text and submits every part to dest with the options
// in opts. It stops at the first failed part and returns the timestamps of
// the parts already accepted.
func (s *Session) SubmitText(ctx context.Context, dest, text string, opts SubmitRequest) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parts, err := s.segmenter.Split(text)
	if err != nil {
		return nil, err
	}
	stamps := make([]string, 0, len(parts))
	for i := range parts {
		req := opts
		req.DestinationAddress = dest
		req.UserData = &parts[i]
		p, err := req.Packet()
		if err != nil {
			return stamps, err
		}
		ts, err := s.submit(ctx, p)
		if err != nil {
			return stamps, fmt.Errorf("session: part %d of %d: %w", i+1, len(parts), err)
		}
		stamps = append(stamps, ts)
	}
	return stamps, nil
}

// Alive checks that the message center still answers.
func (s *Session) Alive(ctx context.Context) error {
	_, err := s.Send(ctx, protocol.MustPacket(protocol.OpAlive))
	return err
}

type StatusCode int

const (
	StatusNoStatus StatusCode = iota
	StatusInProcess
	StatusValidityExpired
	StatusDeliveryFailed
	StatusDelivered
	StatusNoResponse
	StatusLastNoResponse
	StatusCancelled
	StatusDeleted
	StatusDeletedByCancel
)

var statusNames = map[StatusCode]string{
	StatusNoStatus:        "no status",
	StatusInProcess:       "in process",
	StatusValidityExpired: "validity period expired",
	StatusDeliveryFailed:  "delivery failed",
	StatusDelivered:       "delivery successful",
	StatusNoResponse:      "no response",
	StatusLastNoResponse:  "last no response",
	StatusCancelled:       "message cancelled",
	StatusDeleted:         "message deleted",
	StatusDeletedByCancel: "message deleted by cancel",
}

func (c StatusCode) String() string {
	if name, ok := statusNames[c]; ok {
		return name
	}
	return "StatusCode(" + strconv.Itoa(int(c)) + ")"
}

// MessageStatus is the answer to an enquire message status request.
// ErrorCode and DischargeTime are zero when the reply omits them.
type MessageStatus struct {
	Code          StatusCode
	ErrorCode     int
	DischargeTime time.Time
}

func (s *Session) EnquireMessageStatus(ctx context.Context, dest, mcTimestamp string) (MessageStatus, error) {
	if dest == "" {
		return MessageStatus{}, ErrDestinationRequired
	}
	reply, err := s.Send(ctx, protocol.MustPacket(protocol.OpEnquireStatus,
		protocol.Param(protocol.ParamDestinationAddress, dest),
		protocol.Param(protocol.ParamMCTimestamp, mcTimestamp),
	))
	if err != nil {
		return MessageStatus{}, err
	}
	return parseMessageStatus(reply)
}

func parseMessageStatus(reply protocol.Packet) (MessageStatus, error) {
	var status MessageStatus
	param, ok := reply.Param(protocol.ParamStatusCode)
	if !ok {
		return status, fmt.Errorf("session: status reply missing parameter %03d", protocol.ParamStatusCode)
	}
	code, err := param.Int()
	if err != nil {
		return status, fmt.Errorf("session: status code %q: %w", param.Value, err)
	}
	status.Code = StatusCode(code)
	if param, ok := reply.Param(protocol.ParamStatusErrorCode); ok {
		if status.ErrorCode, err = param.Int(); err != nil {
			return status, fmt.Errorf("session: status error code %q: %w", param.Value, err)
		}
	}
	if param, ok := reply.Param(protocol.ParamDischargeTime); ok {
		if status.DischargeTime, err = param.Time(); err != nil {
			return status, fmt.Errorf("session: discharge time %q: %w", param.Value, err)
		}
	}
	return status, nil
}

// Cancel modes for parameter 059.
const (
	CancelAllToDestination = 0
	CancelAllFromAndTo     = 1
	CancelSingle           = 2
)

// CancelMessage cancels the message identified by dest and mcTimestamp.
func (s *Session) CancelMessage(ctx context.Context, dest, mcTimestamp string) error {
	if dest == "" {
		return ErrDestinationRequired
	}
	_, err := s.Send(ctx, protocol.MustPacket(protocol.OpCancel,
		protocol.IntParameter(protocol.ParamCancelMode, CancelSingle),
		protocol.Param(protocol.ParamDestinationAddress, dest),
		protocol.Param(protocol.ParamMCTimestamp, mcTimestamp),
	))
	return err
}
