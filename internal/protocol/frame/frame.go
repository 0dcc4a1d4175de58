package frame

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/cimd/internal/logging"
	"github.com/danmuck/cimd/internal/observability"
	"github.com/danmuck/cimd/internal/protocol"
	"github.com/danmuck/cimd/internal/protocol/sequence"
)

const (
	STX byte = 0x02
	ETX byte = 0x03
	TAB byte = 0x09
	NUL byte = 0x00

	DefaultMaxFrameSize = 4096
)

var (
	ErrFraming             = errors.New("frame: malformed packet")
	ErrMissingSTX          = fmt.Errorf("%w: stream ended before STX", ErrFraming)
	ErrMissingETX          = fmt.Errorf("%w: stream ended before ETX", ErrFraming)
	ErrFrameTooLarge       = fmt.Errorf("%w: frame exceeds maximum size", ErrFraming)
	ErrChecksum            = fmt.Errorf("%w: checksum mismatch", ErrFraming)
	ErrChecksumFormat      = fmt.Errorf("%w: checksum is not two hex digits", ErrFraming)
	ErrDelimiter           = fmt.Errorf("%w: unexpected delimiter", ErrFraming)
	ErrNoSequenceGenerator = errors.New("frame: packet has no sequence number and no generator is configured")
)

// Codec reads and writes CIMD packets.
type Codec struct {
	Checksum     bool
	MaxFrameSize int
	Sequence     sequence.Generator
}

func DefaultCodec() Codec {
	return Codec{
		Checksum:     true,
		MaxFrameSize: DefaultMaxFrameSize,
		Sequence:     sequence.NewApplication(),
	}
}

func (c Codec) maxFrameSize() int {
	if c.MaxFrameSize <= 0 {
		return DefaultMaxFrameSize
	}
	return c.MaxFrameSize
}

// Resolve returns p with a generated sequence number when it has none.
func (c Codec) Resolve(p protocol.Packet) (protocol.Packet, error) {
	if p.HasSequence() {
		return p, nil
	}
	if c.Sequence == nil {
		return protocol.Packet{}, ErrNoSequenceGenerator
	}
	return p.WithSequence(c.Sequence.Next())
}

func (c Codec) Encode(p protocol.Packet) ([]byte, error) {
	p, err := c.Resolve(p)
	if err != nil {
		return nil, err
	}
	seq, _ := p.Sequence()

	var buf bytes.Buffer
	buf.WriteByte(STX)
	fmt.Fprintf(&buf, "%02d:%03d", p.OperationCode()%100, seq%1000)
	buf.WriteByte(TAB)
	for _, param := range p.Params() {
		fmt.Fprintf(&buf, "%03d:", param.Number%1000)
		buf.WriteString(param.Value)
		buf.WriteByte(TAB)
	}
	if c.Checksum {
		fmt.Fprintf(&buf, "%02X", checksum(buf.Bytes()))
	}
	buf.WriteByte(ETX)
	return buf.Bytes(), nil
}

func (c Codec) WriteFrame(w io.Writer, p protocol.Packet) error {
	raw, err := c.Encode(p)
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		observability.RecordFrame(observability.DirectionOut, false)
		return err
	}
	observability.RecordFrame(observability.DirectionOut, true)
	logger := logging.For("frame")
	logger.Debug().Stringer("packet", p).Msg("sent")
	return nil
}

// ReadFrame skips bytes until STX and decodes the packet terminated by ETX.
// I/O errors other than EOF are returned as-is.
func (c Codec) ReadFrame(r io.ByteReader) (protocol.Packet, error) {
	raw, err := c.readRaw(r)
	if err != nil {
		if errors.Is(err, ErrFraming) {
			observability.RecordFrame(observability.DirectionIn, false)
		}
		return protocol.Packet{}, err
	}
	p, err := c.Decode(raw)
	if err != nil {
		observability.RecordFrame(observability.DirectionIn, false)
		return protocol.Packet{}, err
	}
	observability.RecordFrame(observability.DirectionIn, true)
	logger := logging.For("frame")
	logger.Debug().Stringer("packet", p).Msg("received")
	return p, nil
}

func (c Codec) readRaw(r io.ByteReader) ([]byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrMissingSTX
			}
			return nil, err
		}
		if b == STX {
			break
		}
	}

	limit := c.maxFrameSize()
	raw := make([]byte, 1, 64)
	raw[0] = STX
	for {
		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrMissingETX
			}
			return nil, err
		}
		raw = append(raw, b)
		if b == ETX {
			return raw, nil
		}
		if len(raw) >= limit {
			return nil, ErrFrameTooLarge
		}
	}
}

// Decode parses one complete frame, STX through ETX inclusive.
func (c Codec) Decode(raw []byte) (protocol.Packet, error) {
	if len(raw) < 2 || raw[0] != STX || raw[len(raw)-1] != ETX {
		return protocol.Packet{}, fmt.Errorf("%w: frame not delimited by STX/ETX", ErrDelimiter)
	}
	body := raw[1 : len(raw)-1]
	lastTab := bytes.LastIndexByte(body, TAB)
	if lastTab < 0 {
		return protocol.Packet{}, fmt.Errorf("%w: header not terminated by TAB", ErrDelimiter)
	}
	// Checksum first, so corruption of a checksummed frame reports as such.
	if err := c.verifyChecksum(raw[:lastTab+2], body[lastTab+1:]); err != nil {
		return protocol.Packet{}, err
	}
	if bytes.IndexByte(body, STX) >= 0 || bytes.IndexByte(body, ETX) >= 0 || bytes.IndexByte(body, NUL) >= 0 {
		return protocol.Packet{}, fmt.Errorf("%w: reserved byte inside frame", ErrDelimiter)
	}

	fields := bytes.Split(body[:lastTab], []byte{TAB})
	op, seq, err := parseHeader(fields[0])
	if err != nil {
		return protocol.Packet{}, err
	}
	params := make([]protocol.Parameter, 0, len(fields)-1)
	for _, field := range fields[1:] {
		param, err := parseParameter(field)
		if err != nil {
			return protocol.Packet{}, err
		}
		params = append(params, param)
	}

	p, err := protocol.NewPacketWithSequence(op, seq, params...)
	if err != nil {
		return protocol.Packet{}, fmt.Errorf("%w: %v", ErrFraming, err)
	}
	return p, nil
}

func (c Codec) verifyChecksum(covered, trailer []byte) error {
	if len(trailer) == 0 {
		if c.Checksum {
			return fmt.Errorf("%w: checksum missing", ErrChecksumFormat)
		}
		return nil
	}
	if len(trailer) != 2 {
		return ErrChecksumFormat
	}
	hi, ok1 := hexValue(trailer[0])
	lo, ok2 := hexValue(trailer[1])
	if !ok1 || !ok2 {
		return ErrChecksumFormat
	}
	want := hi<<4 | lo
	if got := checksum(covered); got != want {
		return fmt.Errorf("%w: got=%02X want=%02X", ErrChecksum, got, want)
	}
	return nil
}

// parseHeader reads "OO:SSS". The operation code is exactly two digits.
func parseHeader(field []byte) (int, int, error) {
	if len(field) < 4 || field[2] != ':' {
		return 0, 0, fmt.Errorf("%w: operation code must be two digits followed by ':'", ErrDelimiter)
	}
	op, ok := parseDigits(field[:2])
	if !ok {
		return 0, 0, fmt.Errorf("%w: operation code %q", ErrDelimiter, field[:2])
	}
	seqDigits := field[3:]
	if len(seqDigits) > 3 {
		return 0, 0, fmt.Errorf("%w: sequence number %q too long", ErrDelimiter, seqDigits)
	}
	seq, ok := parseDigits(seqDigits)
	if !ok {
		return 0, 0, fmt.Errorf("%w: sequence number %q", ErrDelimiter, seqDigits)
	}
	return op, seq, nil
}

// parseParameter reads "PPP:value". The number is exactly three digits.
func parseParameter(field []byte) (protocol.Parameter, error) {
	if len(field) < 4 || field[3] != ':' {
		return protocol.Parameter{}, fmt.Errorf("%w: parameter %q must start with three digits and ':'", ErrDelimiter, field)
	}
	n, ok := parseDigits(field[:3])
	if !ok {
		return protocol.Parameter{}, fmt.Errorf("%w: parameter number %q", ErrDelimiter, field[:3])
	}
	return protocol.Parameter{Number: n, Value: string(field[4:])}, nil
}

func parseDigits(b []byte) (int, bool) {
	if len(b) == 0 {
		return 0, false
	}
	n := 0
	for _, ch := range b {
		if ch < '0' || ch > '9' {
			return 0, false
		}
		n = n*10 + int(ch-'0')
	}
	return n, true
}

func hexValue(ch byte) (byte, bool) {
	switch {
	case ch >= '0' && ch <= '9':
		return ch - '0', true
	case ch >= 'a' && ch <= 'f':
		return ch - 'a' + 10, true
	case ch >= 'A' && ch <= 'F':
		return ch - 'A' + 10, true
	}
	return 0, false
}

func checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}
