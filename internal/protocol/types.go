package protocol

import (
	"fmt"
	"strings"
)

// NoSequence marks a packet whose sequence number is assigned on send.
const NoSequence = -1

// Packet is one CIMD operation. Parameters keep wire order and may repeat.
type Packet struct {
	op     int
	seq    int
	params []Parameter
}

// NewPacket builds a packet whose sequence number is generated when sent.
func NewPacket(op int, params ...Parameter) (Packet, error) {
	return newPacket(op, NoSequence, params)
}

// NewPacketWithSequence builds a packet carrying an explicit sequence number.
func NewPacketWithSequence(op, seq int, params ...Parameter) (Packet, error) {
	if seq < 0 || seq > 255 {
		return Packet{}, fmt.Errorf("%w: %d", ErrInvalidSequence, seq)
	}
	return newPacket(op, seq, params)
}

// MustPacket is NewPacket for statically known operation codes.
func MustPacket(op int, params ...Parameter) Packet {
	p, err := NewPacket(op, params...)
	if err != nil {
		panic(err)
	}
	return p
}

func newPacket(op, seq int, params []Parameter) (Packet, error) {
	if op < 1 || op > 99 {
		return Packet{}, fmt.Errorf("%w: %d", ErrInvalidOperationCode, op)
	}
	cp := make([]Parameter, len(params))
	copy(cp, params)
	return Packet{op: op, seq: seq, params: cp}, nil
}

func (p Packet) OperationCode() int {
	return p.op
}

// Sequence returns the sequence number and whether one is set.
func (p Packet) Sequence() (int, bool) {
	if p.seq == NoSequence {
		return 0, false
	}
	return p.seq, true
}

func (p Packet) HasSequence() bool {
	return p.seq != NoSequence
}

// WithSequence returns a copy of p carrying seq.
func (p Packet) WithSequence(seq int) (Packet, error) {
	if seq < 0 || seq > 255 {
		return Packet{}, fmt.Errorf("%w: %d", ErrInvalidSequence, seq)
	}
	out := p
	out.seq = seq
	out.params = p.Params()
	return out, nil
}

// Params returns a copy of the parameters in wire order.
func (p Packet) Params() []Parameter {
	out := make([]Parameter, len(p.params))
	copy(out, p.params)
	return out
}

// Param returns the first parameter numbered n.
func (p Packet) Param(n int) (Parameter, bool) {
	for _, param := range p.params {
		if param.Number == n {
			return param, true
		}
	}
	return Parameter{}, false
}

// Value returns the value of the first parameter numbered n.
func (p Packet) Value(n int) (string, bool) {
	param, ok := p.Param(n)
	return param.Value, ok
}

func (p Packet) IsResponse() bool {
	return p.op >= 50
}

func (p Packet) IsPositiveResponse() bool {
	return p.op >= 50 && p.op < 90 && !p.HasErrorParameter()
}

func (p Packet) IsNegativeResponse() bool {
	return p.op >= 50 && p.op < 90 && p.HasErrorParameter()
}

func (p Packet) IsGeneralErrorResponse() bool {
	return p.op == OpGeneralError
}

func (p Packet) IsNack() bool {
	return p.op == OpNack
}

// HasErrorParameter reports whether any 9xx parameter is present.
func (p Packet) HasErrorParameter() bool {
	for _, param := range p.params {
		if param.Number >= 900 {
			return true
		}
	}
	return false
}

func (p Packet) Equal(other Packet) bool {
	if p.op != other.op || p.seq != other.seq || len(p.params) != len(other.params) {
		return false
	}
	for i := range p.params {
		if p.params[i] != other.params[i] {
			return false
		}
	}
	return true
}

func (p Packet) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "<STX>%02d:", p.op)
	if p.seq == NoSequence {
		b.WriteString("<seq-to-be-generated>")
	} else {
		fmt.Fprintf(&b, "%03d", p.seq)
	}
	b.WriteString("<TAB>")
	for _, param := range p.params {
		b.WriteString(param.String())
		b.WriteString("<TAB>")
	}
	b.WriteString("<ETX>")
	return b.String()
}
