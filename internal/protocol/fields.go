package protocol

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// TimestampLayout is the yyMMddHHmmss form used by absolute time parameters
// and message center timestamps.
const TimestampLayout = "060102150405"

const passwordMask = "<password-not-shown>"

// Parameter is one numbered CIMD field.
type Parameter struct {
	Number int
	Value  string
}

func NewParameter(number int, value string) (Parameter, error) {
	if number < 0 || number > 999 {
		return Parameter{}, fmt.Errorf("%w: %d", ErrInvalidParameter, number)
	}
	return Parameter{Number: number, Value: value}, nil
}

// Param builds a parameter for a catalogue number without validation.
func Param(number int, value string) Parameter {
	return Parameter{Number: number, Value: value}
}

func IntParameter(number, value int) Parameter {
	return Parameter{Number: number, Value: strconv.Itoa(value)}
}

func BoolParameter(number int, value bool) Parameter {
	if value {
		return Parameter{Number: number, Value: "1"}
	}
	return Parameter{Number: number, Value: "0"}
}

// BytesParameter hex encodes value (lowercase digits).
func BytesParameter(number int, value []byte) Parameter {
	return Parameter{Number: number, Value: hex.EncodeToString(value)}
}

func TimeParameter(number int, value time.Time) Parameter {
	return Parameter{Number: number, Value: value.Format(TimestampLayout)}
}

// Int parses the value as a decimal integer.
func (p Parameter) Int() (int, error) {
	return strconv.Atoi(p.Value)
}

// Bytes decodes a hex encoded value.
func (p Parameter) Bytes() ([]byte, error) {
	return hex.DecodeString(p.Value)
}

func (p Parameter) Time() (time.Time, error) {
	return time.Parse(TimestampLayout, p.Value)
}

func (p Parameter) String() string {
	if p.Number == ParamPassword {
		return fmt.Sprintf("%03d:%s", p.Number, passwordMask)
	}
	return fmt.Sprintf("%03d:%s", p.Number, p.Value)
}
