package protocol

import (
	"errors"
	"fmt"
	"time"
)

// TimePeriod is either a relative period code (-1..255) or an absolute time.
type TimePeriod struct {
	relative bool
	code     int
	at       time.Time
}

func RelativePeriod(code int) (TimePeriod, error) {
	if code < -1 || code > 255 {
		return TimePeriod{}, fmt.Errorf("%w: %d", ErrInvalidPeriod, code)
	}
	return TimePeriod{relative: true, code: code}, nil
}

func AbsolutePeriod(at time.Time) (TimePeriod, error) {
	if at.IsZero() {
		return TimePeriod{}, errors.New("protocol: absolute period requires a time")
	}
	return TimePeriod{at: at}, nil
}

func (t TimePeriod) IsRelative() bool {
	return t.relative
}

func (t TimePeriod) Relative() (int, error) {
	if !t.relative {
		return 0, fmt.Errorf("%w: absolute period has no relative code", ErrWrongVariant)
	}
	return t.code, nil
}

func (t TimePeriod) Absolute() (time.Time, error) {
	if t.relative {
		return time.Time{}, fmt.Errorf("%w: relative period has no absolute time", ErrWrongVariant)
	}
	return t.at, nil
}

// Validate fails for a zero TimePeriod.
func (t TimePeriod) Validate() error {
	if !t.relative && t.at.IsZero() {
		return fmt.Errorf("%w: time period", ErrUnsetVariant)
	}
	return nil
}

// Parameter renders t into the relative or absolute slot.
func (t TimePeriod) Parameter(relativeNumber, absoluteNumber int) Parameter {
	if t.relative {
		return IntParameter(relativeNumber, t.code)
	}
	return TimeParameter(absoluteNumber, t.at)
}
