package protocol

import "errors"

var (
	ErrInvalidOperationCode = errors.New("protocol: operation code must be between 1 and 99")
	ErrInvalidSequence      = errors.New("protocol: sequence number must be between 0 and 255")
	ErrInvalidParameter     = errors.New("protocol: parameter number must be between 0 and 999")
	ErrInvalidPeriod        = errors.New("protocol: relative period must be between -1 and 255")
	ErrWrongVariant         = errors.New("protocol: accessor does not match variant")
	ErrMissingBody          = errors.New("protocol: user data body required")
	ErrUnsetVariant         = errors.New("protocol: value was not built by a constructor")
)
