// Package auth checks the credentials a client presents at login.
package auth

import (
	"crypto/subtle"
	"errors"
)

var ErrUnauthorized = errors.New("auth: invalid credentials")

// Validator validates a user identity and password pair.
type Validator interface {
	Validate(user, password string) error
}

// StaticCredentials accepts exactly one user and password.
type StaticCredentials struct {
	Username string
	Password string
}

func (s StaticCredentials) Validate(user, password string) error {
	if s.Username == "" {
		return ErrUnauthorized
	}
	userOK := subtle.ConstantTimeCompare([]byte(s.Username), []byte(user))
	passOK := subtle.ConstantTimeCompare([]byte(s.Password), []byte(password))
	if userOK&passOK != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(user, password string) error

func (f FuncValidator) Validate(user, password string) error {
	return f(user, password)
}
