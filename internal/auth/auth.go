// Package auth implements the login gate: a pluggable credential check with
// a fixed-pair default and a file-backed user store.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

// ErrInvalidCredentials is returned for any username/password mismatch. Its
// message is shown to the user verbatim.
var ErrInvalidCredentials = errors.New("Invalid username or password. Please try again.")

// ErrInvalidTOTP is returned when a one-time code is required and wrong.
var ErrInvalidTOTP = errors.New("invalid totp")

// Validator decides whether a username/password pair opens the gate.
type Validator interface {
	Validate(username, password string) bool
}

// Authenticator is the login contract used by the HTTP layer.
type Authenticator interface {
	Authenticate(username, password, totp string) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(username, password string) bool

// Validate calls f.
func (f ValidatorFunc) Validate(username, password string) bool {
	return f(username, password)
}

// Static accepts exactly one username/password pair.
type Static struct {
	Username string
	Password string
}

// DefaultStatic returns the built-in demo credentials.
func DefaultStatic() Static {
	return Static{Username: "user@example.com", Password: "1Password"}
}

// Validate compares both fields in constant time.
func (s Static) Validate(username, password string) bool {
	if s.Username == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(strings.TrimSpace(username)), []byte(s.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.Password)) == 1
	return userOK && passOK
}

// Gate adapts a Validator to Authenticator. The TOTP argument is ignored.
func Gate(v Validator) Authenticator {
	return gate{v: v}
}

type gate struct {
	v Validator
}

func (g gate) Authenticate(username, password, _ string) error {
	if g.v == nil || !g.v.Validate(username, password) {
		return ErrInvalidCredentials
	}
	return nil
}
