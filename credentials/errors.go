package credentials

import (
	"errors"
	"fmt"
)

type (
	DuplicateUsername struct {
		Username string
	}

	InvalidRegistration struct {
		Field  string
		Reason string
	}
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrDuplicateUsername  = errors.New("username already registered")
	ErrUnknownIdentity    = errors.New("unknown identity")

	errMismatch = errors.New("hash and password do not match")
)

func (d DuplicateUsername) Error() string {
	return fmt.Sprintf("username %q is already registered", d.Username)
}

func (d DuplicateUsername) Is(target error) bool {
	return target == ErrDuplicateUsername
}

func (i InvalidRegistration) Error() string {
	return fmt.Sprintf("invalid %v: %v", i.Field, i.Reason)
}
