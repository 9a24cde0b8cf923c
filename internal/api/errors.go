package api

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the backend has no matching record.
var ErrNotFound = errors.New("not found")

// ValidationError is a backend rejection of the request payload, e.g. a
// duplicate email or username on register.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return "validation failed"
	}
	return e.Message
}

// NetworkError wraps a request that could not complete at the transport level.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

func IsNetwork(err error) bool {
	var nerr *NetworkError
	return errors.As(err, &nerr)
}
