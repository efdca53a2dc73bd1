// Package errors defines the error kinds this core surfaces and the
// sentinel values used to classify them with errors.Is.
package errors

import "errors"

var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrNotFound            = errors.New("not found")
	ErrInvalidState        = errors.New("invalid state")
	ErrAlreadyExists       = errors.New("already exists")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrStorageError        = errors.New("storage error")
)

func IsInvalidArgument(err error) bool     { return errors.Is(err, ErrInvalidArgument) }
func IsUnauthenticated(err error) bool     { return errors.Is(err, ErrUnauthenticated) }
func IsNotFound(err error) bool            { return errors.Is(err, ErrNotFound) }
func IsInvalidState(err error) bool        { return errors.Is(err, ErrInvalidState) }
func IsAlreadyExists(err error) bool       { return errors.Is(err, ErrAlreadyExists) }
func IsUpstreamUnavailable(err error) bool { return errors.Is(err, ErrUpstreamUnavailable) }
func IsStorageError(err error) bool        { return errors.Is(err, ErrStorageError) }
