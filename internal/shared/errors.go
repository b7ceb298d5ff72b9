package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates an intranet login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
