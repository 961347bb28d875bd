package auth

import "errors"

var (
	ErrNotFound      = errors.New("auth: not found")
	ErrConflict      = errors.New("auth: resource conflict")
	ErrInvalidInput  = errors.New("auth: invalid input")
	ErrUnauthorized  = errors.New("auth: unauthorized")
	ErrInvalidToken  = errors.New("auth: invalid token")
	ErrInactiveActor = errors.New("auth: actor not active")

	// ErrInvalidRequest marks an authorization call made with a module, action
	// or actor outside the known catalog. It is a caller bug, never a denial.
	ErrInvalidRequest = errors.New("auth: invalid authorization request")

	// ErrUpstreamUnavailable means the agency directory could not be read.
	ErrUpstreamUnavailable = errors.New("auth: agency directory unavailable")
)
