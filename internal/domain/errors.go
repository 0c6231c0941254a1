package domain

import "errors"

// Error taxonomy matched with errors.Is at the transport edge and mapped to
// negative-acknowledgment events. Handlers never let these reach the
// websocket layer as raw failures.
var (
	ErrUnauthenticated = errors.New("not authenticated")
	ErrValidation      = errors.New("validation failed")
	ErrPermission      = errors.New("permission denied")
	ErrRateLimited     = errors.New("rate limited")
	ErrNotFound        = errors.New("not found")
	ErrStorage         = errors.New("storage failure")
)
