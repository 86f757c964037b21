package auth

import "errors"

var (
	// ErrNotFound indicates the target user record does not exist.
	ErrNotFound = errors.New("auth: user not found")
	// ErrLastAdmin indicates a demotion would leave zero administrators.
	ErrLastAdmin = errors.New("auth: cannot demote the last administrator")
	// ErrAlreadyInitialized indicates an administrator already exists, so
	// bootstrap must not run again.
	ErrAlreadyInitialized = errors.New("auth: an administrator already exists")
	// ErrInvalidToken indicates the session token failed validation.
	ErrInvalidToken = errors.New("auth: invalid token")
)
