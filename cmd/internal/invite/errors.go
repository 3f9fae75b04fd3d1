package invite

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("invite not found")
	// ErrNotActive covers revoked, expired and used-up invites.
	ErrNotActive = errors.New("invite not active")
)
