package password

import "errors"

// Policy violations reported by Config.Validate and Hash.
var (
	ErrPasswordTooShort = errors.New("password: shorter than policy minimum")
	ErrPasswordTooLong  = errors.New("password: longer than policy maximum")
	ErrWeakPassword     = errors.New("password: too common")
)

// ErrInvalidHash reports a stored hash that is malformed or exceeds the
// accepted cost bounds.
var ErrInvalidHash = errors.New("password: invalid argon2id hash")
