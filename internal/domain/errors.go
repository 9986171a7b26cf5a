package domain

import "errors"

// Sentinel errors for the application. ErrNotFound deliberately covers both
// "does not exist" and "not yours": delete and read-mark targets never reveal
// whether the record exists.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("unauthorized access")
	ErrConflict     = errors.New("resource already exists")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal server error")
)
