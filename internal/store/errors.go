package store

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	// ErrInvalid wraps requests the store refuses on data it alone can see,
	// such as opening a pull request against content with no versions.
	ErrInvalid = errors.New("invalid")
)
