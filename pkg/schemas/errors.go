package schemas

import "errors"

var (
	// ErrNotFound indicates that a requested deployment, schedule or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument indicates that a caller provided value violates a precondition.
	ErrInvalidArgument = errors.New("invalid argument")
)
