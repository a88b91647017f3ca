package store

import "errors"

// Store error types.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidType   = errors.New("unknown entity type")
	ErrInvalidID     = errors.New("invalid entity id")
	ErrInvalidValue  = errors.New("unsupported attribute value kind")
)
