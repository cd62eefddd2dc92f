package entity

import "errors"

var (
	// ErrInvalidName indicates an entity name with characters outside
	// [A-Za-z0-9_-].
	ErrInvalidName = errors.New("entity: invalid name")
)
