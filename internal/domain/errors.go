package domain

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrAlreadyExists          = errors.New("already exists")
	ErrConcurrentModification = errors.New("concurrent modification: version mismatch")
)
