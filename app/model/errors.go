package model

import "errors"

var (
	// ErrNotFound is returned when the requested object is not in the database.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned by insert-if-absent writes when the key is taken.
	ErrAlreadyExists = errors.New("object already exists")
)
