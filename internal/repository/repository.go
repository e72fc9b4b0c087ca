package repository

import "errors"

var (
	ErrNotFound          = errors.New("record not found")
	ErrDuplicateKeyValue = errors.New("duplicate key value")
)
