package models

import "github.com/pkg/errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidStatus   = errors.New("invalid tracking status")
	ErrAlreadyTerminal = errors.New("tracking is already in a terminal status")
	// ErrConflict: история трека изменилась между чтением и записью.
	ErrConflict = errors.New("tracking history changed concurrently")
	// ErrUpstream: перевозчик или хранилище файлов не ответили.
	ErrUpstream = errors.New("upstream service unavailable")
)
