package errors

import "errors"

var (
	ErrInvalidInput = errors.New("vm input is invalid")
	ErrNotFound     = errors.New("vm not found")
	ErrInvalidStage = errors.New("invalid vm stage transition")
)
