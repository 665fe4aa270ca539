package errors

import "errors"

var (
	ErrInvalidInput  = errors.New("vm request input is invalid")
	ErrNotFound      = errors.New("vm request not found")
	ErrSelfDecision  = errors.New("requester may not approve or reject their own request")
	ErrInvalidState  = errors.New("invalid vm request state transition")
	ErrInvalidReason = errors.New("rejection reason is invalid")
)
