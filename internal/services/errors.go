package services

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidInput      = errors.New("invalid input")
	ErrPersistence       = errors.New("storage failure")
	ErrConfiguration     = errors.New("configuration error")
	ErrCannotDelete      = errors.New("comment has replies that are not deleted")
	ErrAlreadyVoted      = errors.New("already voted")
	ErrDisabled          = errors.New("feature disabled for this field")
	ErrConflict          = errors.New("comment was changed concurrently")
)
