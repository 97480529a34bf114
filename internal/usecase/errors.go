package usecase

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("resource not found")
	ErrAuthFailed   = errors.New("authentication failed")
	ErrRateLimited  = errors.New("rate limited by provider")
	ErrTransient    = errors.New("transient provider failure")
	ErrPersistence  = errors.New("persistence failure")
)
