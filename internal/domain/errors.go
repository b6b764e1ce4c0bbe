package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrWSDisconnect        = errors.New("websocket disconnected")
	ErrLockHeld            = errors.New("lock already held")
	ErrFeedUnavailable     = errors.New("feed unavailable")
	ErrInvalidQuote        = errors.New("invalid quote")
	ErrNoOpportunity       = errors.New("no opportunity")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDuplicatePosition   = errors.New("duplicate position")
	ErrPositionClosed      = errors.New("position already closed")
)
