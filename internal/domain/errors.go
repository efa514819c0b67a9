package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrLockHeld          = errors.New("lock already held")
	ErrInvalidOutcome    = errors.New("invalid outcome")
	ErrInvalidAddress    = errors.New("invalid address")
	ErrUnknownEvent      = errors.New("unknown event signature")
	ErrMalformedLog      = errors.New("malformed log")
	ErrNoEvents          = errors.New("no events")
	ErrPermanentDelivery = errors.New("permanent delivery failure")
	ErrMarketResolved    = errors.New("market already resolved")
)
