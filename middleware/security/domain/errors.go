package domain

import "errors"

var (
	ErrStoreUnavailable = errors.New("counter store unavailable")
	ErrQueueFull        = errors.New("alert queue full")
	ErrInvalidTier      = errors.New("invalid tier")
	ErrNoSlot           = errors.New("no concurrency slot available")
)

func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
