package rate

import "errors"

var (
	// ErrRateLimited is returned once a key has exhausted its budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps counter backend failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
