package ratelimit

import (
	"errors"
	"time"
)

// KeyStrategy selects which part of the caller identity keys a window.
type KeyStrategy string

const (
	// StrategyIP keys windows by client network address.
	StrategyIP KeyStrategy = "ip"

	// StrategySubject keys windows by authenticated subject id.
	StrategySubject KeyStrategy = "subject"

	// StrategySubjectOrIP keys by subject when authenticated, else by address.
	StrategySubjectOrIP KeyStrategy = "subject_or_ip"
)

// ErrNoKey is returned by DeriveKey when the identity lacks the component
// the strategy requires.
var ErrNoKey = errors.New("identity has no value for the key strategy")

// Policy describes one named fixed-window limiter.
type Policy struct {
	// Name identifies the limiter and namespaces its keys.
	Name string

	// Window is the fixed window length. The window starts at the first hit.
	Window time.Duration

	// Max is the number of requests allowed per window.
	Max int64

	// KeyStrategy selects the identity component used as key.
	KeyStrategy KeyStrategy

	// SkipFailedRequests asks callers to Compensate when the guarded
	// operation fails.
	SkipFailedRequests bool
}

// Decision is the result of a rate limit check.
// This is returned by Limiter.Check() to indicate if a request is allowed.
type Decision struct {
	// Allowed indicates if the request is permitted.
	Allowed bool

	// Limit is the configured maximum per window.
	Limit int64

	// Remaining is how many requests remain in the window, never negative.
	Remaining int64

	// RetryAfter is the time until the window closes.
	RetryAfter time.Duration

	// ResetAt is when the window closes.
	ResetAt time.Time

	// FailedOpen is set when the counter store failed and the request was
	// allowed without being counted.
	FailedOpen bool
}
