package limits

import (
	"errors"
	"fmt"
	"time"

	"mercator-hq/tollgate/pkg/identity"
	"mercator-hq/tollgate/pkg/limits/quota"
)

// Denial reasons reported in Result.Reason.
const (
	ReasonRateLimit = "rate_limit"
	ReasonQuota     = "quota"
)

// Error types for limit violations and request errors.
var (
	// ErrRateLimitExceeded is wrapped by Result.Err for rate limit denials.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrUnknownLimiter is returned for a limiter name not in configuration.
	ErrUnknownLimiter = errors.New("unknown rate limiter")

	// ErrMissingIdentity is returned when the identity lacks what the
	// limiter's key strategy needs.
	ErrMissingIdentity = errors.New("identity cannot key this limiter")

	// ErrMissingSubject is returned for a metered request without a subject.
	ErrMissingSubject = errors.New("metered operation requires a subject")
)

// Request describes one operation to admit.
type Request struct {
	// Limiter names the rate limit policy. Empty skips rate limiting.
	Limiter string

	// Identity is the caller as resolved by the identity supplier.
	Identity identity.Identity

	// Feature names the metered quota feature. Empty skips quota metering.
	Feature string

	// Key overrides identity-based key derivation when set.
	Key string
}

// Result contains the decision and metadata of an admission.
type Result struct {
	// Allowed indicates if the operation may proceed.
	Allowed bool

	// Reason is ReasonRateLimit or ReasonQuota when Allowed is false.
	Reason string

	// RateLimit contains the rate limit status, nil when not checked.
	RateLimit *RateLimitInfo

	// Quota contains the subject's quota status after a successful consume.
	Quota *quota.Status

	// Exceeded describes a quota denial.
	Exceeded *quota.ExceededError
}

// Err returns nil for allowed results and a *LimitError otherwise.
func (r *Result) Err() error {
	if r.Allowed {
		return nil
	}
	switch r.Reason {
	case ReasonQuota:
		return &LimitError{
			Type:       ReasonQuota,
			Identifier: r.Exceeded.Feature,
			Limit:      r.Exceeded.Limit,
			Current:    r.Exceeded.Used,
			Err:        r.Exceeded,
		}
	default:
		return &LimitError{
			Type:       ReasonRateLimit,
			Identifier: r.RateLimit.Limiter,
			Limit:      r.RateLimit.Limit,
			Current:    r.RateLimit.Limit - r.RateLimit.Remaining,
			Err:        ErrRateLimitExceeded,
		}
	}
}

// RateLimitInfo contains rate limit status for a single window.
// This is used to populate HTTP response headers (X-RateLimit-*).
type RateLimitInfo struct {
	// Limiter is the policy name.
	Limiter string

	// Key is the counted window key.
	Key string

	// Limit is the maximum allowed requests in the window.
	Limit int64

	// Remaining is the number of requests remaining in the window.
	Remaining int64

	// Reset is when the window closes.
	Reset time.Time

	// RetryAfter is the time until the window closes.
	RetryAfter time.Duration

	// Window is the window length.
	Window time.Duration

	// FailedOpen is set when the counter store was unreachable.
	FailedOpen bool
}

// LimitError provides detailed context about a limit violation.
type LimitError struct {
	// Type is ReasonRateLimit or ReasonQuota.
	Type string

	// Identifier is the limiter or feature name.
	Identifier string

	// Limit is the configured limit value.
	Limit int64

	// Current is the usage that hit the limit.
	Current int64

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *LimitError) Error() string {
	return fmt.Sprintf("%s limit exceeded for %s: current=%d, limit=%d",
		e.Type, e.Identifier, e.Current, e.Limit)
}

// Unwrap returns the underlying error for error wrapping.
func (e *LimitError) Unwrap() error {
	return e.Err
}
