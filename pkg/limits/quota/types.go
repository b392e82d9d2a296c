package quota

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrQuotaExceeded is returned by Consume when the feature's daily
	// allowance is used up. It is normal control flow, not a fault.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrServiceUnavailable is returned when the quota store cannot be
	// reached. Callers should treat it as retryable.
	ErrServiceUnavailable = errors.New("quota service unavailable")

	// ErrInvalidConfiguration is returned for an unusable tier table.
	ErrInvalidConfiguration = errors.New("invalid quota configuration")

	// ErrUnknownFeature is returned for a feature not in the tier table.
	ErrUnknownFeature = errors.New("unknown quota feature")

	// ErrUnknownTier is returned when a caller supplies a tier not in the
	// tier table.
	ErrUnknownTier = errors.New("unknown quota tier")

	// ErrInvalidSubject is returned for an empty subject id.
	ErrInvalidSubject = errors.New("subject id cannot be empty")
)

// ExceededError describes a refused Consume.
type ExceededError struct {
	Feature string
	Used    int64
	Limit   int64
	ResetAt time.Time
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: %d/%d used, resets at %s",
		e.Feature, e.Used, e.Limit, e.ResetAt.Format(time.RFC3339))
}

// Unwrap allows errors.Is(err, ErrQuotaExceeded).
func (e *ExceededError) Unwrap() error {
	return ErrQuotaExceeded
}

// FeatureStatus is the usage of one feature.
type FeatureStatus struct {
	Used      int64 `json:"used"`
	Limit     int64 `json:"limit"`
	Reached   bool  `json:"reached"`
	Remaining int64 `json:"remaining"`
}

// Status is a subject's quota state with limits derived from its tier.
type Status struct {
	SubjectID   string                   `json:"subject_id"`
	Tier        string                   `json:"tier"`
	Features    map[string]FeatureStatus `json:"features"`
	ResetAt     time.Time                `json:"reset_at"`
	LastUpdated time.Time                `json:"last_updated"`

	// Stale is set when the status was served from cache because the
	// quota store was unavailable.
	Stale bool `json:"stale,omitempty"`
}

// CallOption configures a single GetStatus or Consume call.
type CallOption func(*callOptions)

type callOptions struct {
	tier string
}

// WithTier supplies the subject's current entitlement. A tier differing from
// the stored one is persisted; usage is never changed by a tier change.
func WithTier(tier string) CallOption {
	return func(o *callOptions) { o.tier = tier }
}
