package types

import (
	"time"

	"mercator-hq/tollgate/pkg/limits/quota"
)

// AdmitRequest is the body of POST /v1/admit.
type AdmitRequest struct {
	// Limiter names the rate limit policy. Optional when Feature is set.
	Limiter string `json:"limiter,omitempty"`

	// Feature names the metered feature. Optional when Limiter is set.
	Feature string `json:"feature,omitempty"`

	// SubjectID overrides the subject resolved from the request headers.
	SubjectID string `json:"subject_id,omitempty"`

	// Tier overrides the tier resolved from the request headers.
	Tier string `json:"tier,omitempty"`

	// IP overrides the client address of the calling service.
	IP string `json:"ip,omitempty"`

	// Key replaces identity-based key derivation for the rate limit.
	Key string `json:"key,omitempty"`
}

// AdmitResponse is the 200 body of POST /v1/admit.
type AdmitResponse struct {
	Allowed   bool           `json:"allowed"`
	RateLimit *RateLimitBody `json:"rate_limit,omitempty"`
	Quota     *quota.Status  `json:"quota,omitempty"`
}

// RateLimitBody reports the window state of an admitted request.
type RateLimitBody struct {
	Limiter    string    `json:"limiter"`
	Limit      int64     `json:"limit"`
	Remaining  int64     `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	FailedOpen bool      `json:"failed_open,omitempty"`
}

// CompleteRequest is the body of POST /v1/admit/complete.
type CompleteRequest struct {
	Limiter   string `json:"limiter"`
	SubjectID string `json:"subject_id,omitempty"`
	IP        string `json:"ip,omitempty"`
	Key       string `json:"key,omitempty"`
	Succeeded bool   `json:"succeeded"`
}

// SweepResponse is the body of POST /v1/admin/sweep.
type SweepResponse struct {
	RunID      string    `json:"run_id"`
	ResetCount int       `json:"reset_count"`
	NextReset  time.Time `json:"next_reset"`
	DurationMS int64     `json:"duration_ms"`
}

// ResetRateLimitResponse is the body of DELETE /v1/admin/ratelimit/....
type ResetRateLimitResponse struct {
	Limiter string `json:"limiter"`
	Value   string `json:"value,omitempty"`
	Removed int    `json:"removed"`
}
