package types

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"mercator-hq/tollgate/pkg/limits"
)

// Response headers.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
	HeaderQuotaStale         = "X-Quota-Stale"
)

// SetRateLimitHeaders adds the X-RateLimit-* headers of info and, when the
// request was denied, Retry-After in whole seconds. The reset header is a
// Unix timestamp.
func SetRateLimitHeaders(h http.Header, info *limits.RateLimitInfo, denied bool) {
	if info == nil {
		return
	}
	h.Set(HeaderRateLimitLimit, strconv.FormatInt(info.Limit, 10))
	h.Set(HeaderRateLimitRemaining, strconv.FormatInt(info.Remaining, 10))
	h.Set(HeaderRateLimitReset, strconv.FormatInt(info.Reset.Unix(), 10))
	if denied {
		h.Set(HeaderRetryAfter, strconv.FormatInt(retryAfterSeconds(info.RetryAfter), 10))
	}
}

// retryAfterSeconds rounds d up so clients never retry early.
func retryAfterSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
