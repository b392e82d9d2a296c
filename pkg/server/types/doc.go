// Package types defines the JSON bodies of the tollgate HTTP API and maps
// engine errors to HTTP responses.
//
// Every error is returned as
//
//	{"error": {"message": "...", "type": "...", "code": "..."}}
//
// Quota denials (403) add feature, used, limit and reset_at next to the
// error object; rate limit denials (429) add limiter and
// retry_after_seconds.
package types
