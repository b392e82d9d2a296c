// Package quota tracks per-feature daily allowances of subjects.
//
// # Overview
//
// Each subject has one storage.Record holding its usage per feature and the
// instant its window ends. Limits are never stored; they come from the
// TierTable, so changing a subject's tier changes its limits on the next
// read without touching usage.
//
// Both GetStatus and Consume begin with a lazy reset: a record whose window
// is over is reset before anything else happens, whether or not the
// background sweep has run yet.
//
// # Caching
//
// Reads may be served from a distributed snapshot cache when this instance
// checked the subject recently. Consume never trusts a cache; it always
// reads the store and refreshes the snapshot afterwards.
//
// # Failures
//
// Writes fail closed with ErrServiceUnavailable. Reads fall back to the last
// snapshot, marked Stale, and fail with ErrServiceUnavailable only when no
// snapshot exists.
package quota
