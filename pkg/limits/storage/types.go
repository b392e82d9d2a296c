package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by mutations on a subject with no record.
	ErrNotFound = errors.New("quota record not found")

	// ErrInvalidRecord is returned for records missing a subject or tier.
	ErrInvalidRecord = errors.New("invalid quota record")
)

// Record is the persisted quota state of one subject. Only usage is stored;
// limits are derived from the tier table at read time.
type Record struct {
	// SubjectID identifies the account.
	SubjectID string `json:"subject_id"`

	// Tier is the entitlement tier the record was last seen with.
	Tier string `json:"tier"`

	// Usage maps feature name to units consumed in the current window.
	// Features never consumed may be absent.
	Usage map[string]int64 `json:"usage"`

	// ResetAt is when the current window ends.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdated is when this record was last modified.
	LastUpdated time.Time `json:"last_updated"`

	// CreatedAt is when this record was first created.
	CreatedAt time.Time `json:"created_at"`
}

// Used returns the usage of feature, zero when absent.
func (r *Record) Used(feature string) int64 {
	if r == nil || r.Usage == nil {
		return 0
	}
	return r.Usage[feature]
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Usage = make(map[string]int64, len(r.Usage))
	for k, v := range r.Usage {
		c.Usage[k] = v
	}
	return &c
}

func (r *Record) validate() error {
	if r == nil || r.SubjectID == "" || r.Tier == "" {
		return ErrInvalidRecord
	}
	return nil
}

// Store is the durable system of record for quota usage.
// Implementations must be thread-safe and support concurrent access.
type Store interface {
	// Find returns the record of subjectID, or nil when none exists.
	Find(ctx context.Context, subjectID string) (*Record, error)

	// Upsert writes rec in full, replacing any existing record.
	Upsert(ctx context.Context, rec *Record) error

	// CreateIfAbsent inserts rec when subjectID has no record and returns
	// whichever record is stored afterwards.
	CreateIfAbsent(ctx context.Context, rec *Record) (*Record, error)

	// SetTier changes the tier of an existing record without touching usage.
	SetTier(ctx context.Context, subjectID, tier string, now time.Time) error

	// Increment atomically adds one to feature and returns the updated record.
	Increment(ctx context.Context, subjectID, feature string, now time.Time) (*Record, error)

	// ResetDue zeroes usage and sets ResetAt to next on every record whose
	// ResetAt is at or before now, restricted to subjectIDs when given. Each
	// record's update is conditioned on ResetAt <= now at write time, so
	// concurrent callers never reset a record twice. It returns the subjects
	// actually reset.
	ResetDue(ctx context.Context, now, next time.Time, subjectIDs ...string) ([]string, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// ConditionalIncrementer is implemented by stores that can increment a
// feature only while it is below a limit, in one atomic step.
type ConditionalIncrementer interface {
	// IncrementIfBelow adds one to feature if its usage is below limit. ok
	// reports whether the increment happened; rec is the record afterwards
	// either way.
	IncrementIfBelow(ctx context.Context, subjectID, feature string, limit int64, now time.Time) (rec *Record, ok bool, err error)
}
