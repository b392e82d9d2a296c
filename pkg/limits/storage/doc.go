// Package storage provides the durable system of record for quota usage.
//
// # Overview
//
// A Record holds one subject's per-feature usage, its tier and the instant
// its current window ends. Limits are never stored; they come from the tier
// table when a record is read. Two implementations are provided:
//
//   - Memory: in-process maps, for development and tests
//   - SQL: SQLite (modernc or mattn driver), PostgreSQL or MySQL
//
// # Usage
//
//	store, err := storage.Open(ctx, storage.Options{
//	    Driver: "sqlite",
//	    Path:   "data/quota.db",
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	rec, err := store.Increment(ctx, "user-1", "queries", time.Now())
//
// # Resets
//
// ResetDue is conditioned on ResetAt <= now at write time. Concurrent
// sweepers and request-path lazy resets may race on the same record and it
// is still reset exactly once per window.
//
// # Thread Safety
//
// All stores are safe for concurrent use. Stores that also implement
// ConditionalIncrementer guarantee usage never exceeds the supplied limit.
package storage
