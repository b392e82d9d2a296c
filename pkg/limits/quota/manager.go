package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"mercator-hq/tollgate/pkg/limits/cache"
	"mercator-hq/tollgate/pkg/limits/reset"
	"mercator-hq/tollgate/pkg/limits/storage"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
)

const tracerName = "mercator-hq/tollgate/pkg/limits/quota"

// Cache names used in metrics.
const (
	cacheLocal       = "local"
	cacheDistributed = "distributed"
)

// Config contains the dependencies and tuning of a Manager.
type Config struct {
	// Store is the system of record. Required.
	Store storage.Store

	// Tiers is the tier table. Required.
	Tiers *TierTable

	// Schedule computes reset instants. Required.
	Schedule *reset.Schedule

	// Cache is the distributed snapshot cache. Default: in-memory.
	Cache cache.Cache

	// LocalTTL is how long a process-local freshness entry is trusted.
	// Default: 60s
	LocalTTL time.Duration

	// LocalMaxEntries bounds the process-local cache.
	// Default: 10000
	LocalMaxEntries int

	// DistributedTTL is the TTL of snapshots in Cache.
	// Default: 5m
	DistributedTTL time.Duration

	// OpTimeout bounds each store and cache call. Zero keeps the caller's
	// deadline.
	OpTimeout time.Duration

	// SoftLimits disables the conditional increment even when the store
	// offers one, accepting a bounded overshoot under concurrency.
	SoftLimits bool

	Metrics *metrics.Collector
	Logger  *slog.Logger

	// Clock overrides time.Now.
	Clock func() time.Time
}

// Manager reads, lazily resets and increments per-feature daily usage.
//
// The QuotaStore is the source of truth. Two caches sit in front of it for
// reads only: a bounded process-local map of when each subject was last
// checked, and a distributed cache of record snapshots shared by all
// instances. Losing either cache costs latency, never correctness, and
// Consume always reads the store before deciding.
//
// Manager is safe for concurrent use.
type Manager struct {
	store      storage.Store
	tiers      *TierTable
	schedule   *reset.Schedule
	local      *cache.LocalCache
	dist       cache.Cache
	distTTL    time.Duration
	opTimeout  time.Duration
	softLimits bool

	metrics *metrics.Collector
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time

	group singleflight.Group
}

// NewManager creates a quota manager.
//
// Example:
//
//	tiers, _ := quota.NewTierTable(cfg.Quota)
//	schedule, _ := reset.NewSchedule(cfg.Reset.Hour, cfg.Reset.UTCOffsetMinutes)
//	manager, err := quota.NewManager(quota.Config{
//	    Store:    store,
//	    Tiers:    tiers,
//	    Schedule: schedule,
//	})
//
//	status, err := manager.Consume(ctx, "user-1", "questions", quota.WithTier("silver"))
//	if errors.Is(err, quota.ErrQuotaExceeded) {
//	    // respond 403
//	}
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("quota store is required")
	}
	if cfg.Tiers == nil {
		return nil, fmt.Errorf("%w: tier table is required", ErrInvalidConfiguration)
	}
	if cfg.Schedule == nil {
		return nil, fmt.Errorf("%w: reset schedule is required", ErrInvalidConfiguration)
	}
	if cfg.LocalTTL == 0 {
		cfg.LocalTTL = 60 * time.Second
	}
	if cfg.LocalMaxEntries == 0 {
		cfg.LocalMaxEntries = 10000
	}
	if cfg.DistributedTTL == 0 {
		cfg.DistributedTTL = 5 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.NewMemoryCache(cfg.Clock)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "limits.quota")
	}

	return &Manager{
		store:      cfg.Store,
		tiers:      cfg.Tiers,
		schedule:   cfg.Schedule,
		local:      cache.NewLocalCache(cfg.LocalMaxEntries, cfg.LocalTTL),
		dist:       cfg.Cache,
		distTTL:    cfg.DistributedTTL,
		opTimeout:  cfg.OpTimeout,
		softLimits: cfg.SoftLimits,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		tracer:     otel.Tracer(tracerName),
		now:        cfg.Clock,
	}, nil
}

// Tiers returns the tier table.
func (m *Manager) Tiers() *TierTable {
	return m.tiers
}

// GetStatus returns the subject's usage of every feature, resetting it first
// if its window is over. When the store is unavailable the last cached
// snapshot is returned with Stale set, if there is one.
func (m *Manager) GetStatus(ctx context.Context, subjectID string, opts ...CallOption) (*Status, error) {
	ctx, span := m.tracer.Start(ctx, "quota.get_status",
		trace.WithAttributes(attribute.String("quota.subject_id", subjectID)))
	defer span.End()

	co, err := m.callOptions(subjectID, opts)
	if err != nil {
		return nil, err
	}
	now := m.now()

	if m.local.Fresh(subjectID) {
		m.metrics.RecordCacheHit(cacheLocal)
		if rec := m.readSnapshot(ctx, subjectID); rec != nil &&
			!reset.NeedsReset(rec.ResetAt, now) &&
			(co.tier == "" || co.tier == rec.Tier) {
			span.SetAttributes(attribute.Bool("quota.cached", true))
			return m.tiers.Status(rec), nil
		}
	} else {
		m.metrics.RecordCacheMiss(cacheLocal)
	}

	rec, err := m.load(ctx, subjectID, co.tier, now)
	if err != nil {
		if errors.Is(err, ErrServiceUnavailable) {
			if stale := m.readSnapshot(ctx, subjectID); stale != nil {
				m.metrics.RecordStaleRead()
				span.SetAttributes(attribute.Bool("quota.stale", true))
				st := m.tiers.Status(stale)
				st.Stale = true
				return st, nil
			}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "get status failed")
		return nil, err
	}

	return m.tiers.Status(rec), nil
}

// Consume uses one unit of feature. It fails with an *ExceededError when the
// feature is already at its limit and with ErrServiceUnavailable when the
// store cannot be reached; it never allows a consume it could not record.
//
// When the store implements storage.ConditionalIncrementer (and SoftLimits
// is off) usage never exceeds the limit. Otherwise the check and the
// increment are separate store calls, and N concurrent callers may push
// usage up to N-1 past the limit; such overshoot is logged and counted.
func (m *Manager) Consume(ctx context.Context, subjectID, feature string, opts ...CallOption) (*Status, error) {
	ctx, span := m.tracer.Start(ctx, "quota.consume", trace.WithAttributes(
		attribute.String("quota.subject_id", subjectID),
		attribute.String("quota.feature", feature),
	))
	defer span.End()

	co, err := m.callOptions(subjectID, opts)
	if err != nil {
		return nil, err
	}
	if !m.tiers.HasFeature(feature) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFeature, feature)
	}
	now := m.now()

	rec, err := m.load(ctx, subjectID, co.tier, now)
	if err != nil {
		m.metrics.RecordConsume(feature, "unavailable")
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return nil, err
	}

	limit, _ := m.tiers.Limit(rec.Tier, feature)
	if used := rec.Used(feature); used >= limit {
		return nil, m.exceeded(span, feature, used, limit, rec.ResetAt)
	}

	ci, conditional := m.store.(storage.ConditionalIncrementer)
	if conditional && !m.softLimits {
		opCtx, cancel := m.opContext(ctx)
		updated, ok, err := ci.IncrementIfBelow(opCtx, subjectID, feature, limit, now)
		cancel()
		if err != nil {
			m.metrics.RecordConsume(feature, "unavailable")
			return nil, m.unavailable(span, "increment", err)
		}
		if !ok {
			m.writeSnapshot(ctx, updated)
			return nil, m.exceeded(span, feature, updated.Used(feature), limit, updated.ResetAt)
		}
		rec = updated
	} else {
		opCtx, cancel := m.opContext(ctx)
		updated, err := m.store.Increment(opCtx, subjectID, feature, now)
		cancel()
		if err != nil {
			m.metrics.RecordConsume(feature, "unavailable")
			return nil, m.unavailable(span, "increment", err)
		}
		if over := updated.Used(feature) - limit; over > 0 {
			m.metrics.RecordRaceOvercount(feature)
			m.logger.Warn("quota overshoot from concurrent consumes",
				"subject_id", subjectID,
				"feature", feature,
				"used", updated.Used(feature),
				"limit", limit,
				"over", over,
			)
		}
		rec = updated
	}

	m.writeSnapshot(ctx, rec)
	m.local.Touch(subjectID, now)
	m.metrics.RecordConsume(feature, "ok")

	return m.tiers.Status(rec), nil
}

// Invalidate drops both cache tiers for subjectIDs. It implements
// reset.Invalidator.
func (m *Manager) Invalidate(ctx context.Context, subjectIDs ...string) {
	if len(subjectIDs) == 0 {
		return
	}
	keys := make([]string, len(subjectIDs))
	for i, id := range subjectIDs {
		m.local.Invalidate(id)
		keys[i] = m.snapshotKey(id)
	}

	opCtx, cancel := m.opContext(ctx)
	defer cancel()
	if err := m.dist.Delete(opCtx, keys...); err != nil {
		m.metrics.RecordCacheError(cacheDistributed)
		m.logger.Warn("failed to invalidate quota snapshots", "subjects", len(keys), "error", err)
	}
	m.metrics.UpdateCacheSize(cacheLocal, m.local.Len())
}

// load returns the subject's record, creating it, applying a tier change
// and lazily resetting it as needed. Concurrent loads of one subject on this
// instance share a single store round trip.
func (m *Manager) load(ctx context.Context, subjectID, tier string, now time.Time) (*storage.Record, error) {
	v, err, _ := m.group.Do(subjectID+"\x00"+tier, func() (any, error) {
		return m.loadRecord(context.WithoutCancel(ctx), subjectID, tier, now)
	})
	if err != nil {
		return nil, err
	}
	return v.(*storage.Record).Clone(), nil
}

func (m *Manager) loadRecord(ctx context.Context, subjectID, tier string, now time.Time) (*storage.Record, error) {
	span := trace.SpanFromContext(ctx)

	opCtx, cancel := m.opContext(ctx)
	rec, err := m.store.Find(opCtx, subjectID)
	cancel()
	if err != nil {
		return nil, m.unavailable(span, "find", err)
	}

	if rec == nil {
		rec, err = m.create(ctx, subjectID, tier, now)
		if err != nil {
			return nil, m.unavailable(span, "create", err)
		}
	}

	if tier != "" && rec.Tier != tier {
		opCtx, cancel := m.opContext(ctx)
		err := m.store.SetTier(opCtx, subjectID, tier, now)
		cancel()
		if err != nil {
			return nil, m.unavailable(span, "set_tier", err)
		}
		m.logger.Info("subject tier changed",
			"subject_id", subjectID,
			"from", rec.Tier,
			"to", tier,
		)
		rec.Tier = tier
		rec.LastUpdated = now
	}

	if reset.NeedsReset(rec.ResetAt, now) {
		rec, err = m.lazyReset(ctx, subjectID, now)
		if err != nil {
			return nil, m.unavailable(span, "reset", err)
		}
	}

	m.writeSnapshot(ctx, rec)
	m.local.Touch(subjectID, now)
	m.metrics.UpdateCacheSize(cacheLocal, m.local.Len())
	return rec, nil
}

// create inserts a zeroed record. A concurrent creator wins harmlessly.
func (m *Manager) create(ctx context.Context, subjectID, tier string, now time.Time) (*storage.Record, error) {
	if tier == "" {
		tier = m.tiers.DefaultTier()
	}
	usage := make(map[string]int64, len(m.tiers.features))
	for _, f := range m.tiers.features {
		usage[f] = 0
	}

	opCtx, cancel := m.opContext(ctx)
	defer cancel()
	return m.store.CreateIfAbsent(opCtx, &storage.Record{
		SubjectID:   subjectID,
		Tier:        tier,
		Usage:       usage,
		ResetAt:     m.schedule.ComputeNextReset(now),
		LastUpdated: now,
		CreatedAt:   now,
	})
}

// lazyReset resets one due record. The store only resets it if it is still
// due, so a concurrent sweep or another instance may have won; the record is
// re-read either way.
func (m *Manager) lazyReset(ctx context.Context, subjectID string, now time.Time) (*storage.Record, error) {
	opCtx, cancel := m.opContext(ctx)
	ids, err := m.store.ResetDue(opCtx, now, m.schedule.ComputeNextReset(now), subjectID)
	cancel()
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		m.metrics.RecordReset("lazy", len(ids))
		m.logger.Debug("quota lazily reset", "subject_id", subjectID)
	}
	m.Invalidate(ctx, subjectID)

	opCtx, cancel = m.opContext(ctx)
	rec, err := m.store.Find(opCtx, subjectID)
	cancel()
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, storage.ErrNotFound
	}
	return rec, nil
}

func (m *Manager) callOptions(subjectID string, opts []CallOption) (callOptions, error) {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}
	if subjectID == "" {
		return co, ErrInvalidSubject
	}
	if co.tier != "" && !m.tiers.HasTier(co.tier) {
		return co, fmt.Errorf("%w: %q", ErrUnknownTier, co.tier)
	}
	return co, nil
}

func (m *Manager) exceeded(span trace.Span, feature string, used, limit int64, resetAt time.Time) error {
	m.metrics.RecordConsume(feature, "exceeded")
	span.SetAttributes(attribute.Bool("quota.exceeded", true))
	return &ExceededError{
		Feature: feature,
		Used:    used,
		Limit:   limit,
		ResetAt: resetAt,
	}
}

// unavailable logs a store failure and maps it to ErrServiceUnavailable.
// The raw store error is not returned to callers.
func (m *Manager) unavailable(span trace.Span, op string, err error) error {
	if errors.Is(err, ErrServiceUnavailable) {
		return err
	}
	m.metrics.RecordStoreError(op)
	span.RecordError(err)
	span.SetStatus(codes.Error, "quota store unavailable")
	m.logger.Error("quota store unavailable", "op", op, "error", err)
	return fmt.Errorf("%w: %s failed", ErrServiceUnavailable, op)
}

func (m *Manager) snapshotKey(subjectID string) string {
	return "quota:v" + m.tiers.Version() + ":" + subjectID
}

// readSnapshot returns the cached record of subjectID, or nil.
func (m *Manager) readSnapshot(ctx context.Context, subjectID string) *storage.Record {
	opCtx, cancel := m.opContext(ctx)
	defer cancel()

	data, found, err := m.dist.Get(opCtx, m.snapshotKey(subjectID))
	if err != nil {
		m.metrics.RecordCacheError(cacheDistributed)
		m.logger.Debug("quota snapshot read failed", "subject_id", subjectID, "error", err)
		return nil
	}
	if !found {
		m.metrics.RecordCacheMiss(cacheDistributed)
		return nil
	}

	var rec storage.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		m.metrics.RecordCacheError(cacheDistributed)
		return nil
	}
	m.metrics.RecordCacheHit(cacheDistributed)
	return &rec
}

// writeSnapshot refreshes the cached record. Failures only cost latency.
func (m *Manager) writeSnapshot(ctx context.Context, rec *storage.Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}

	opCtx, cancel := m.opContext(ctx)
	defer cancel()
	if err := m.dist.Set(opCtx, m.snapshotKey(rec.SubjectID), data, m.distTTL); err != nil {
		m.metrics.RecordCacheError(cacheDistributed)
		m.logger.Debug("quota snapshot write failed", "subject_id", rec.SubjectID, "error", err)
	}
}

func (m *Manager) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.opTimeout)
}
