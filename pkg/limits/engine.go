package limits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/tollgate/pkg/identity"
	"mercator-hq/tollgate/pkg/limits/quota"
	"mercator-hq/tollgate/pkg/limits/ratelimit"
)

const tracerName = "mercator-hq/tollgate/pkg/limits"

// Engine coordinates rate limiting and quota metering for inbound operations.
//
// The rate limiter is consulted first since it is cheap and keyed per caller;
// a denial stops processing. Metered operations then consume one unit of
// the subject's daily quota.
//
// # Example
//
//	engine, err := limits.NewEngine(limits.Config{
//	    Limiter:  ratelimit.NewLimiter(counters),
//	    Policies: ratelimit.NewRegistry(cfg.RateLimits),
//	    Quota:    manager,
//	})
//
//	result, err := engine.Admit(ctx, limits.Request{
//	    Limiter:  "api",
//	    Identity: id,
//	    Feature:  "questions",
//	})
//	if err != nil {
//	    // quota service unavailable or bad request
//	}
//	if !result.Allowed {
//	    // respond 429 or 403 depending on result.Reason
//	}
type Engine struct {
	limiter  *ratelimit.Limiter
	policies *ratelimit.Registry
	quota    *quota.Manager
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Config contains the components of an Engine.
type Config struct {
	Limiter  *ratelimit.Limiter
	Policies *ratelimit.Registry
	Quota    *quota.Manager
	Logger   *slog.Logger
}

// NewEngine creates an engine from its components.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Limiter == nil || cfg.Policies == nil {
		return nil, errors.New("rate limiter and policies are required")
	}
	if cfg.Quota == nil {
		return nil, errors.New("quota manager is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "limits.engine")
	}

	return &Engine{
		limiter:  cfg.Limiter,
		policies: cfg.Policies,
		quota:    cfg.Quota,
		logger:   cfg.Logger,
		tracer:   otel.Tracer(tracerName),
	}, nil
}

// Admit decides whether req may proceed.
//
// Denials are reported through Result, not as errors. An error means the
// request itself is invalid or, for metered requests, that the quota service
// is unavailable; in that case the operation must not proceed.
func (e *Engine) Admit(ctx context.Context, req Request) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "limits.admit", trace.WithAttributes(
		attribute.String("limits.limiter", req.Limiter),
		attribute.String("limits.feature", req.Feature),
	))
	defer span.End()

	if req.Feature != "" && !req.Identity.Authenticated() {
		return nil, ErrMissingSubject
	}

	result := &Result{Allowed: true}

	var (
		policy ratelimit.Policy
		key    string
	)
	if req.Limiter != "" {
		var err error
		policy, key, err = e.resolve(req)
		if err != nil {
			return nil, err
		}

		d := e.limiter.Check(ctx, key, policy)
		result.RateLimit = &RateLimitInfo{
			Limiter:    policy.Name,
			Key:        key,
			Limit:      d.Limit,
			Remaining:  d.Remaining,
			Reset:      d.ResetAt,
			RetryAfter: d.RetryAfter,
			Window:     policy.Window,
			FailedOpen: d.FailedOpen,
		}

		if !d.Allowed {
			result.Allowed = false
			result.Reason = ReasonRateLimit
			span.SetAttributes(attribute.String("limits.denied", ReasonRateLimit))
			return result, nil
		}
	}

	if req.Feature == "" {
		return result, nil
	}

	status, err := e.quota.Consume(ctx, req.Identity.SubjectID, req.Feature, e.tierOption(req.Identity)...)
	if err != nil {
		// The guarded operation will not run, so it counts as failed.
		if key != "" && policy.SkipFailedRequests {
			_ = e.limiter.Compensate(ctx, key, policy)
		}

		var exceeded *quota.ExceededError
		if errors.As(err, &exceeded) {
			result.Allowed = false
			result.Reason = ReasonQuota
			result.Exceeded = exceeded
			span.SetAttributes(attribute.String("limits.denied", ReasonQuota))
			return result, nil
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, "quota consume failed")
		return nil, err
	}

	result.Quota = status
	return result, nil
}

// Complete reports the outcome of an admitted operation. For policies that
// skip failed requests a failed operation is compensated; the correction is
// best-effort and its failure is logged, not returned.
func (e *Engine) Complete(ctx context.Context, req Request, succeeded bool) error {
	if succeeded || req.Limiter == "" {
		return nil
	}

	policy, key, err := e.resolve(req)
	if err != nil {
		return err
	}
	if !policy.SkipFailedRequests {
		return nil
	}

	_ = e.limiter.Compensate(ctx, key, policy)
	return nil
}

// Status returns the subject's quota status. tier may be empty.
func (e *Engine) Status(ctx context.Context, subjectID, tier string) (*quota.Status, error) {
	var opts []quota.CallOption
	if tier != "" {
		opts = append(opts, quota.WithTier(tier))
	}
	return e.quota.GetStatus(ctx, subjectID, opts...)
}

// Consume meters one unit of feature for subjectID without rate limiting.
func (e *Engine) Consume(ctx context.Context, subjectID, feature, tier string) (*quota.Status, error) {
	var opts []quota.CallOption
	if tier != "" {
		opts = append(opts, quota.WithTier(tier))
	}
	return e.quota.Consume(ctx, subjectID, feature, opts...)
}

// ResetRateLimit clears the windows of value under limiter. An empty value
// clears every window of the limiter and returns how many were removed.
func (e *Engine) ResetRateLimit(ctx context.Context, limiter, value string) (int, error) {
	policy, ok := e.policies.Lookup(limiter)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownLimiter, limiter)
	}
	if value == "" {
		return e.limiter.ResetPolicy(ctx, policy)
	}
	if err := e.limiter.ResetValue(ctx, policy, value); err != nil {
		return 0, err
	}
	return 1, nil
}

// Policies returns the configured rate limit policies.
func (e *Engine) Policies() *ratelimit.Registry {
	return e.policies
}

// Quota returns the quota manager.
func (e *Engine) Quota() *quota.Manager {
	return e.quota
}

// resolve looks up the policy of req and derives its window key.
func (e *Engine) resolve(req Request) (ratelimit.Policy, string, error) {
	policy, ok := e.policies.Lookup(req.Limiter)
	if !ok {
		return policy, "", fmt.Errorf("%w: %q", ErrUnknownLimiter, req.Limiter)
	}

	var (
		key string
		err error
	)
	if req.Key != "" {
		key, err = ratelimit.CustomKey(policy, req.Key)
	} else {
		key, err = ratelimit.DeriveKey(policy, req.Identity)
	}
	if err != nil {
		return policy, "", fmt.Errorf("%w: %s uses %s", ErrMissingIdentity, policy.Name, policy.KeyStrategy)
	}
	return policy, key, nil
}

func (e *Engine) tierOption(id identity.Identity) []quota.CallOption {
	if id.Tier == "" {
		return nil
	}
	return []quota.CallOption{quota.WithTier(id.Tier)}
}
