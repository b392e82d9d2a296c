package middleware

import (
	"net/http"

	"mercator-hq/tollgate/pkg/identity"
	"mercator-hq/tollgate/pkg/limits"
	"mercator-hq/tollgate/pkg/server/types"
	"mercator-hq/tollgate/pkg/telemetry/logging"
)

// RateLimit guards next with the named rate limiter.
//
// The caller is resolved once and stored in the request context. Denied
// requests receive 429 with X-RateLimit-* and Retry-After headers; admitted
// requests receive the X-RateLimit-* headers. If the limiter skips failed
// requests, a response status of 400 or above compensates the count.
//
// Example:
//
//	r.With(middleware.RateLimit(engine, "login", resolver)).Post("/login", login)
func RateLimit(engine *limits.Engine, limiter string, resolver identity.Resolver) func(http.Handler) http.Handler {
	return admit(engine, resolver, func(id identity.Identity) limits.Request {
		return limits.Request{Limiter: limiter, Identity: id}
	})
}

// Quota meters one unit of feature for the authenticated subject before
// next runs. Exhausted quotas receive 403 with the usage; an unreachable
// quota store receives 503 and next does not run.
//
// Example:
//
//	r.With(middleware.Quota(engine, "chapterTests", resolver)).Post("/tests", createTest)
func Quota(engine *limits.Engine, feature string, resolver identity.Resolver) func(http.Handler) http.Handler {
	return admit(engine, resolver, func(id identity.Identity) limits.Request {
		return limits.Request{Feature: feature, Identity: id}
	})
}

func admit(engine *limits.Engine, resolver identity.Resolver, build func(identity.Identity) limits.Request) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := identity.FromContext(r.Context())
			if !ok {
				id = resolver.Resolve(r)
			}
			req := build(id)

			result, err := engine.Admit(r.Context(), req)
			if err != nil {
				types.WriteError(w, types.FromError(err))
				return
			}

			types.SetRateLimitHeaders(w.Header(), result.RateLimit, !result.Allowed)
			if !result.Allowed {
				types.WriteDenial(w, result)
				return
			}

			ctx := identity.NewContext(r.Context(), id)
			if id.SubjectID != "" {
				ctx = logging.WithSubject(ctx, id.SubjectID)
			}

			if req.Limiter == "" {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r.WithContext(ctx))
			_ = engine.Complete(ctx, req, rw.statusCode < http.StatusBadRequest)
		})
	}
}
