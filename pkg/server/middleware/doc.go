// Package middleware provides the net/http middleware of the tollgate API
// and the embeddable rate limit and quota guards.
//
// # Middleware Chain
//
// The server applies, from outermost to innermost:
//
//	RecoveryMiddleware -> RequestIDMiddleware -> LoggingMiddleware -> TimeoutMiddleware
//
// # Guards
//
// RateLimit and Quota let other services protect their own handlers with
// the engine directly:
//
//	resolver := identity.NewHeaderResolver(cfg.Identity)
//
//	r.With(middleware.RateLimit(engine, "login", resolver)).
//	    Post("/login", login)
//	r.With(middleware.RateLimit(engine, "api", resolver), middleware.Quota(engine, "chapterTests", resolver)).
//	    Post("/chapter-tests", createTest)
//
// Both store the resolved identity in the request context, where
// identity.FromContext finds it, and reuse an identity already stored by an
// outer guard.
package middleware
