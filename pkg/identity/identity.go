// Package identity supplies the caller identity used to key rate limits and
// meter quotas. The engine never authenticates anyone itself; it trusts
// whatever an upstream gateway or the embedding application resolved.
package identity

import (
	"context"
	"net"
	"net/http"
	"strings"

	"mercator-hq/tollgate/pkg/config"
)

// Identity describes who is performing an operation.
type Identity struct {
	// SubjectID is the authenticated account, empty for anonymous callers.
	SubjectID string `json:"subject_id,omitempty"`

	// Tier is the subject's current entitlement, empty when unknown.
	Tier string `json:"tier,omitempty"`

	// RemoteIP is the client network address.
	RemoteIP string `json:"remote_ip,omitempty"`
}

// Authenticated reports whether a subject is present.
func (id Identity) Authenticated() bool {
	return id.SubjectID != ""
}

// Resolver extracts an Identity from an inbound request.
type Resolver interface {
	Resolve(r *http.Request) Identity
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(r *http.Request) Identity

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(r *http.Request) Identity {
	return f(r)
}

// HeaderResolver reads the subject and tier from request headers set by a
// trusted authenticating proxy.
type HeaderResolver struct {
	subjectHeader     string
	tierHeader        string
	trustForwardedFor bool
}

// NewHeaderResolver creates a resolver from configuration.
func NewHeaderResolver(cfg config.IdentityConfig) *HeaderResolver {
	return &HeaderResolver{
		subjectHeader:     cfg.SubjectHeader,
		tierHeader:        cfg.TierHeader,
		trustForwardedFor: cfg.TrustForwardedFor,
	}
}

// Resolve implements Resolver.
func (h *HeaderResolver) Resolve(r *http.Request) Identity {
	id := Identity{RemoteIP: ClientIP(r, h.trustForwardedFor)}
	if h.subjectHeader != "" {
		id.SubjectID = strings.TrimSpace(r.Header.Get(h.subjectHeader))
	}
	if h.tierHeader != "" && id.SubjectID != "" {
		id.Tier = strings.TrimSpace(r.Header.Get(h.tierHeader))
	}
	return id
}

// ClientIP returns the client address of r. With trustForwardedFor the
// first X-Forwarded-For hop wins.
func ClientIP(r *http.Request, trustForwardedFor bool) string {
	if trustForwardedFor {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying id.
func NewContext(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the Identity stored in ctx, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
