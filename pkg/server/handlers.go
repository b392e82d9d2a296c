package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mercator-hq/tollgate/pkg/identity"
	"mercator-hq/tollgate/pkg/limits"
	"mercator-hq/tollgate/pkg/limits/quota"
	"mercator-hq/tollgate/pkg/server/types"
	"mercator-hq/tollgate/pkg/telemetry/logging"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// handleAdmit decides one operation for a calling service.
//
// The caller identity comes from the identity headers; subject_id, tier and
// ip in the body override it.
func (s *Server) handleAdmit(w http.ResponseWriter, r *http.Request) {
	var body types.AdmitRequest
	if !s.decode(w, r, &body) {
		return
	}
	if body.Limiter == "" && body.Feature == "" {
		types.WriteError(w, types.NewInvalidRequestError("limiter or feature is required", types.CodeMissingField))
		return
	}

	id := s.identity(r, body.SubjectID, body.Tier, body.IP)
	ctx := r.Context()
	if id.SubjectID != "" {
		ctx = logging.WithSubject(ctx, id.SubjectID)
	}

	result, err := s.opts.Engine.Admit(ctx, limits.Request{
		Limiter:  body.Limiter,
		Identity: id,
		Feature:  body.Feature,
		Key:      body.Key,
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	types.SetRateLimitHeaders(w.Header(), result.RateLimit, !result.Allowed)
	if !result.Allowed {
		types.WriteDenial(w, result)
		return
	}

	resp := types.AdmitResponse{Allowed: true, Quota: result.Quota}
	if rl := result.RateLimit; rl != nil {
		resp.RateLimit = &types.RateLimitBody{
			Limiter:    rl.Limiter,
			Limit:      rl.Limit,
			Remaining:  rl.Remaining,
			ResetAt:    rl.Reset,
			FailedOpen: rl.FailedOpen,
		}
	}
	types.WriteJSON(w, http.StatusOK, resp)
}

// handleComplete reports the outcome of an admitted operation.
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var body types.CompleteRequest
	if !s.decode(w, r, &body) {
		return
	}
	if body.Limiter == "" {
		types.WriteError(w, types.NewInvalidRequestError("limiter is required", types.CodeMissingField))
		return
	}

	req := limits.Request{
		Limiter:  body.Limiter,
		Identity: s.identity(r, body.SubjectID, "", body.IP),
		Key:      body.Key,
	}
	if err := s.opts.Engine.Complete(r.Context(), req, body.Succeeded); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetQuota returns the subject's quota status. The optional tier
// query parameter supplies the subject's current entitlement.
func (s *Server) handleGetQuota(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")
	ctx := logging.WithSubject(r.Context(), subjectID)

	status, err := s.opts.Engine.Status(ctx, subjectID, r.URL.Query().Get("tier"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if status.Stale {
		w.Header().Set(types.HeaderQuotaStale, "true")
	}
	types.WriteJSON(w, http.StatusOK, status)
}

// handleConsume meters one unit of a feature without rate limiting.
func (s *Server) handleConsume(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")
	feature := chi.URLParam(r, "feature")
	ctx := logging.WithSubject(r.Context(), subjectID)

	status, err := s.opts.Engine.Consume(ctx, subjectID, feature, r.URL.Query().Get("tier"))
	if err != nil {
		var exceeded *quota.ExceededError
		if errors.As(err, &exceeded) {
			types.WriteJSON(w, http.StatusForbidden, types.NewQuotaExceededResponse(exceeded))
			return
		}
		s.writeEngineError(w, r, err)
		return
	}
	types.WriteJSON(w, http.StatusOK, status)
}

// handleSweep runs one reset sweep immediately.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	result, err := s.opts.Sweeper.Sweep(r.Context())
	if err != nil {
		types.WriteError(w, types.NewErrorResponse("Quota sweep failed.", types.ErrorTypeServiceUnavailable, ""))
		return
	}
	types.WriteJSON(w, http.StatusOK, types.SweepResponse{
		RunID:      result.RunID,
		ResetCount: result.ResetCount,
		NextReset:  result.NextReset,
		DurationMS: result.Duration.Milliseconds(),
	})
}

// handleResetRateLimit clears one value's windows, or every window of the
// limiter when no value is given.
func (s *Server) handleResetRateLimit(w http.ResponseWriter, r *http.Request) {
	limiter := chi.URLParam(r, "limiter")
	value := chi.URLParam(r, "value")

	removed, err := s.opts.Engine.ResetRateLimit(r.Context(), limiter, value)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	s.logger.InfoContext(r.Context(), "rate limit reset via admin API",
		"limiter", limiter,
		"value", value,
		"removed", removed,
	)
	types.WriteJSON(w, http.StatusOK, types.ResetRateLimitResponse{
		Limiter: limiter,
		Value:   value,
		Removed: removed,
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	types.WriteError(w, types.NewErrorResponse("no route for "+r.URL.Path, types.ErrorTypeNotFound, ""))
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	types.WriteJSON(w, http.StatusMethodNotAllowed,
		types.NewInvalidRequestError("method "+r.Method+" not allowed", ""))
}

// identity resolves the caller from headers and applies body overrides.
// A subject override replaces the resolved tier as well.
func (s *Server) identity(r *http.Request, subjectID, tier, ip string) identity.Identity {
	id := s.opts.Resolver.Resolve(r)
	if subjectID != "" {
		id.SubjectID = subjectID
		id.Tier = tier
	} else if tier != "" {
		id.Tier = tier
	}
	if ip != "" {
		id.RemoteIP = ip
	}
	return id
}

// decode reads a JSON body into v, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		types.WriteError(w, types.NewInvalidRequestError("invalid JSON body: "+err.Error(), types.CodeInvalidJSON))
		return false
	}
	return true
}

// writeEngineError logs unexpected errors and writes the mapped response.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	resp := types.FromError(err)
	if resp.Error.HTTPStatusCode() >= http.StatusInternalServerError {
		s.logger.WarnContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	types.WriteError(w, resp)
}
