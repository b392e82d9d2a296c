// Package tracing installs OpenTelemetry tracing for tollgate.
//
// New configures an OTLP gRPC exporter and a parent-based ratio sampler and
// registers them as the global tracer provider together with the W3C trace
// context propagator. The limits packages create their spans through
// otel.Tracer, so nothing else needs to be threaded through constructors:
//
//	provider, err := tracing.New(ctx, cfg.Telemetry.Tracing, version)
//	if err != nil {
//	    return err
//	}
//	defer provider.Shutdown(context.Background())
//
// Spans recorded:
//
//   - "<METHOD> <path>": every HTTP request (HTTPMiddleware)
//   - limits.admit: rate limit check plus quota consume
//   - quota.get_status, quota.consume: quota manager operations
//   - quota.sweep_all: background reset sweep
//
// Configuration:
//
//	telemetry:
//	  tracing:
//	    enabled: true
//	    endpoint: "otel-collector:4317"
//	    insecure: true
//	    sample_ratio: 0.1
package tracing
