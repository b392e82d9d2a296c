// Package logging builds the process-wide structured logger.
//
// # Usage
//
//	logger, err := logging.New(cfg.Telemetry.Logging, os.Stdout)
//	if err != nil {
//	    return err
//	}
//	slog.SetDefault(logger)
//
//	ctx = logging.WithRequestID(ctx, requestID)
//	slog.InfoContext(ctx, "quota consumed", "feature", "questions")
//	// {"level":"INFO","msg":"quota consumed","feature":"questions","request_id":"..."}
//
// Components derive their own logger with With("component", name). Records
// logged with a context carry its request id, subject and active trace id.
//
// # Secrets
//
// Attributes named password, redis_password or authorization are replaced
// with "***", and the credentials in an attribute named dsn are masked.
package logging
