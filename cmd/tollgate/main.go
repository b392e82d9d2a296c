// Tollgate decides whether rate-sensitive and metered operations may
// proceed, and tracks each subject's tiered daily quota.
//
// Usage:
//
//	# Start the API server and background reset sweep
//	tollgate run --config /etc/tollgate/config.yaml
//
//	# Check a configuration file and print the tier table
//	tollgate validate -c config.yaml
//
//	# Reset every due quota record once
//	tollgate sweep -c config.yaml
//
//	# Show when quotas reset next
//	tollgate next-reset --at 2026-10-19T23:30:00Z
//
//	# Show version information
//	tollgate version
package main

func main() {
	Execute()
}
