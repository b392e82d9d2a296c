// Package config provides configuration management for tollgate.
//
// This package handles loading, validating, and defaulting configuration from
// YAML files with environment variable overrides. The resulting Config is
// built once at process start and passed by value or pointer into the
// components that need it; nothing in this package holds global state.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("tollgate.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("tollgate.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention TOLLGATE_SECTION_FIELD.
// For example:
//
//   - TOLLGATE_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - TOLLGATE_REDIS_ADDRESS overrides redis.address
//   - TOLLGATE_RESET_UTC_OFFSET_MINUTES overrides reset.utc_offset_minutes
//
// # Tier Table
//
// The tier table is an ordered list of tiers, lowest entitlement first, each
// mapping every feature to a daily limit:
//
//	quota:
//	  version: "2026-10"
//	  default_tier: free
//	  tiers:
//	    - name: free
//	      limits: {questions: 20, chapterTests: 3}
//	    - name: silver
//	      limits: {questions: 500, chapterTests: 10}
//
// A tier that omits a feature, or names a feature outside quota.features, is
// rejected at load time.
package config
