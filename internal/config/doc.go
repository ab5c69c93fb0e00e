// Package config handles configuration loading for the convo-sync binaries.
//
// # Overview
//
// Configuration is loaded from YAML files, or TOML files when the path ends
// in .toml, with environment variable expansion. Load applies defaults and
// validates the result; Default returns a configuration for running with no
// file at all.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${CONVO_JWT_SECRET}"
//
// Only the ${VAR_NAME} form is expanded. Unset variables become "".
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	sync:
//	  poll_interval: "10s"
//	  suspend_after: "5m"
//	  retry_base: "1s"
//	  retry_max: "30s"
//	  typing_ttl: "6s"
//	lifecycle:
//	  settle: "250ms"
//
// # Configuration Sections
//
//   - server: development server listen address
//   - client: base URL, bearer token, conversation and viewer id
//   - sync: conversation agent polling, suspend and retry timing
//   - lifecycle: settle dwell before backgrounding
//   - receipts: read-receipt pacing and acknowledgement window
//   - database: SQLite path for the development server
//   - auth: JWT secret and issued token lifetime
//   - logging: level (debug, info, warn, error) and format (text, json)
//   - metrics: Prometheus endpoint
//
// Binaries call ValidateServer or ValidateClient for the fields only they need.
package config
