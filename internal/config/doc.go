// Package config loads, normalizes, and validates actlog configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// ACTLOG_API_TOKEN. The Config type centralizes every knob the daemon, the
// activity queue, and the CLI need so storage locations, batching limits, and
// redaction rules are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
