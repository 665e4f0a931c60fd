// Package config loads, normalizes, and validates ipoddock configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment overrides such as
// IPOD_DEVICE and IPOD_API_TOKEN. The Config type centralizes every knob the
// daemon and CLI need so queue, device, and transcoder settings are
// discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
