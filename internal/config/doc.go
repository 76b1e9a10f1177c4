// Package config loads, normalizes, and validates texcache configuration.
//
// Configuration lives in a TOML file (default ~/.config/texcache/config.toml,
// or ./texcache.toml in the working directory). Missing files fall back to
// Default(); every path is expanded (including "~") and validated before use.
// Use CreateSample to write the annotated sample configuration.
package config
