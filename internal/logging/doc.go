// Package logging builds the slog loggers used by texcached and the texcache
// CLI.
//
// Console output is one line per record with the component and the
// session, request and source ids lifted into the header; JSON output keeps
// every attribute as a field. Helpers such as SessionID and RequestID keep
// those keys uniform across the decode server, the transports and the
// texture cache. WarnWithContext and ErrorWithContext attach event_type,
// error_hint and impact. TeeLogger and CleanupOldLogs serve the daemon's
// diagnostic and per-run logs.
package logging
