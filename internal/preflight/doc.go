// Package preflight provides readiness checks for the paths, listen
// addresses and asset source that texcached depends on.
//
// These checks run in two contexts:
//   - texcached runs RunAll before binding its servers and refuses to start
//     when a required check fails.
//   - The CLI "texcache preflight" command renders every result as a table.
//
// Each check is gated by its config toggle; disabled transports are skipped.
package preflight
