// Package daemonrun hosts the texcached process runtime shared by the
// standalone binary and "texcache serve": logger and log retention setup,
// preflight, the decoded store, the decode service, and the daemon
// lifecycle bound to SIGINT/SIGTERM.
package daemonrun
