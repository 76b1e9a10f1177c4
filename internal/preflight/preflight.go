package preflight

import (
	"context"

	"texcache/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

// RunAll executes all applicable preflight checks for the given config.
// Listen checks are skipped when skipListen is set, which the daemon does
// once it holds its own lock and is about to bind.
func RunAll(ctx context.Context, cfg *config.Config, skipListen bool) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))

	if cfg.Store.Enabled {
		results = append(results, CheckStore(ctx, cfg))
	}

	if !skipListen {
		if cfg.Server.Enabled {
			network, address := cfg.Server.Listen().Network()
			results = append(results, CheckListenAddress("Stream server", network, address))
		}
		if cfg.WebSocket.Enabled {
			results = append(results, CheckListenAddress("WebSocket server", "tcp", cfg.WebSocketAddress()))
		}
	}

	if cfg.Client.BaseURL != "" {
		results = append(results, CheckBaseURL(ctx, cfg.Client.BaseURL))
	}

	return results
}
