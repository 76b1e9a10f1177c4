package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"texcache/internal/config"
	"texcache/internal/logging"
	"texcache/internal/store"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckListenAddress verifies that network/address can be bound. For unix
// sockets the parent directory must be writable; an existing socket file is
// treated as stale and reported, not removed.
func CheckListenAddress(name, network, address string) Result {
	if network == "unix" {
		dir := filepath.Dir(address)
		if err := unix.Access(dir, unix.W_OK|unix.X_OK); err != nil {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: socket directory not writable: %v)", address, err)}
		}
		if _, err := os.Stat(address); err == nil {
			return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (stale socket will be replaced)", address)}
		}
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (available)", address)}
	}

	listener, err := net.Listen(network, address)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: address in use)", address)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", address, err)}
	}
	_ = listener.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (available)", address)}
}

// CheckBaseURL verifies that the asset base is reachable. http(s) bases get
// a HEAD request; file bases must name a readable directory.
func CheckBaseURL(ctx context.Context, baseURL string) Result {
	const name = "Asset base URL"

	base := strings.TrimSpace(baseURL)
	if base == "" {
		return Result{Name: name, Detail: "missing url"}
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("invalid url (%v)", err)}
	}

	switch parsed.Scheme {
	case "file":
		info, err := os.Stat(parsed.Path)
		if err != nil {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", parsed.Path, err)}
		}
		if !info.IsDir() {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", parsed.Path)}
		}
		if err := unix.Access(parsed.Path, unix.R_OK|unix.X_OK); err != nil {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: not readable: %v)", parsed.Path, err)}
		}
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (readable)", parsed.Path)}
	case "http", "https":
	default:
		return Result{Name: name, Detail: fmt.Sprintf("unsupported scheme %q", parsed.Scheme)}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodHead, base, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("reachability check failed (%v)", err)}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("reachability check failed (%v)", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return Result{Name: name, Detail: fmt.Sprintf("reachability check failed (%d)", resp.StatusCode)}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckStore opens the decoded-result store and reads its usage.
func CheckStore(ctx context.Context, cfg *config.Config) Result {
	const name = "Decoded store"

	st, err := store.OpenFromConfig(cfg, logging.NewNop())
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", cfg.StorePath(), err)}
	}
	if st == nil {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	defer st.Close()

	stats, err := st.Stats(ctx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", st.Path(), err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d entries)", st.Path(), stats.Entries)}
}
