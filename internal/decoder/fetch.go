package decoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// MaxPayloadBytes bounds a single fetched asset.
const MaxPayloadBytes = 256 << 20

// ErrPayloadTooLarge is returned when a fetched asset exceeds MaxPayloadBytes.
var ErrPayloadTooLarge = errors.New("decoder: payload too large")

// Resolve prefixes baseURL to data unless data is already an absolute URL.
func Resolve(baseURL, data string) string {
	if strings.Contains(data, "://") {
		return data
	}
	return baseURL + data
}

// Fetcher reads asset bytes for a resolved locator.
type Fetcher struct {
	Client  *http.Client
	Timeout time.Duration
}

// NewFetcher returns a Fetcher whose HTTP requests are bounded by timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		Client:  &http.Client{},
		Timeout: timeout,
	}
}

// Fetch reads the asset at locator. http and https locators go over the
// network; file:// URLs and bare paths are read from disk.
func (f *Fetcher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	u, err := url.Parse(locator)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Bare paths, including Windows drive letters.
		return readFile(locator)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return f.fetchHTTP(ctx, locator)
	case "file":
		p := u.Path
		if p == "" {
			p = u.Opaque
		}
		return readFile(p)
	default:
		return nil, fmt.Errorf("decoder: unsupported scheme %q", u.Scheme)
	}
}

func (f *Fetcher) fetchHTTP(ctx context.Context, locator string) ([]byte, error) {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("decoder: build request: %w", err)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("decoder: fetch %s: %w", locator, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("decoder: fetch %s: status %d", locator, resp.StatusCode)
	}
	return readLimited(resp.Body)
}

func readFile(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("decoder: open %s: %w", path, err)
	}
	defer file.Close()
	return readLimited(file)
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxPayloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("decoder: read payload: %w", err)
	}
	if len(data) > MaxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}
	return data, nil
}
