package backend

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/singleflight"

	"texcache/internal/config"
	"texcache/internal/decoder"
	"texcache/internal/logging"
	"texcache/internal/store"
)

// Fetcher reads the bytes behind a resolved locator.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

// Options configures a Service.
type Options struct {
	Concurrency  int
	MaxDimension int
	Fetcher      Fetcher
	Store        *store.Store
	Logger       *slog.Logger
}

// OptionsFromConfig maps the worker section of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Concurrency:  cfg.Worker.Concurrency,
		MaxDimension: cfg.Worker.MaxDimension,
		Fetcher:      decoder.NewFetcher(time.Duration(cfg.Worker.FetchTimeoutMs) * time.Millisecond),
	}
}

// Service decodes resolved locators. It is safe for concurrent use.
type Service struct {
	decoder decoder.Decoder
	fetcher Fetcher
	store   *store.Store
	logger  *slog.Logger

	slots  chan struct{}
	flight singleflight.Group

	// ctx bounds shared decode work; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewService builds a Service.
func NewService(opts Options) *Service {
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.NumCPU()
	}
	if opts.Fetcher == nil {
		opts.Fetcher = decoder.NewFetcher(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		decoder: decoder.Decoder{MaxDimension: opts.MaxDimension},
		fetcher: opts.Fetcher,
		store:   opts.Store,
		logger:  logging.NewComponentLogger(opts.Logger, "decode"),
		slots:   make(chan struct{}, opts.Concurrency),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Close aborts shared decode work. Sessions should be closed first.
func (s *Service) Close() {
	s.cancel()
}

// Decode fetches and decodes locator. Concurrent calls for the same locator
// share one fetch and decode; ctx only bounds how long this caller waits.
func (s *Service) Decode(ctx context.Context, locator string) (*decoder.Image, error) {
	if img, ok, err := s.store.Get(ctx, locator); err != nil {
		s.logger.Debug("store lookup failed", logging.Locator(locator), logging.Error(err))
	} else if ok {
		return img, nil
	}

	ch := s.flight.DoChan(locator, func() (any, error) {
		return s.decodeShared(locator)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		img, _ := res.Val.(*decoder.Image)
		return img, nil
	}
}

func (s *Service) decodeShared(locator string) (*decoder.Image, error) {
	ctx := s.ctx
	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if img, ok, err := s.store.Get(ctx, locator); err == nil && ok {
		return img, nil
	}

	started := time.Now()
	data, err := s.fetcher.Fetch(ctx, locator)
	if err != nil {
		return nil, err
	}
	img, err := s.decoder.Decode(data, locator)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", locator, err)
	}
	s.logger.Debug("decoded image",
		logging.Locator(locator),
		logging.String("format", string(img.Format)),
		logging.Int("width", img.Width),
		logging.Int("height", img.Height),
		logging.Duration("elapsed", time.Since(started)),
	)

	if err := s.store.Put(ctx, locator, img); err != nil {
		logging.WarnWithContext(s.logger, "failed to persist decoded image", "store_write_failed",
			logging.Locator(locator),
			logging.String(logging.FieldErrorHint, "check store.path permissions and free space"),
			logging.String(logging.FieldImpact, "image is decoded again on the next request"),
			logging.Error(err),
		)
	}
	return img, nil
}
