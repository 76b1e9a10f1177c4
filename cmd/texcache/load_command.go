package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"texcache/internal/config"
	"texcache/internal/logging"
	"texcache/internal/texture"
	"texcache/internal/transport"
)

// loadHolder records the outcome of each held source. All callbacks run on
// the frame goroutine.
type loadHolder struct {
	settled map[texture.SourceID]bool
}

func (h *loadHolder) OnTextureSourceLoaded(src *texture.Source) { h.settled[src.ID()] = true }

func (h *loadHolder) OnTextureSourceLoadError(src *texture.Source, _ error) {
	h.settled[src.ID()] = true
}

func (h *loadHolder) OnTextureSourceAddedToAtlas(*texture.Source, int, int) {}

func (h *loadHolder) OnTextureSourceRemovedFromAtlas(*texture.Source) {}

// loadRow is the JSON shape of one loaded source.
type loadRow struct {
	Locator  string `json:"locator"`
	SourceID int64  `json:"source_id"`
	State    string `json:"state"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Bytes    int64  `json:"bytes,omitempty"`
	Uploaded bool   `json:"uploaded"`
	Error    string `json:"error,omitempty"`
}

type loadReport struct {
	Frames  uint64        `json:"frames"`
	Elapsed string        `json:"elapsed"`
	Sources []loadRow     `json:"sources"`
	Cache   texture.Stats `json:"cache"`
}

type loadOptions struct {
	maxFrames uint64
	release   bool
}

func newLoadCommand(ctx *commandContext) *cobra.Command {
	var (
		flags   transportFlags
		opts    loadOptions
		asJSON  bool
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "load <locator>...",
		Short: "Load textures through a headless cache and report their state",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cfg := flags.apply(base)
			logger := ctx.cliLogger(verbose)

			client, err := dialClient(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			report, err := runLoad(cmd.Context(), cfg, client, args, opts)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, report)
			}
			printLoadReport(cmd, report)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().Uint64Var(&opts.maxFrames, "max-frames", 600, "Give up after this many frames")
	cmd.Flags().BoolVar(&opts.release, "release", false, "Release every source afterwards and sweep the cache")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log frame and transport activity to stderr")
	return cmd
}

func runLoad(ctx context.Context, cfg *config.Config, client *transport.Client, locators []string, opts loadOptions) (loadReport, error) {
	mgrOpts := texture.OptionsFromConfig(cfg)
	mgrOpts.Logger = logging.NewNop()
	mgr := texture.NewManager(mgrOpts)
	driver := texture.NewDriver(mgr, mgrOpts.Logger)

	holder := &loadHolder{settled: make(map[texture.SourceID]bool)}
	sources := make([]*texture.Source, 0, len(locators))
	for _, locator := range locators {
		src := mgr.GetOrCreate(locator, func() texture.Loader { return client.ImageLoader(locator) })
		src.AddHolder(holder)
		sources = append(sources, src)
	}

	allSettled := func() bool {
		for _, src := range sources {
			if !holder.settled[src.ID()] {
				return false
			}
			if src.State() == texture.Loaded && !src.Uploaded() {
				return false
			}
		}
		return true
	}

	started := time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var timedOut bool
	interval := time.Duration(cfg.Throttle.FrameIntervalMs) * time.Millisecond
	err := driver.Run(runCtx, interval, func(r texture.FrameReport) {
		if allSettled() {
			cancel()
			return
		}
		if opts.maxFrames > 0 && r.Frame >= opts.maxFrames {
			timedOut = true
			cancel()
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return loadReport{}, err
	}
	if ctx.Err() != nil {
		return loadReport{}, ctx.Err()
	}

	report := loadReport{
		Frames:  mgr.Frame(),
		Elapsed: time.Since(started).Round(time.Millisecond).String(),
	}
	for i, src := range sources {
		row := loadRow{
			Locator:  locators[i],
			SourceID: int64(src.ID()),
			State:    src.State().String(),
			Width:    src.Width(),
			Height:   src.Height(),
			Bytes:    src.ByteSize(),
			Uploaded: src.Uploaded(),
		}
		if err := src.Err(); err != nil {
			row.Error = err.Error()
		}
		report.Sources = append(report.Sources, row)
	}

	if opts.release {
		for _, src := range sources {
			src.RemoveHolder(holder)
		}
		mgr.GC(true)
	}
	report.Cache = mgr.Stats()

	if timedOut {
		return report, fmt.Errorf("sources still pending after %d frames", opts.maxFrames)
	}
	return report, nil
}

func printLoadReport(cmd *cobra.Command, report loadReport) {
	out := cmd.OutOrStdout()
	rows := make([][]string, 0, len(report.Sources))
	for _, r := range report.Sources {
		size := "-"
		if r.Width > 0 {
			size = fmt.Sprintf("%dx%d", r.Width, r.Height)
		}
		rows = append(rows, []string{
			strconv.FormatInt(r.SourceID, 10),
			r.Locator,
			r.State,
			size,
			strconv.FormatInt(r.Bytes, 10),
			yesNo(r.Uploaded),
			r.Error,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"ID", "Locator", "State", "Size", "Bytes", "Uploaded", "Error"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
	))

	c := report.Cache
	colorize := shouldColorize(out)
	for _, line := range renderSectionHeader("Cache", colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Frames", statusInfo, fmt.Sprintf("%d in %s", report.Frames, report.Elapsed), colorize))
	fmt.Fprintln(out, renderStatusLine("Memory", memoryKind(c), fmt.Sprintf("%s / %s", formatBytes(c.UsedMemoryBytes), formatBytes(c.MemoryBudgetBytes)), colorize))
	fmt.Fprintln(out, renderStatusLine("Sources", statusInfo, fmt.Sprintf("%d tracked, %d indexed", c.Sources, c.Indexed), colorize))
	fmt.Fprintln(out, renderStatusLine("Loads", loadKind(c), fmt.Sprintf("%d started, %d cancelled, %d failed", c.LoadsStarted, c.LoadsCancelled, c.LoadErrors), colorize))
	fmt.Fprintln(out, renderStatusLine("Uploads", statusInfo, fmt.Sprintf("%d done, %d pending", c.Uploads, c.PendingUploads), colorize))
	fmt.Fprintln(out, renderStatusLine("Evictions", statusInfo, fmt.Sprintf("%d across %d sweeps", c.Evictions, c.Sweeps), colorize))
}

func memoryKind(c texture.Stats) statusKind {
	if c.UsedMemoryBytes >= c.MemoryBudgetBytes {
		return statusWarn
	}
	return statusOK
}

func loadKind(c texture.Stats) statusKind {
	if c.LoadErrors > 0 {
		return statusWarn
	}
	return statusOK
}
