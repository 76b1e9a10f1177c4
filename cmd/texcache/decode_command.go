package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/spf13/cobra"

	"texcache/internal/protocol"
	"texcache/internal/transport"
)

// decodeResult is the JSON shape of a one-shot decode.
type decodeResult struct {
	Locator    string         `json:"locator"`
	Width      int            `json:"width"`
	Height     int            `json:"height"`
	Bytes      int            `json:"bytes"`
	Digest     string         `json:"digest"`
	RenderInfo map[string]any `json:"render_info,omitempty"`
	ElapsedMs  int64          `json:"elapsed_ms"`
	Output     string         `json:"output,omitempty"`
}

func newDecodeCommand(ctx *commandContext) *cobra.Command {
	var (
		flags   transportFlags
		outPath string
		asJSON  bool
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "decode <locator>",
		Short: "Decode one image over the configured transport",
		Args:  cobra.ExactArgs(1),
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

			started := time.Now()
			resp, err := decodeOnce(cmd.Context(), client, args[0])
			if err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}
			result := decodeResult{
				Locator:    args[0],
				Width:      resp.Width,
				Height:     resp.Height,
				Bytes:      len(resp.Pixels),
				Digest:     digest.FromBytes(resp.Pixels).String(),
				RenderInfo: resp.RenderInfo,
				ElapsedMs:  time.Since(started).Milliseconds(),
			}
			if outPath != "" {
				if err := writePNG(outPath, resp); err != nil {
					return err
				}
				result.Output = outPath
			}

			if asJSON {
				return writeJSON(cmd, result)
			}
			rows := [][]string{
				{"Locator", result.Locator},
				{"Size", fmt.Sprintf("%dx%d", result.Width, result.Height)},
				{"Bytes", strconv.Itoa(result.Bytes)},
				{"Digest", result.Digest},
				{"Elapsed", fmt.Sprintf("%dms", result.ElapsedMs)},
			}
			keys := make([]string, 0, len(result.RenderInfo))
			for k := range result.RenderInfo {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				rows = append(rows, []string{"info." + k, fmt.Sprint(result.RenderInfo[k])})
			}
			if result.Output != "" {
				rows = append(rows, []string{"Output", result.Output})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write the decoded pixels to a PNG file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log transport activity to stderr")
	return cmd
}

type decodeClient interface {
	Submit(id protocol.RequestID, kind protocol.DecodeKind, data string, deliver transport.ResultFunc) error
	Cancel(id protocol.RequestID)
}

func decodeOnce(ctx context.Context, client decodeClient, locator string) (*protocol.Success, error) {
	type outcome struct {
		resp *protocol.Success
		err  error
	}
	done := make(chan outcome, 1)
	const id protocol.RequestID = 1
	if err := client.Submit(id, protocol.KindImage, locator, func(resp *protocol.Success, err error) {
		done <- outcome{resp: resp, err: err}
	}); err != nil {
		return nil, err
	}
	select {
	case out := <-done:
		return out.resp, out.err
	case <-ctx.Done():
		client.Cancel(id)
		return nil, ctx.Err()
	}
}

func writePNG(path string, resp *protocol.Success) error {
	if resp == nil {
		return errors.New("no decoded image")
	}
	img := &image.NRGBA{
		Pix:    resp.Pixels,
		Stride: resp.Width * 4,
		Rect:   image.Rect(0, 0, resp.Width, resp.Height),
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
