package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"texcache/internal/config"
	"texcache/internal/daemonrun"
	"texcache/internal/transport"
)

// serverProbe is the result of dialing one transport.
type serverProbe struct {
	Name      string `json:"name"`
	Enabled   bool   `json:"enabled"`
	Address   string `json:"address"`
	Reachable bool   `json:"reachable"`
	Detail    string `json:"detail,omitempty"`
}

type statusReport struct {
	PID     int           `json:"pid,omitempty"`
	Servers []serverProbe `json:"servers"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether texcached is running and reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			report := collectStatus(cmd.Context(), cfg)
			if asJSON {
				return writeJSON(cmd, report)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("texcached", colorize) {
				fmt.Fprintln(out, line)
			}
			if report.PID > 0 {
				fmt.Fprintln(out, renderStatusLine("Process", statusOK, "pid "+strconv.Itoa(report.PID), colorize))
			} else {
				fmt.Fprintln(out, renderStatusLine("Process", statusWarn, "no pid file", colorize))
			}
			for _, probe := range report.Servers {
				switch {
				case !probe.Enabled:
					fmt.Fprintln(out, renderStatusLine(probe.Name, statusInfo, "disabled", colorize))
				case probe.Reachable:
					fmt.Fprintln(out, renderStatusLine(probe.Name, statusOK, probe.Address, colorize))
				default:
					fmt.Fprintln(out, renderStatusLine(probe.Name, statusError, probe.Address+" ("+probe.Detail+")", colorize))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of status lines")
	return cmd
}

func collectStatus(ctx context.Context, cfg *config.Config) statusReport {
	report := statusReport{PID: daemonrun.ReadPIDFile(cfg)}

	network, address := cfg.Server.Listen().Network()
	stream := serverProbe{Name: "Stream server", Enabled: cfg.Server.Enabled, Address: network + ":" + address}
	if stream.Enabled {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		link, err := transport.DialStream(probeCtx, network, address)
		cancel()
		stream.Reachable, stream.Detail = probeResult(link, err)
	}

	wsURL := "ws://" + cfg.WebSocketAddress() + cfg.WebSocket.Endpoint
	ws := serverProbe{Name: "WebSocket server", Enabled: cfg.WebSocket.Enabled, Address: wsURL}
	if ws.Enabled {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		link, err := transport.DialWebSocket(probeCtx, wsURL, cfg.WebSocket.Subprotocol)
		cancel()
		ws.Reachable, ws.Detail = probeResult(link, err)
	}

	report.Servers = []serverProbe{stream, ws}
	return report
}

func probeResult(link transport.Link, err error) (bool, string) {
	if err != nil {
		return false, err.Error()
	}
	_ = link.Close()
	return true, ""
}
