package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"overlaycast/internal/api"
	"overlaycast/internal/relay"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show relay status from a running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := newAPIClient(cfg, addr)
			if err != nil {
				return err
			}
			status, err := client.status(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, status)
			}
			renderStatus(cmd.OutOrStdout(), status, time.Now(), shouldColorize(cmd.OutOrStdout()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the raw status payload")
	cmd.Flags().StringVar(&addr, "addr", "", "Control-plane address (defaults to api.bind)")
	return cmd
}

func newRestartCommand(ctx *commandContext) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Ask a running relay to restart its stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := newAPIClient(cfg, addr)
			if err != nil {
				return err
			}
			resp, err := client.restart(cmd.Context())
			if err != nil {
				return err
			}
			if resp.Queued {
				fmt.Fprintln(cmd.OutOrStdout(), "Restart queued")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Restart already pending")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Control-plane address (defaults to api.bind)")
	return cmd
}

func renderStatus(out io.Writer, status *api.StatusResponse, now time.Time, colorize bool) {
	for _, line := range renderSectionHeader("Relay", colorize) {
		fmt.Fprintln(out, line)
	}
	if status.Relay == nil {
		fmt.Fprintln(out, renderStatusLine("State", statusInfo, "Unknown", colorize))
	} else {
		stats := status.Relay
		fmt.Fprintln(out, renderStatusLine("State", relayStateKind(stats.State), string(stats.State), colorize))
		if !stats.StartedAt.IsZero() {
			fmt.Fprintln(out, renderStatusLine("Streaming since", statusInfo, humanize.RelTime(stats.StartedAt, now, "ago", "from now"), colorize))
		}
		if stats.LastError != "" {
			fmt.Fprintln(out, renderStatusLine("Last error", statusWarn, stats.LastError, colorize))
		}
		rows := [][]string{
			{"Attempt", strconv.FormatInt(stats.Attempt, 10)},
			{"Resolution", resolution(stats.Width, stats.Height)},
			{"Frames processed", humanize.Comma(int64(stats.FramesProcessed))},
			{"Frames dropped", humanize.Comma(int64(stats.FramesDropped))},
			{"Units written", humanize.Comma(int64(stats.UnitsWritten))},
			{"Bytes written", humanize.Bytes(stats.BytesWritten)},
			{"Live destinations", strconv.Itoa(stats.LiveDestinations)},
			{"Egress failures", humanize.Comma(int64(stats.EgressFailures))},
			{"Reconnects", humanize.Comma(int64(stats.Reconnects))},
			{"Restarts", humanize.Comma(int64(stats.Restarts))},
			{"Next PTS / DTS", fmt.Sprintf("%d / %d", stats.NextPTS, stats.NextDTS)},
		}
		fmt.Fprintln(out, renderTable([]string{"Metric", "Value"}, rows, 1))
	}

	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Overlay", colorize) {
		fmt.Fprintln(out, line)
	}
	ov := status.Overlay
	refreshKind := statusOK
	refreshMsg := "never"
	if ov.LastRefresh != "" {
		refreshMsg = ov.LastRefresh
	}
	if ov.ConsecutiveFailures > 0 {
		refreshKind = statusWarn
		refreshMsg = fmt.Sprintf("%d consecutive failures (%s)", ov.ConsecutiveFailures, ov.LastError)
	}
	fmt.Fprintln(out, renderStatusLine("Refresh", refreshKind, refreshMsg, colorize))
	fmt.Fprintln(out, renderStatusLine("Content", statusInfo,
		fmt.Sprintf("%d ranked, %d alerts, payment link %s (v%d)", ov.Ranking, ov.Alerts, yesNo(ov.PaymentLink), ov.Version), colorize))

	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Process", colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("PID", statusInfo, strconv.Itoa(status.PID), colorize))
	if status.RunID != "" {
		fmt.Fprintln(out, renderStatusLine("Run", statusInfo, status.RunID, colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Store", statusInfo, status.StoreDriver, colorize))
	fmt.Fprintln(out, renderStatusLine("Destinations", statusInfo, status.Destinations, colorize))
	for _, dep := range status.Dependencies {
		kind := statusOK
		if !dep.Passed {
			kind = statusError
			if dep.Optional {
				kind = statusWarn
			}
		}
		fmt.Fprintln(out, renderStatusLine(dep.Name, kind, dep.Detail, colorize))
	}
}

func relayStateKind(state relay.State) statusKind {
	switch state {
	case relay.StateStreaming:
		return statusOK
	case relay.StateRecoverableFailure, relay.StateAcquiring:
		return statusWarn
	case relay.StateFatalFailure:
		return statusError
	default:
		return statusInfo
	}
}

func resolution(width, height int) string {
	if width <= 0 || height <= 0 {
		return "-"
	}
	return fmt.Sprintf("%dx%d", width, height)
}
