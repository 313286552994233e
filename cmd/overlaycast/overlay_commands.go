package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"overlaycast/internal/donations"
	"overlaycast/internal/logging"
	"overlaycast/internal/overlay"
)

func newOverlayCommand(ctx *commandContext) *cobra.Command {
	overlayCmd := &cobra.Command{
		Use:   "overlay",
		Short: "Inspect and seed overlay data in the donations store",
	}
	overlayCmd.AddCommand(newOverlayShowCommand(ctx))
	overlayCmd.AddCommand(newOverlaySeedCommand(ctx))
	return overlayCmd
}

func newOverlayShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show what the overlay would draw right now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := donations.Open(cmd.Context(), cfg, logging.NewNop())
			if err != nil {
				return err
			}
			defer store.Close()

			update, err := store.Snapshot(cmd.Context())
			if err != nil {
				return fmt.Errorf("read overlay snapshot: %w", err)
			}
			state := overlay.NewStore(nil)
			state.Apply(update)
			snapshot := state.Snapshot()

			if jsonOutput {
				return writeJSON(cmd, snapshot)
			}
			out := cmd.OutOrStdout()
			if snapshot.IsEmpty() {
				fmt.Fprintln(out, "Overlay is empty")
				return nil
			}
			if len(snapshot.Ranking) > 0 {
				rows := make([][]string, 0, len(snapshot.Ranking))
				for _, entry := range snapshot.Ranking {
					rows = append(rows, []string{
						strconv.Itoa(entry.Rank),
						entry.Identifier,
						strconv.FormatFloat(entry.Amount, 'f', 2, 64),
					})
				}
				fmt.Fprintln(out, renderTable([]string{"#", "Donor", "Amount"}, rows, 0, 2))
			}
			if len(snapshot.Alerts) > 0 {
				rows := make([][]string, 0, len(snapshot.Alerts))
				for _, alert := range snapshot.Alerts {
					rows = append(rows, []string{strconv.FormatInt(alert.ID, 10), alert.Message})
				}
				fmt.Fprintln(out, renderTable([]string{"ID", "Alert"}, rows, 0))
			}
			if link := snapshot.PaymentLink; link != nil {
				label := link.Label
				if label == "" {
					label = "-"
				}
				fmt.Fprintf(out, "Payment link: %s (%s)\n", link.URL, label)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the overlay state as JSON")
	return cmd
}

func newOverlaySeedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file>",
		Short: "Import ranking, alerts and payment link from a YAML seed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			seed, err := overlay.LoadSeed(args[0])
			if err != nil {
				return err
			}
			store, err := donations.Open(cmd.Context(), cfg, logging.NewNop())
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.ImportSeed(cmd.Context(), seed); err != nil {
				return fmt.Errorf("import seed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d ranking rows and %d alerts from %s\n", len(seed.Ranking), len(seed.Alerts), args[0])
			return nil
		},
	}
}
