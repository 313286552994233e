package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"overlaycast/internal/destinations"
	"overlaycast/internal/donations"
	"overlaycast/internal/logging"
	"overlaycast/internal/preflight"
)

const depsCheckTimeout = 10 * time.Second

func newDepsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Check external binaries, the store and optional services",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			checkCtx, cancel := context.WithTimeout(cmd.Context(), depsCheckTimeout)
			defer cancel()

			logger := logging.NewNop()
			targets := preflight.Targets{}
			store, err := donations.Open(checkCtx, cfg, logger)
			if err == nil {
				defer store.Close()
				targets.Store = store
			}
			if strings.TrimSpace(cfg.Egress.RedisURL) != "" {
				provider, closeProvider, perr := destinations.FromConfig(cfg, logger)
				if perr == nil {
					defer func() { _ = closeProvider() }()
					if pinger, ok := provider.(preflight.Pinger); ok {
						targets.Redis = pinger
					}
				}
			}

			results := preflight.RunAll(checkCtx, cfg, targets)
			if err != nil {
				results = append(results, preflight.Result{Name: "Donations store (" + cfg.StoreDriver() + ")", Detail: err.Error()})
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("Dependencies", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, line := range checkLines(results, colorize) {
				fmt.Fprintln(out, line)
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d required checks failed", len(failed))
			}
			return nil
		},
	}
}
