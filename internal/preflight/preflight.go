package preflight

import (
	"context"
	"strings"

	"overlaycast/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// Targets are live connections RunAll can ping. Nil targets are skipped.
type Targets struct {
	Store Pinger
	Redis Pinger
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config, targets Targets) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	results = append(results, CheckDirectoryAccess("Data directory", cfg.Paths.DataDir))

	for _, status := range CheckSystemDeps(ctx, cfg) {
		detail := status.Detail
		if status.Available {
			detail = status.Command
		}
		results = append(results, Result{Name: status.Name, Passed: status.Available, Optional: status.Optional, Detail: detail})
	}

	if targets.Store != nil {
		results = append(results, CheckPing(ctx, "Donations store ("+cfg.StoreDriver()+")", targets.Store))
	}
	// Redis only selects destinations and falls back to the static list.
	if targets.Redis != nil && strings.TrimSpace(cfg.Egress.RedisURL) != "" {
		result := CheckPing(ctx, "Destination registry", targets.Redis)
		result.Optional = true
		results = append(results, result)
	}
	return results
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			failed = append(failed, r)
		}
	}
	return failed
}
