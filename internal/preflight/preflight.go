package preflight

import (
	"context"

	"actlog/internal/config"
)

// DaemonCheckName names the result produced by CheckDaemon.
const DaemonCheckName = "Daemon API"

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes the filesystem checks for the given config. The daemon
// endpoint is only probed when probeDaemon is set.
func RunAll(ctx context.Context, cfg *config.Config, probeDaemon bool) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckStoragePath("Storage", cfg.Storage.Backend, cfg.StoragePath()),
	}
	if probeDaemon {
		results = append(results, CheckDaemon(ctx, cfg.Paths.APIBind, cfg.Paths.APIToken))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
