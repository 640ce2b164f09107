package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"actlog/internal/api"
	"actlog/internal/daemonctl"
	"actlog/internal/store"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, queue, and storage status",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, reachable, err := collectStatus(cmd, ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, status)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			lines := []string{renderSectionHeader("Daemon", colorize)}
			switch {
			case reachable:
				lines = append(lines,
					renderStatusLine("Daemon", statusOK, fmt.Sprintf("running (pid %d)", status.PID), colorize),
					renderStatusLine("Started", statusInfo, formatAPITime(status.StartedAt), colorize),
				)
			case status.PID > 0:
				lines = append(lines, renderStatusLine("Daemon", statusWarn,
					fmt.Sprintf("pid %d is running but the API is not reachable", status.PID), colorize))
			default:
				lines = append(lines, renderStatusLine("Daemon", statusInfo, "not running", colorize))
			}
			if reachable {
				queueKind := statusOK
				if status.Queue.Size >= status.Queue.MaxBatchSize && status.Queue.MaxBatchSize > 0 {
					queueKind = statusWarn
				}
				lines = append(lines,
					"",
					renderSectionHeader("Queue", colorize),
					renderStatusLine("Buffered", queueKind, fmt.Sprintf("%d", status.Queue.Size), colorize),
					renderStatusLine("Flushing", statusInfo, yesNo(status.Queue.Flushing), colorize),
				)
			}
			lines = append(lines, "", renderSectionHeader("Storage", colorize))
			lines = append(lines, storageLines(status.Storage, colorize)...)
			fmt.Fprintln(out, strings.Join(lines, "\n"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// collectStatus returns the daemon's view when it answers and a local view of
// the store otherwise.
func collectStatus(cmd *cobra.Command, ctx *commandContext) (api.StatusResponse, bool, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return api.StatusResponse{}, false, err
	}
	client, err := ctx.apiClient()
	if err != nil {
		return api.StatusResponse{}, false, err
	}
	if client != nil {
		status, err := client.Status(cmd.Context())
		if err == nil {
			return status, true, nil
		}
		if !api.IsUnavailable(err) {
			return api.StatusResponse{}, false, err
		}
	}

	status := api.StatusResponse{LockFilePath: cfg.LockPath()}
	if alive, pid, err := daemonctl.ProcessInfo(cfg); err == nil && alive {
		status.PID = pid
	}
	err = ctx.withStore(func(backend store.Backend) error {
		health, err := backend.CheckHealth(cmd.Context())
		if err != nil {
			return err
		}
		stats, err := backend.Stats(cmd.Context())
		if err != nil {
			return err
		}
		status.Storage = api.FromStorage(health, stats)
		return nil
	})
	if err != nil {
		status.Storage = api.StorageStatus{
			Backend: cfg.Storage.Backend,
			Path:    cfg.StoragePath(),
			Error:   err.Error(),
		}
	}
	return status, false, nil
}

func storageLines(storage api.StorageStatus, colorize bool) []string {
	kind := statusOK
	health := "healthy"
	if !storage.Healthy {
		kind = statusError
		health = valueOrDash(storage.Error)
	}
	lines := []string{
		renderStatusLine("Backend", statusInfo, fmt.Sprintf("%s at %s", storage.Backend, storage.Path), colorize),
		renderStatusLine("Health", kind, health, colorize),
	}
	if !storage.Healthy && storage.Records == 0 {
		return lines
	}
	lines = append(lines,
		renderStatusLine("Records", statusInfo, fmt.Sprintf("%d (%d failed)", storage.Records, storage.Failures), colorize),
		renderStatusLine("Last recorded", statusInfo, formatAPITime(storage.LastRecorded), colorize),
	)
	if len(storage.ByAction) > 0 {
		actions := make([]string, 0, len(storage.ByAction))
		for action := range storage.ByAction {
			actions = append(actions, action)
		}
		sort.Strings(actions)
		parts := make([]string, 0, len(actions))
		for _, action := range actions {
			parts = append(parts, fmt.Sprintf("%s %d", humanizeLabel(action), storage.ByAction[action]))
		}
		lines = append(lines, renderStatusLine("By action", statusInfo, strings.Join(parts, ", "), colorize))
	}
	return lines
}
