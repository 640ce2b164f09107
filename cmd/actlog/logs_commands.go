package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"actlog/internal/config"
	"actlog/internal/logging"
	"actlog/internal/logs"
)

func logFilePath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, logging.LogFileName)
}

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := logFilePath(cfg)
			recent, offset, err := logs.Tail(path, lines)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, line := range recent {
				fmt.Fprintln(out, line)
			}
			if !follow {
				return nil
			}
			return logs.Follow(cmd.Context(), path, offset, func(line string) {
				fmt.Fprintln(out, line)
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines until interrupted")
	return cmd
}

func newDroppedCommand(ctx *commandContext) *cobra.Command {
	var since time.Duration
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "dropped",
		Short: "List activities the daemon dropped after exhausting retries",
		Long: "List activities the daemon dropped after exhausting retries.\n\n" +
			"With --json one record is printed per line, ready for\n" +
			"`actlog dropped --json | actlog log --json -`.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var cutoff time.Time
			if since > 0 {
				cutoff = time.Now().Add(-since)
			}
			entries, err := logs.Dropped(logFilePath(cfg), cutoff)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				for _, entry := range entries {
					if err := enc.Encode(entry.Record); err != nil {
						return err
					}
				}
				return nil
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No dropped activity")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				rows = append(rows, []string{
					entry.LoggedAt.Local().Format("2006-01-02 15:04:05"),
					entry.Record.ID,
					humanizeLabel(string(entry.Record.Action)),
					humanizeLabel(string(entry.Record.ResourceType)),
					valueOrDash(entry.Reason),
					strconv.Itoa(entry.RetryCount),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Dropped", "ID", "Action", "Resource", "Reason", "Retries"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
			))
			fmt.Fprintln(out, "Replay with: actlog dropped --json | actlog log --json -")
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 0, "Only drops logged within this duration")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print replayable records, one JSON object per line")
	return cmd
}
