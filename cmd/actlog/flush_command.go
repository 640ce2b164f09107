package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newFlushCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Ask the daemon to persist queued activity now",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			if client == nil {
				return errors.New("paths.api_bind is not configured")
			}
			resp, err := client.Flush(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, resp)
			}
			out := cmd.OutOrStdout()
			switch {
			case resp.Skipped:
				fmt.Fprintf(out, "Nothing flushed (queue size %d)\n", resp.QueueSize)
			case resp.Error != "":
				fmt.Fprintf(out, "Flush failed: %s (requeued %d, dropped %d, queue size %d)\n",
					resp.Error, resp.Requeued, resp.Dropped, resp.QueueSize)
			default:
				fmt.Fprintf(out, "Persisted %d of %d activities (%d new, queue size %d)\n",
					resp.Persisted, resp.Attempted, resp.Inserted, resp.QueueSize)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
