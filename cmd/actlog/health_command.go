package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"actlog/internal/preflight"
	"actlog/internal/store"
)

type healthReport struct {
	Checks  []preflight.Result `json:"checks"`
	Healthy bool               `json:"healthy"`
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check directories, storage integrity, and the daemon API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			checks := preflight.RunAll(cmd.Context(), cfg, true)

			daemonUp := false
			for _, check := range checks {
				if check.Name == preflight.DaemonCheckName && check.Passed {
					daemonUp = true
				}
			}
			// A running daemon owns the store; pebble cannot be opened twice.
			if !daemonUp {
				checks = append(checks, integrityCheck(cmd, ctx))
			}

			report := healthReport{Checks: checks, Healthy: true}
			for _, failed := range preflight.Failed(checks) {
				if failed.Name != preflight.DaemonCheckName {
					report.Healthy = false
				}
			}

			if jsonOutput {
				if err := writeJSON(cmd, report); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				lines := []string{renderSectionHeader("Health", colorize)}
				for _, check := range checks {
					kind := statusOK
					if !check.Passed {
						kind = statusError
						if check.Name == preflight.DaemonCheckName {
							kind = statusWarn
						}
					}
					lines = append(lines, renderStatusLine(check.Name, kind, check.Detail, colorize))
				}
				fmt.Fprintln(out, strings.Join(lines, "\n"))
			}
			if !report.Healthy {
				return fmt.Errorf("%d health checks failed", countFailed(checks))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func integrityCheck(cmd *cobra.Command, ctx *commandContext) preflight.Result {
	result := preflight.Result{Name: "Storage integrity"}
	err := ctx.withStore(func(backend store.Backend) error {
		health, err := backend.CheckHealth(cmd.Context())
		if err != nil {
			return err
		}
		if health.Error != "" {
			return errors.New(health.Error)
		}
		if !health.IntegrityOK {
			return errors.New("integrity check failed")
		}
		result.Detail = fmt.Sprintf("schema v%d, %d records", health.SchemaVersion, health.Records)
		return nil
	})
	if err != nil {
		result.Detail = err.Error()
		return result
	}
	result.Passed = true
	return result
}

func countFailed(checks []preflight.Result) int {
	n := 0
	for _, failed := range preflight.Failed(checks) {
		if failed.Name != preflight.DaemonCheckName {
			n++
		}
	}
	return n
}
