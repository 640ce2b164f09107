package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"actlog/internal/activity"
	"actlog/internal/api"
	"actlog/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var query api.ListQuery
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show recent activity, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if query.Limit <= 0 {
				return errors.New("--limit must be positive")
			}
			query.Limit = min(query.Limit, maxListLimit)

			records, err := listActivity(cmd, ctx, query)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, records)
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No activity recorded")
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Time", "Actor", "Action", "Resource", "Result", "Description"},
				activityRows(records),
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&query.ActorID, "actor", "", "Only activity by this actor")
	f.StringVar(&query.Action, "action", "", "Only this action")
	f.StringVar(&query.ResourceType, "resource", "", "Only this resource type")
	f.BoolVar(&query.FailedOnly, "failed", false, "Only unsuccessful activity")
	f.IntVar(&query.Limit, "limit", defaultListLimit, "Maximum number of records")
	f.BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// listActivity asks the daemon and reads the store directly when no daemon
// is reachable.
func listActivity(cmd *cobra.Command, ctx *commandContext, query api.ListQuery) ([]api.ActivityRecord, error) {
	client, err := ctx.apiClient()
	if err != nil {
		return nil, err
	}
	if client != nil {
		records, err := client.ListActivity(cmd.Context(), query)
		if err == nil {
			return records, nil
		}
		if !api.IsUnavailable(err) {
			return nil, err
		}
	}

	filter, err := storeFilter(query)
	if err != nil {
		return nil, err
	}
	var records []api.ActivityRecord
	err = ctx.withStore(func(backend store.Backend) error {
		found, err := backend.List(cmd.Context(), filter)
		if err != nil {
			return err
		}
		records = api.FromRecords(found)
		return nil
	})
	return records, err
}

func storeFilter(query api.ListQuery) (store.Filter, error) {
	filter := store.Filter{
		ActorID: strings.TrimSpace(query.ActorID),
		Limit:   query.Limit,
		Newest:  true,
	}
	if query.Action != "" {
		action, err := activity.ParseAction(query.Action)
		if err != nil {
			return store.Filter{}, err
		}
		filter.Action = action
	}
	if query.ResourceType != "" {
		resource, err := activity.ParseResourceType(query.ResourceType)
		if err != nil {
			return store.Filter{}, err
		}
		filter.ResourceType = resource
	}
	if query.FailedOnly {
		failed := false
		filter.Success = &failed
	}
	return filter, nil
}

func activityRows(records []api.ActivityRecord) [][]string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		result := "ok"
		if !rec.Success {
			result = "failed"
			if rec.ErrorMessage != "" {
				result = "failed: " + truncateText(rec.ErrorMessage, 32)
			}
		}
		rows = append(rows, []string{
			formatAPITime(rec.CreatedAt),
			actorLabel(rec.ActorID, rec.ActorRole),
			humanizeLabel(rec.Action),
			resourceLabel(rec),
			result,
			truncateText(valueOrDash(rec.Description), 48),
		})
	}
	return rows
}

func actorLabel(id, role string) string {
	switch {
	case id == "":
		return "-"
	case role == "":
		return id
	default:
		return fmt.Sprintf("%s (%s)", id, role)
	}
}

func resourceLabel(rec api.ActivityRecord) string {
	label := humanizeLabel(rec.ResourceType)
	switch {
	case rec.ResourceName != "":
		return label + ": " + truncateText(rec.ResourceName, 32)
	case rec.ResourceID != "":
		return label + " #" + rec.ResourceID
	default:
		return label
	}
}
