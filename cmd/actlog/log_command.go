package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"actlog/internal/activity"
	"actlog/internal/api"
	"actlog/internal/queue"
	"actlog/internal/recorder"
	"actlog/internal/redact"
	"actlog/internal/store"
)

type logFlags struct {
	action       string
	resource     string
	resourceID   string
	resourceName string
	actor        string
	role         string
	description  string
	metadata     string
	failed       bool
	errorMessage string
	durationMs   int64
	replayPath   string
	direct       bool
}

func newLogCommand(ctx *commandContext) *cobra.Command {
	var flags logFlags

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Record an activity",
		Long: "Record one activity through the running daemon.\n\n" +
			"With --json, replay records from a file (or - for stdin). Each record uses the\n" +
			"payload format written to the log when the daemon drops an activity.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var requests []api.ActivityRequest
			if flags.replayPath != "" {
				records, err := readReplayRecords(cmd.InOrStdin(), flags.replayPath)
				if err != nil {
					return err
				}
				for _, rec := range records {
					requests = append(requests, api.RequestFromRecord(rec))
				}
			} else {
				req, err := flags.request(cmd)
				if err != nil {
					return err
				}
				requests = append(requests, req)
			}

			out := cmd.OutOrStdout()
			if flags.direct {
				ids, err := recordDirect(cmd.Context(), ctx, cmd.ErrOrStderr(), requests)
				for _, id := range ids {
					fmt.Fprintf(out, "Recorded activity %s\n", id)
				}
				return err
			}

			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			if client == nil {
				return errors.New("paths.api_bind is not configured; use --direct to write to the store")
			}
			for _, req := range requests {
				accepted, err := client.SubmitActivity(cmd.Context(), req)
				if err != nil {
					if api.IsUnavailable(err) {
						return fmt.Errorf("daemon is not reachable (use --direct to write to the store): %w", err)
					}
					return err
				}
				fmt.Fprintf(out, "Queued activity %s (queue size %d)\n", accepted.ID, accepted.QueueSize)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.action, "action", "", "Activity action, e.g. login or purchase")
	f.StringVar(&flags.resource, "resource", "", "Resource type, e.g. book or order")
	f.StringVar(&flags.resourceID, "resource-id", "", "Resource identifier")
	f.StringVar(&flags.resourceName, "resource-name", "", "Resource display name")
	f.StringVar(&flags.actor, "actor", "", "Acting user ID")
	f.StringVar(&flags.role, "role", "", "Acting user role")
	f.StringVar(&flags.description, "description", "", "Free text description")
	f.StringVar(&flags.metadata, "metadata", "", "Metadata as a JSON value")
	f.BoolVar(&flags.failed, "failed", false, "Mark the activity as unsuccessful")
	f.StringVar(&flags.errorMessage, "error", "", "Error message for a failed activity")
	f.Int64Var(&flags.durationMs, "duration-ms", -1, "Duration of the operation in milliseconds")
	f.StringVar(&flags.replayPath, "json", "", "Replay activity records from a JSON file, or - for stdin")
	f.BoolVar(&flags.direct, "direct", false, "Write to the store in process instead of through the daemon")
	return cmd
}

func (f logFlags) request(cmd *cobra.Command) (api.ActivityRequest, error) {
	if strings.TrimSpace(f.action) == "" || strings.TrimSpace(f.resource) == "" {
		return api.ActivityRequest{}, errors.New("--action and --resource are required unless --json is set")
	}
	req := api.ActivityRequest{
		ActorID:      f.actor,
		ActorRole:    f.role,
		Action:       f.action,
		ResourceType: f.resource,
		ResourceID:   f.resourceID,
		ResourceName: f.resourceName,
		Description:  f.description,
		ErrorMessage: f.errorMessage,
		Endpoint:     "cli",
	}
	if meta := strings.TrimSpace(f.metadata); meta != "" {
		if !json.Valid([]byte(meta)) {
			return api.ActivityRequest{}, errors.New("--metadata must be valid JSON")
		}
		req.Metadata = json.RawMessage(meta)
	}
	if f.failed || f.errorMessage != "" {
		success := false
		req.Success = &success
	}
	if cmd.Flags().Changed("duration-ms") {
		d := f.durationMs
		req.DurationMs = &d
	}
	return req, nil
}

// readReplayRecords decodes a JSON array or a stream of JSON objects.
func readReplayRecords(stdin io.Reader, path string) ([]activity.Record, error) {
	var src io.Reader
	if path == "-" {
		src = stdin
	} else {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open replay file: %w", err)
		}
		defer file.Close()
		src = file
	}

	reader := bufio.NewReader(src)
	peek, err := peekNonSpace(reader)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("replay input is empty")
		}
		return nil, err
	}

	var records []activity.Record
	if peek == '[' {
		if err := json.NewDecoder(reader).Decode(&records); err != nil {
			return nil, fmt.Errorf("decode replay records: %w", err)
		}
	} else {
		decoder := json.NewDecoder(reader)
		for {
			var rec activity.Record
			err := decoder.Decode(&rec)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("decode replay record %d: %w", len(records)+1, err)
			}
			records = append(records, rec)
		}
	}
	if len(records) == 0 {
		return nil, errors.New("replay input holds no records")
	}
	return records, nil
}

func peekNonSpace(r *bufio.Reader) (byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if !bytes.ContainsRune([]byte(" \t\r\n"), rune(b)) {
			return b, r.UnreadByte()
		}
	}
}

// recordDirect runs requests through an in-process queue backed by the
// configured store and drains it before returning.
func recordDirect(cmdCtx context.Context, ctx *commandContext, stderr io.Writer, requests []api.ActivityRequest) ([]string, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger := ctx.localLogger(stderr)

	backend, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open activity store %s: %w", cfg.StoragePath(), err)
	}
	defer backend.Close()

	q, err := queue.New(backend, queue.ConfigFrom(cfg), queue.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	rec := recorder.New(q, redact.New(redact.OptionsFrom(cfg.Redaction)), logger)

	var ids []string
	var firstErr error
	for i, req := range requests {
		opts, err := req.Options()
		if err == nil {
			err = activity.Validate(opts)
		}
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("activity %d: %w", i+1, err)
			}
			continue
		}
		if id := rec.LogActivity(cmdCtx, opts); id != "" {
			ids = append(ids, id)
		}
	}

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(cmdCtx), cfg.ShutdownTimeout())
	defer cancel()
	if _, err := q.Shutdown(drainCtx); err != nil {
		return ids, err
	}
	return ids, firstErr
}
