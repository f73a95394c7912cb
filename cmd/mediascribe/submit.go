package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/codebuildervaibhav/mediascribe/internal/handlers"
	"github.com/codebuildervaibhav/mediascribe/internal/task"
)

type submitOptions struct {
	model       string
	language    string
	format      string
	title       string
	noKeepMedia bool
	useProxy    bool
	wait        bool
	interval    time.Duration
	jsonOutput  bool
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var opts submitOptions
	cmd := &cobra.Command{
		Use:   "submit <url-or-file>",
		Short: "Submit a URL or a local media file for transcription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				rec, err := submitSource(cmd.Context(), client, args[0], opts)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !opts.wait {
					if opts.jsonOutput {
						return writeJSON(cmd, rec)
					}
					fmt.Fprintf(out, "Queued %s (%s)\n", rec.ID, rec.ModelSelector)
					return nil
				}
				final, err := followTask(cmd.Context(), client, rec.ID, opts.interval, out)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(cmd, final)
				}
				if final.Status != task.StatusCompleted {
					return fmt.Errorf("task %s %s", final.ID, final.Status)
				}
				if final.ResultArtifactRef != "" {
					fmt.Fprintf(out, "Transcript: %s\n", final.ResultArtifactRef)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "Whisper model (default from server config)")
	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "Source language code (auto-detected when empty)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "Output format: txt, md or json")
	cmd.Flags().StringVar(&opts.title, "title", "", "Display title for the task")
	cmd.Flags().BoolVar(&opts.noKeepMedia, "no-keep-media", false, "Delete the fetched media once transcribed")
	cmd.Flags().BoolVar(&opts.useProxy, "proxy", false, "Download through the configured proxy")
	cmd.Flags().BoolVarP(&opts.wait, "wait", "w", false, "Follow progress until the task finishes")
	cmd.Flags().DurationVar(&opts.interval, "interval", time.Second, "Polling interval with --wait")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print the task record as JSON")
	return cmd
}

// submitSource uploads source when it names a local file and submits it as
// a URL otherwise.
func submitSource(ctx context.Context, client *apiClient, source string, opts submitOptions) (*task.Record, error) {
	options := map[string]string{
		task.OptLanguage:     opts.language,
		task.OptOutputFormat: opts.format,
	}
	if opts.noKeepMedia {
		options[task.OptKeepMedia] = "false"
	}

	var rec task.Record
	if info, err := os.Stat(source); err == nil {
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", source)
		}
		fields := map[string]string{"model_name": opts.model, "name": opts.title}
		for k, v := range options {
			fields[k] = v
		}
		if err := client.upload(ctx, "/api/upload", source, fields, &rec); err != nil {
			return nil, fmt.Errorf("upload %s: %w", filepath.Base(source), err)
		}
		return &rec, nil
	}

	body := handlers.CreateRequest{URL: source, ModelName: opts.model, Options: map[string]any{}}
	for k, v := range options {
		if v != "" {
			body.Options[k] = v
		}
	}
	if opts.useProxy {
		body.Options[task.OptUseProxy] = true
	}
	if opts.title != "" {
		body.Options[task.OptTitle] = opts.title
	}
	if err := client.postJSON(ctx, "/api/tasks", body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// followTask polls the task until it reaches a terminal status. On a
// terminal the progress line is redrawn in place.
func followTask(ctx context.Context, client *apiClient, id string, interval time.Duration, out io.Writer) (*task.Record, error) {
	if interval <= 0 {
		interval = time.Second
	}
	interactive := isTerminal(out)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last string
	for {
		var rec task.Record
		if err := client.getJSON(ctx, "/api/tasks/"+id, nil, &rec); err != nil {
			var apiErr *apiError
			if errors.As(err, &apiErr) && apiErr.Status == 404 {
				return nil, fmt.Errorf("task %s no longer exists", id)
			}
			return nil, err
		}
		line := progressLine(&rec, interactive)
		switch {
		case interactive:
			fmt.Fprintf(out, "\r\x1b[2K%s", line)
		case line != last:
			fmt.Fprintln(out, line)
		}
		last = line
		if rec.Status.IsTerminal() {
			if interactive {
				fmt.Fprintln(out)
			}
			return &rec, nil
		}
		select {
		case <-ctx.Done():
			if interactive {
				fmt.Fprintln(out)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a pending or running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				var resp map[string]any
				if err := client.postJSON(cmd.Context(), "/api/tasks/"+args[0]+"/cancel", nil, &resp); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for %s\n", args[0])
				return nil
			})
		},
	}
}
