package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codebuildervaibhav/mediascribe/internal/handlers"
	"github.com/codebuildervaibhav/mediascribe/internal/task"
)

func newTasksCommand(ctx *commandContext) *cobra.Command {
	tasksCmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and manage transcription tasks",
	}

	tasksCmd.AddCommand(newTasksListCommand(ctx))
	tasksCmd.AddCommand(newTasksShowCommand(ctx))
	tasksCmd.AddCommand(newTasksDeleteCommand(ctx))

	return tasksCmd
}

type listOptions struct {
	statuses   []string
	search     string
	from       string
	to         string
	page       int
	limit      int
	jsonOutput bool
}

func (o listOptions) query() (url.Values, error) {
	q := url.Values{}
	var statuses []string
	for _, raw := range o.statuses {
		for _, part := range strings.Split(raw, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			status, err := task.ParseStatus(part)
			if err != nil {
				return nil, err
			}
			statuses = append(statuses, string(status))
		}
	}
	if len(statuses) > 0 {
		q.Set("status", strings.Join(statuses, ","))
	}
	if o.search != "" {
		q.Set("search", o.search)
	}
	if o.from != "" {
		q.Set("date_from", o.from)
	}
	if o.to != "" {
		q.Set("date_to", o.to)
	}
	if o.page > 1 {
		q.Set("page", strconv.Itoa(o.page))
	}
	if o.limit > 0 {
		q.Set("limit", strconv.Itoa(o.limit))
	}
	return q, nil
}

func newTasksListCommand(ctx *commandContext) *cobra.Command {
	var opts listOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := opts.query()
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *apiClient) error {
				var page handlers.TaskPage
				if err := client.getJSON(cmd.Context(), "/api/tasks", q, &page); err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(cmd, page)
				}
				out := cmd.OutOrStdout()
				if len(page.Tasks) == 0 {
					fmt.Fprintln(out, "No tasks found")
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]string{"ID", "Status", "Progress", "Model", "Title", "Created"},
					taskRows(page.Tasks, isTerminal(out)),
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
				))
				if page.HasMore {
					fmt.Fprintf(out, "More tasks available: --page %d\n", page.Page+1)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&opts.statuses, "status", "s", nil, "Filter by status (repeatable or comma separated)")
	cmd.Flags().StringVar(&opts.search, "search", "", "Match title or source")
	cmd.Flags().StringVar(&opts.from, "from", "", "Created on or after YYYY-MM-DD")
	cmd.Flags().StringVar(&opts.to, "to", "", "Created on or before YYYY-MM-DD")
	cmd.Flags().IntVar(&opts.page, "page", 1, "Page number")
	cmd.Flags().IntVar(&opts.limit, "limit", 20, "Tasks per page (max 100)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print JSON")
	return cmd
}

func newTasksShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				var rec task.Record
				if err := client.getJSON(cmd.Context(), "/api/tasks/"+args[0], nil, &rec); err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, rec)
				}
				out := cmd.OutOrStdout()
				renderTaskDetail(out, &rec, isTerminal(out))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON")
	return cmd
}

func newTasksDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a finished task and its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				if err := client.delete(cmd.Context(), "/api/tasks/"+args[0], nil); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
}
