package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/codebuildervaibhav/mediascribe/internal/task"
)

type statsResponse struct {
	Summary task.StatsSummary `json:"summary"`
	Daily   []task.DailyStats `json:"daily"`
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var period, from, to string
	var daily, jsonOutput bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show processing statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if from != "" || to != "" {
				q.Set("from", from)
				q.Set("to", to)
			} else {
				q.Set("period", period)
			}
			return ctx.withClient(func(client *apiClient) error {
				var resp statsResponse
				if err := client.getJSON(cmd.Context(), "/api/system/stats", q, &resp); err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Statistics %s to %s\n", resp.Summary.From, resp.Summary.To)
				fmt.Fprint(out, renderTable([]string{"Metric", "Value"}, summaryRows(resp.Summary),
					[]columnAlignment{alignLeft, alignRight}))
				if daily && len(resp.Daily) > 0 {
					fmt.Fprint(out, renderTable(
						[]string{"Date", "Model", "Created", "Completed", "Failed", "Cancelled", "Audio"},
						dailyRows(resp.Daily),
						[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
					))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&period, "period", "p", "week", "day, week or month")
	cmd.Flags().StringVar(&from, "from", "", "Start day YYYY-MM-DD (requires --to)")
	cmd.Flags().StringVar(&to, "to", "", "End day YYYY-MM-DD (requires --from)")
	cmd.Flags().BoolVar(&daily, "daily", false, "Also print per-day rows")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON")
	return cmd
}

func summaryRows(sum task.StatsSummary) [][]string {
	rows := [][]string{
		{"Tasks created", strconv.Itoa(sum.Created)},
		{"Completed", strconv.Itoa(sum.Completed)},
		{"Failed", strconv.Itoa(sum.Failed)},
		{"Cancelled", strconv.Itoa(sum.Cancelled)},
		{"Processing time", formatDuration(sum.ProcessingSeconds)},
		{"Audio transcribed", formatDuration(sum.MediaSeconds)},
		{"Transcript bytes", formatBytes(sum.ResultBytes)},
	}
	if sum.AverageProcessingSpeed > 0 {
		rows = append(rows, []string{"Speed (audio/processing)", fmt.Sprintf("%.2fx", sum.AverageProcessingSpeed)})
	}
	for _, model := range sum.ModelNames() {
		rows = append(rows, []string{"Model " + model, strconv.Itoa(sum.ModelUsage[model])})
	}
	return rows
}

func dailyRows(days []task.DailyStats) [][]string {
	rows := make([][]string, 0, len(days))
	for _, d := range days {
		rows = append(rows, []string{
			d.Day,
			d.Model,
			strconv.Itoa(d.Created),
			strconv.Itoa(d.Completed),
			strconv.Itoa(d.Failed),
			strconv.Itoa(d.Cancelled),
			formatDuration(d.MediaSeconds),
		})
	}
	return rows
}
