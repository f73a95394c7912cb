package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/codebuildervaibhav/mediascribe/internal/task"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

func isTerminal(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func statusColor(status task.Status) string {
	switch status {
	case task.StatusCompleted:
		return ansiGreen
	case task.StatusFailed:
		return ansiRed
	case task.StatusCancelled:
		return ansiYellow
	case task.StatusFetching, task.StatusTranscribing:
		return ansiBlue
	default:
		return ""
	}
}

func renderStatus(status task.Status, colorize bool) string {
	if colorize {
		if color := statusColor(status); color != "" {
			return color + string(status) + ansiReset
		}
	}
	return string(status)
}

// progressLine is the one-line summary printed while following a task.
func progressLine(rec *task.Record, colorize bool) string {
	line := fmt.Sprintf("%s  %-12s %5.1f%%  %s", rec.ID, renderStatus(rec.Status, colorize), rec.Progress, rec.Stage)
	if rec.ErrorMessage != "" {
		line += "  " + rec.ErrorMessage
	}
	return line
}

func taskRows(recs []*task.Record, colorize bool) [][]string {
	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, []string{
			rec.ID,
			renderStatus(rec.Status, colorize),
			fmt.Sprintf("%.0f%%", rec.Progress),
			rec.ModelSelector,
			truncate(rec.DisplayName(), 40),
			rec.CreatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return rows
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}

// renderTaskDetail prints every field of rec worth showing, one per line.
func renderTaskDetail(w io.Writer, rec *task.Record, colorize bool) {
	field := func(label, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		fmt.Fprintf(w, "  %-16s %s\n", label+":", value)
	}
	timestamp := func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.Local().Format(time.DateTime)
	}

	fmt.Fprintln(w, rec.ID)
	field("Status", renderStatus(rec.Status, colorize))
	field("Stage", rec.Stage)
	field("Progress", fmt.Sprintf("%.1f%%", rec.Progress))
	field("Source", rec.SourceRef)
	field("Title", rec.Title)
	field("Model", rec.ModelSelector)
	field("Language", rec.Language)
	field("Error", rec.ErrorMessage)
	field("Created", rec.CreatedAt.Local().Format(time.DateTime))
	field("Started", timestamp(rec.StartedAt))
	field("Completed", timestamp(rec.CompletedAt))
	if rec.StartedAt != nil && rec.CompletedAt != nil {
		field("Processing", formatDuration(rec.CompletedAt.Sub(*rec.StartedAt).Seconds()))
	}
	if rec.MediaDuration > 0 {
		field("Duration", formatDuration(rec.MediaDuration))
	}
	field("Media", rec.MediaArtifactRef)
	field("Result", rec.ResultArtifactRef)
	if rec.ResultBytes > 0 {
		field("Result size", formatBytes(rec.ResultBytes))
	}
	field("Result URL", rec.ResultURL)
}
