package task

import (
	"sort"
	"time"
)

// StatsDelta is an additive change to the per-day, per-model counters.
type StatsDelta struct {
	Day               time.Time
	Model             string
	Created           int
	Completed         int
	Failed            int
	Cancelled         int
	ProcessingSeconds float64
	MediaSeconds      float64
	ResultBytes       int64
}

// DayKey truncates t to its UTC calendar day, formatted YYYY-MM-DD.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// DailyStats is one persisted statistics row.
type DailyStats struct {
	Day               string  `json:"date"`
	Model             string  `json:"model"`
	Created           int     `json:"tasks_created"`
	Completed         int     `json:"tasks_completed"`
	Failed            int     `json:"tasks_failed"`
	Cancelled         int     `json:"tasks_cancelled"`
	ProcessingSeconds float64 `json:"total_processing_time"`
	MediaSeconds      float64 `json:"total_audio_duration"`
	ResultBytes       int64   `json:"total_file_size"`
}

// StatsSummary totals a set of rows.
type StatsSummary struct {
	From                   string         `json:"from"`
	To                     string         `json:"to"`
	Created                int            `json:"tasks_created"`
	Completed              int            `json:"tasks_completed"`
	Failed                 int            `json:"tasks_failed"`
	Cancelled              int            `json:"tasks_cancelled"`
	ProcessingSeconds      float64        `json:"total_processing_time"`
	MediaSeconds           float64        `json:"total_audio_duration"`
	ResultBytes            int64          `json:"total_file_size"`
	ModelUsage             map[string]int `json:"model_usage"`
	AverageProcessingSpeed float64        `json:"average_processing_speed"`
}

// SummarizeStats folds rows into totals. Model usage counts completed tasks.
func SummarizeStats(from, to string, rows []DailyStats) StatsSummary {
	sum := StatsSummary{From: from, To: to, ModelUsage: map[string]int{}}
	for _, row := range rows {
		sum.Created += row.Created
		sum.Completed += row.Completed
		sum.Failed += row.Failed
		sum.Cancelled += row.Cancelled
		sum.ProcessingSeconds += row.ProcessingSeconds
		sum.MediaSeconds += row.MediaSeconds
		sum.ResultBytes += row.ResultBytes
		if row.Completed > 0 && row.Model != "" {
			sum.ModelUsage[row.Model] += row.Completed
		}
	}
	if sum.ProcessingSeconds > 0 {
		sum.AverageProcessingSpeed = sum.MediaSeconds / sum.ProcessingSeconds
	}
	return sum
}

// ModelNames returns the models in usage sorted by name.
func (s StatsSummary) ModelNames() []string {
	names := make([]string, 0, len(s.ModelUsage))
	for name := range s.ModelUsage {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
