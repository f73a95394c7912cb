package task

import "testing"

func TestOptionsDefaults(t *testing.T) {
	var opts Options
	if !opts.KeepMedia() {
		t.Fatal("keep_media should default to true")
	}
	if opts.OutputFormat() != "txt" {
		t.Fatalf("output format = %q", opts.OutputFormat())
	}
	if opts.Language() != "" {
		t.Fatal("language should default to auto")
	}
	if err := opts.Validate(); err != nil {
		t.Fatalf("validate nil options: %v", err)
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"markdown", Options{OptOutputFormat: "MD"}, false},
		{"json with language", Options{OptOutputFormat: "json", OptLanguage: "zh-Hans"}, false},
		{"auto language", Options{OptLanguage: "auto"}, false},
		{"bad format", Options{OptOutputFormat: "docx"}, true},
		{"bad language", Options{OptLanguage: "not a tag!"}, true},
		{"bad bool", Options{OptKeepMedia: "maybe"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeLanguage(t *testing.T) {
	cases := map[string]string{
		"":        "",
		"auto":    "",
		"en-US":   "en",
		"zh-Hans": "zh",
		"ja":      "ja",
	}
	for in, want := range cases {
		if got := NormalizeLanguage(in); got != want {
			t.Errorf("NormalizeLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSummarizeStats(t *testing.T) {
	rows := []DailyStats{
		{Day: "2025-01-01", Model: "medium", Created: 3, Completed: 2, Failed: 1, ProcessingSeconds: 100, MediaSeconds: 300},
		{Day: "2025-01-02", Model: "tiny", Created: 1, Completed: 1, ProcessingSeconds: 50, MediaSeconds: 150, ResultBytes: 10},
		{Day: "2025-01-02", Model: "medium", Created: 1, Cancelled: 1},
	}
	sum := SummarizeStats("2025-01-01", "2025-01-02", rows)
	if sum.Created != 5 || sum.Completed != 3 || sum.Failed != 1 || sum.Cancelled != 1 {
		t.Fatalf("unexpected counters: %+v", sum)
	}
	if sum.AverageProcessingSpeed != 3 {
		t.Fatalf("average speed = %v, want 3", sum.AverageProcessingSpeed)
	}
	if sum.ModelUsage["medium"] != 2 || sum.ModelUsage["tiny"] != 1 {
		t.Fatalf("model usage = %v", sum.ModelUsage)
	}
	if names := sum.ModelNames(); len(names) != 2 || names[0] != "medium" {
		t.Fatalf("model names = %v", names)
	}
}
