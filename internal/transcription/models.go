package transcription

import "strings"

// DefaultModel is used when a request names no model.
const DefaultModel = "medium"

// Model describes one Whisper model size.
type Model struct {
	Name           string `json:"name"`
	Size           string `json:"size"`
	Speed          string `json:"speed"`
	Accuracy       string `json:"accuracy"`
	MemoryRequired string `json:"memory_required"`
	RecommendedFor string `json:"recommended_for"`
	Default        bool   `json:"default,omitempty"`
}

var catalog = []Model{
	{Name: "tiny", Size: "39MB", Speed: "very_fast", Accuracy: "low", MemoryRequired: "1GB", RecommendedFor: "quick tests, near real-time drafts"},
	{Name: "base", Size: "142MB", Speed: "fast", Accuracy: "medium", MemoryRequired: "2GB", RecommendedFor: "everyday use"},
	{Name: "small", Size: "466MB", Speed: "fast", Accuracy: "medium", MemoryRequired: "2GB", RecommendedFor: "short clips on CPU"},
	{Name: "medium", Size: "769MB", Speed: "medium", Accuracy: "high", MemoryRequired: "5GB", RecommendedFor: "recommended, quality first", Default: true},
	{Name: "large-v3", Size: "1550MB", Speed: "slow", Accuracy: "very_high", MemoryRequired: "10GB", RecommendedFor: "highest quality"},
}

// Models returns the supported models, smallest first.
func Models() []Model {
	out := make([]Model, len(catalog))
	copy(out, catalog)
	return out
}

// LookupModel finds a model by name, case-insensitively. An empty name
// resolves to DefaultModel.
func LookupModel(name string) (Model, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = DefaultModel
	}
	for _, m := range catalog {
		if m.Name == name {
			return m, true
		}
	}
	return Model{}, false
}

// ModelNames lists the supported model names.
func ModelNames() []string {
	names := make([]string, 0, len(catalog))
	for _, m := range catalog {
		names = append(names, m.Name)
	}
	return names
}
