package task

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/language"
)

// Option keys understood by the bundled fetchers and transcribers. The engine
// itself never interprets options.
const (
	OptOutputFormat = "output_format"
	OptKeepMedia    = "keep_media"
	OptLanguage     = "language"
	OptUseProxy     = "use_proxy"
	OptTitle        = "title"
)

// SupportedOutputFormats lists the result formats a transcriber can write.
var SupportedOutputFormats = []string{"txt", "md", "json"}

// IsSupportedOutputFormat reports whether format is one of
// SupportedOutputFormats.
func IsSupportedOutputFormat(format string) bool {
	for _, f := range SupportedOutputFormats {
		if f == format {
			return true
		}
	}
	return false
}

// Options is the opaque key-value bag attached to a task.
type Options map[string]string

// Clone copies the map.
func (o Options) Clone() Options {
	if o == nil {
		return Options{}
	}
	cp := make(Options, len(o))
	for k, v := range o {
		cp[k] = v
	}
	return cp
}

// Get returns the trimmed value for key.
func (o Options) Get(key string) string {
	if o == nil {
		return ""
	}
	return strings.TrimSpace(o[key])
}

// Bool parses key as a boolean, returning fallback when unset or invalid.
func (o Options) Bool(key string, fallback bool) bool {
	raw := o.Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

// KeepMedia reports whether the fetched media should survive the task.
// Defaults to true.
func (o Options) KeepMedia() bool {
	return o.Bool(OptKeepMedia, true)
}

// OutputFormat returns the requested result format, txt by default.
func (o Options) OutputFormat() string {
	format := strings.ToLower(o.Get(OptOutputFormat))
	if format == "" {
		return "txt"
	}
	return format
}

// Language returns the language hint, empty for auto detection.
func (o Options) Language() string {
	lang := o.Get(OptLanguage)
	if strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}

// Validate checks the keys the bundled collaborators rely on.
func (o Options) Validate() error {
	if format := o.OutputFormat(); !IsSupportedOutputFormat(format) {
		return fmt.Errorf("unsupported output format %q", format)
	}
	if lang := o.Language(); lang != "" {
		if _, err := language.Parse(lang); err != nil {
			return fmt.Errorf("invalid language %q: %w", lang, err)
		}
	}
	for _, key := range []string{OptKeepMedia, OptUseProxy} {
		if raw := o.Get(key); raw != "" {
			if _, err := strconv.ParseBool(raw); err != nil {
				return fmt.Errorf("option %s: %q is not a boolean", key, raw)
			}
		}
	}
	return nil
}

// NormalizeLanguage returns the base ISO 639-1 code for a hint, e.g. "zh-Hans" -> "zh".
func NormalizeLanguage(hint string) string {
	if hint == "" || strings.EqualFold(hint, "auto") {
		return ""
	}
	tag, err := language.Parse(hint)
	if err != nil {
		return ""
	}
	base, _ := tag.Base()
	return base.String()
}
