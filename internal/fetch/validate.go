package fetch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ValidateMedia sniffs the file at path and rejects anything that is not
// audio or video. It returns the detected MIME type.
func ValidateMedia(path string) (string, error) {
	if path == "" {
		return "", errors.New("no media file")
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("cannot inspect media: %w", err)
	}
	for m := mt; m != nil; m = m.Parent() {
		kind := m.String()
		if strings.HasPrefix(kind, "audio/") || strings.HasPrefix(kind, "video/") || kind == "application/ogg" {
			return mt.String(), nil
		}
	}
	return "", fmt.Errorf("unsupported media type %s", mt.String())
}
