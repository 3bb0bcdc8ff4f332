package utils

import (
	"fmt"
	"regexp"
	"strings"
)

// blobRe matches inline base64 payloads such as question audio.
var blobRe = regexp.MustCompile(`[A-Za-z0-9+/]{256,}={0,2}`)

// TruncateForLog shortens the provided string to the specified limit, appending an ellipsis when truncated.
func TruncateForLog(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

// PreviewBody prepares a response body for debug logs: embedded base64 blobs
// are replaced by their length, whitespace is collapsed and the result is
// truncated to limit runes.
func PreviewBody(body []byte, limit int) string {
	s := blobRe.ReplaceAllStringFunc(string(body), func(blob string) string {
		return fmt.Sprintf("<%d base64 chars>", len(blob))
	})
	return TruncateForLog(strings.Join(strings.Fields(s), " "), limit)
}
