package stream

import "strings"

// shortChunkThreshold is the length below which a chunk is assumed to be
// progress narration rather than content.
const shortChunkThreshold = 200

// progressKeywords mark a chunk as narration about in-progress work.
var progressKeywords = []string{
	"searching",
	"finding",
	"building",
	"planning",
	"finalizing",
	"got it",
	"let me",
}

// IsProgressNarration reports whether a text chunk is ephemeral progress
// narration rather than durable message content. A chunk counts as progress
// when it is non-empty and ends with an ellipsis, is shorter than
// shortChunkThreshold, or contains a progress keyword.
//
// The heuristic trades precision for simplicity: a legitimate short
// assistant reply will be classified as progress and kept out of the
// message body. That is a known limitation of the upstream protocol, which
// gives no explicit marker to tell the two apart.
func IsProgressNarration(chunk string) bool {
	trimmed := strings.TrimSpace(chunk)
	if trimmed == "" {
		return false
	}

	if strings.HasSuffix(trimmed, "...") || strings.HasSuffix(trimmed, "…") {
		return true
	}
	if len(chunk) < shortChunkThreshold {
		return true
	}

	lower := strings.ToLower(trimmed)
	for _, kw := range progressKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
