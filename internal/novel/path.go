package novel

import (
	"fmt"
	"strings"
)

// forbidden holds characters that may not appear in a store path segment.
const forbidden = `<>:"/\|?*` + "\r\n"

// SanitizeTitle makes a title safe for use as a path segment: forbidden
// characters and CR/LF are stripped, surrounding whitespace is trimmed.
// Unicode letters pass through untouched; percent-encoding is the transport
// client's concern. The function is idempotent.
func SanitizeTitle(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(forbidden, r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// ChapterPath composes the store path for a chapter:
// {prefix}{novel}/{seq:03d}_{title}.md with both titles sanitized.
func ChapterPath(prefix, novelTitle string, seq int, chapterTitle string) string {
	prefix = strings.TrimLeft(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return fmt.Sprintf("%s%s/%03d_%s.md",
		prefix,
		SanitizeTitle(novelTitle),
		seq,
		SanitizeTitle(chapterTitle),
	)
}
