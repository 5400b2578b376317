package promoter

import (
	"bytes"
	"strings"
	"unicode"
)

// PatchResult is the outcome of rewriting a manifest's
// tag line.
type PatchResult struct {
	// Content is the rewritten document. It equals the
	// input when nothing matched.
	Content []byte
	// AlreadyEqual is true when the matched line already
	// carried the value, whitespace aside.
	AlreadyEqual bool
	// Matched is false when no line contains both a
	// colon and key.
	Matched bool
}

// Patch rewrites the first line of content that contains
// both ':' and key into "  {key}: {value}". Equality is
// literal text with all whitespace removed, so quoting
// differences count as changes. Every other byte of the
// document is kept.
func Patch(content []byte, key string, value string) PatchResult {
	replacement := "  " + key + ": " + value

	rest := content
	offset := 0

	for len(rest) > 0 {
		end := bytes.IndexByte(rest, '\n')
		if end < 0 {
			end = len(rest)
		}

		line := string(rest[:end])
		body := strings.TrimSuffix(line, "\r")

		if strings.Contains(body, ":") &&
			strings.Contains(body, key) {
			equal := squash(body) == squash(replacement)

			out := make([]byte, 0, len(content)+len(replacement))
			out = append(out, content[:offset]...)
			out = append(out, replacement...)
			out = append(out, line[len(body):]...)
			out = append(out, content[offset+end:]...)

			return PatchResult{
				Content:      out,
				AlreadyEqual: equal,
				Matched:      true,
			}
		}

		if end == len(rest) {
			break
		}

		offset += end + 1
		rest = rest[end+1:]
	}

	return PatchResult{Content: content}
}

// squash drops every whitespace rune.
func squash(s string) string {
	return strings.Map(
		func(r rune) rune {
			if unicode.IsSpace(r) {
				return -1
			}

			return r
		},
		s,
	)
}
