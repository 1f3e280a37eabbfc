package ics

import "strings"

const bom = "\ufeff"

// Unfold normalizes CRLF line endings to LF and joins folded continuation
// lines (lines starting with a space or tab) onto the preceding line with the
// single leading whitespace character removed.
//
// Empty input yields an empty slice. Unfolding already-unfolded text returns
// it unchanged.
func Unfold(raw string) []string {
	raw = strings.TrimPrefix(raw, bom)
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	if raw == "" {
		return []string{}
	}

	physical := strings.Split(raw, "\n")
	// A trailing newline produces one empty trailing element; drop it.
	if physical[len(physical)-1] == "" {
		physical = physical[:len(physical)-1]
	}

	lines := make([]string, 0, len(physical))
	for _, l := range physical {
		if isContinuation(l) && len(lines) > 0 {
			lines[len(lines)-1] += l[1:]
			continue
		}
		lines = append(lines, l)
	}
	return lines
}

func isContinuation(l string) bool {
	return len(l) > 0 && (l[0] == ' ' || l[0] == '\t')
}
