package ics

import "strings"

// textEscapes are applied in order. The backslash collapse must stay last so
// it does not produce new escape sequences for the earlier rules.
var textEscapes = []struct{ from, to string }{
	{`\,`, ","},
	{`\;`, ";"},
	{`\n`, "\n"},
	{`\N`, "\n"},
	{`\\`, `\`},
}

// UnescapeText reverses iCalendar TEXT escaping for display.
func UnescapeText(v string) string {
	if !strings.Contains(v, `\`) {
		return v
	}
	for _, e := range textEscapes {
		v = strings.ReplaceAll(v, e.from, e.to)
	}
	return v
}
