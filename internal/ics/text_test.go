package ics

import "testing"

func TestUnescapeText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`Dentist\, Checkup`, "Dentist, Checkup"},
		{`a\;b`, "a;b"},
		{`line1\nline2\Nline3`, "line1\nline2\nline3"},
		{`C:\\temp`, `C:\temp`},
		{`plain`, "plain"},
		// The newline rule runs before the backslash collapse.
		{`x\\ny`, "x\\\ny"},
	}
	for i, tt := range tests {
		if got := UnescapeText(tt.in); got != tt.want {
			t.Errorf("%d: UnescapeText(%q) = %q, want %q", i, tt.in, got, tt.want)
		}
	}
}
