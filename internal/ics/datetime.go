package ics

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidDate is returned when a DATE / DATE-TIME token has an
// unsupported shape or out-of-range fields.
var ErrInvalidDate = errors.New("invalid date token")

const (
	layoutDate     = "20060102"
	layoutDateTime = "20060102T150405"
)

// ResolveDateTime converts a DATE (YYYYMMDD) or DATE-TIME
// (YYYYMMDDTHHMMSS with an optional trailing Z) token into a time in local
// civil time.
//
// The trailing Z is accepted but not applied: the numeric fields are read as
// local time either way. dateOnly forces allDay even when the token carries a
// time of day.
func ResolveDateTime(token string, dateOnly bool) (t time.Time, allDay bool, err error) {
	return resolveDateTimeIn(token, dateOnly, time.Local)
}

func resolveDateTimeIn(token string, dateOnly bool, loc *time.Location) (time.Time, bool, error) {
	token = strings.TrimSpace(token)

	switch {
	case len(token) == len(layoutDate) && allDigits(token):
		t, err := time.ParseInLocation(layoutDate, token, loc)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%w: %q", ErrInvalidDate, token)
		}
		return t, true, nil

	case isDateTimeToken(token):
		t, err := time.ParseInLocation(layoutDateTime, strings.TrimSuffix(token, "Z"), loc)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%w: %q", ErrInvalidDate, token)
		}
		return t, dateOnly, nil

	default:
		return time.Time{}, false, fmt.Errorf("%w: %q", ErrInvalidDate, token)
	}
}

// isDateTimeToken matches 8 digits, 'T', 6 digits and an optional 'Z'.
func isDateTimeToken(s string) bool {
	s = strings.TrimSuffix(s, "Z")
	if len(s) != len(layoutDateTime) || s[8] != 'T' {
		return false
	}
	return allDigits(s[:8]) && allDigits(s[9:])
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
