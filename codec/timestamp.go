package codec

import (
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is a fixed-width textual timestamp layout.
type TimestampLayout string

const (
	// LayoutCYYMMDDHHMMSS has a century digit (0 = 19xx, 1 = 20xx, ...).
	LayoutCYYMMDDHHMMSS TimestampLayout = "CYYMMDDHHMMSS"
	// LayoutCYYMMDD is a date with a century digit.
	LayoutCYYMMDD TimestampLayout = "CYYMMDD"
	// LayoutYYYYMMDDHHMMSS is a 14 character timestamp.
	LayoutYYYYMMDDHHMMSS TimestampLayout = "YYYYMMDDHHMMSS"
	// LayoutYYMMDD is a 6 character date with a two digit year.
	LayoutYYMMDD TimestampLayout = "YYMMDD"
	// LayoutISO is the database timestamp form with microseconds.
	LayoutISO TimestampLayout = "ISO"
)

var timestampFormats = map[TimestampLayout]struct {
	goLayout  string
	width     int
	precision time.Duration
	century   bool
}{
	LayoutCYYMMDDHHMMSS:  {"060102150405", 13, time.Second, true},
	LayoutCYYMMDD:        {"060102", 7, 24 * time.Hour, true},
	LayoutYYYYMMDDHHMMSS: {"20060102150405", 14, time.Second, false},
	LayoutYYMMDD:         {"060102", 6, 24 * time.Hour, false},
	LayoutISO:            {"2006-01-02-15.04.05.000000", 26, time.Microsecond, false},
}

// Timestamp maps a fixed-width textual timestamp to time.Time. A blank or
// all-zero physical value is "no value" and decodes to the zero time; the
// zero time encodes to blanks.
type Timestamp struct {
	Layout TimestampLayout
	// Location interprets physical values. Nil means UTC.
	Location *time.Location
}

func (c Timestamp) Decode(physical any) (any, error) {
	if t, ok := physical.(time.Time); ok {
		return c.truncate(t.In(c.location())), nil
	}
	format, ok := timestampFormats[c.Layout]
	if !ok {
		return nil, fmt.Errorf("unknown timestamp layout %q", c.Layout)
	}
	s, err := physicalText(physical)
	if err != nil {
		return nil, err
	}
	s = strings.TrimSpace(s)
	if isNoValue(s) {
		return time.Time{}, nil
	}
	if len(s) != format.width {
		return nil, fmt.Errorf("timestamp %q has length %d, want %d for layout %s", s, len(s), format.width, c.Layout)
	}

	if !format.century {
		t, err := time.ParseInLocation(format.goLayout, s, c.location())
		if err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", s, err)
		}
		return t, nil
	}

	century := int(s[0] - '0')
	if century < 0 || century > 9 {
		return nil, fmt.Errorf("invalid century digit in %q", s)
	}
	t, err := time.ParseInLocation(format.goLayout, s[1:], c.location())
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	// Go's two-digit year pivots at 69; the century digit is authoritative.
	year := 1900 + century*100 + t.Year()%100
	return time.Date(year, t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, c.location()), nil
}

func (c Timestamp) Encode(logical any) (any, error) {
	t, ok := logical.(time.Time)
	if !ok {
		return nil, typeError("time.Time", logical)
	}
	format, ok := timestampFormats[c.Layout]
	if !ok {
		return nil, fmt.Errorf("unknown timestamp layout %q", c.Layout)
	}
	if t.IsZero() {
		return strings.Repeat(" ", format.width), nil
	}
	t = t.In(c.location())

	if !format.century {
		if c.Layout == LayoutYYMMDD && (t.Year() < 1969 || t.Year() > 2068) {
			return nil, fmt.Errorf("year %d outside the two-digit window of %s", t.Year(), c.Layout)
		}
		return t.Format(format.goLayout), nil
	}

	century := (t.Year() - 1900) / 100
	if t.Year() < 1900 || century > 9 {
		return nil, fmt.Errorf("year %d cannot be expressed with a century digit", t.Year())
	}
	return fmt.Sprintf("%d%s", century, t.Format(format.goLayout)), nil
}

// Truncate returns t at the precision the layout keeps.
func (c Timestamp) Truncate(t time.Time) time.Time {
	return c.truncate(t.In(c.location()))
}

func (c Timestamp) truncate(t time.Time) time.Time {
	format, ok := timestampFormats[c.Layout]
	if !ok || t.IsZero() {
		return t
	}
	if format.precision == 24*time.Hour {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	}
	return t.Truncate(format.precision)
}

func (c Timestamp) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

func isNoValue(s string) bool {
	return strings.Trim(s, "0-.: ") == ""
}
