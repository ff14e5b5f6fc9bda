package project

import (
	"strings"
	"time"
)

// dateLayouts are tried in order by ParseDate. Month names match
// case-insensitively and single-digit layouts accept two-digit input.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"Jan. 2, 2006",
	"Monday, January 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
	"2-Jan-2006",
	"2-Jan-06",
	"1/2/2006",
	"1/2/06",
	"2006/1/2",
	"1-2-2006",
	"1.2.2006",
	"1.2.06",
}

// ParseDate parses human-written dates such as "April 7, 2025", "2025-04-07",
// "04/07/2025" or "7-Apr-2025" into a UTC calendar date.
// Returns nil if the text is not a recognizable date.
func ParseDate(value string) *time.Time {
	value = strings.Join(strings.Fields(value), " ")
	value = strings.TrimSuffix(value, ".")
	if value == "" {
		return nil
	}

	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, value)
		if err != nil {
			continue
		}
		d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return &d
	}

	return nil
}
