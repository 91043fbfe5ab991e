package domain

import (
	"fmt"
	"strings"
	"time"
)

// dateLayouts are tried in order. Layouts without a year parse into year 0,
// which still orders correctly within one export.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"1/2/2006",
	"01/02/2006",
	"1/2/06",
	"01/02/06",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"01-02",
	"1/2",
}

// NormalizeDateKey converts a date label to the canonical "MM-DD" key. Labels
// that match no known layout are returned trimmed with a zero time, so equal
// raw labels still compare equal.
func NormalizeDateKey(label string) (string, time.Time) {
	label = strings.TrimSpace(label)
	if label == "" {
		return "", time.Time{}
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, label)
		if err != nil {
			continue
		}
		return fmt.Sprintf("%02d-%02d", int(t.Month()), t.Day()), t
	}
	return label, time.Time{}
}
