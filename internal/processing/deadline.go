package processing

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	deadlineISO = regexp.MustCompile(`(?i)\bdeadline\b[^0-9]{0,20}(\d{4}-\d{2}-\d{2})`)
	deadlineMDY = regexp.MustCompile(`(?i)\bdeadline\b[^A-Za-z]{0,20}([A-Za-z]{3,9})\s+(\d{1,2})(?:st|nd|rd|th)?[, ]+\s*(\d{4})`)
)

var months = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "sept": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

// ParseDeadline finds "deadline ... 2025-03-01" or "deadline: March 1, 2025"
// in text. It returns nil when no valid date is found.
func ParseDeadline(text string) *time.Time {
	if m := deadlineISO.FindStringSubmatch(text); m != nil {
		return parseISODate(m[1])
	}

	m := deadlineMDY.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	month, ok := months[strings.ToLower(m[1])]
	if !ok {
		return nil
	}
	day, err := strconv.Atoi(m[2])
	if err != nil {
		return nil
	}
	year, err := strconv.Atoi(m[3])
	if err != nil {
		return nil
	}
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	// reject overflowed dates like February 30
	if d.Day() != day || d.Month() != month {
		return nil
	}
	return &d
}

func parseISODate(s string) *time.Time {
	d, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &d
}
