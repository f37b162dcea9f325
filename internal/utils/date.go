package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var datePattern = regexp.MustCompile(`^(\d{1,2})[\s\-\/\.,](\d{1,2})(?:[\s\-\/\.,](\d{2}|\d{4}))?$`)

// ParseDate parses a day and month with an optional year and returns midnight
// of that date in ref's zone. A missing year means ref's year.
// Supported formats include:
// - dd mm yyyy (with various separators like space, -, /, . or ,)
// - dd mm yy (two-digit year, same separators)
// - dd mm (same separators)
// - any mix of single and double digit day and month
func ParseDate(dateStr string, ref time.Time) (time.Time, error) {
	dateStr = strings.TrimSpace(dateStr)
	if dateStr == "" {
		return time.Time{}, fmt.Errorf("%w: empty date string", ErrFormat)
	}

	matches := datePattern.FindStringSubmatch(dateStr)
	if matches == nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %s", ErrFormat, dateStr)
	}

	day, _ := strconv.Atoi(matches[1])
	month, _ := strconv.Atoi(matches[2])
	if month < 1 || month > 12 {
		return time.Time{}, fmt.Errorf("%w: invalid month %d (must be between 1 and 12)", ErrFormat, month)
	}

	year := ref.Year()
	if matches[3] != "" {
		year, _ = strconv.Atoi(matches[3])
		// Handle 2-digit year: 00-49 -> 20xx, 50-99 -> 19xx
		if year < 100 {
			if year < 50 {
				year += 2000
			} else {
				year += 1900
			}
		}
	}

	maxDay := 31
	switch month {
	case 4, 6, 9, 11:
		maxDay = 30
	case 2:
		if year%400 == 0 || (year%4 == 0 && year%100 != 0) {
			maxDay = 29
		} else {
			maxDay = 28
		}
	}
	if day < 1 || day > maxDay {
		return time.Time{}, fmt.Errorf("%w: invalid day %d for month %d (must be between 1 and %d)", ErrFormat, day, month, maxDay)
	}

	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, ref.Location()), nil
}
