package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var timeUnits = []struct {
	suffix string
	unit   time.Duration
}{
	// "ms" must be checked before "m" and "s"
	{"ms", time.Millisecond},
	{"s", time.Second},
	{"m", time.Minute},
	{"h", time.Hour},
	{"d", 24 * time.Hour},
}

// ParseStringTime parses durations written as "<int><unit>", unit being one of ms, s, m, h, d.
func ParseStringTime(timeString string) (time.Duration, error) {
	timeString = strings.ToLower(strings.TrimSpace(timeString))
	if timeString == "" {
		return 0, fmt.Errorf("empty time string")
	}
	for _, u := range timeUnits {
		cutString, found := strings.CutSuffix(timeString, u.suffix)
		if !found {
			continue
		}
		number, err := strconv.Atoi(cutString)
		if err != nil {
			return 0, fmt.Errorf("invalid time format %q: %w", timeString, err)
		}
		if number < 0 {
			return 0, fmt.Errorf("negative duration %q", timeString)
		}
		return time.Duration(number) * u.unit, nil
	}
	return 0, fmt.Errorf("invalid time format: %s", timeString)
}

// ParseStringTimeOr returns fallback when timeString is empty or malformed.
func ParseStringTimeOr(timeString string, fallback time.Duration) time.Duration {
	d, err := ParseStringTime(timeString)
	if err != nil || d == 0 {
		return fallback
	}
	return d
}
