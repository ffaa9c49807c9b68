package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseCadence parses the natural-language cadence grammar spec §4.9
// calls for: "<n> (seconds|minutes|hours|days|weeks)".
func ParseCadence(s string) (time.Duration, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	if len(fields) != 2 {
		return 0, fmt.Errorf("scheduler: cadence %q: expected \"<n> <unit>\"", s)
	}

	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, fmt.Errorf("scheduler: cadence %q: invalid count: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("scheduler: cadence %q: count must be positive", s)
	}

	unit := strings.TrimSuffix(fields[1], "s")
	var base time.Duration
	switch unit {
	case "second":
		base = time.Second
	case "minute":
		base = time.Minute
	case "hour":
		base = time.Hour
	case "day":
		base = 24 * time.Hour
	case "week":
		base = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("scheduler: cadence %q: unknown unit %q", s, fields[1])
	}

	return time.Duration(n) * base, nil
}
