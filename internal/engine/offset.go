package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var offsetUnits = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
	"week":   7 * 24 * time.Hour,
	"month":  30 * 24 * time.Hour,
	"year":   365 * 24 * time.Hour,
}

// ParseOffset converts a relative offset into a duration. It accepts the
// "+N unit" form ("+1 day", "+15 minutes", "-2 hours") as well as Go
// duration strings ("90s", "1h30m"). Months count 30 days and years 365.
func ParseOffset(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("parse offset: empty")
	}

	fields := strings.Fields(s)
	if len(fields) != 2 {
		d, err := time.ParseDuration(strings.TrimPrefix(s, "+"))
		if err != nil {
			return 0, fmt.Errorf("parse offset %q: %w", s, err)
		}
		return d, nil
	}

	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, fmt.Errorf("parse offset %q: bad amount: %w", s, err)
	}
	unit := strings.TrimSuffix(strings.ToLower(fields[1]), "s")
	step, ok := offsetUnits[unit]
	if !ok {
		return 0, fmt.Errorf("parse offset %q: unknown unit %q", s, fields[1])
	}
	return time.Duration(n) * step, nil
}
