package scheduler

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrCronUnsupported is returned for cron expressions. Refresh timers re-arm
// after each completed cycle, so only fixed intervals are meaningful.
var ErrCronUnsupported = errors.New("cron expressions are not supported; use an interval")

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseInterval parses a refresh interval.
//
// Supported forms:
//   - Go duration: "5m", "1h30m"
//   - HH:MM: "00:05" (5 minutes), "02:30" (2 hours 30 minutes)
//   - "@every 5m", "every:5m", "interval:5m"
func ParseInterval(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("interval required")
	}
	low := strings.ToLower(s)
	for _, p := range []string{"@every", "every:", "interval:"} {
		if strings.HasPrefix(low, p) {
			s = strings.TrimSpace(s[len(p):])
			if s == "" {
				return 0, fmt.Errorf("interval required after %q", p)
			}
			break
		}
	}
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") || strings.Contains(s, "*") {
		return 0, fmt.Errorf("%q: %w", raw, ErrCronUnsupported)
	}
	if reHHMM.MatchString(s) {
		return parseHHMMDuration(s)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '5m'/'1h30m')", raw)
	}
	if d <= 0 {
		return 0, ErrInvalidInterval
	}
	return d, nil
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	var hh int
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, ErrInvalidInterval
	}
	return d, nil
}
