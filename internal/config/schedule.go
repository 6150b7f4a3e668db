package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule is a resolved pulse grid: fire at k*Interval + Offset (Unix ms).
type Schedule struct {
	Interval time.Duration
	Offset   time.Duration
	Source   string // "duration" | "hhmm" | "every" | "cron"
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// cronSamples bounds how many consecutive fire times are compared when
// deciding whether a cron expression describes a uniform grid.
const cronSamples = 512

// cronEpoch is the reference the samples are taken from.
var cronEpoch = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)

// ParseSchedule resolves a schedule string to an interval and offset.
//
// Supported forms:
//   - Go duration: "5s", "2h30m"
//   - HH:MM: "00:30" (30 minutes), "02:30"
//   - "@every 5m", "every:5m", "interval:00:30"
//   - cron: "*/15 * * * *", "5 * * * *", "@hourly", "cron:@daily"
//
// Cron expressions are evaluated in UTC unless they carry CRON_TZ=. They are
// accepted only when their fire times are evenly spaced; the spacing becomes
// the interval and the first fire time modulo the interval the offset.
func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return Schedule{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		return parseCronGrid(expr)
	case strings.HasPrefix(low, "interval:"):
		return parseEvery(s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return parseEvery(s[len("every:"):])
	case strings.HasPrefix(low, "@every "):
		return parseEvery(s[len("@every "):])
	}

	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return parseCronGrid(s)
	}

	if reHHMM.MatchString(s) {
		d, err := parseHHMMDuration(s)
		if err != nil {
			return Schedule{}, err
		}
		return Schedule{Interval: d, Source: "hhmm"}, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return Schedule{}, fmt.Errorf("interval must be > 0")
		}
		return Schedule{Interval: d, Source: "duration"}, nil
	}

	return Schedule{}, fmt.Errorf(
		"invalid schedule %q (use a duration like '30s', HH:MM like '00:30', or an evenly spaced cron like '*/15 * * * *')",
		raw,
	)
}

func parseEvery(v string) (Schedule, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Schedule{}, fmt.Errorf("interval required")
	}
	if reHHMM.MatchString(v) {
		d, err := parseHHMMDuration(v)
		return Schedule{Interval: d, Source: "every"}, err
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '55m')", v)
	}
	if d <= 0 {
		return Schedule{}, fmt.Errorf("interval must be > 0")
	}
	return Schedule{Interval: d, Source: "every"}, nil
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
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}

func parseCronGrid(expr string) (Schedule, error) {
	spec := expr
	if !strings.HasPrefix(spec, "TZ=") && !strings.HasPrefix(spec, "CRON_TZ=") {
		spec = "CRON_TZ=UTC " + spec
	}
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}

	first := sched.Next(cronEpoch)
	if first.IsZero() {
		return Schedule{}, fmt.Errorf("cron %q never fires", expr)
	}
	prev := first
	var step time.Duration
	for i := 0; i < cronSamples; i++ {
		next := sched.Next(prev)
		if next.IsZero() {
			return Schedule{}, fmt.Errorf("cron %q stops firing", expr)
		}
		gap := next.Sub(prev)
		if step == 0 {
			step = gap
		} else if gap != step {
			return Schedule{}, fmt.Errorf("cron %q is not evenly spaced (%s then %s)", expr, step, gap)
		}
		prev = next
	}

	iv := step.Milliseconds()
	off := first.UnixMilli() % iv
	if off < 0 {
		off += iv
	}
	return Schedule{
		Interval: step,
		Offset:   time.Duration(off) * time.Millisecond,
		Source:   "cron",
	}, nil
}
