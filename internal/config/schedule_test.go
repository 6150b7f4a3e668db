package config

import (
	"testing"
	"time"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		source   string
		interval time.Duration
		offset   time.Duration
	}{
		{name: "duration", raw: "10m", source: "duration", interval: 10 * time.Minute},
		{name: "sub-second", raw: "250ms", source: "duration", interval: 250 * time.Millisecond},
		{name: "hhmm", raw: "01:30", source: "hhmm", interval: 90 * time.Minute},
		{name: "at-every", raw: "@every 5m", source: "every", interval: 5 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", source: "every", interval: 45 * time.Second},
		{name: "prefixed every hhmm", raw: "every:00:20", source: "every", interval: 20 * time.Minute},
		{name: "cron step", raw: "*/15 * * * *", source: "cron", interval: 15 * time.Minute},
		{name: "cron minute of hour", raw: "5 * * * *", source: "cron", interval: time.Hour, offset: 5 * time.Minute},
		{name: "cron daily at nine", raw: "0 9 * * *", source: "cron", interval: 24 * time.Hour, offset: 9 * time.Hour},
		{name: "cron with seconds", raw: "30 */2 * * * *", source: "cron", interval: 2 * time.Minute, offset: 30 * time.Second},
		{name: "hourly", raw: "@hourly", source: "cron", interval: time.Hour},
		{name: "prefixed daily", raw: "cron:@daily", source: "cron", interval: 24 * time.Hour},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if got.Interval != tt.interval || got.Offset != tt.offset {
				t.Fatalf("got %v+%v, want %v+%v", got.Interval, got.Offset, tt.interval, tt.offset)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{
		"",
		"not-a-schedule",
		"-5s",
		"00:00",
		"01:75",
		"cron:",
		"*/7 * * * *",    // 56 -> 0 breaks the grid
		"0 0 * * 1-5",    // weekends skipped
		"0 0 1 * *",      // months differ in length
		"0 */5 * * *",    // 20:00 -> 00:00 is four hours
		"every:whenever", // not a duration
		"61 * * * *",
	} {
		raw := raw
		t.Run(raw, func(t *testing.T) {
			t.Parallel()
			if s, err := ParseSchedule(raw); err == nil {
				t.Fatalf("ParseSchedule(%q) = %+v, want error", raw, s)
			}
		})
	}
}

func TestPulseScheduleOffset(t *testing.T) {
	t.Parallel()

	s, err := PulseConfig{Every: "1m", Offset: "15s"}.Schedule()
	if err != nil {
		t.Fatal(err)
	}
	if s.Interval != time.Minute || s.Offset != 15*time.Second {
		t.Fatalf("unexpected schedule %+v", s)
	}

	if _, err := (PulseConfig{Every: "1m", Offset: "1m"}).Schedule(); err == nil {
		t.Fatal("offset equal to the interval must fail")
	}
	if _, err := (PulseConfig{Every: "*/5 * * * *", Offset: "10s"}).Schedule(); err == nil {
		t.Fatal("offset with cron must fail")
	}
	if _, err := (PulseConfig{Every: "1m", Offset: "-1s"}).Schedule(); err == nil {
		t.Fatal("negative offset must fail")
	}
	if _, err := (PulseConfig{Every: "5ms"}).Schedule(); err == nil {
		t.Fatal("interval below the pulse minimum must fail")
	}
	if _, err := (PulseConfig{Every: "1500us"}).Schedule(); err == nil {
		t.Fatal("sub-millisecond interval must fail")
	}
}

func TestRunTimeoutDefaultsToInterval(t *testing.T) {
	t.Parallel()
	p := PulseConfig{Every: "30s"}
	s, _ := p.Schedule()
	d, err := p.RunTimeout(s)
	if err != nil || d != 30*time.Second {
		t.Fatalf("RunTimeout = %v, %v", d, err)
	}
	p.Timeout = "5s"
	if d, _ := p.RunTimeout(s); d != 5*time.Second {
		t.Fatalf("RunTimeout = %v, want 5s", d)
	}
}
