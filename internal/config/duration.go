package config

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// ParseDurationField parses an optional, non-negative Go duration string.
// Empty input is zero.
func ParseDurationField(field, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", field)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero input.
func ParseDurationOrDefault(field, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(field, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
