package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration parses a Go-duration config field. An empty or zero value
// falls back to def; negative values are rejected. path names the field
// in error messages ("giveaways.failsafe_interval: ...").
func Duration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
