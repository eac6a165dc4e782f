package commands

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// durationRe accepts the compact operator syntax: "30m", "2h", "1d12h",
// "45s", in d/h/m/s order.
var durationRe = regexp.MustCompile(`^(?:(\d+)d)?(?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s)?$`)

const durationHint = "examples: 30m, 2h, 1d12h"

// ParseDuration parses the giveaway duration syntax. Zero or empty
// input is an error.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty duration (%s)", durationHint)
	}
	m := durationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid duration %q (%s)", s, durationHint)
	}
	var parts [4]int64
	for i, raw := range m[1:] {
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q (%s)", s, durationHint)
		}
		parts[i] = v
	}
	total := time.Duration(parts[0])*24*time.Hour +
		time.Duration(parts[1])*time.Hour +
		time.Duration(parts[2])*time.Minute +
		time.Duration(parts[3])*time.Second
	if total <= 0 {
		return 0, fmt.Errorf("invalid duration %q (%s)", s, durationHint)
	}
	return total, nil
}

// splitCommand splits "/gstart@SomeBot 10m 2 prize" into the bare command
// name and its arguments. Returns ok=false for non-command text.
func splitCommand(text string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	name = strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid giveaway id %q", s)
	}
	return id, nil
}
