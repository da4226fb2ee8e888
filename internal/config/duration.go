package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// parseDurationExtended accepts Go durations plus "d" (24h) and "w" (7d)
// units, e.g. "90s", "2h30m", "1d12h", "1.5d", "-1w".
func parseDurationExtended(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("duration is required")
	}
	if !strings.ContainsAny(s, "dw") {
		return time.ParseDuration(s)
	}

	sign := ""
	if s[0] == '+' || s[0] == '-' {
		sign, s = s[:1], s[1:]
	}
	if s == "" {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}

	var out strings.Builder
	out.WriteString(sign)
	for s != "" {
		n := strings.IndexFunc(s, func(r rune) bool { return (r < '0' || r > '9') && r != '.' })
		if n <= 0 {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		number := s[:n]
		s = s[n:]
		u := strings.IndexFunc(s, func(r rune) bool { return (r >= '0' && r <= '9') || r == '.' })
		if u == -1 {
			u = len(s)
		}
		unit := s[:u]
		s = s[u:]

		var hoursPer float64
		switch unit {
		case "d":
			hoursPer = 24
		case "w":
			hoursPer = 7 * 24
		default:
			out.WriteString(number)
			out.WriteString(unit)
			continue
		}
		value, err := strconv.ParseFloat(number, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		out.WriteString(strconv.FormatFloat(value*hoursPer, 'f', -1, 64))
		out.WriteByte('h')
	}
	return time.ParseDuration(out.String())
}

// Duration is a time.Duration that decodes from YAML strings with day/week units.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("line %d: duration must be a string", node.Line)
	}
	parsed, err := parseDurationExtended(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}
