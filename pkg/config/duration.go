package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sosodev/duration"
)

// ParseDuration accepts an ISO-8601 duration ("PT20M") or Go syntax ("20m")
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if strings.HasPrefix(strings.ToUpper(value), "P") {
		d, err := duration.Parse(strings.ToUpper(value))
		if err != nil {
			return 0, fmt.Errorf("invalid ISO-8601 duration %q: %w", value, err)
		}
		return d.ToTimeDuration(), nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	return d, nil
}

// requireDuration parses value and checks it against [min, max]. A zero max
// means no upper bound.
func requireDuration(field, value string, min, max time.Duration) *ValidationError {
	d, err := ParseDuration(value)
	if err != nil {
		return &ValidationError{Field: field, Message: err.Error()}
	}
	if max > 0 {
		return RequireDurationInRange(field, d, min, max)
	}
	if d < min {
		return &ValidationError{Field: field, Message: fmt.Sprintf("must be at least %v, got %v", min, d)}
	}
	return nil
}
