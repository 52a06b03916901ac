package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNegativeDuration is wrapped by FieldError for values below zero.
var ErrNegativeDuration = errors.New("must not be negative")

// FieldError names the config key whose value could not be used.
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %q %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// ParseDurationField parses a Go duration string such as "750ms" or "1m30s"
// from the config key field. An empty value means unset and yields zero.
func ParseDurationField(field, raw string) (time.Duration, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	switch {
	case err != nil:
		return 0, &FieldError{Field: field, Value: raw, Err: err}
	case d < 0:
		return 0, &FieldError{Field: field, Value: raw, Err: ErrNegativeDuration}
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def standing in for an
// unset or zero value.
func ParseDurationOrDefault(field, raw string, def time.Duration) (time.Duration, error) {
	if d, err := ParseDurationField(field, raw); err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
