package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Validate checks cfg and returns every problem found, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	addf := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	_, err := ParseDurationField("debounce", cfg.Debounce)
	add(err)

	// Telegram
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		addf("telegram.token is required")
	}
	add(validateChatID(cfg.Telegram.ChatID.String()))
	if p := strings.TrimSpace(cfg.Telegram.Proxy); p != "" {
		if u, err := url.Parse(p); err != nil || u.Scheme == "" || u.Host == "" {
			addf("telegram.proxy: invalid URL %q", p)
		}
	}
	_, err = ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	add(err)

	// Sources
	src := cfg.Sources
	if src.Counter.Interval < 0 {
		addf("sources.counter.interval must be >= 0")
	}
	if src.Filesystem.Delay < 0 {
		addf("sources.filesystem.delay must be >= 0")
	}
	if src.Filesystem.Enabled && len(src.Filesystem.Entries) == 0 {
		addf("sources.filesystem.entries: at least one path is required")
	}
	for i, e := range src.Filesystem.Entries {
		if strings.TrimSpace(e) == "" {
			addf("sources.filesystem.entries[%d] is empty", i)
		}
	}
	if src.Journald.Enabled && len(src.Journald.Matches) == 0 {
		addf("sources.journald.matches: at least one match group is required")
	}
	for i, g := range src.Journald.Matches {
		if len(g.Filters) == 0 {
			addf("sources.journald.matches[%d].filters is empty", i)
		}
		for k := range g.Filters {
			if strings.TrimSpace(k) == "" {
				addf("sources.journald.matches[%d].filters has an empty field name", i)
			}
		}
	}
	switch src.Docker.TransportName() {
	case TransportLocal, TransportUnix, TransportHTTP:
	default:
		addf("sources.docker.transport: unknown transport %q (want local, unix or http)", src.Docker.Transport)
	}
	if src.Docker.Timeout < 0 {
		addf("sources.docker.timeout must be >= 0")
	}

	// Dispatch
	if d := cfg.Dispatch; d != nil {
		if d.RatePerSec < 0 {
			addf("dispatch.rate_per_sec must be >= 0")
		}
		if d.Burst < 0 {
			addf("dispatch.burst must be >= 0")
		}
		if d.RetryMax != nil && *d.RetryMax < 0 {
			addf("dispatch.retry_max must be >= 0")
		}
		for path, raw := range map[string]string{
			"dispatch.retry_base":      d.RetryBase,
			"dispatch.retry_max_delay": d.RetryMaxDelay,
			"dispatch.send_timeout":    d.SendTimeout,
		} {
			_, err := ParseDurationField(path, raw)
			add(err)
		}
	}

	// Logging
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		addf("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		addf("logging.file.path is required when logging.file.enabled")
	}

	// Storage
	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				addf("storage.path is required for driver %q", s.Driver)
			}
		default:
			addf("storage.driver: unknown driver %q", s.Driver)
		}
		_, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout)
		add(err)
	}

	// Observability
	o := cfg.Observability
	for path, raw := range map[string]string{
		"observability.read_timeout":  o.ReadTimeout,
		"observability.write_timeout": o.WriteTimeout,
		"observability.idle_timeout":  o.IdleTimeout,
	} {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	// Heartbeat
	if h := cfg.Heartbeat; h.Enabled {
		if _, err := cron.ParseStandard(h.ScheduleSpec()); err != nil {
			addf("heartbeat.schedule: %w", err)
		}
		if tz := strings.TrimSpace(h.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				addf("heartbeat.timezone: %w", err)
			}
		}
	}

	return errors.Join(errs...)
}

func validateChatID(raw string) error {
	s := strings.TrimSpace(raw)
	switch {
	case s == "":
		return errors.New("telegram.chat_id is required")
	case strings.HasPrefix(s, "@"):
		if len(s) < 2 {
			return fmt.Errorf("telegram.chat_id: invalid username %q", raw)
		}
		return nil
	}
	if _, err := strconv.ParseInt(s, 10, 64); err != nil {
		return fmt.Errorf("telegram.chat_id: want a numeric id or @username, got %q", raw)
	}
	return nil
}
