package config

import (
	"reflect"
	"sort"
	"strings"

	logx "logram/pkg/logx"
)

// Sections applied without a restart.
var hotSections = map[string]bool{
	"debounce":      true,
	"dispatch":      true,
	"logging":       true,
	"heartbeat":     true,
	"observability": true,
}

// Change summarizes the difference between two configs.
type Change struct {
	// Sections lists changed top-level sections, sorted.
	Sections []string
	// Attrs is safe for logging; it never carries tokens.
	Attrs []logx.Field
}

// NeedsRestart reports whether any changed section is only read at startup.
func (c Change) NeedsRestart() []string {
	var out []string
	for _, s := range c.Sections {
		if !hotSections[s] {
			out = append(out, s)
		}
	}
	return out
}

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// Diff compares two configs. Nil is treated as an empty config.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, attrs ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Attrs = append(ch.Attrs, attrs...)
	}

	if oldCfg.Hello() != newCfg.Hello() {
		mark("hello_message", logx.Bool("hello_message", newCfg.Hello()))
	}
	if oldCfg.DebounceWindow() != newCfg.DebounceWindow() {
		mark("debounce", logx.Duration("debounce", newCfg.DebounceWindow()))
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.ChatID.String() != nt.ChatID.String() ||
		strings.TrimSpace(ot.Proxy) != strings.TrimSpace(nt.Proxy) || ot.PollTimeout != nt.PollTimeout {
		mark("telegram",
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.String("telegram.chat_id", nt.ChatID.String()),
			logx.Bool("telegram.proxy_set", strings.TrimSpace(nt.Proxy) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Sources, newCfg.Sources) {
		mark("sources", logx.Strings("sources.enabled", newCfg.Sources.EnabledNames()))
	}

	if od, nd := oldCfg.DispatchSettings(), newCfg.DispatchSettings(); !reflect.DeepEqual(od, nd) {
		mark("dispatch",
			logx.Any("dispatch.rate_per_sec", nd.RatePerSec),
			logx.Int("dispatch.burst", nd.Burst),
			logx.Int("dispatch.retry_max", *nd.RetryMax),
			logx.String("dispatch.send_timeout", nd.SendTimeout),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		nl := newCfg.Logging
		mark("logging",
			logx.String("logging.level", nl.Level),
			logx.Bool("logging.console", nl.Console),
			logx.Bool("logging.file_enabled", nl.File.Enabled),
			logx.Bool("logging.telegram_enabled", nl.Telegram.Enabled),
		)
	}

	var oldS, newS StorageConfig
	if oldCfg.Storage != nil {
		oldS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		newS = *newCfg.Storage
	}
	if oldS != newS {
		mark("storage",
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
		)
	}

	oo, no := oldCfg.Observability, newCfg.Observability
	if oo.Enabled != no.Enabled || oo.Addr != no.Addr || oo.AllowInsecure != no.AllowInsecure ||
		oo.PprofEnabled() != no.PprofEnabled() || oo.Token != no.Token ||
		oo.ReadTimeout != no.ReadTimeout || oo.WriteTimeout != no.WriteTimeout || oo.IdleTimeout != no.IdleTimeout {
		mark("observability",
			logx.Bool("observability.enabled", no.Enabled),
			logx.String("observability.addr", strings.TrimSpace(no.Addr)),
			logx.Bool("observability.token_set", strings.TrimSpace(no.Token) != ""),
			logx.Bool("observability.pprof", no.PprofEnabled()),
		)
	}

	if oldCfg.Heartbeat != newCfg.Heartbeat {
		nh := newCfg.Heartbeat
		mark("heartbeat",
			logx.Bool("heartbeat.enabled", nh.Enabled),
			logx.String("heartbeat.schedule", nh.ScheduleSpec()),
			logx.String("heartbeat.timezone", nh.Timezone),
		)
	}

	sort.Strings(ch.Sections)
	return ch
}

// EnabledNames lists enabled sources in startup order.
func (s SourcesConfig) EnabledNames() []string {
	var out []string
	if s.Counter.Enabled {
		out = append(out, "counter")
	}
	if s.Filesystem.Enabled {
		out = append(out, "filesystem")
	}
	if s.Journald.Enabled {
		out = append(out, "journald")
	}
	if s.Docker.Enabled {
		out = append(out, "docker")
	}
	return out
}
