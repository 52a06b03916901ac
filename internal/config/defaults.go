package config

import (
	"strings"
	"time"
)

const (
	DefaultDebounce          = 5 * time.Second
	DefaultPollTimeout       = 10 * time.Second
	DefaultCounterInitial    = int64(1)
	DefaultCounterIntervalMS = int64(10_000)
	DefaultFilesystemDelayMS = int64(1_000)
	DefaultDockerTransport   = "local"
	DefaultDockerAddr        = "unix:///var/run/docker.sock"
	DefaultDockerTimeoutSec  = int64(120)
	DefaultObservabilityAddr = "127.0.0.1:9310"
	DefaultHeartbeatSchedule = "0 9 * * *"
)

// Docker transports.
const (
	TransportLocal = "local"
	TransportUnix  = "unix"
	TransportHTTP  = "http"
)

// Hello reports whether the startup message is enabled.
func (c *Config) Hello() bool {
	return c.HelloMessage == nil || *c.HelloMessage
}

// DebounceWindow returns the configured window or DefaultDebounce.
// Invalid values were rejected by Validate.
func (c *Config) DebounceWindow() time.Duration {
	d, err := ParseDurationOrDefault("debounce", c.Debounce, DefaultDebounce)
	if err != nil {
		return DefaultDebounce
	}
	return d
}

func (c CounterConfig) InitialValue() int64 {
	if c.Initial == nil {
		return DefaultCounterInitial
	}
	return *c.Initial
}

func (c CounterConfig) IntervalDuration() time.Duration {
	return msOrDefault(c.Interval, DefaultCounterIntervalMS)
}

func (c FilesystemConfig) DelayDuration() time.Duration {
	return msOrDefault(c.Delay, DefaultFilesystemDelayMS)
}

func (c DockerConfig) TransportName() string {
	t := strings.ToLower(strings.TrimSpace(c.Transport))
	if t == "" {
		return DefaultDockerTransport
	}
	return t
}

func (c DockerConfig) Address() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return DefaultDockerAddr
}

func (c DockerConfig) TimeoutDuration() time.Duration {
	if c.Timeout <= 0 {
		return time.Duration(DefaultDockerTimeoutSec) * time.Second
	}
	return time.Duration(c.Timeout) * time.Second
}

// DispatchSettings returns the dispatch section with defaults filled in.
func (c *Config) DispatchSettings() DispatchConfig {
	out := DispatchConfig{}
	if c.Dispatch != nil {
		out = *c.Dispatch
	}
	if out.RatePerSec <= 0 {
		out.RatePerSec = 1
	}
	if out.Burst <= 0 {
		out.Burst = 3
	}
	if out.RetryMax == nil {
		n := 3
		out.RetryMax = &n
	}
	if strings.TrimSpace(out.RetryBase) == "" {
		out.RetryBase = "1s"
	}
	if strings.TrimSpace(out.RetryMaxDelay) == "" {
		out.RetryMaxDelay = "15s"
	}
	if strings.TrimSpace(out.SendTimeout) == "" {
		out.SendTimeout = "15s"
	}
	return out
}

func (c ObservabilityConfig) PprofEnabled() bool {
	return c.Pprof == nil || *c.Pprof
}

func (c HeartbeatConfig) ScheduleSpec() string {
	if s := strings.TrimSpace(c.Schedule); s != "" {
		return s
	}
	return DefaultHeartbeatSchedule
}

func msOrDefault(ms, def int64) time.Duration {
	if ms <= 0 {
		ms = def
	}
	return time.Duration(ms) * time.Millisecond
}
