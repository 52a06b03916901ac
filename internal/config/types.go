package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Config is the root of the YAML (or JSON) config file.
//
// Millisecond and second integer fields keep the units of older logram
// configs. Newer sections use Go duration strings ("500ms", "10s", "1m").
type Config struct {
	// HelloMessage is a pointer so an omitted key means true.
	HelloMessage *bool `json:"hello_message,omitempty"`
	// Debounce is the window in which records with the same title are
	// merged into one message. Default "5s".
	Debounce string `json:"debounce,omitempty"`

	Telegram TelegramConfig `json:"telegram"`
	Sources  SourcesConfig  `json:"sources"`

	Dispatch      *DispatchConfig     `json:"dispatch,omitempty"`
	Logging       LoggingConfig       `json:"logging"`
	Storage       *StorageConfig      `json:"storage,omitempty"`
	Observability ObservabilityConfig `json:"observability"`
	Heartbeat     HeartbeatConfig     `json:"heartbeat"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// ChatID is a numeric chat id ("-100...") or a public "@username".
	ChatID ChatRef `json:"chat_id"`
	// Proxy is an optional http(s)/socks5 URL.
	Proxy       string `json:"proxy,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// ChatRef accepts both a bare number and a string in the config file.
type ChatRef string

func (c *ChatRef) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*c = ChatRef(n.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("chat_id: want a number or a string: %w", err)
	}
	*c = ChatRef(s)
	return nil
}

func (c ChatRef) String() string { return strings.TrimSpace(string(c)) }

type SourcesConfig struct {
	Counter    CounterConfig    `json:"counter"`
	Filesystem FilesystemConfig `json:"filesystem"`
	Journald   JournaldConfig   `json:"journald"`
	Docker     DockerConfig     `json:"docker"`
}

type CounterConfig struct {
	Enabled bool `json:"enabled"`
	// Initial is a pointer because 0 is a valid first value. Default 1.
	Initial *int64 `json:"initial,omitempty"`
	// Interval in milliseconds. Default 10000.
	Interval int64 `json:"interval,omitempty"`
}

type FilesystemConfig struct {
	Enabled bool `json:"enabled"`
	// Delay in milliseconds. Default 1000.
	Delay   int64    `json:"delay,omitempty"`
	Entries []string `json:"entries"`
}

type JournaldConfig struct {
	Enabled bool         `json:"enabled"`
	Matches []MatchGroup `json:"matches"`
}

// MatchGroup titles journal entries whose fields equal every filter value.
type MatchGroup struct {
	Title   string            `json:"title"`
	Filters map[string]string `json:"filters"`
}

type DockerConfig struct {
	Enabled bool `json:"enabled"`
	// Transport is one of local, unix, http. Default local.
	Transport string `json:"transport,omitempty"`
	Addr      string `json:"addr,omitempty"`
	// Timeout in seconds for daemon requests. Default 120.
	Timeout int64 `json:"timeout,omitempty"`
}

// DispatchConfig controls delivery to Telegram.
//
// Defaults: rate_per_sec 1, burst 3, retry_max 3, retry_base "1s",
// retry_max_delay "15s", send_timeout "15s".
type DispatchConfig struct {
	RatePerSec    float64 `json:"rate_per_sec,omitempty"`
	Burst         int     `json:"burst,omitempty"`
	RetryMax      *int    `json:"retry_max,omitempty"`
	RetryBase     string  `json:"retry_base,omitempty"`
	RetryMaxDelay string  `json:"retry_max_delay,omitempty"`
	SendTimeout   string  `json:"send_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// LoggingTelegram forwards process logs to telegram.chat_id.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
	// Blacklist holds component prefixes that are never forwarded.
	Blacklist []string `json:"blacklist,omitempty"`
}

// StorageConfig controls delivery history.
//
// Example:
//
//	storage: { driver: file, path: ./logram_store }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	MaxEntries  int    `json:"max_entries,omitempty"`
}

// ObservabilityConfig controls the HTTP server exposing /metrics, /healthz
// and optionally pprof.
//
// Prefer a loopback Addr. A non-loopback Addr needs a token or allow_insecure.
type ObservabilityConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default 127.0.0.1:9310
	Token         string `json:"token,omitempty"` // bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	// Pprof mounts /debug/pprof/. Default true.
	Pprof *bool `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// HeartbeatConfig sends a periodic status message.
type HeartbeatConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a standard 5-field cron expression. Default "0 9 * * *".
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}
