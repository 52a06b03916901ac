package app

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logram/internal/config"
	"logram/internal/storage"
	kit "logram/internal/transport"
	logx "logram/pkg/logx"
)

func TestOpenSourcesCollectsInitErrors(t *testing.T) {
	initial := int64(7)
	cfg := config.SourcesConfig{
		Counter: config.CounterConfig{Enabled: true, Initial: &initial, Interval: 250},
		Filesystem: config.FilesystemConfig{
			Enabled: true,
			Entries: []string{filepath.Join(t.TempDir(), "missing.log")},
		},
	}

	srcs, infos, errs := OpenSources(cfg, logx.Nop())
	require.Len(t, srcs, 1)
	require.Len(t, infos, 1)
	require.Len(t, errs, 1)

	assert.Equal(t, "counter", srcs[0].Name())
	assert.Equal(t, "Counter", infos[0].Name)
	assert.Equal(t, "interval = 250ms, initial = 7", infos[0].Detail)
	assert.True(t, strings.HasPrefix(errs[0].Error(), "filesystem source: "), errs[0].Error())
}

func TestOpenSourcesNothingEnabled(t *testing.T) {
	srcs, infos, errs := OpenSources(config.SourcesConfig{}, logx.Nop())
	assert.Empty(t, srcs)
	assert.Empty(t, infos)
	assert.Empty(t, errs)
}

func TestMapDispatchConfigDefaults(t *testing.T) {
	target := kit.ChatTarget{ChatID: -100}
	d, err := mapDispatchConfig(&config.Config{}, target)
	require.NoError(t, err)
	assert.Equal(t, target, d.Target)
	assert.Equal(t, 1.0, d.RatePerSec)
	assert.Equal(t, 3, d.Burst)
	assert.Equal(t, 3, d.RetryMax)
	assert.Equal(t, time.Second, d.RetryBase)
	assert.Equal(t, 15*time.Second, d.RetryMaxDelay)
	assert.Equal(t, 15*time.Second, d.SendTimeout)

	_, err = mapDispatchConfig(&config.Config{Dispatch: &config.DispatchConfig{SendTimeout: "soon"}}, target)
	assert.Error(t, err)
}

func TestMapStorageConfig(t *testing.T) {
	_, enabled, err := mapStorageConfig(&config.Config{})
	require.NoError(t, err)
	assert.False(t, enabled)

	_, enabled, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: " None "}})
	require.NoError(t, err)
	assert.False(t, enabled)

	sc, enabled, err := mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "SQLite", Path: " ./db "}})
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, storage.DriverSQLite, sc.Driver)
	assert.Equal(t, "./db", sc.Path)
	assert.Equal(t, 5*time.Second, sc.BusyTimeout)
}

func TestMapServerConfig(t *testing.T) {
	sc, err := mapServerConfig(&config.Config{Observability: config.ObservabilityConfig{Enabled: true}})
	require.NoError(t, err)
	assert.Equal(t, config.DefaultObservabilityAddr, sc.Addr)
	assert.True(t, sc.Pprof)
	assert.Equal(t, 10*time.Second, sc.ReadTimeout)
	assert.Zero(t, sc.WriteTimeout)
	assert.Equal(t, time.Minute, sc.IdleTimeout)
}

func TestMapHeartbeatConfig(t *testing.T) {
	hc := mapHeartbeatConfig(&config.Config{Heartbeat: config.HeartbeatConfig{Enabled: true, Timezone: " UTC "}})
	assert.True(t, hc.Enabled)
	assert.Equal(t, config.DefaultHeartbeatSchedule, hc.Schedule)
	assert.Equal(t, "UTC", hc.Timezone)
}

func TestEchoLine(t *testing.T) {
	cases := []struct {
		msg  kit.Message
		want string
	}{
		{kit.Message{ChatID: 42, Kind: kit.ChatPrivate, Title: "alice"}, "The ID of chat with @alice: 42"},
		{kit.Message{ChatID: -5, Kind: kit.ChatGroup, Title: "ops"}, `The chat ID of group "ops": -5`},
		{kit.Message{ChatID: -1001, Kind: kit.ChatChannel, Title: "alerts"}, `The chat ID of channel "alerts": -1001`},
		{kit.Message{ChatID: 9, Kind: kit.ChatUnknown}, "I'm not entirely sure, but try this: 9"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, EchoLine(c.msg))
	}
}

func TestWriteDeliveries(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []storage.DeliveryEntry{
		{At: at, Action: storage.ActionEdit, Source: "journald", Title: "sshd", MessageID: 12, Lines: 3, TookMS: 120},
		{At: at, Action: storage.ActionSend, Source: "counter", Title: strings.Repeat("x", 80), Error: "telegram: flood"},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteDeliveries(&buf, entries))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "TIME"))
	assert.Contains(t, lines[1], "edit")
	assert.Contains(t, lines[1], "120ms")
	assert.Contains(t, lines[1], "ok")
	assert.Contains(t, lines[2], "telegram: flood")
	assert.NotContains(t, lines[2], strings.Repeat("x", 80))
}

func TestStopReasonFromSignal(t *testing.T) {
	assert.Equal(t, StopSIGINT, StopReasonFromSignal(os.Interrupt))
	assert.Equal(t, StopSIGTERM, StopReasonFromSignal(syscall.SIGTERM))
	assert.Equal(t, StopUnknown, StopReasonFromSignal(syscall.SIGHUP))
}
