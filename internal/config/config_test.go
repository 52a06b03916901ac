package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  chat_id: "-1001234"
sources:
  counter:
    enabled: true
    initial: 0
  filesystem:
    enabled: true
    delay: 250
    entries: [/var/log/app]
  journald:
    enabled: true
    matches:
      - title: nginx
        filters: { _SYSTEMD_UNIT: nginx.service }
  docker:
    enabled: false
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadAppliesDefaults(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.True(t, cfg.Hello())
	assert.Equal(t, DefaultDebounce, cfg.DebounceWindow())
	assert.Equal(t, int64(0), cfg.Sources.Counter.InitialValue())
	assert.Equal(t, 10*time.Second, cfg.Sources.Counter.IntervalDuration())
	assert.Equal(t, 250*time.Millisecond, cfg.Sources.Filesystem.DelayDuration())
	assert.Equal(t, TransportLocal, cfg.Sources.Docker.TransportName())
	assert.Equal(t, DefaultDockerAddr, cfg.Sources.Docker.Address())
	assert.Equal(t, 120*time.Second, cfg.Sources.Docker.TimeoutDuration())
	assert.Equal(t, []string{"counter", "filesystem", "journald"}, cfg.Sources.EnabledNames())

	d := cfg.DispatchSettings()
	assert.Equal(t, 1.0, d.RatePerSec)
	assert.Equal(t, 3, d.Burst)
	assert.Equal(t, 3, *d.RetryMax)
	assert.Equal(t, "15s", d.SendTimeout)
	assert.True(t, cfg.Observability.PprofEnabled())
	assert.Equal(t, DefaultHeartbeatSchedule, cfg.Heartbeat.ScheduleSpec())

	assert.Same(t, cfg, m.Get())
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	_, err := Decode("c.yaml", []byte(sampleYAML+"unknown_key: 1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown_key")
}

func TestDecodeJSON(t *testing.T) {
	cfg, err := Decode("c.json", []byte(`{"hello_message":false,"telegram":{"token":"t","chat_id":"@ops"}}`))
	require.NoError(t, err)
	assert.False(t, cfg.Hello())
	require.NoError(t, Validate(cfg))

	_, err = Decode("c.json", []byte(`{"telegram":{}} {}`))
	require.Error(t, err)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg, err := Decode("c.yaml", []byte(`
debounce: soon
telegram: { token: "", chat_id: "ops" }
sources:
  filesystem: { enabled: true }
  journald: { enabled: true, matches: [ { title: x, filters: {} } ] }
  docker: { transport: tcp }
storage: { driver: sqlite }
heartbeat: { enabled: true, schedule: "every day" }
`))
	require.NoError(t, err)

	err = Validate(cfg)
	require.Error(t, err)
	for _, want := range []string{
		"debounce",
		"telegram.token",
		"telegram.chat_id",
		"sources.filesystem.entries",
		"sources.journald.matches[0].filters",
		"sources.docker.transport",
		"storage.path",
		"heartbeat.schedule",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadFailsOnInvalid(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", "telegram: { token: x }\n"))
	_, err := m.Load()
	require.Error(t, err)
	assert.Nil(t, m.Get())
}

func TestDiff(t *testing.T) {
	a, err := Decode("a.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	b, err := Decode("b.yaml", []byte(strings.Replace(sampleYAML, `token: "123:abc"`, `token: "456:def"`, 1)+"debounce: 2s\n"))
	require.NoError(t, err)

	ch := Diff(a, b)
	assert.Equal(t, []string{"debounce", "telegram"}, ch.Sections)
	assert.Equal(t, []string{"telegram"}, ch.NeedsRestart())
	assert.True(t, ch.Has("debounce"))
	for _, f := range ch.Attrs {
		assert.NotNil(t, f)
	}

	assert.Empty(t, Diff(a, a).Sections)
}

func TestWatchPublishesValidChanges(t *testing.T) {
	path := writeConfig(t, "config.yaml", sampleYAML)
	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)

	// An invalid file is never published.
	require.NoError(t, os.WriteFile(path, []byte("telegram: { token: x }\n"), 0o600))
	select {
	case cfg := <-sub:
		t.Fatalf("invalid config published: %+v", cfg)
	case <-time.After(600 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(path, []byte(sampleYAML+"debounce: 1s\n"), 0o600))
	select {
	case cfg := <-sub:
		assert.Equal(t, time.Second, cfg.DebounceWindow())
		assert.Same(t, cfg, m.Get())
	case <-time.After(3 * time.Second):
		t.Fatal("no config published")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestParseDurationField(t *testing.T) {
	d, err := ParseDurationField("x", " 1m ")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	d, err = ParseDurationOrDefault("x", "", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	d, err = ParseDurationOrDefault("debounce", "0s", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	_, err = ParseDurationField("debounce", "-1s")
	assert.ErrorIs(t, err, ErrNegativeDuration)
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "debounce", fe.Field)

	_, err = ParseDurationOrDefault("telegram.poll_timeout", "soon", time.Second)
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "telegram.poll_timeout", fe.Field)
	assert.Contains(t, err.Error(), `telegram.poll_timeout: "soon"`)
}

func TestChatIDNumberOrString(t *testing.T) {
	cfg, err := Decode("c.yaml", []byte("telegram: { token: t, chat_id: -1001234 }\n"))
	require.NoError(t, err)
	assert.Equal(t, "-1001234", cfg.Telegram.ChatID.String())

	cfg, err = Decode("c.yaml", []byte("telegram: { token: t, chat_id: \"@ops\" }\n"))
	require.NoError(t, err)
	assert.Equal(t, "@ops", cfg.Telegram.ChatID.String())

	_, err = Decode("c.json", []byte(`{"telegram":{"chat_id":[1]}}`))
	assert.Error(t, err)
}

func TestExampleConfigIsValid(t *testing.T) {
	m := NewManager(filepath.Join("..", "..", "config.example.yaml"))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "-1001234567890", cfg.Telegram.ChatID.String())
	assert.Equal(t, []string{"filesystem", "journald"}, cfg.Sources.EnabledNames())
}
