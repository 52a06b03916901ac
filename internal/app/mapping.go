package app

import (
	"strings"
	"time"

	"logram/internal/config"
	"logram/internal/dispatch"
	"logram/internal/heartbeat"
	"logram/internal/observability/server"
	"logram/internal/storage"
	kit "logram/internal/transport"
	logx "logram/pkg/logx"
)

func mapDispatchConfig(cfg *config.Config, target kit.ChatTarget) (dispatch.Config, error) {
	d := cfg.DispatchSettings()
	base, err := config.ParseDurationField("dispatch.retry_base", d.RetryBase)
	if err != nil {
		return dispatch.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("dispatch.retry_max_delay", d.RetryMaxDelay)
	if err != nil {
		return dispatch.Config{}, err
	}
	timeout, err := config.ParseDurationField("dispatch.send_timeout", d.SendTimeout)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		Target:        target,
		RatePerSec:    d.RatePerSec,
		Burst:         d.Burst,
		RetryMax:      *d.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		SendTimeout:   timeout,
	}, nil
}

// mapStorageConfig returns enabled=false when no driver is configured.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == storage.DriverNone {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
		MaxEntries:  sc.MaxEntries,
	}, true, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled:    l.File.Enabled,
			Path:       l.File.Path,
			MaxSizeMB:  l.File.MaxSizeMB,
			MaxBackups: l.File.MaxBackups,
			MaxAgeDays: l.File.MaxAgeDays,
			Compress:   l.File.Compress,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
			Blacklist:  l.Telegram.Blacklist,
		},
	}
}

func mapServerConfig(cfg *config.Config) (server.Config, error) {
	o := cfg.Observability
	read, err := config.ParseDurationOrDefault("observability.read_timeout", o.ReadTimeout, 10*time.Second)
	if err != nil {
		return server.Config{}, err
	}
	// pprof /profile streams for 30s by default, so no write timeout unless set.
	write, err := config.ParseDurationField("observability.write_timeout", o.WriteTimeout)
	if err != nil {
		return server.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("observability.idle_timeout", o.IdleTimeout, time.Minute)
	if err != nil {
		return server.Config{}, err
	}
	addr := strings.TrimSpace(o.Addr)
	if addr == "" {
		addr = config.DefaultObservabilityAddr
	}
	return server.Config{
		Enabled:       o.Enabled,
		Addr:          addr,
		Token:         strings.TrimSpace(o.Token),
		AllowInsecure: o.AllowInsecure,
		Pprof:         o.PprofEnabled(),
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

func mapHeartbeatConfig(cfg *config.Config) heartbeat.Config {
	h := cfg.Heartbeat
	return heartbeat.Config{
		Enabled:  h.Enabled,
		Schedule: h.ScheduleSpec(),
		Timezone: strings.TrimSpace(h.Timezone),
	}
}
