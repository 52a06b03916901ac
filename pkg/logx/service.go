package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"gopkg.in/natefinch/lumberjack.v2"

	kit "logram/internal/transport"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

// FileConfig configures the rotating JSON file sink.
type FileConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// TelegramConfig configures forwarding of process logs to the notification chat.
type TelegramConfig struct {
	Enabled    bool
	MinLevel   string
	RatePerSec int
	// Blacklist holds component name prefixes that are never forwarded.
	Blacklist []string
}

// Sender is the subset of the transport used by the Telegram sink.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// DefaultBlacklist keeps the transport from logging about itself into the chat it is failing to reach.
var DefaultBlacklist = []string{"telegram"}

type Service struct {
	mu  sync.Mutex
	cfg Config

	root atomic.Value // stores zerolog.Logger

	file *lumberjack.Logger

	sender   Sender
	tgQueue  chan telegramItem
	tgOnce   sync.Once
	tgCancel context.CancelFunc
	tgWG     sync.WaitGroup

	// guarded by mu
	target    kit.ChatTarget
	limiter   *rate.Limiter
	minLevel  zerolog.Level
	blacklist []string
}

type telegramItem struct {
	to  kit.ChatTarget
	msg string
}

// New creates the logging service, applies cfg immediately,
// and returns both the Service and a root Logger.
func New(cfg Config, sender Sender) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = consoleTimeFormat

	s := &Service{
		sender:  sender,
		tgQueue: make(chan telegramItem, 128),
	}
	s.root.Store(zerolog.New(newConsoleWriter(Stderr())).
		Level(ParseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger())
	s.Apply(cfg)

	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	zl, ok := s.root.Load().(zerolog.Logger)
	if !ok {
		return zerolog.Nop()
	}
	return zl
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// SetTelegramTarget sets the chat that receives forwarded log lines.
// A zero ChatID disables forwarding without touching the rest of the config.
func (s *Service) SetTelegramTarget(to kit.ChatTarget) {
	s.mu.Lock()
	s.target = to
	s.mu.Unlock()
}

func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	cancel := s.tgCancel
	s.tgCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.tgWG.Wait()
	}
	if f != nil {
		return f.Close()
	}
	return nil
}

// Apply swaps logger outputs and levels at runtime.
// It is safe to call concurrently.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	s.minLevel = ParseLevel(cfg.Telegram.MinLevel, zerolog.WarnLevel)
	rps := cfg.Telegram.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	s.blacklist = append(append([]string(nil), DefaultBlacklist...), cfg.Telegram.Blacklist...)

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	writers := make([]io.Writer, 0, 3)
	if cfg.Console {
		writers = append(writers, newConsoleWriter(Stderr()))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "./logram.log"
		}
		s.file = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    orDefault(cfg.File.MaxSizeMB, 20),
			MaxBackups: orDefault(cfg.File.MaxBackups, 5),
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		}
		writers = append(writers, zerolog.SyncWriter(s.file))
	}
	if cfg.Telegram.Enabled {
		s.tgOnce.Do(func() {
			ctx, cancel := context.WithCancel(context.Background())
			s.tgCancel = cancel
			s.tgWG.Add(1)
			go func() {
				defer s.tgWG.Done()
				s.telegramWorker(ctx)
			}()
		})
		writers = append(writers, &telegramWriter{svc: s})
	}
	if len(writers) == 0 {
		writers = append(writers, newConsoleWriter(Stderr()))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(zl)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func (s *Service) telegramWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-s.tgQueue:
			if s.sender == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, 15*time.Second)
			_, err := s.sender.SendText(sctx, it.to, it.msg, &kit.SendOptions{ParseMode: kit.ParseModeHTML, DisablePreview: true})
			cancel()
			if err != nil {
				// Never log through ourselves here.
				fmt.Fprintf(os.Stderr, "logx: telegram sink send failed: %v\n", err)
			}
		}
	}
}

// ---- Telegram writer (zerolog sink) ----

type telegramWriter struct{ svc *Service }

func (w *telegramWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *telegramWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s := w.svc
	s.mu.Lock()
	to := s.target
	lim := s.limiter
	minLevel := s.minLevel
	blacklist := s.blacklist
	s.mu.Unlock()

	if to.ChatID == 0 || s.sender == nil || level < minLevel {
		return len(p), nil
	}
	msg, comp := formatTelegramHTML(level, p)
	if msg == "" || blacklisted(comp, blacklist) {
		return len(p), nil
	}
	if lim != nil && !lim.Allow() {
		return len(p), nil
	}

	select {
	case s.tgQueue <- telegramItem{to: to, msg: msg}:
	default:
		// drop; never block core logging
	}
	return len(p), nil
}

func blacklisted(comp string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(comp, p) {
			return true
		}
	}
	return false
}

func decodeLogLine(p []byte) map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(p))), &m); err != nil {
		return nil
	}
	return m
}

// formatTelegramHTML renders a zerolog JSON line as <b>LEVEL::comp</b><pre>message k=v</pre>
// and also returns the component the line was tagged with.
func formatTelegramHTML(level zerolog.Level, p []byte) (string, string) {
	m := decodeLogLine(p)
	if m == nil {
		s := strings.TrimSpace(string(p))
		if s == "" {
			return "", ""
		}
		return "<pre>" + html.EscapeString(truncate(s, 3500)) + "</pre>", ""
	}

	comp, _ := m[CompKey].(string)
	msg, _ := m[zerolog.MessageFieldName].(string)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName, CompKey, zerolog.CallerFieldName:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var body strings.Builder
	body.WriteString(msg)
	for _, k := range keys {
		body.WriteString("\n")
		body.WriteString(k)
		body.WriteString("=")
		body.WriteString(truncate(fmt.Sprint(m[k]), 600))
	}

	target := comp
	if target == "" {
		target = "logram"
	}
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(strings.ToUpper(level.String()))
	b.WriteString("::")
	b.WriteString(html.EscapeString(target))
	b.WriteString("</b><pre>")
	b.WriteString(html.EscapeString(truncate(body.String(), 3500)))
	b.WriteString("</pre>")
	return b.String(), comp
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
