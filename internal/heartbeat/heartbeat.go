// Package heartbeat posts a periodic status message summarizing pipeline
// activity since the previous beat.
package heartbeat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"logram/internal/eventbus"
	logx "logram/pkg/logx"
)

const Title = "Heartbeat"

type Config struct {
	Enabled  bool
	Schedule string
	Timezone string
}

// NotifyFunc delivers the status text.
type NotifyFunc func(ctx context.Context, title, text string) error

// Counts are pipeline events seen since the previous beat.
type Counts struct {
	Records      uint64
	SourceErrors uint64
	Sent         uint64
	Edited       uint64
	Failed       uint64
}

type Service struct {
	mu     sync.Mutex
	cfg    Config
	c      *cron.Cron
	ctx    context.Context
	parser cron.Parser

	log      logx.Logger
	bus      eventbus.Bus
	notify   NotifyFunc
	hostname string
	started  time.Time

	records, sourceErrs, sent, edited, failed atomic.Uint64
}

func New(cfg Config, bus eventbus.Bus, notify NotifyFunc, hostname string, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		log:      log.With(logx.Comp("heartbeat")),
		bus:      bus,
		notify:   notify,
		hostname: hostname,
		started:  time.Now(),
	}
}

// Start counts bus events until ctx ends and schedules beats while enabled.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	err := s.startCronLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if s.bus != nil {
		events, unsub := s.bus.Subscribe(256)
		go func() {
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					s.count(e)
				}
			}
		}()
	}
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Apply replaces the schedule. It is safe to call while running.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg == s.cfg {
		return nil
	}
	s.cfg = cfg
	if s.ctx == nil {
		return nil
	}
	s.stopCronLocked()
	return s.startCronLocked()
}

func (s *Service) Stop() {
	s.mu.Lock()
	s.stopCronLocked()
	s.mu.Unlock()
}

func (s *Service) startCronLocked() error {
	if !s.cfg.Enabled || s.ctx == nil || s.ctx.Err() != nil {
		return nil
	}
	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("heartbeat timezone: %w", err)
		}
		loc = l
	}
	spec := strings.TrimSpace(s.cfg.Schedule)
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("heartbeat schedule %q: %w", spec, err)
	}
	ctx := s.ctx
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	c.Schedule(sched, cron.FuncJob(func() { s.beat(ctx) }))
	c.Start()
	s.c = c
	s.log.Info("heartbeat scheduled", logx.String("schedule", spec), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) stopCronLocked() {
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
}

func (s *Service) count(e eventbus.Event) {
	switch e.Type {
	case eventbus.TypeRecordReceived:
		s.records.Add(1)
	case eventbus.TypeSourceError:
		s.sourceErrs.Add(1)
	case eventbus.TypeMessageSent:
		s.sent.Add(1)
	case eventbus.TypeMessageEdited:
		s.edited.Add(1)
	case eventbus.TypeDispatchFailed:
		s.failed.Add(1)
	}
}

// take returns the counts and resets them.
func (s *Service) take() Counts {
	return Counts{
		Records:      s.records.Swap(0),
		SourceErrors: s.sourceErrs.Swap(0),
		Sent:         s.sent.Swap(0),
		Edited:       s.edited.Swap(0),
		Failed:       s.failed.Swap(0),
	}
}

func (s *Service) beat(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	text := Format(s.hostname, time.Since(s.started), s.take())
	if err := s.notify(ctx, Title, text); err != nil {
		s.log.Warn("heartbeat delivery failed", logx.Err(err))
	}
}

// Format renders the status message.
func Format(hostname string, uptime time.Duration, c Counts) string {
	return fmt.Sprintf("*Logram at %s is alive*\nUptime: %s\nSince last heartbeat: %d records, %d source errors, %d sent, %d edited, %d failed",
		hostname, uptime.Truncate(time.Second), c.Records, c.SourceErrors, c.Sent, c.Edited, c.Failed)
}
