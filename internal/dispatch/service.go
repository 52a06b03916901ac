// Package dispatch delivers the merged record stream to a chat, coalescing
// bursts through a debounce.Debouncer.
package dispatch

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"logram/internal/debounce"
	"logram/internal/eventbus"
	"logram/internal/observability/metrics"
	"logram/internal/source"
	"logram/internal/storage"
	kit "logram/internal/transport"
	logx "logram/pkg/logx"
)

var ErrStopped = errors.New("dispatch stopped")

type Config struct {
	Target        kit.ChatTarget
	RatePerSec    float64
	Burst         int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
}

// DeliveryEvent is published on the bus after each send or edit.
type DeliveryEvent struct {
	Action    string        `json:"action"`
	Source    string        `json:"source,omitempty"`
	Title     string        `json:"title"`
	ChatID    int64         `json:"chat_id"`
	MessageID int           `json:"message_id,omitempty"`
	Took      time.Duration `json:"took"`
	Error     string        `json:"error,omitempty"`
}

// Service turns stream items into outbound messages.
//
// Records go through the debouncer: Decide under its lock, the network call
// with no lock held, then Commit only when the call succeeded. Per-event
// errors and Notify texts are sent as standalone messages.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	log    logx.Logger
	sender kit.Sender
	deb    *debounce.Debouncer
	bus    eventbus.Bus
	store  storage.Store

	stopped atomic.Bool
}

func New(cfg Config, sender kit.Sender, deb *debounce.Debouncer, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sender: sender,
		deb:    deb,
		log:    log.With(logx.Comp("dispatch")),
		bus:    bus,
		store:  store,
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 15 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
}

func (s *Service) snapshot() (Config, *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.limiter
}

// Run consumes in until it closes or ctx ends. It is the single dispatch worker.
func (s *Service) Run(ctx context.Context, in <-chan source.Result) error {
	s.log.Info("dispatch started")
	defer s.log.Info("dispatch stopped")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-in:
			if !ok {
				return nil
			}
			if err := s.Handle(ctx, r); err != nil && ctx.Err() == nil {
				s.log.Warn("delivery failed", logx.String("source", r.Source), logx.Err(err))
			}
		}
	}
}

// Handle delivers one stream item.
func (s *Service) Handle(ctx context.Context, r source.Result) error {
	if s.stopped.Load() {
		return ErrStopped
	}
	if r.IsErr() {
		s.publish(eventbus.TypeSourceError, r.Source, DeliveryEvent{Source: r.Source, Error: r.Err.Error()})
		_, err := s.send(ctx, r.Source, "Error", FormatError(r.Err))
		return err
	}

	rec := r.Record
	s.publish(eventbus.TypeRecordReceived, r.Source, rec)

	dec := s.deb.Decide(rec)
	if dec.Kind == debounce.AmendExisting && !fitsOneMessage(FormatAmend(dec.Title, dec.Lines)) {
		// The accumulated text has outgrown one message; start a new one.
		dec = debounce.Decision{Kind: debounce.SendNew, Record: rec, Title: rec.Title}
	}
	switch dec.Kind {
	case debounce.AmendExisting:
		if err := s.edit(ctx, r.Source, dec); err != nil {
			return err
		}
		s.deb.Commit(dec, dec.MessageID)
	default:
		ref, err := s.send(ctx, r.Source, rec.Title, FormatRecord(rec))
		if err != nil {
			return err
		}
		s.deb.Commit(dec, ref.MessageID)
	}
	return nil
}

func fitsOneMessage(text string) bool {
	return utf8.RuneCountInString(text) <= kit.MaxTextLen
}

// Notify sends text as a standalone message, bypassing the debouncer.
func (s *Service) Notify(ctx context.Context, title, text string) error {
	if s.stopped.Load() {
		return ErrStopped
	}
	_, err := s.send(ctx, "", title, text)
	return err
}

// Close makes further Handle and Notify calls fail with ErrStopped.
func (s *Service) Close() { s.stopped.Store(true) }

func (s *Service) send(ctx context.Context, src, title, text string) (kit.MessageRef, error) {
	cfg, _ := s.snapshot()
	var ref kit.MessageRef
	start := time.Now()
	err := s.deliver(ctx, func(c context.Context, opt *kit.SendOptions) error {
		var err error
		ref, err = s.sender.SendText(c, cfg.Target, text, opt)
		return err
	})
	s.record(ctx, metrics.ActionSend, src, title, cfg.Target.ChatID, ref.MessageID, 1, time.Since(start), err)
	return ref, err
}

func (s *Service) edit(ctx context.Context, src string, dec debounce.Decision) error {
	cfg, _ := s.snapshot()
	ref := kit.MessageRef{ChatID: cfg.Target.ChatID, ThreadID: cfg.Target.ThreadID, MessageID: dec.MessageID}
	text := FormatAmend(dec.Title, dec.Lines)
	start := time.Now()
	err := s.deliver(ctx, func(c context.Context, opt *kit.SendOptions) error {
		err := s.sender.EditText(c, ref, text, opt)
		if errors.Is(err, kit.ErrNotModified) {
			return nil
		}
		return err
	})
	s.record(ctx, metrics.ActionEdit, src, dec.Title, ref.ChatID, ref.MessageID, len(dec.Lines), time.Since(start), err)
	return err
}

// deliver runs call with rate limiting, a per-call timeout and retries.
// Text Telegram cannot parse as Markdown is resent once as plain text.
func (s *Service) deliver(ctx context.Context, call func(ctx context.Context, opt *kit.SendOptions) error) error {
	cfg, lim := s.snapshot()
	opt := &kit.SendOptions{ParseMode: kit.ParseModeMarkdown, DisablePreview: true}

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		cctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := call(cctx, opt)
		cancel()
		if errors.Is(err, kit.ErrBadMarkup) && opt.ParseMode != "" {
			s.log.Debug("markdown rejected; resending as plain text", logx.Err(err))
			opt = &kit.SendOptions{DisablePreview: true}
			if err = lim.Wait(ctx); err != nil {
				return err
			}
			cctx, cancel = context.WithTimeout(ctx, cfg.SendTimeout)
			err = call(cctx, opt)
			cancel()
		}
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, kit.ErrTooLong) {
			return err
		}
		s.log.Debug("send attempt failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if attempt >= attempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	return lastErr
}

func (s *Service) record(ctx context.Context, action, src, title string, chatID int64, msgID, lines int, took time.Duration, err error) {
	metrics.ObserveDispatch(action, took, err)

	ev := DeliveryEvent{Action: action, Source: src, Title: title, ChatID: chatID, MessageID: msgID, Took: took}
	typ := eventbus.TypeMessageSent
	if action == metrics.ActionEdit {
		typ = eventbus.TypeMessageEdited
	}
	if err != nil {
		ev.Error = err.Error()
		typ = eventbus.TypeDispatchFailed
	}
	s.publish(typ, src, ev)

	if s.store == nil || errors.Is(err, context.Canceled) {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 250*time.Millisecond)
	defer cancel()
	if serr := s.store.AppendDelivery(sctx, storage.DeliveryEntry{
		At:        time.Now(),
		Action:    action,
		Source:    src,
		Title:     title,
		ChatID:    chatID,
		MessageID: msgID,
		Lines:     lines,
		Error:     ev.Error,
		TookMS:    took.Milliseconds(),
	}); serr != nil {
		s.log.Debug("delivery history write failed", logx.Err(serr))
	}
}

func (s *Service) publish(typ, src string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Source: src, Data: data})
}

// retryDelay is base*2^(attempt-1), capped, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d < 0 {
		return 0
	}
	return min(d, cfg.RetryMaxDelay)
}
