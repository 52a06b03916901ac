//go:build linux && cgo

package journald

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/coreos/go-systemd/v22/sdjournal"

	"logram/internal/source"
	logx "logram/pkg/logx"
)

// waitSlice bounds each journal wait so cancellation is observed.
const waitSlice = time.Second

type Source struct {
	groups []MatchGroup
	log    logx.Logger

	start chan runRequest
	done  chan struct{}
}

type runRequest struct {
	ctx context.Context
	em  *source.Emitter
}

// New opens the journal on a dedicated OS thread, installs the match groups
// and seeks past the current tail. The handle never leaves that thread.
func New(cfg Config, log logx.Logger) (*Source, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &Source{
		groups: cfg.Matches,
		log:    log.With(logx.Comp(Name)),
		start:  make(chan runRequest, 1),
		done:   make(chan struct{}),
	}
	initErr := make(chan error, 1)
	go s.own(initErr)
	if err := <-initErr; err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Source) Name() string { return Name }

func (s *Source) Run(ctx context.Context) <-chan source.Result {
	em := source.NewEmitter(Name, source.DefaultBuffer, s.log)
	s.start <- runRequest{ctx: ctx, em: em}
	return em.C()
}

// Close releases the journal when Run was never called.
func (s *Source) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *Source) own(initErr chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	j, err := s.open()
	if err != nil {
		initErr <- err
		return
	}
	defer j.Close()
	initErr <- nil

	var req runRequest
	select {
	case req = <-s.start:
	case <-s.done:
		return
	}
	defer req.em.Close()
	s.read(req.ctx, j, req.em)
}

func (s *Source) open() (*sdjournal.Journal, error) {
	j, err := sdjournal.NewJournal()
	if err != nil {
		return nil, fmt.Errorf("journald: open: %w", err)
	}
	for i, g := range s.groups {
		if i > 0 {
			if err := j.AddDisjunction(); err != nil {
				_ = j.Close()
				return nil, fmt.Errorf("journald: add disjunction: %w", err)
			}
		}
		for _, m := range matchExprs(g) {
			if err := j.AddMatch(m); err != nil {
				_ = j.Close()
				return nil, fmt.Errorf("journald: add match %q: %w", m, err)
			}
		}
	}
	if err := j.SeekTail(); err != nil {
		_ = j.Close()
		return nil, fmt.Errorf("journald: seek tail: %w", err)
	}
	// Step onto the last existing entry so Next yields only new ones.
	if _, err := j.Previous(); err != nil {
		_ = j.Close()
		return nil, fmt.Errorf("journald: seek tail: %w", err)
	}
	return j, nil
}

func (s *Source) read(ctx context.Context, j *sdjournal.Journal, em *source.Emitter) {
	r := retry{base: waitSlice}
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := j.Next()
		if err != nil {
			report, wait := r.fail()
			if report {
				em.Error(fmt.Errorf("journald: next: %w", err))
			} else {
				s.log.Debug("journal still failing", logx.Err(err), logx.Duration("retry_in", wait))
			}
			if !sleepCtx(ctx, wait) {
				return
			}
			continue
		}
		if r.ok() {
			s.log.Info("journal reads recovered")
		}
		if n == 0 {
			if r := j.Wait(waitSlice); r < 0 {
				s.log.Debug("journal wait failed", logx.Int("code", r))
				if !sleepCtx(ctx, waitSlice) {
					return
				}
			}
			continue
		}
		entry, err := j.GetEntry()
		if err != nil {
			em.Error(fmt.Errorf("journald: read entry: %w", err))
			continue
		}
		title, ok := resolveTitle(s.groups, entry.Fields)
		if !ok {
			s.log.Trace("journal entry matched no group", logx.String("cursor", entry.Cursor))
			continue
		}
		em.Record(source.Record{Title: title, Body: messageOf(entry.Fields)})
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
