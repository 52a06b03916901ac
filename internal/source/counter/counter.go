// Package counter is a synthetic log source that emits a numbered record on a fixed interval.
package counter

import (
	"context"
	"fmt"
	"time"

	"logram/internal/source"
	logx "logram/pkg/logx"
)

const (
	Name  = "counter"
	Title = "Counter log source"

	DefaultInitial  int64 = 1
	DefaultInterval       = 10 * time.Second
)

type Config struct {
	Initial  int64
	Interval time.Duration
}

type Source struct {
	n     int64
	every time.Duration
	log   logx.Logger
}

func New(cfg Config, log logx.Logger) (*Source, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Source{n: cfg.Initial, every: cfg.Interval, log: log.With(logx.Comp(Name))}, nil
}

func (s *Source) Name() string { return Name }

func (s *Source) Run(ctx context.Context) <-chan source.Result {
	em := source.NewEmitter(Name, source.DefaultBuffer, s.log)
	go func() {
		defer em.Close()
		t := time.NewTimer(0)
		defer t.Stop()
		n := s.n
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			em.Record(source.Record{Title: Title, Body: fmt.Sprintf("It's %d record", n)})
			n++
			t.Reset(s.every)
		}
	}()
	return em.C()
}
