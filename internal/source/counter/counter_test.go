package counter

import (
	"context"
	"testing"
	"time"

	"logram/internal/source"
	logx "logram/pkg/logx"
)

func TestCounterSequence(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := New(Config{Initial: 42, Interval: time.Millisecond}, logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	out := s.Run(ctx)

	want := []source.Record{
		{Title: Title, Body: "It's 42 record"},
		{Title: Title, Body: "It's 43 record"},
		{Title: Title, Body: "It's 44 record"},
	}
	for i, w := range want {
		select {
		case r := <-out:
			if r.IsErr() {
				t.Fatalf("item %d: unexpected error %v", i, r.Err)
			}
			if r.Record != w {
				t.Fatalf("item %d = %+v, want %+v", i, r.Record, w)
			}
			if r.Source != Name {
				t.Fatalf("item %d source = %q, want %q", i, r.Source, Name)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for item %d", i)
		}
	}
}

func TestCounterClosesOnCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	s, _ := New(Config{Initial: 1, Interval: time.Hour}, logx.Nop())
	out := s.Run(ctx)
	<-out
	cancel()

	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("expected closed channel after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestCounterDefaults(t *testing.T) {
	t.Parallel()
	s, err := New(Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if s.every != DefaultInterval {
		t.Fatalf("interval = %v, want %v", s.every, DefaultInterval)
	}
}
