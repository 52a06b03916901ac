package heartbeat

import (
	"context"
	"strings"
	"testing"
	"time"

	"logram/internal/eventbus"
	logx "logram/pkg/logx"
)

func TestFormat(t *testing.T) {
	t.Parallel()
	got := Format("box", 90*time.Minute+1500*time.Millisecond, Counts{Records: 5, Sent: 2, Edited: 3})
	want := "*Logram at box is alive*\nUptime: 1h30m1s\nSince last heartbeat: 5 records, 0 source errors, 2 sent, 3 edited, 0 failed"
	if got != want {
		t.Fatalf("Format =\n%q\nwant\n%q", got, want)
	}
}

func TestCountsResetOnBeat(t *testing.T) {
	t.Parallel()
	var texts []string
	s := New(Config{}, nil, func(_ context.Context, title, text string) error {
		if title != Title {
			t.Errorf("title = %q", title)
		}
		texts = append(texts, text)
		return nil
	}, "box", logx.Nop())

	for _, typ := range []string{
		eventbus.TypeRecordReceived, eventbus.TypeRecordReceived,
		eventbus.TypeMessageSent, eventbus.TypeMessageEdited,
		eventbus.TypeDispatchFailed, eventbus.TypeSourceError,
	} {
		s.count(eventbus.Event{Type: typ})
	}

	s.beat(context.Background())
	s.beat(context.Background())

	if len(texts) != 2 {
		t.Fatalf("beats = %d", len(texts))
	}
	if !strings.Contains(texts[0], "2 records, 1 source errors, 1 sent, 1 edited, 1 failed") {
		t.Fatalf("first beat = %q", texts[0])
	}
	if !strings.Contains(texts[1], "0 records, 0 source errors, 0 sent, 0 edited, 0 failed") {
		t.Fatalf("second beat = %q", texts[1])
	}
}

func TestStartCountsBusEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	s := New(Config{}, bus, func(context.Context, string, string) error { return nil }, "box", logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.records.Load() == 0 {
		bus.Publish(eventbus.Event{Type: eventbus.TypeRecordReceived})
		if time.Now().After(deadline) {
			t.Fatal("bus events not counted")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestApplyRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, func(context.Context, string, string) error { return nil }, "box", logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Apply(Config{Enabled: true, Schedule: "not a cron"}); err == nil {
		t.Fatal("expected schedule error")
	}
	if err := s.Apply(Config{Enabled: true, Schedule: "@every 1h", Timezone: "UTC"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	s.Stop()
}
