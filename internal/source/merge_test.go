package source

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	logx "logram/pkg/logx"
)

func TestMergeZeroInputsIsIdle(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	out := Merge(ctx)

	select {
	case r, ok := <-out:
		t.Fatalf("unexpected item from empty merge: %+v ok=%v", r, ok)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("expected closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("empty merge did not close after cancel")
	}
}

func TestMergeInterleavesAndCloses(t *testing.T) {
	t.Parallel()
	a := make(chan Result, 2)
	b := make(chan Result, 2)
	a <- Ok(Record{Title: "a", Body: "1"})
	a <- Ok(Record{Title: "a", Body: "2"})
	b <- Fail(errors.New("b failed"))
	close(a)
	close(b)

	var got []string
	for r := range Merge(context.Background(), a, b) {
		if r.IsErr() {
			got = append(got, "err:"+r.Err.Error())
			continue
		}
		got = append(got, r.Record.Title+r.Record.Body)
	}
	sort.Strings(got)
	want := []string{"a1", "a2", "err:b failed"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestMergePreservesPerInputOrder(t *testing.T) {
	t.Parallel()
	in := make(chan Result, 5)
	for i := 0; i < 5; i++ {
		in <- Ok(Record{Title: "t", Body: string(rune('0' + i))})
	}
	close(in)

	i := 0
	for r := range Merge(context.Background(), in) {
		if want := string(rune('0' + i)); r.Record.Body != want {
			t.Fatalf("item %d body = %q, want %q", i, r.Record.Body, want)
		}
		i++
	}
	if i != 5 {
		t.Fatalf("got %d items, want 5", i)
	}
}

func TestEmitterDropsWhenFull(t *testing.T) {
	t.Parallel()
	em := NewEmitter("test", 1, logx.Nop())
	if !em.Record(Record{Title: "first"}) {
		t.Fatal("first emit should be accepted")
	}
	if em.Record(Record{Title: "second"}) {
		t.Fatal("second emit should be dropped")
	}
	if em.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", em.Dropped())
	}
	r := <-em.C()
	if r.Source != "test" || r.Record.Title != "first" {
		t.Fatalf("unexpected item %+v", r)
	}
	em.Close()
	em.Close()
	if _, ok := <-em.C(); ok {
		t.Fatal("expected closed channel")
	}
}

type stubSource struct {
	name  string
	items []Result
}

func (s stubSource) Name() string { return s.name }

func (s stubSource) Run(ctx context.Context) <-chan Result {
	ch := make(chan Result, len(s.items))
	for _, it := range s.items {
		ch <- it
	}
	close(ch)
	return ch
}

func TestStartSkipsNilSources(t *testing.T) {
	t.Parallel()
	src := stubSource{name: "stub", items: []Result{Ok(Record{Title: "x"})}}
	n := 0
	for range Start(context.Background(), src, nil) {
		n++
	}
	if n != 1 {
		t.Fatalf("got %d items, want 1", n)
	}
}
