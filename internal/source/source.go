package source

import (
	"context"
	"sync"
	"sync/atomic"

	"logram/internal/observability/metrics"
	logx "logram/pkg/logx"
)

// DefaultBuffer is the capacity of every source's output channel.
const DefaultBuffer = 10

// Source is a producer of Results.
//
// Construction performs initialization and reports its failure synchronously;
// Run starts the background worker and returns its output channel. Per-event
// failures travel inline as Result.Err and never end the stream. The channel is
// closed once ctx is canceled and the worker has exited.
type Source interface {
	Name() string
	Run(ctx context.Context) <-chan Result
}

// Emitter owns a source's bounded output channel.
//
// Emit never blocks: when the consumer falls behind, the item is dropped and logged.
type Emitter struct {
	name    string
	out     chan Result
	log     logx.Logger
	dropped atomic.Uint64
	once    sync.Once
}

func NewEmitter(name string, capacity int, log logx.Logger) *Emitter {
	if capacity <= 0 {
		capacity = DefaultBuffer
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Emitter{name: name, out: make(chan Result, capacity), log: log}
}

func (e *Emitter) C() <-chan Result { return e.out }

// Emit forwards r and reports whether it was accepted.
func (e *Emitter) Emit(r Result) bool {
	r.Source = e.name
	select {
	case e.out <- r:
		if r.Err != nil {
			metrics.IncSourceError(e.name)
		} else {
			metrics.IncSourceRecord(e.name)
		}
		return true
	default:
	}
	n := e.dropped.Add(1)
	metrics.IncSourceDropped(e.name)
	fields := []logx.Field{logx.String("source", e.name), logx.Uint64("dropped_total", n), logx.Int("chan_cap", cap(e.out))}
	if r.Err != nil {
		fields = append(fields, logx.Err(r.Err))
	} else {
		fields = append(fields, logx.String("title", r.Record.Title))
	}
	e.log.Warn("source channel full; item dropped", fields...)
	return false
}

func (e *Emitter) Record(r Record) bool { return e.Emit(Ok(r)) }
func (e *Emitter) Error(err error) bool { return e.Emit(Fail(err)) }

// Dropped returns how many items were discarded so far.
func (e *Emitter) Dropped() uint64 { return e.dropped.Load() }

// Close closes the output channel. Safe to call more than once.
func (e *Emitter) Close() { e.once.Do(func() { close(e.out) }) }
