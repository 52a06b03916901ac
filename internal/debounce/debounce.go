// Package debounce coalesces bursts of same-title records into one editable
// outbound message.
//
// A single slot tracks the most recently sent message. A record whose title
// matches the slot and arrives within the timeout amends that message;
// anything else starts a new one and replaces the slot once it is delivered.
package debounce

import (
	"slices"
	"sync"
	"time"

	"logram/internal/source"
)

type Kind int

const (
	SendNew Kind = iota
	AmendExisting
)

func (k Kind) String() string {
	switch k {
	case SendNew:
		return "send_new"
	case AmendExisting:
		return "amend_existing"
	default:
		return "unknown"
	}
}

// Decision tells the dispatcher what to do with a record.
//
// For SendNew only Record is meaningful. For AmendExisting, MessageID is the
// message to edit and Lines is its full accumulated body including Record's.
type Decision struct {
	Kind      Kind
	Record    source.Record
	MessageID int
	Title     string
	Lines     []string
}

type slot struct {
	id     int
	sentAt time.Time
	title  string
	lines  []string
}

type Debouncer struct {
	now func() time.Time

	mu      sync.Mutex
	timeout time.Duration
	last    *slot
}

type Option func(*Debouncer)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Debouncer) {
		if now != nil {
			d.now = now
		}
	}
}

func New(timeout time.Duration, opts ...Option) *Debouncer {
	d := &Debouncer{timeout: timeout, now: time.Now}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Debouncer) Timeout() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timeout
}

// SetTimeout changes the window for subsequent decisions. The open slot is kept.
func (d *Debouncer) SetTimeout(timeout time.Duration) {
	d.mu.Lock()
	d.timeout = timeout
	d.mu.Unlock()
}

// Decide does not mutate state; call Commit after the outbound call succeeds.
func (d *Debouncer) Decide(r source.Record) Decision {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.matches(r) {
		lines := slices.Clone(d.last.lines)
		if r.HasBody() {
			lines = append(lines, r.Body)
		}
		return Decision{
			Kind:      AmendExisting,
			Record:    r,
			MessageID: d.last.id,
			Title:     r.Title,
			Lines:     lines,
		}
	}
	return Decision{Kind: SendNew, Record: r, Title: r.Title}
}

// Commit records that dec was delivered as message id. The slot takes the
// decision as made: an amend keeps every line that was sent, even if the
// call took longer than the timeout.
func (d *Debouncer) Commit(dec Decision, id int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := &slot{id: id, sentAt: d.now(), title: dec.Record.Title}
	switch dec.Kind {
	case AmendExisting:
		s.lines = slices.Clone(dec.Lines)
	default:
		if dec.Record.HasBody() {
			s.lines = []string{dec.Record.Body}
		}
	}
	d.last = s
}

// Reset drops the slot so the next record starts a new message.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	d.last = nil
	d.mu.Unlock()
}

func (d *Debouncer) matches(r source.Record) bool {
	return d.last != nil && d.last.title == r.Title && d.now().Sub(d.last.sentAt) < d.timeout
}
