package journald

import "time"

const maxRetryWait = 30 * time.Second

// retry paces reads after the journal starts failing. Only the first error of
// a failing streak is reported; the wait doubles up to maxRetryWait until a
// read succeeds again.
type retry struct {
	base  time.Duration
	fails int
}

// fail records a failed read. It returns whether the error should be
// reported and how long to wait before the next attempt.
func (r *retry) fail() (report bool, wait time.Duration) {
	r.fails++
	wait = r.base
	for i := 1; i < r.fails && wait < maxRetryWait; i++ {
		wait *= 2
	}
	return r.fails == 1, min(wait, maxRetryWait)
}

// ok records a successful read and reports whether it ended a failing streak.
func (r *retry) ok() bool {
	recovered := r.fails > 0
	r.fails = 0
	return recovered
}
