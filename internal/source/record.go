package source

// Record is the normalized unit every source produces.
//
// Title is a short routing label (a file path, a journal match title, a container name);
// Body is the content delta and may be empty for title-only events.
type Record struct {
	Title string
	Body  string
}

// HasBody reports whether the record carries content beyond its title.
func (r Record) HasBody() bool { return r.Body != "" }

// Result is one stream item: either a Record or a per-event error.
type Result struct {
	Record Record
	Err    error
	// Source is the name of the producing source, stamped by its Emitter.
	Source string
}

func Ok(r Record) Result     { return Result{Record: r} }
func Fail(err error) Result  { return Result{Err: err} }
func (r Result) IsErr() bool { return r.Err != nil }
