package dispatch

import (
	"errors"
	"testing"

	"logram/internal/source"
)

func TestFormatRecord(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   source.Record
		want string
	}{
		{name: "with body", in: source.Record{Title: "nginx", Body: "GET /"}, want: "*nginx*```\nGET /```"},
		{name: "title only", in: source.Record{Title: "/tmp/x was created"}, want: "*/tmp/x was created*"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := FormatRecord(tt.in)
			if got != tt.want {
				t.Fatalf("FormatRecord = %q, want %q", got, tt.want)
			}
			if again := FormatRecord(tt.in); again != got {
				t.Fatalf("FormatRecord not stable: %q vs %q", again, got)
			}
		})
	}
}

func TestFormatAmend(t *testing.T) {
	t.Parallel()
	got := FormatAmend("a", []string{"one", "two"})
	if want := "*a*```\none\ntwo```"; got != want {
		t.Fatalf("FormatAmend = %q, want %q", got, want)
	}
}

func TestFormatError(t *testing.T) {
	t.Parallel()
	if got := FormatError(errors.New("disk full")); got != "Error: disk full" {
		t.Fatalf("FormatError = %q", got)
	}
}

func TestFormatHello(t *testing.T) {
	t.Parallel()
	got := FormatHello("1.2.3", "box", []SourceSummary{
		{Name: "Counter", Detail: "interval = 10s, initial = 1"},
		{Name: "Docker"},
	})
	want := "Logram v1.2.3 started at box\n\nEnabled log sources: \n– Counter: `interval = 10s, initial = 1`\n– Docker"
	if got != want {
		t.Fatalf("FormatHello =\n%q\nwant\n%q", got, want)
	}

	if got := FormatHello("1", "h", nil); got != "Logram v1 started at h\n\nEnabled log sources: \n– none" {
		t.Fatalf("FormatHello(empty) = %q", got)
	}
}
