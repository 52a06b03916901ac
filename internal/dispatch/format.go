package dispatch

import (
	"fmt"
	"strings"

	"logram/internal/source"
)

// FormatRecord renders a single record as Telegram Markdown.
func FormatRecord(r source.Record) string {
	if !r.HasBody() {
		return "*" + r.Title + "*"
	}
	return "*" + r.Title + "*```\n" + r.Body + "```"
}

// FormatAmend renders the accumulated body of a coalesced message.
func FormatAmend(title string, lines []string) string {
	return "*" + title + "*```\n" + strings.Join(lines, "\n") + "```"
}

func FormatError(err error) string {
	return fmt.Sprintf("Error: %v", err)
}

// SourceSummary is one line of the startup message.
type SourceSummary struct {
	Name   string
	Detail string
}

func FormatHello(version, hostname string, sources []SourceSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Logram v%s started at %s\n\nEnabled log sources: \n", version, hostname)
	if len(sources) == 0 {
		b.WriteString("– none")
		return b.String()
	}
	for i, s := range sources {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("– " + s.Name)
		if s.Detail != "" {
			b.WriteString(": `" + s.Detail + "`")
		}
	}
	return b.String()
}
