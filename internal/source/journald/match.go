// Package journald reads new systemd journal entries that match configured
// field groups and titles each record with the first group it satisfies.
package journald

import (
	"errors"
	"fmt"
	"sort"

	"github.com/charmbracelet/x/ansi"
)

const (
	Name = "journald"

	messageField   = "MESSAGE"
	unknownMessage = "<unknown message>"
)

// ErrUnsupported is returned by New on builds without journal access.
var ErrUnsupported = errors.New("journald: not supported on this platform")

// MatchGroup titles journal entries whose fields equal every filter.
type MatchGroup struct {
	Title   string
	Filters map[string]string
}

type Config struct {
	Matches []MatchGroup
}

func (c Config) validate() error {
	if len(c.Matches) == 0 {
		return errors.New("journald: no match groups configured")
	}
	for i, g := range c.Matches {
		if len(g.Filters) == 0 {
			return fmt.Errorf("journald: match group %d (%q) has no filters", i, g.Title)
		}
		for k := range g.Filters {
			if k == "" {
				return fmt.Errorf("journald: match group %d (%q) has an empty field name", i, g.Title)
			}
		}
	}
	return nil
}

// resolveTitle returns the title of the first group (in configured order)
// whose filters all equal the entry's fields.
func resolveTitle(groups []MatchGroup, fields map[string]string) (string, bool) {
outer:
	for _, g := range groups {
		for k, v := range g.Filters {
			if got, ok := fields[k]; !ok || got != v {
				continue outer
			}
		}
		return g.Title, true
	}
	return "", false
}

func messageOf(fields map[string]string) string {
	msg, ok := fields[messageField]
	if !ok {
		return unknownMessage
	}
	return ansi.Strip(msg)
}

// matchExprs renders a group's filters as FIELD=value terms in a stable order.
func matchExprs(g MatchGroup) []string {
	keys := make([]string, 0, len(g.Filters))
	for k := range g.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+g.Filters[k])
	}
	return out
}
